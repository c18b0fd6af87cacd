package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelov/sellbot/internal/domain"
)

// PendingSellStore implements domain.PendingSellStore using PostgreSQL.
type PendingSellStore struct {
	pool *pgxpool.Pool
}

// NewPendingSellStore creates a new PendingSellStore backed by the given connection pool.
func NewPendingSellStore(pool *pgxpool.Pool) *PendingSellStore {
	return &PendingSellStore{pool: pool}
}

const pendingSellSelectCols = `id, wallet_key, mint, sell_percent, price_at_detect,
	profit_pct, reason, tx_payload, status, created_at, expires_at, tx_signature`

func scanPendingSellRow(row pgx.Row) (domain.PendingSell, error) {
	var ps domain.PendingSell
	var status string

	err := row.Scan(
		&ps.ID, &ps.WalletKey, &ps.Mint, &ps.SellPercent, &ps.PriceAtDetect,
		&ps.ProfitPct, &ps.Reason, &ps.TxPayload, &status, &ps.CreatedAt, &ps.ExpiresAt, &ps.TxSignature,
	)
	if err != nil {
		return domain.PendingSell{}, err
	}
	ps.Status = domain.PendingSellStatus(status)
	return ps, nil
}

// Create inserts a new pending sell.
func (s *PendingSellStore) Create(ctx context.Context, ps domain.PendingSell) error {
	const query = `
		INSERT INTO pending_sells (
			id, wallet_key, mint, sell_percent, price_at_detect,
			profit_pct, reason, tx_payload, status, created_at, expires_at, tx_signature
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		ps.ID, ps.WalletKey, ps.Mint, ps.SellPercent, ps.PriceAtDetect,
		ps.ProfitPct, ps.Reason, ps.TxPayload, string(ps.Status), ps.CreatedAt, ps.ExpiresAt, ps.TxSignature,
	)
	if err != nil {
		return fmt.Errorf("postgres: create pending sell %s: %w", ps.ID, err)
	}
	return nil
}

// Update replaces the mutable fields of a pending sell.
func (s *PendingSellStore) Update(ctx context.Context, ps domain.PendingSell) error {
	const query = `
		UPDATE pending_sells SET
			status       = $2,
			tx_signature = $3
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, ps.ID, string(ps.Status), ps.TxSignature)
	if err != nil {
		return fmt.Errorf("postgres: update pending sell %s: %w", ps.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a single pending sell by id.
func (s *PendingSellStore) Get(ctx context.Context, id string) (domain.PendingSell, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pendingSellSelectCols+` FROM pending_sells WHERE id = $1`, id)

	ps, err := scanPendingSellRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PendingSell{}, domain.ErrNotFound
		}
		return domain.PendingSell{}, fmt.Errorf("postgres: get pending sell %s: %w", id, err)
	}
	return ps, nil
}

// ListByStatus returns all pending sells in the given status.
func (s *PendingSellStore) ListByStatus(ctx context.Context, status domain.PendingSellStatus) ([]domain.PendingSell, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pendingSellSelectCols+` FROM pending_sells
		 WHERE status = $1
		 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending sells %s: %w", status, err)
	}
	defer rows.Close()

	var sells []domain.PendingSell
	for rows.Next() {
		ps, err := scanPendingSellRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending sells %s: %w", status, err)
		}
		sells = append(sells, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan pending sells %s: %w", status, err)
	}
	return sells, nil
}

var _ domain.PendingSellStore = (*PendingSellStore)(nil)
