package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelov/sellbot/internal/domain"
)

// LimitOrderStore implements domain.LimitOrderStore using PostgreSQL.
type LimitOrderStore struct {
	pool *pgxpool.Pool
}

// NewLimitOrderStore creates a new LimitOrderStore backed by the given connection pool.
func NewLimitOrderStore(pool *pgxpool.Pool) *LimitOrderStore {
	return &LimitOrderStore{pool: pool}
}

const limitOrderSelectCols = `id, wallet_key, mint, side, target_price, amount,
	slippage_bps, status, created_at, expires_at, filled_at, tx_signature,
	received_mint, is_private, execution_wallet_key`

func scanLimitOrderRow(row pgx.Row) (domain.LimitOrder, error) {
	var o domain.LimitOrder
	var side, status string

	err := row.Scan(
		&o.ID, &o.WalletKey, &o.Mint, &side, &o.TargetPrice, &o.Amount,
		&o.SlippageBps, &status, &o.CreatedAt, &o.ExpiresAt, &o.FilledAt, &o.TxSignature,
		&o.ReceivedMint, &o.IsPrivate, &o.ExecutionWalletKey,
	)
	if err != nil {
		return domain.LimitOrder{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.LimitOrderStatus(status)
	return o, nil
}

func scanLimitOrderRows(rows pgx.Rows) ([]domain.LimitOrder, error) {
	var orders []domain.LimitOrder
	for rows.Next() {
		o, err := scanLimitOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a new limit order.
func (s *LimitOrderStore) Create(ctx context.Context, o domain.LimitOrder) error {
	const query = `
		INSERT INTO limit_orders (
			id, wallet_key, mint, side, target_price, amount,
			slippage_bps, status, created_at, expires_at, filled_at, tx_signature,
			received_mint, is_private, execution_wallet_key
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.WalletKey, o.Mint, string(o.Side), o.TargetPrice, o.Amount,
		o.SlippageBps, string(o.Status), o.CreatedAt, o.ExpiresAt, o.FilledAt, o.TxSignature,
		o.ReceivedMint, o.IsPrivate, o.ExecutionWalletKey,
	)
	if err != nil {
		return fmt.Errorf("postgres: create limit order %s: %w", o.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a limit order.
func (s *LimitOrderStore) Update(ctx context.Context, o domain.LimitOrder) error {
	const query = `
		UPDATE limit_orders SET
			target_price  = $2,
			amount        = $3,
			slippage_bps  = $4,
			status        = $5,
			expires_at    = $6,
			filled_at     = $7,
			tx_signature  = $8,
			received_mint = $9
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.TargetPrice, o.Amount, o.SlippageBps,
		string(o.Status), o.ExpiresAt, o.FilledAt, o.TxSignature, o.ReceivedMint,
	)
	if err != nil {
		return fmt.Errorf("postgres: update limit order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a single limit order by id.
func (s *LimitOrderStore) Get(ctx context.Context, id string) (domain.LimitOrder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+limitOrderSelectCols+` FROM limit_orders WHERE id = $1`, id)

	o, err := scanLimitOrderRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.LimitOrder{}, domain.ErrNotFound
		}
		return domain.LimitOrder{}, fmt.Errorf("postgres: get limit order %s: %w", id, err)
	}
	return o, nil
}

// ListByStatus returns all limit orders in the given status.
func (s *LimitOrderStore) ListByStatus(ctx context.Context, status domain.LimitOrderStatus) ([]domain.LimitOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+limitOrderSelectCols+` FROM limit_orders
		 WHERE status = $1
		 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list limit orders %s: %w", status, err)
	}
	defer rows.Close()

	orders, err := scanLimitOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan limit orders %s: %w", status, err)
	}
	return orders, nil
}

// DeleteTerminalBefore removes terminal orders created before cutoff and
// returns the deleted rows for archival.
func (s *LimitOrderStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]domain.LimitOrder, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM limit_orders
		 WHERE status IN ('filled', 'cancelled', 'expired') AND created_at < $1
		 RETURNING `+limitOrderSelectCols, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete terminal limit orders: %w", err)
	}
	defer rows.Close()

	deleted, err := scanLimitOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan deleted limit orders: %w", err)
	}
	return deleted, nil
}

var _ domain.LimitOrderStore = (*LimitOrderStore)(nil)
