package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelov/sellbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `wallet_key, mint, entry_time, entry_price,
	token_amount, total_cost_basis, exit_stages_completed, strategy_name,
	highest_profit_pct, status, current_price, current_profit_pct,
	is_private, execution_wallet_key, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.WalletKey, &p.Mint, &p.EntryTime, &p.EntryPrice,
		&p.TokenAmount, &p.TotalCostBasis, &p.ExitStagesCompleted, &p.StrategyName,
		&p.HighestProfitPct, &status, &p.CurrentPrice, &p.CurrentProfitPct,
		&p.IsPrivate, &p.ExecutionWalletKey, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts or replaces the position keyed by (wallet, mint). The
// ledger is the source of truth for merges and stage advances; this store
// just mirrors its state.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			wallet_key, mint, entry_time, entry_price,
			token_amount, total_cost_basis, exit_stages_completed, strategy_name,
			highest_profit_pct, status, current_price, current_profit_pct,
			is_private, execution_wallet_key, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, NOW()
		)
		ON CONFLICT (wallet_key, mint) DO UPDATE SET
			entry_time            = EXCLUDED.entry_time,
			entry_price           = EXCLUDED.entry_price,
			token_amount          = EXCLUDED.token_amount,
			total_cost_basis      = EXCLUDED.total_cost_basis,
			exit_stages_completed = EXCLUDED.exit_stages_completed,
			strategy_name         = EXCLUDED.strategy_name,
			highest_profit_pct    = EXCLUDED.highest_profit_pct,
			status                = EXCLUDED.status,
			current_price         = EXCLUDED.current_price,
			current_profit_pct    = EXCLUDED.current_profit_pct,
			is_private            = EXCLUDED.is_private,
			execution_wallet_key  = EXCLUDED.execution_wallet_key,
			updated_at            = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.WalletKey, p.Mint, p.EntryTime, p.EntryPrice,
		p.TokenAmount, p.TotalCostBasis, p.ExitStagesCompleted, p.StrategyName,
		p.HighestProfitPct, string(p.Status), p.CurrentPrice, p.CurrentProfitPct,
		p.IsPrivate, p.ExecutionWalletKey,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Key(), err)
	}
	return nil
}

// Get retrieves a single position by its (wallet, mint) key.
func (s *PositionStore) Get(ctx context.Context, wallet, mint string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE wallet_key = $1 AND mint = $2`,
		wallet, mint)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", domain.PositionKey(wallet, mint), err)
	}
	return p, nil
}

// ListActive returns every position the ledger should hold in memory.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'active'
		 ORDER BY entry_time`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
