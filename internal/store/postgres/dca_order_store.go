package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelov/sellbot/internal/domain"
)

// DCAOrderStore implements domain.DCAOrderStore using PostgreSQL. The buy
// execution log rides along as a JSONB column so an order and its history
// load and store as one row.
type DCAOrderStore struct {
	pool *pgxpool.Pool
}

// NewDCAOrderStore creates a new DCAOrderStore backed by the given connection pool.
func NewDCAOrderStore(pool *pgxpool.Pool) *DCAOrderStore {
	return &DCAOrderStore{pool: pool}
}

const dcaOrderSelectCols = `id, wallet_key, mint, total_budget, number_of_buys,
	interval_minutes, strategy_type, current_buy_index, next_buy_at, last_buy_at,
	executions, reference_price, slippage_bps, status, created_at, completed_at,
	is_private, execution_wallet_key`

func scanDCAOrderRow(row pgx.Row) (domain.DCAOrder, error) {
	var o domain.DCAOrder
	var strategyType, status string
	var executions []byte

	err := row.Scan(
		&o.ID, &o.WalletKey, &o.Mint, &o.TotalBudget, &o.NumberOfBuys,
		&o.IntervalMinutes, &strategyType, &o.CurrentBuyIndex, &o.NextBuyAt, &o.LastBuyAt,
		&executions, &o.ReferencePrice, &o.SlippageBps, &status, &o.CreatedAt, &o.CompletedAt,
		&o.IsPrivate, &o.ExecutionWalletKey,
	)
	if err != nil {
		return domain.DCAOrder{}, err
	}
	if len(executions) > 0 {
		if err := json.Unmarshal(executions, &o.Executions); err != nil {
			return domain.DCAOrder{}, fmt.Errorf("decode executions for %s: %w", o.ID, err)
		}
	}
	o.StrategyType = domain.DCAStrategyType(strategyType)
	o.Status = domain.DCAOrderStatus(status)
	return o, nil
}

func scanDCAOrderRows(rows pgx.Rows) ([]domain.DCAOrder, error) {
	var orders []domain.DCAOrder
	for rows.Next() {
		o, err := scanDCAOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func encodeExecutions(execs []domain.BuyExecution) ([]byte, error) {
	if execs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(execs)
}

// Create inserts a new DCA order.
func (s *DCAOrderStore) Create(ctx context.Context, o domain.DCAOrder) error {
	executions, err := encodeExecutions(o.Executions)
	if err != nil {
		return fmt.Errorf("postgres: encode executions for %s: %w", o.ID, err)
	}

	const query = `
		INSERT INTO dca_orders (
			id, wallet_key, mint, total_budget, number_of_buys,
			interval_minutes, strategy_type, current_buy_index, next_buy_at, last_buy_at,
			executions, reference_price, slippage_bps, status, created_at, completed_at,
			is_private, execution_wallet_key
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18
		)`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.WalletKey, o.Mint, o.TotalBudget, o.NumberOfBuys,
		o.IntervalMinutes, string(o.StrategyType), o.CurrentBuyIndex, o.NextBuyAt, o.LastBuyAt,
		executions, o.ReferencePrice, o.SlippageBps, string(o.Status), o.CreatedAt, o.CompletedAt,
		o.IsPrivate, o.ExecutionWalletKey,
	)
	if err != nil {
		return fmt.Errorf("postgres: create dca order %s: %w", o.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a DCA order, including the buy log.
func (s *DCAOrderStore) Update(ctx context.Context, o domain.DCAOrder) error {
	executions, err := encodeExecutions(o.Executions)
	if err != nil {
		return fmt.Errorf("postgres: encode executions for %s: %w", o.ID, err)
	}

	const query = `
		UPDATE dca_orders SET
			current_buy_index = $2,
			next_buy_at       = $3,
			last_buy_at       = $4,
			executions        = $5,
			status            = $6,
			completed_at      = $7
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.CurrentBuyIndex, o.NextBuyAt, o.LastBuyAt,
		executions, string(o.Status), o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update dca order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a single DCA order by id.
func (s *DCAOrderStore) Get(ctx context.Context, id string) (domain.DCAOrder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dcaOrderSelectCols+` FROM dca_orders WHERE id = $1`, id)

	o, err := scanDCAOrderRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DCAOrder{}, domain.ErrNotFound
		}
		return domain.DCAOrder{}, fmt.Errorf("postgres: get dca order %s: %w", id, err)
	}
	return o, nil
}

// ListByStatus returns all DCA orders in the given status.
func (s *DCAOrderStore) ListByStatus(ctx context.Context, status domain.DCAOrderStatus) ([]domain.DCAOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+dcaOrderSelectCols+` FROM dca_orders
		 WHERE status = $1
		 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list dca orders %s: %w", status, err)
	}
	defer rows.Close()

	orders, err := scanDCAOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan dca orders %s: %w", status, err)
	}
	return orders, nil
}

// DeleteTerminalBefore removes terminal orders created before cutoff and
// returns the deleted rows for archival.
func (s *DCAOrderStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]domain.DCAOrder, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM dca_orders
		 WHERE status IN ('completed', 'cancelled') AND created_at < $1
		 RETURNING `+dcaOrderSelectCols, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete terminal dca orders: %w", err)
	}
	defer rows.Close()

	deleted, err := scanDCAOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan deleted dca orders: %w", err)
	}
	return deleted, nil
}

var _ domain.DCAOrderStore = (*DCAOrderStore)(nil)
