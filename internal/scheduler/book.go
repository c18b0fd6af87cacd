package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/avelov/sellbot/internal/domain"
	"github.com/avelov/sellbot/internal/ledger"
)

type bookBuyParams struct {
	WalletKey          string
	Mint               string
	Tokens             float64
	CostSOL            float64
	Price              float64
	StrategyName       string
	IsPrivate          bool
	ExecutionWalletKey string
	Now                time.Time
}

// bookBuy folds an executed buy into the ledger: merge into the existing
// active position, or open a new one when none exists. A buy into a closed
// position reopens it fresh.
func bookBuy(ctx context.Context, lg *ledger.Ledger, p bookBuyParams) error {
	_, err := lg.MergeBuy(ctx, p.WalletKey, p.Mint, p.Tokens, p.CostSOL, p.Price)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidState) {
		return err
	}
	return lg.Open(ctx, domain.Position{
		WalletKey:          p.WalletKey,
		Mint:               p.Mint,
		EntryTime:          p.Now,
		EntryPrice:         p.Price,
		TokenAmount:        p.Tokens,
		TotalCostBasis:     p.CostSOL,
		StrategyName:       p.StrategyName,
		IsPrivate:          p.IsPrivate,
		ExecutionWalletKey: p.ExecutionWalletKey,
	})
}
