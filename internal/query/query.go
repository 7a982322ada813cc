// Package query implements read-only projections over the store and
// the pricing kernel: market detail, a user's portfolio, and
// per-market statistics. Factored out of the teacher's
// Service.GetPortfolio handler (load positions, fold P&L and
// exposure into one aggregate struct) into transport-free functions
// any caller — HTTP handler or test — can call directly.
package query

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/lmsr"
	"github.com/foretell/marketex/internal/model"
	"github.com/foretell/marketex/internal/store"
)

// MarketView is a market enriched with its current spot prices,
// traded volume, and price history.
type MarketView struct {
	Market       model.Market
	PriceYes     decimal.Decimal
	PriceNo      decimal.Decimal
	Volume       decimal.Decimal
	PriceHistory []model.PricePoint
}

// GetMarketView loads id and enriches it with derived fields.
func GetMarketView(ctx context.Context, st store.Store, id string) (*MarketView, error) {
	market, err := st.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	txns, err := st.ListTransactionsByMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	volume := decimal.Zero
	for _, tx := range txns {
		volume = volume.Add(tx.TotalCash)
	}

	history, err := st.ListPricePointsByMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	return &MarketView{
		Market:       *market,
		PriceYes:     lmsr.Price(market.QYes, market.QNo, market.B),
		PriceNo:      lmsr.PriceNo(market.QYes, market.QNo, market.B),
		Volume:       volume,
		PriceHistory: history,
	}, nil
}

// PositionView is a position enriched with its current market value
// and realized/unrealized profit.
type PositionView struct {
	Position        model.Position
	CurrentPrice    decimal.Decimal
	CurrentValue    decimal.Decimal
	CostBasis       decimal.Decimal
	PnL             decimal.Decimal
	PotentialPayout decimal.Decimal
}

// Portfolio is a user's balance plus every enriched position they
// hold, generalizing the teacher's Portfolio struct (TotalPnL,
// TotalExposure) to binary positions instead of per-cell weather
// exposure.
type Portfolio struct {
	UserID        string
	Balance       decimal.Decimal
	Positions     []PositionView
	TotalPnL      decimal.Decimal
	TotalExposure decimal.Decimal
}

// GetPortfolio loads userID's balance and positions, enriching each
// with its current spot price and P&L. A position on the losing side
// of an already-resolved market has its CurrentValue and
// PotentialPayout zeroed without mutating the stored row — callers
// computing PnL must always check market.Outcome, per the store's
// own invariant that losing positions are left as historical record.
func GetPortfolio(ctx context.Context, st store.Store, userID string) (*Portfolio, error) {
	user, err := st.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	positions, err := st.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	marketCache := make(map[string]*model.Market)
	totalPnL := decimal.Zero
	totalExposure := decimal.Zero
	views := make([]PositionView, 0, len(positions))

	for _, pos := range positions {
		market, ok := marketCache[pos.MarketID]
		if !ok {
			market, err = st.GetMarket(ctx, pos.MarketID)
			if err != nil {
				return nil, err
			}
			marketCache[pos.MarketID] = market
		}

		costBasis := pos.Shares.Mul(pos.AvgPrice)
		totalExposure = totalExposure.Add(costBasis)

		var currentPrice, currentValue, potentialPayout decimal.Decimal
		losingResolvedPosition := market.Status == model.StatusResolved && market.Outcome != nil && *market.Outcome != pos.Side

		switch {
		case losingResolvedPosition:
			currentPrice = decimal.Zero
			currentValue = decimal.Zero
			potentialPayout = decimal.Zero
		case market.Status == model.StatusResolved:
			currentPrice = decimal.NewFromInt(1)
			currentValue = pos.Shares
			potentialPayout = pos.Shares
		default:
			if pos.Side == model.SideYes {
				currentPrice = lmsr.Price(market.QYes, market.QNo, market.B)
			} else {
				currentPrice = lmsr.PriceNo(market.QYes, market.QNo, market.B)
			}
			currentValue = pos.Shares.Mul(currentPrice)
			potentialPayout = pos.Shares
		}

		pnl := currentValue.Sub(costBasis)
		totalPnL = totalPnL.Add(pnl)

		views = append(views, PositionView{
			Position:        pos,
			CurrentPrice:    currentPrice,
			CurrentValue:    currentValue,
			CostBasis:       costBasis,
			PnL:             pnl,
			PotentialPayout: potentialPayout,
		})
	}

	return &Portfolio{
		UserID:        userID,
		Balance:       user.Balance,
		Positions:     views,
		TotalPnL:      totalPnL,
		TotalExposure: totalExposure,
	}, nil
}

// MarketStats is a set of aggregate counters for a single market.
type MarketStats struct {
	MarketID         string
	DistinctTraders  int
	TotalVolume      decimal.Decimal
	TransactionCount int
	PositionHolders  int
}

// GetMarketStats aggregates trader/transaction/position counts for id.
func GetMarketStats(ctx context.Context, st store.Store, id string) (*MarketStats, error) {
	txns, err := st.ListTransactionsByMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	traders := make(map[string]bool)
	volume := decimal.Zero
	for _, tx := range txns {
		traders[tx.UserID] = true
		volume = volume.Add(tx.TotalCash)
	}

	holders := 0
	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		positions, err := st.ListPositionsBySide(ctx, id, side)
		if err != nil {
			return nil, err
		}
		for _, pos := range positions {
			if pos.Shares.GreaterThan(decimal.Zero) {
				holders++
			}
		}
	}

	return &MarketStats{
		MarketID:         id,
		DistinctTraders:  len(traders),
		TotalVolume:      volume,
		TransactionCount: len(txns),
		PositionHolders:  holders,
	}, nil
}
