// Package trading implements the trade-execution engine: quoting and
// executing buys/sells against the LMSR pricing kernel inside a single
// store transaction per trade, generalized from the teacher's
// Service.ExecuteTrade (single mutex, single transaction, append
// ledger + price point, optional WebSocket broadcast).
package trading

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/lmsr"
	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/metrics"
	"github.com/foretell/marketex/internal/model"
	"github.com/foretell/marketex/internal/store"
)

// Quote is the result of pricing a hypothetical trade. No state is
// mutated producing one.
type Quote struct {
	Shares      decimal.Decimal
	AvgPrice    decimal.Decimal
	TotalCash   decimal.Decimal
	PriceImpact decimal.Decimal
	SpotBefore  decimal.Decimal
	NewPriceYes decimal.Decimal
	NewPriceNo  decimal.Decimal
}

// Result is returned by ExecuteBuy/ExecuteSell.
type Result struct {
	TransactionID string
	Shares        decimal.Decimal
	PricePerShare decimal.Decimal
	TotalCost     decimal.Decimal
	NewBalance    decimal.Decimal
	NewPosition   model.Position
}

// Engine validates trade requests, prices them via internal/lmsr, and
// applies the resulting state changes to the store inside one
// transaction. mu serializes execution the way the teacher's
// Service.mu does: the store's own single-writer transaction already
// enforces this for the sqlite backend, but the mutex also holds off
// a second request from observing a stale quote between its Quote
// call and its Execute call under the in-memory backend.
type Engine struct {
	st      store.Store
	hub     *Hub
	metrics *metrics.Metrics
	mu      sync.Mutex
}

// New creates a trading Engine. hub and m may be nil.
func New(st store.Store, hub *Hub, m *metrics.Metrics) *Engine {
	return &Engine{st: st, hub: hub, metrics: m}
}

func validateSide(side model.Side) error {
	if side != model.SideYes && side != model.SideNo {
		return marketerr.New(marketerr.KindValidation, "side must be YES or NO, got %q", side)
	}
	return nil
}

// Quote prices a hypothetical buy (isBuy=true, amount is cash) or sell
// (isBuy=false, amount is shares) without mutating any state.
func (e *Engine) Quote(ctx context.Context, marketID string, side model.Side, isBuy bool, amount decimal.Decimal) (Quote, error) {
	if err := validateSide(side); err != nil {
		return Quote{}, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return Quote{}, marketerr.New(marketerr.KindValidation, "amount must be positive")
	}

	market, err := e.st.GetMarket(ctx, marketID)
	if err != nil {
		return Quote{}, err
	}
	if market.Status != model.StatusOpen {
		return Quote{}, marketerr.New(marketerr.KindMarketNotOpen, "market %s is not open", marketID)
	}

	var lq lmsr.Quote
	var totalCash decimal.Decimal
	if isBuy {
		lq, err = lmsr.QuoteBuy(market.QYes, market.QNo, market.B, string(side), amount)
		totalCash = amount
	} else {
		lq, err = lmsr.QuoteSell(market.QYes, market.QNo, market.B, string(side), amount)
		totalCash = lq.AvgPrice.Mul(lq.Shares)
	}
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Shares:      lq.Shares,
		AvgPrice:    lq.AvgPrice,
		TotalCash:   totalCash,
		PriceImpact: lq.PriceImpact,
		SpotBefore:  lq.SpotBefore,
		NewPriceYes: lq.NewPriceYes,
		NewPriceNo:  lq.NewPriceNo,
	}, nil
}

// ExecuteBuy runs the numbered steps of the trading engine's buy
// operation: load market and user, quote, debit cash, update
// inventory, upsert the position at a weighted-average cost basis,
// append the transaction and price-point rows, all inside one
// transaction.
func (e *Engine) ExecuteBuy(ctx context.Context, userID, marketID string, side model.Side, amount decimal.Decimal) (*Result, error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, marketerr.New(marketerr.KindValidation, "amount must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	var result Result

	err := e.st.WithTx(ctx, func(tx store.Tx) error {
		market, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if market.Status != model.StatusOpen {
			return marketerr.New(marketerr.KindMarketNotOpen, "market %s is not open", marketID)
		}

		quote, err := lmsr.QuoteBuy(market.QYes, market.QNo, market.B, string(side), amount)
		if err != nil {
			return err
		}
		if quote.Shares.LessThanOrEqual(decimal.Zero) {
			return marketerr.New(marketerr.KindDegenerateTrade, "quote yielded %s shares", quote.Shares)
		}

		if err := tx.DebitBalance(ctx, userID, amount); err != nil {
			return err
		}

		newQYes, newQNo := market.QYes, market.QNo
		if side == model.SideYes {
			newQYes = newQYes.Add(quote.Shares)
		} else {
			newQNo = newQNo.Add(quote.Shares)
		}
		if err := tx.UpdateMarketInventory(ctx, marketID, newQYes, newQNo); err != nil {
			return err
		}

		pos, err := tx.GetPosition(ctx, userID, marketID, side)
		if marketerr.Is(err, marketerr.KindNotFound) {
			pos = &model.Position{UserID: userID, MarketID: marketID, Side: side}
		} else if err != nil {
			return err
		}
		newShares := pos.Shares.Add(quote.Shares)
		newAvg := pos.Shares.Mul(pos.AvgPrice).Add(amount).Div(newShares)
		pos.Shares, pos.AvgPrice = newShares, newAvg
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}

		txnID := uuid.New().String()
		if err := tx.AppendTransaction(ctx, &model.Transaction{
			ID:            txnID,
			UserID:        userID,
			MarketID:      marketID,
			Side:          side,
			Type:          model.TxBuy,
			Shares:        quote.Shares,
			PricePerShare: quote.AvgPrice,
			TotalCash:     amount,
			Timestamp:     now,
		}); err != nil {
			return err
		}

		newPriceYes := lmsr.Price(newQYes, newQNo, market.B)
		newPriceNo := lmsr.PriceNo(newQYes, newQNo, market.B)
		if err := tx.AppendPricePoint(ctx, &model.PricePoint{
			MarketID:  marketID,
			PriceYes:  newPriceYes,
			PriceNo:   newPriceNo,
			Timestamp: now,
		}); err != nil {
			return err
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		result = Result{
			TransactionID: txnID,
			Shares:        quote.Shares,
			PricePerShare: quote.AvgPrice,
			TotalCost:     amount,
			NewBalance:    user.Balance,
			NewPosition:   *pos,
		}

		if e.hub != nil {
			e.hub.Broadcast(Event{
				Type:     "trade_executed",
				MarketID: marketID,
				Side:     string(side),
				PriceYes: newPriceYes.String(),
				PriceNo:  newPriceNo.String(),
			})
		}
		return nil
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.TradesTotal.WithLabelValues("buy", "error").Inc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.TradesTotal.WithLabelValues("buy", "ok").Inc()
	}
	slog.Info("trade executed", "type", "buy", "transaction_id", result.TransactionID,
		"user", userID, "market", marketID, "side", side, "shares", result.Shares.String())
	return &result, nil
}

// ExecuteSell runs the numbered steps of the sell operation: load
// market and position, quote, credit proceeds, update inventory,
// shrink or delete the position, append the transaction and
// price-point rows, all inside one transaction.
func (e *Engine) ExecuteSell(ctx context.Context, userID, marketID string, side model.Side, shares decimal.Decimal) (*Result, error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, marketerr.New(marketerr.KindValidation, "shares must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	var result Result

	err := e.st.WithTx(ctx, func(tx store.Tx) error {
		market, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if market.Status != model.StatusOpen {
			return marketerr.New(marketerr.KindMarketNotOpen, "market %s is not open", marketID)
		}

		pos, err := tx.GetPosition(ctx, userID, marketID, side)
		if marketerr.Is(err, marketerr.KindNotFound) {
			return marketerr.New(marketerr.KindInsufficientShares, "user %s holds no %s position in market %s", userID, side, marketID)
		}
		if err != nil {
			return err
		}
		if pos.Shares.LessThan(shares) {
			return marketerr.New(marketerr.KindInsufficientShares, "user %s holds %s shares, requested %s", userID, pos.Shares, shares)
		}

		quote, err := lmsr.QuoteSell(market.QYes, market.QNo, market.B, string(side), shares)
		if err != nil {
			return err
		}
		proceeds := quote.AvgPrice.Mul(quote.Shares)

		if err := tx.CreditBalance(ctx, userID, proceeds); err != nil {
			return err
		}

		newQYes, newQNo := market.QYes, market.QNo
		if side == model.SideYes {
			newQYes = newQYes.Sub(shares)
		} else {
			newQNo = newQNo.Sub(shares)
		}
		if err := tx.UpdateMarketInventory(ctx, marketID, newQYes, newQNo); err != nil {
			return err
		}

		// Average price is the historical cost basis; preserved on a
		// sell, never recomputed (spec Design Note §9).
		pos.Shares = pos.Shares.Sub(shares)
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.DeletePositionIfDust(ctx, userID, marketID, side); err != nil {
			return err
		}

		txnID := uuid.New().String()
		if err := tx.AppendTransaction(ctx, &model.Transaction{
			ID:            txnID,
			UserID:        userID,
			MarketID:      marketID,
			Side:          side,
			Type:          model.TxSell,
			Shares:        shares,
			PricePerShare: quote.AvgPrice,
			TotalCash:     proceeds,
			Timestamp:     now,
		}); err != nil {
			return err
		}

		newPriceYes := lmsr.Price(newQYes, newQNo, market.B)
		newPriceNo := lmsr.PriceNo(newQYes, newQNo, market.B)
		if err := tx.AppendPricePoint(ctx, &model.PricePoint{
			MarketID:  marketID,
			PriceYes:  newPriceYes,
			PriceNo:   newPriceNo,
			Timestamp: now,
		}); err != nil {
			return err
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		finalShares := pos.Shares
		if finalShares.LessThan(model.DustThreshold) {
			finalShares = decimal.Zero
		}

		result = Result{
			TransactionID: txnID,
			Shares:        shares,
			PricePerShare: quote.AvgPrice,
			TotalCost:     proceeds,
			NewBalance:    user.Balance,
			NewPosition:   model.Position{UserID: userID, MarketID: marketID, Side: side, Shares: finalShares, AvgPrice: pos.AvgPrice},
		}

		if e.hub != nil {
			e.hub.Broadcast(Event{
				Type:     "trade_executed",
				MarketID: marketID,
				Side:     string(side),
				PriceYes: newPriceYes.String(),
				PriceNo:  newPriceNo.String(),
			})
		}
		return nil
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.TradesTotal.WithLabelValues("sell", "error").Inc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.TradesTotal.WithLabelValues("sell", "ok").Inc()
	}
	slog.Info("trade executed", "type", "sell", "transaction_id", result.TransactionID,
		"user", userID, "market", marketID, "side", side, "shares", result.Shares.String())
	return &result, nil
}
