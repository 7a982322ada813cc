package query

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/model"
	"github.com/foretell/marketex/internal/store"
	"github.com/foretell/marketex/internal/store/memory"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestGetMarketView_ComputesVolumeAndPrices(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	if err := st.CreateMarket(ctx, &model.Market{ID: "m1", Status: model.StatusOpen, QYes: d(10), QNo: d(0), B: d(100)}); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	if err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.AppendTransaction(ctx, &model.Transaction{ID: "t1", MarketID: "m1", UserID: "u1", TotalCash: d(10), Timestamp: time.Now()}); err != nil {
			return err
		}
		return tx.AppendPricePoint(ctx, &model.PricePoint{MarketID: "m1", PriceYes: d(0.6), PriceNo: d(0.4), Timestamp: time.Now()})
	}); err != nil {
		t.Fatalf("seed tx/price: %v", err)
	}

	view, err := GetMarketView(ctx, st, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !view.Volume.Equal(d(10)) {
		t.Errorf("expected volume 10, got %s", view.Volume)
	}
	if len(view.PriceHistory) != 1 {
		t.Errorf("expected one price history point, got %d", len(view.PriceHistory))
	}
	if view.PriceYes.LessThanOrEqual(d(0.5)) {
		t.Errorf("expected price_yes above 0.5 (q_yes=10), got %s", view.PriceYes)
	}
}

func TestGetPortfolio_ActivePosition(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	if err := st.CreateUser(ctx, &model.User{ID: "u1", Balance: d(50)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := st.CreateMarket(ctx, &model.Market{ID: "m1", Status: model.StatusOpen, QYes: d(20), QNo: d(0), B: d(100)}); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	if err := st.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertPosition(ctx, &model.Position{UserID: "u1", MarketID: "m1", Side: model.SideYes, Shares: d(10), AvgPrice: d(0.5)})
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	p, err := GetPortfolio(ctx, st, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Balance.Equal(d(50)) {
		t.Errorf("expected balance 50, got %s", p.Balance)
	}
	if len(p.Positions) != 1 {
		t.Fatalf("expected one position, got %d", len(p.Positions))
	}
	pv := p.Positions[0]
	if !pv.CostBasis.Equal(d(5)) {
		t.Errorf("expected cost basis 5, got %s", pv.CostBasis)
	}
	if !pv.PotentialPayout.Equal(d(10)) {
		t.Errorf("expected potential payout 10, got %s", pv.PotentialPayout)
	}
}

func TestGetPortfolio_LosingResolvedPositionZeroed(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	if err := st.CreateUser(ctx, &model.User{ID: "u1", Balance: d(0)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	outcome := model.SideNo
	resolvedAt := time.Now()
	if err := st.CreateMarket(ctx, &model.Market{
		ID: "m1", Status: model.StatusResolved, Outcome: &outcome, ResolvedAt: &resolvedAt,
		QYes: d(10), QNo: d(10), B: d(100),
	}); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	if err := st.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertPosition(ctx, &model.Position{UserID: "u1", MarketID: "m1", Side: model.SideYes, Shares: d(10), AvgPrice: d(0.5)})
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	p, err := GetPortfolio(ctx, st, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pv := p.Positions[0]
	if !pv.CurrentValue.IsZero() || !pv.PotentialPayout.IsZero() {
		t.Errorf("expected losing position zeroed, got value=%s payout=%s", pv.CurrentValue, pv.PotentialPayout)
	}

	pos, err := st.GetPosition(ctx, "u1", "m1", model.SideYes)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.Shares.Equal(d(10)) {
		t.Errorf("stored position row should not be mutated, got shares=%s", pos.Shares)
	}
}

func TestGetPortfolio_WinningResolvedPositionPaysOne(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	if err := st.CreateUser(ctx, &model.User{ID: "u1", Balance: d(0)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	outcome := model.SideYes
	resolvedAt := time.Now()
	if err := st.CreateMarket(ctx, &model.Market{
		ID: "m1", Status: model.StatusResolved, Outcome: &outcome, ResolvedAt: &resolvedAt,
		QYes: d(10), QNo: d(10), B: d(100),
	}); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	if err := st.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertPosition(ctx, &model.Position{UserID: "u1", MarketID: "m1", Side: model.SideYes, Shares: d(10), AvgPrice: d(0.5)})
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	p, err := GetPortfolio(ctx, st, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pv := p.Positions[0]
	if !pv.CurrentValue.Equal(d(10)) || !pv.PotentialPayout.Equal(d(10)) {
		t.Errorf("expected winning position valued at shares, got value=%s payout=%s", pv.CurrentValue, pv.PotentialPayout)
	}
}

func TestGetMarketStats_CountsDistinctTraders(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	if err := st.CreateMarket(ctx, &model.Market{ID: "m1", Status: model.StatusOpen, QYes: d(0), QNo: d(0), B: d(100)}); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	if err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.AppendTransaction(ctx, &model.Transaction{ID: "t1", MarketID: "m1", UserID: "u1", TotalCash: d(10), Timestamp: time.Now()}); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &model.Transaction{ID: "t2", MarketID: "m1", UserID: "u1", TotalCash: d(5), Timestamp: time.Now()}); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &model.Transaction{ID: "t3", MarketID: "m1", UserID: "u2", TotalCash: d(20), Timestamp: time.Now()}); err != nil {
			return err
		}
		if err := tx.UpsertPosition(ctx, &model.Position{UserID: "u1", MarketID: "m1", Side: model.SideYes, Shares: d(15), AvgPrice: d(0.5)}); err != nil {
			return err
		}
		return tx.UpsertPosition(ctx, &model.Position{UserID: "u2", MarketID: "m1", Side: model.SideNo, Shares: d(20), AvgPrice: d(0.5)})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := GetMarketStats(ctx, st, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.DistinctTraders != 2 {
		t.Errorf("expected 2 distinct traders, got %d", stats.DistinctTraders)
	}
	if stats.TransactionCount != 3 {
		t.Errorf("expected 3 transactions, got %d", stats.TransactionCount)
	}
	if !stats.TotalVolume.Equal(d(35)) {
		t.Errorf("expected total volume 35, got %s", stats.TotalVolume)
	}
	if stats.PositionHolders != 2 {
		t.Errorf("expected 2 position holders, got %d", stats.PositionHolders)
	}
}
