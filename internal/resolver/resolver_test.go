package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/fetch"
	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/model"
	"github.com/foretell/marketex/internal/store"
	"github.com/foretell/marketex/internal/store/memory"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func seedMarket(t *testing.T, st *memory.Store, m model.Market) {
	t.Helper()
	if err := st.CreateMarket(context.Background(), &m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
}

func seedUser(t *testing.T, st *memory.Store, id string, balance float64) {
	t.Helper()
	if err := st.CreateUser(context.Background(), &model.User{ID: id, Balance: d(balance)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestResolve_ManualOverride(t *testing.T) {
	st := memory.New()
	seedMarket(t, st, model.Market{ID: "m1", Status: model.StatusOpen, QYes: d(10), QNo: d(0), B: d(100)})
	seedUser(t, st, "alice", 0)
	if err := st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.UpsertPosition(context.Background(), &model.Position{UserID: "alice", MarketID: "m1", Side: model.SideYes, Shares: d(20), AvgPrice: d(0.4)})
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	r := New(st, &fetch.Fake{}, nil)
	outcome := model.SideYes
	res, err := r.Resolve(context.Background(), "m1", &outcome, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.SideYes {
		t.Errorf("expected outcome YES, got %s", res.Outcome)
	}
	if len(res.Payouts) != 1 || !res.Payouts[0].Amount.Equal(d(20)) {
		t.Errorf("expected one payout of 20, got %+v", res.Payouts)
	}

	market, err := st.GetMarket(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if market.Status != model.StatusResolved {
		t.Errorf("expected market resolved, got %s", market.Status)
	}

	user, err := st.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.Balance.Equal(d(20)) {
		t.Errorf("expected alice credited 20, got %s", user.Balance)
	}
}

func TestResolve_ManualOverrideRequiresNonAutoIdentity(t *testing.T) {
	st := memory.New()
	seedMarket(t, st, model.Market{ID: "m1", Status: model.StatusOpen, QYes: d(0), QNo: d(0), B: d(100)})

	r := New(st, &fetch.Fake{}, nil)
	outcome := model.SideYes
	_, err := r.Resolve(context.Background(), "m1", &outcome, "")
	if marketerr.KindOf(err) != marketerr.KindValidation {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestResolve_AlreadyResolved(t *testing.T) {
	st := memory.New()
	outcome := model.SideYes
	resolvedAt := time.Now()
	seedMarket(t, st, model.Market{ID: "m1", Status: model.StatusResolved, Outcome: &outcome, ResolvedAt: &resolvedAt})

	r := New(st, &fetch.Fake{}, nil)
	_, err := r.Resolve(context.Background(), "m1", nil, "admin")
	if marketerr.KindOf(err) != marketerr.KindAlreadyResolved {
		t.Errorf("expected AlreadyResolved, got %v", err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	st := memory.New()
	r := New(st, &fetch.Fake{}, nil)
	_, err := r.Resolve(context.Background(), "missing", nil, "auto")
	if marketerr.KindOf(err) != marketerr.KindNotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestResolve_ManualSourceUsesProbability(t *testing.T) {
	st := memory.New()
	// q_yes > q_no pushes p_yes above 0.5.
	seedMarket(t, st, model.Market{ID: "m1", Status: model.StatusOpen, SourceURL: "manual", QYes: d(50), QNo: d(0), B: d(100)})

	r := New(st, &fetch.Fake{}, nil)
	res, err := r.Resolve(context.Background(), "m1", nil, "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.SideYes {
		t.Errorf("expected YES from probability fallback, got %s", res.Outcome)
	}
}

func TestResolve_OracleEvaluatesCriteria(t *testing.T) {
	st := memory.New()
	seedMarket(t, st, model.Market{
		ID:     "m1",
		Status: model.StatusOpen,
		ResolutionCriteria: model.ResolutionCriteria{
			Path:     "current.temp_f",
			Operator: ">",
			Expected: model.NumberScalar(d(90)),
		},
		SourceURL: "https://weather.example/station/1",
		QYes:      d(0), QNo: d(0), B: d(100),
	})

	fake := &fetch.Fake{Payload: map[string]any{"current": map[string]any{"temp_f": 95.0}}}
	r := New(st, fake, nil)
	res, err := r.Resolve(context.Background(), "m1", nil, "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.SideYes {
		t.Errorf("expected YES (95 > 90), got %s", res.Outcome)
	}
}

func TestResolve_OracleFetchFailureFallsBackToProbability(t *testing.T) {
	st := memory.New()
	seedMarket(t, st, model.Market{
		ID:        "m1",
		Status:    model.StatusOpen,
		SourceURL: "https://weather.example/station/1",
		ResolutionCriteria: model.ResolutionCriteria{
			Path: "current.temp_f", Operator: ">", Expected: model.NumberScalar(d(90)),
		},
		QYes: d(0), QNo: d(10), B: d(100), // p_yes < 0.5
	})

	fake := &fetch.Fake{Err: fetch.ErrTimeout}
	r := New(st, fake, nil)
	res, err := r.Resolve(context.Background(), "m1", nil, "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.SideNo {
		t.Errorf("expected NO from probability fallback, got %s", res.Outcome)
	}
}

func TestResolve_OraclePathMissingFallsBackToProbability(t *testing.T) {
	st := memory.New()
	seedMarket(t, st, model.Market{
		ID:        "m1",
		Status:    model.StatusOpen,
		SourceURL: "https://weather.example/station/1",
		ResolutionCriteria: model.ResolutionCriteria{
			Path: "current.temp_f", Operator: ">", Expected: model.NumberScalar(d(90)),
		},
		QYes: d(10), QNo: d(0), B: d(100), // p_yes > 0.5
	})

	fake := &fetch.Fake{Payload: map[string]any{"current": map[string]any{}}}
	r := New(st, fake, nil)
	res, err := r.Resolve(context.Background(), "m1", nil, "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.SideYes {
		t.Errorf("expected YES from probability fallback, got %s", res.Outcome)
	}
}

func TestResolve_LosingPositionsUntouched(t *testing.T) {
	st := memory.New()
	seedMarket(t, st, model.Market{ID: "m1", Status: model.StatusOpen, QYes: d(0), QNo: d(0), B: d(100)})
	seedUser(t, st, "bob", 0)

	if err := st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.UpsertPosition(context.Background(), &model.Position{UserID: "bob", MarketID: "m1", Side: model.SideNo, Shares: d(15), AvgPrice: d(0.5)})
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	outcome := model.SideYes
	r := New(st, &fetch.Fake{}, nil)
	res, err := r.Resolve(context.Background(), "m1", &outcome, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Payouts) != 0 {
		t.Errorf("expected no payouts for losing side, got %+v", res.Payouts)
	}

	bob, err := st.GetUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !bob.Balance.IsZero() {
		t.Errorf("losing side should not be credited, got balance %s", bob.Balance)
	}

	pos, err := st.GetPosition(context.Background(), "bob", "m1", model.SideNo)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.Shares.Equal(d(15)) {
		t.Errorf("losing position shares should remain untouched, got %s", pos.Shares)
	}
}
