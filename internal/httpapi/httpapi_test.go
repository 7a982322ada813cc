package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/fetch"
	"github.com/foretell/marketex/internal/model"
	"github.com/foretell/marketex/internal/resolver"
	"github.com/foretell/marketex/internal/store/memory"
	"github.com/foretell/marketex/internal/trading"
)

func newTestAPI() (*API, *memory.Store) {
	st := memory.New()
	hub := trading.NewHub()
	engine := trading.New(st, hub, nil)
	res := resolver.New(st, &fetch.Fake{}, nil)
	return New(st, engine, res, hub, nil), st
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI()
	rr := doJSON(t, api.Router(), http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCreateAndGetMarket(t *testing.T) {
	api, _ := newTestAPI()
	router := api.Router()

	rr := doJSON(t, router, http.MethodPost, "/markets/", createMarketRequest{
		Slug: "weather-seattle-rain-20261104", Title: "Will it rain", SourceURL: "manual",
		B: decimal.NewFromInt(100),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created model.Market
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected market ID to be set")
	}

	rr = doJSON(t, router, http.MethodGet, "/markets/"+created.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if created.Category != "weather" {
		t.Errorf("expected category derived from slug, got %s", created.Category)
	}
}

func TestCreateMarket_InvalidSlugRejected(t *testing.T) {
	api, _ := newTestAPI()
	router := api.Router()

	rr := doJSON(t, router, http.MethodPost, "/markets/", createMarketRequest{
		Slug: "not a valid slug", Title: "Will it rain", SourceURL: "manual",
		B: decimal.NewFromInt(100),
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestBuyAndSellFlow(t *testing.T) {
	api, st := newTestAPI()
	router := api.Router()

	if err := st.CreateUser(context.Background(), &model.User{ID: "alice", Balance: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := st.CreateMarket(context.Background(), &model.Market{
		ID: "m1", Status: model.StatusOpen, SourceURL: "manual",
		QYes: decimal.Zero, QNo: decimal.Zero, B: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("seed market: %v", err)
	}

	rr := doJSON(t, router, http.MethodPost, "/trade/buy", tradeRequest{
		Market: "m1", User: "alice", Side: model.SideYes, Amount: decimal.NewFromInt(10),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var buyResult trading.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &buyResult); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buyResult.Shares.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected positive shares, got %s", buyResult.Shares)
	}

	rr = doJSON(t, router, http.MethodPost, "/trade/sell", tradeRequest{
		Market: "m1", User: "alice", Side: model.SideYes, Shares: buyResult.Shares,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSellWithoutPositionReturnsConflict(t *testing.T) {
	api, st := newTestAPI()
	router := api.Router()
	if err := st.CreateUser(context.Background(), &model.User{ID: "bob", Balance: decimal.Zero}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := st.CreateMarket(context.Background(), &model.Market{
		ID: "m1", Status: model.StatusOpen, QYes: decimal.Zero, QNo: decimal.Zero, B: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("seed market: %v", err)
	}

	rr := doJSON(t, router, http.MethodPost, "/trade/sell", tradeRequest{
		Market: "m1", User: "bob", Side: model.SideYes, Shares: decimal.NewFromInt(5),
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "InsufficientShares" {
		t.Errorf("expected InsufficientShares, got %s", body.Error)
	}
}

func TestResolveAndGetResolution(t *testing.T) {
	api, st := newTestAPI()
	router := api.Router()
	if err := st.CreateMarket(context.Background(), &model.Market{
		ID: "m1", Status: model.StatusOpen, SourceURL: "manual", QYes: decimal.Zero, QNo: decimal.Zero, B: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("seed market: %v", err)
	}

	outcome := model.SideYes
	rr := doJSON(t, router, http.MethodPost, "/resolutions/m1/resolve", resolveRequest{
		Outcome: &outcome, ResolvedBy: "admin",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodGet, "/resolutions/m1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetMarket_NotFoundReturns404(t *testing.T) {
	api, _ := newTestAPI()
	router := api.Router()
	rr := doJSON(t, router, http.MethodGet, "/markets/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}
