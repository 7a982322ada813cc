// Package httpapi wires the trading engine, resolver, and query
// projections behind a chi router, following the teacher's
// cmd/server/main.go router-and-handler shape (chi middleware stack,
// a writeError helper returning a JSON error envelope, one handler per
// route) generalized to this domain's endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/contract"
	"github.com/foretell/marketex/internal/lmsr"
	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/metrics"
	"github.com/foretell/marketex/internal/model"
	"github.com/foretell/marketex/internal/query"
	"github.com/foretell/marketex/internal/resolver"
	"github.com/foretell/marketex/internal/store"
	"github.com/foretell/marketex/internal/trading"
)

// API bundles the dependencies every handler needs.
type API struct {
	st       store.Store
	engine   *trading.Engine
	resolver *resolver.Resolver
	hub      *trading.Hub
	metrics  *metrics.Metrics
}

// New builds an API.
func New(st store.Store, engine *trading.Engine, r *resolver.Resolver, hub *trading.Hub, m *metrics.Metrics) *API {
	return &API{st: st, engine: engine, resolver: r, hub: hub, metrics: m}
}

// Router builds the chi router: middleware stack plus every route.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	if a.metrics != nil {
		r.Use(a.metrics.Middleware)
	}

	r.Get("/health", a.handleHealth)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}
	if a.hub != nil {
		r.Get("/ws", a.hub.HandleWS)
	}

	r.Route("/trade", func(r chi.Router) {
		r.Post("/quote", a.handleQuote)
		r.Post("/buy", a.handleBuy)
		r.Post("/sell", a.handleSell)
	})

	r.Route("/markets", func(r chi.Router) {
		r.Post("/", a.handleCreateMarket)
		r.Get("/", a.handleListMarkets)
		r.Get("/{marketID}", a.handleGetMarket)
	})

	r.Route("/resolutions", func(r chi.Router) {
		r.Post("/{marketID}/resolve", a.handleResolve)
		r.Get("/{marketID}", a.handleGetResolution)
	})

	r.Get("/portfolio/{userID}", a.handleGetPortfolio)

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "marketex"})
}

// --- /trade ---

type quoteRequest struct {
	Market string          `json:"market"`
	Side   model.Side      `json:"side"`
	Action string          `json:"action"` // "buy" | "sell"
	Amount decimal.Decimal `json:"amount,omitempty"`
	Shares decimal.Decimal `json:"shares,omitempty"`
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	isBuy := req.Action == "buy"
	amount := req.Amount
	if !isBuy {
		amount = req.Shares
	}

	q, err := a.engine.Quote(r.Context(), req.Market, req.Side, isBuy, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type tradeRequest struct {
	Market string          `json:"market"`
	User   string          `json:"user"`
	Side   model.Side      `json:"side"`
	Amount decimal.Decimal `json:"amount,omitempty"`
	Shares decimal.Decimal `json:"shares,omitempty"`
}

func (a *API) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := a.engine.ExecuteBuy(r.Context(), req.User, req.Market, req.Side, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSell(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := a.engine.ExecuteSell(r.Context(), req.User, req.Market, req.Side, req.Shares)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- /markets ---

type createMarketRequest struct {
	Slug               string                   `json:"slug"`
	Title              string                   `json:"title"`
	Category           string                   `json:"category"`
	SourceURL          string                   `json:"source_url"`
	ResolutionCriteria model.ResolutionCriteria `json:"resolution_criteria"`
	CreatorID          string                   `json:"creator_id"`
	B                  decimal.Decimal          `json:"b"`
	InitialProbability decimal.Decimal          `json:"initial_probability,omitempty"`
	CloseAt            time.Time                `json:"close_at"`
}

func (a *API) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.B.LessThanOrEqual(decimal.Zero) {
		writeError(w, marketerr.New(marketerr.KindValidation, "b must be positive"))
		return
	}

	parsed, err := contract.ParseSlug(req.Slug)
	if err != nil {
		writeError(w, marketerr.Wrap(marketerr.KindValidation, err, "invalid slug"))
		return
	}
	category := req.Category
	if category == "" {
		category = parsed.Category
	}
	closeAt := req.CloseAt
	if closeAt.IsZero() {
		closeAt = parsed.CloseAt
	}

	targetProb := req.InitialProbability
	if targetProb.IsZero() {
		targetProb = decimal.NewFromFloat(0.5)
	}
	qYes, qNo := lmsr.InitialInventory(req.B, targetProb)

	market := &model.Market{
		ID:                 uuid.New().String(),
		Slug:               parsed.Raw,
		Title:              req.Title,
		Category:           category,
		SourceURL:          req.SourceURL,
		ResolutionCriteria: req.ResolutionCriteria,
		CreatorID:          req.CreatorID,
		QYes:               qYes,
		QNo:                qNo,
		B:                  req.B,
		Status:             model.StatusOpen,
		CloseAt:            closeAt,
		CreatedAt:          time.Now().UTC(),
	}
	if err := a.st.CreateMarket(r.Context(), market); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

func (a *API) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := a.st.ListMarkets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

func (a *API) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	view, err := query.GetMarketView(r.Context(), a.st, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- /resolutions ---

type resolveRequest struct {
	Outcome    *model.Side `json:"outcome,omitempty"`
	ResolvedBy string      `json:"resolved_by,omitempty"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resolvedBy := req.ResolvedBy
	if resolvedBy == "" && req.Outcome != nil {
		resolvedBy = "manual"
	}
	result, err := a.resolver.Resolve(r.Context(), marketID, req.Outcome, resolvedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	if a.hub != nil {
		outcome := ""
		if result.Market.Outcome != nil {
			outcome = string(*result.Market.Outcome)
		}
		a.hub.Broadcast(trading.Event{Type: "market_resolved", MarketID: marketID, Outcome: outcome})
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGetResolution(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	res, err := a.st.GetResolution(r.Context(), marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- /portfolio ---

func (a *API) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	p, err := query.GetPortfolio(r.Context(), a.st, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, marketerr.Wrap(marketerr.KindValidation, err, "invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps a marketerr.Kind to an HTTP status and writes the
// {error, message} envelope, per spec §6.
func writeError(w http.ResponseWriter, err error) {
	kind := marketerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case marketerr.KindValidation, marketerr.KindDegenerateTrade, marketerr.KindPathMissing, marketerr.KindUnknownOperator:
		status = http.StatusBadRequest
	case marketerr.KindNotFound:
		status = http.StatusNotFound
	case marketerr.KindAlreadyResolved, marketerr.KindMarketNotOpen, marketerr.KindInsufficientFunds, marketerr.KindInsufficientShares:
		status = http.StatusConflict
	case marketerr.KindFetchFailed, marketerr.KindInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: string(kind), Message: err.Error()})
}
