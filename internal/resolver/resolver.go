// Package resolver determines a market's outcome — manually, from its
// creator's declared "manual" source, or from an oracle — and pays out
// winning positions inside a single transaction. The overall shape
// (load the item, determine an outcome, mutate state, log failures
// per-item and move on) is grounded on the teacher's pack-mate
// anselmolaurindo08-byte-bebrafun's DuelResolver.resolveExpiredDuels,
// and the payout sweep follows the OrderBookTrade example's
// CalculatePayouts: iterate positions, credit only the winning side,
// leave losing positions untouched as historical record.
package resolver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/fetch"
	"github.com/foretell/marketex/internal/lmsr"
	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/metrics"
	"github.com/foretell/marketex/internal/model"
	"github.com/foretell/marketex/internal/store"
)

// sourceManual is the market SourceURL value that marks a market as
// manually resolved (no oracle is ever contacted for it).
const sourceManual = "manual"

// AutoResolvedBy is the resolved_by identity the scheduler stamps on
// ticks it drives itself.
const AutoResolvedBy = "auto"

// Payout records one credited position after a resolution.
type Payout struct {
	UserID string
	Shares decimal.Decimal
	Amount decimal.Decimal
}

// Result is returned by Resolve.
type Result struct {
	Market     model.Market
	Outcome    model.Side
	Resolution model.Resolution
	Payouts    []Payout
}

// Resolver determines and commits a market's outcome.
type Resolver struct {
	st      store.Store
	fetcher fetch.Fetcher
	metrics *metrics.Metrics
}

// New creates a Resolver. m may be nil.
func New(st store.Store, fetcher fetch.Fetcher, m *metrics.Metrics) *Resolver {
	return &Resolver{st: st, fetcher: fetcher, metrics: m}
}

// proofStep is one entry in a resolution's calculation_steps blob.
type proofStep struct {
	Step   string `json:"step"`
	Detail string `json:"detail"`
}

// outcomeDecision is the intermediate result of step 2 of Resolve,
// before any state is mutated.
type outcomeDecision struct {
	outcome    model.Side
	response   json.RawMessage
	steps      json.RawMessage
	finalValue model.Scalar
}

// Resolve determines market's outcome and pays out winning positions.
// manualOutcome, when non-nil, forces the manual-override path.
// resolvedBy defaults to AutoResolvedBy when empty.
func (r *Resolver) Resolve(ctx context.Context, marketID string, manualOutcome *model.Side, resolvedBy string) (*Result, error) {
	if resolvedBy == "" {
		resolvedBy = AutoResolvedBy
	}
	if manualOutcome != nil && resolvedBy == AutoResolvedBy {
		return nil, marketerr.New(marketerr.KindValidation, "a manual outcome override requires a resolved_by identity other than %q", AutoResolvedBy)
	}

	market, err := r.st.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status == model.StatusResolved {
		return nil, marketerr.New(marketerr.KindAlreadyResolved, "market %s is already resolved", marketID)
	}

	decision, err := r.determineOutcome(ctx, market, manualOutcome)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ResolutionsTotal.WithLabelValues(resolutionMethod(market, manualOutcome), "error").Inc()
		}
		return nil, err
	}

	now := time.Now().UTC()
	var result Result

	err = r.st.WithTx(ctx, func(tx store.Tx) error {
		res := model.Resolution{
			MarketID:         marketID,
			Outcome:          decision.outcome,
			SourceURL:        market.SourceURL,
			SourceResponse:   decision.response,
			CalculationSteps: decision.steps,
			FinalValue:       decision.finalValue,
			ResolvedBy:       resolvedBy,
			ResolvedAt:       now,
		}
		if err := tx.InsertResolution(ctx, &res); err != nil {
			return err
		}
		if err := tx.MarkResolved(ctx, marketID, decision.outcome, now); err != nil {
			return err
		}

		winners, err := tx.ListPositionsBySide(ctx, marketID, decision.outcome)
		if err != nil {
			return err
		}
		payouts := make([]Payout, 0, len(winners))
		for _, pos := range winners {
			if pos.Shares.LessThanOrEqual(decimal.Zero) {
				continue
			}
			amount := pos.Shares // each winning share pays exactly 1.0
			if err := tx.CreditBalance(ctx, pos.UserID, amount); err != nil {
				return err
			}
			payouts = append(payouts, Payout{UserID: pos.UserID, Shares: pos.Shares, Amount: amount})
		}

		updated := *market
		updated.Status = model.StatusResolved
		updated.Outcome = &decision.outcome
		updated.ResolvedAt = &now

		result = Result{Market: updated, Outcome: decision.outcome, Resolution: res, Payouts: payouts}
		return nil
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.ResolutionsTotal.WithLabelValues(resolutionMethod(market, manualOutcome), "error").Inc()
		}
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.ResolutionsTotal.WithLabelValues(resolutionMethod(market, manualOutcome), "ok").Inc()
	}
	slog.Info("market resolved", "market", marketID, "outcome", decision.outcome,
		"resolved_by", resolvedBy, "payouts", len(result.Payouts))
	return &result, nil
}

func resolutionMethod(market *model.Market, manualOutcome *model.Side) string {
	switch {
	case manualOutcome != nil:
		return "manual_override"
	case market.SourceURL == sourceManual:
		return "manual_source"
	default:
		return "oracle"
	}
}

// determineOutcome implements step 2 of spec: manual override,
// manual-resolution market, or oracle (with probability fallback).
func (r *Resolver) determineOutcome(ctx context.Context, market *model.Market, manualOutcome *model.Side) (outcomeDecision, error) {
	if manualOutcome != nil {
		response, _ := json.Marshal(map[string]any{"manual": true, "outcome": *manualOutcome})
		steps, _ := json.Marshal([]proofStep{{Step: "manual_override", Detail: "Market resolved manually"}})
		return outcomeDecision{
			outcome:    *manualOutcome,
			response:   response,
			steps:      steps,
			finalValue: model.StringScalar(string(*manualOutcome)),
		}, nil
	}

	if market.SourceURL == sourceManual {
		return r.probabilityDecision(market, "manual-resolution market has no oracle source"), nil
	}

	return r.oracleDecision(ctx, market), nil
}

// probabilityDecision implements the probability-fallback path:
// outcome = YES iff the current spot price favors it.
func (r *Resolver) probabilityDecision(market *model.Market, reason string) outcomeDecision {
	pYes := lmsr.Price(market.QYes, market.QNo, market.B)
	outcome := model.SideNo
	if pYes.GreaterThan(decimal.NewFromFloat(0.5)) {
		outcome = model.SideYes
	}
	response, _ := json.Marshal(map[string]any{"fallback": true, "reason": reason, "p_yes": pYes.String()})
	steps, _ := json.Marshal([]proofStep{
		{Step: "probability_fallback", Detail: reason},
		{Step: "evaluated", Detail: "p_yes=" + pYes.String()},
	})
	return outcomeDecision{
		outcome:    outcome,
		response:   response,
		steps:      steps,
		finalValue: model.NumberScalar(pYes),
	}
}

// oracleDecision implements the oracle path: fetch, extract, evaluate,
// conclude, falling back to the probability path on any failure.
func (r *Resolver) oracleDecision(ctx context.Context, market *model.Market) outcomeDecision {
	steps := make([]proofStep, 0, 4)

	payload, err := r.fetcher.Fetch(ctx, market.SourceURL)
	if err != nil {
		return r.probabilityDecision(market, "fetch failed: "+err.Error())
	}
	steps = append(steps, proofStep{Step: "fetched", Detail: market.SourceURL})

	actual, err := r.fetcher.Extract(payload, market.ResolutionCriteria.Path)
	if err != nil {
		return r.probabilityDecision(market, "extract failed: "+err.Error())
	}
	steps = append(steps, proofStep{Step: "extracted", Detail: actual.String()})

	cond, err := r.fetcher.Evaluate(actual, market.ResolutionCriteria.Operator, market.ResolutionCriteria.Expected)
	if err != nil {
		return r.probabilityDecision(market, "evaluate failed: "+err.Error())
	}
	steps = append(steps, proofStep{Step: "evaluated", Detail: boolString(cond)})

	outcome := model.SideNo
	if cond {
		outcome = model.SideYes
	}
	steps = append(steps, proofStep{Step: "concluded", Detail: string(outcome)})

	response, _ := json.Marshal(map[string]any{"payload": payload})
	stepsJSON, _ := json.Marshal(steps)
	return outcomeDecision{
		outcome:    outcome,
		response:   response,
		steps:      stepsJSON,
		finalValue: actual,
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
