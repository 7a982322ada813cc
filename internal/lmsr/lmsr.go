// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary prediction markets.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln 2 for a
//     binary outcome)
//   - Continuous pricing with infinite liquidity
//   - Path-independent cost function
//
// All monetary values use shopspring/decimal — never float64 for
// money. Internal transcendental math uses the log-sum-exp trick for
// numerical stability, with results converted to decimal only at the
// API boundary.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// CostTolerance is the convergence tolerance (on cost, in dollars)
	// for the QuoteBuy bisection search.
	CostTolerance = 0.0001

	// MaxBisectionIterations bounds the QuoteBuy bisection search.
	MaxBisectionIterations = 100

	// MinProbability and MaxProbability bound the initial probability a
	// market may be seeded at.
	MinProbability = decimal.NewFromFloat(0.01)
	MaxProbability = decimal.NewFromFloat(0.99)

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

// Quote is the result of pricing a hypothetical trade: how many shares
// a given amount buys, or how much a given number of shares sells for.
type Quote struct {
	Shares       decimal.Decimal
	AvgPrice     decimal.Decimal
	PriceImpact  decimal.Decimal
	SpotBefore   decimal.Decimal
	NewPriceYes  decimal.Decimal
	NewPriceNo   decimal.Decimal
}

// logSumExp computes ln(Σ exp(x_i)) using the log-sum-exp trick to
// prevent floating-point overflow. Without this trick, exp(x)
// overflows float64 when x > ~709.
//
// Algorithm: LSE(x) = max(x) + ln(Σ exp(x_i - max(x)))
// Since (x_i - max(x)) <= 0, all exp arguments are in [0, 1].
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}

	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}

	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * ln(Σ exp(q_i / b))
//
// for q = [qYes, qNo], using logSumExp for numerical stability.
func Cost(qYes, qNo, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	bf := b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()

	lse := logSumExp([]float64{qy / bf, qn / bf})
	cost := bf * lse

	return decimal.NewFromFloat(cost).Round(PriceScale)
}

// costF is Cost's pure-float64 form, used internally by the bisection
// search so it never round-trips through decimal per iteration.
func costF(qYes, qNo, b float64) float64 {
	return b * logSumExp([]float64{qYes / b, qNo / b})
}

// Price computes the instantaneous spot price (probability) for the
// YES outcome:
//
//	p_yes = exp(qYes / b) / (exp(qYes / b) + exp(qNo / b))
//
// This is the softmax function. Uses max-subtraction for numerical
// stability. When b = 0 (a degenerate market; never used live) the
// price defaults to 0.5 per spec.
func Price(qYes, qNo, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.NewFromFloat(0.5)
	}
	bf := b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()

	yOverB := qy / bf
	nOverB := qn / bf
	maxVal := math.Max(yOverB, nOverB)

	expYes := math.Exp(yOverB - maxVal)
	expNo := math.Exp(nOverB - maxVal)

	price := expYes / (expYes + expNo)
	return decimal.NewFromFloat(price).Round(PriceScale)
}

// PriceNo returns the instantaneous price for the NO outcome: 1 - p_yes.
func PriceNo(qYes, qNo, b decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(Price(qYes, qNo, b))
}

// MaxLoss returns the maximum possible loss for the market maker:
// b * ln(2) for a binary market.
func MaxLoss(b decimal.Decimal) decimal.Decimal {
	loss := b.InexactFloat64() * math.Log(2)
	return decimal.NewFromFloat(loss).Round(PriceScale)
}

// InitialInventory derives the starting (q_yes, q_no) for a market
// seeded at targetProb, clamped to [0.01, 0.99]:
//
//	q_no = 0
//	q_yes = b * ln(p / (1 - p))
func InitialInventory(b, targetProb decimal.Decimal) (qYes, qNo decimal.Decimal) {
	p := targetProb
	if p.LessThan(MinProbability) {
		p = MinProbability
	}
	if p.GreaterThan(MaxProbability) {
		p = MaxProbability
	}
	pf := p.InexactFloat64()
	qy := b.InexactFloat64() * math.Log(pf/(1-pf))
	return decimal.NewFromFloat(qy).Round(PriceScale), decimal.Zero
}

// QuoteBuy solves for the number of shares `s` that `amount` dollars
// buys on the given side, such that:
//
//	C(q + s*e_side) - C(q) = amount
//
// Solved by bisection over s in [0, hi], 100 iterations, tolerance
// 1e-4 on cost. hi starts at amount*10 (a share never pays out more
// than $1, so the maker never gives more than 10 shares per dollar
// near the degenerate tails) and is doubled until the target cost is
// bracketed, hardening the bisection against the unbounded-hi case the
// plain amount*10 guess can miss for very small b.
func QuoteBuy(qYes, qNo, b decimal.Decimal, side string, amount decimal.Decimal) (Quote, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return Quote{}, ErrInvalidLiquidity
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return Quote{Shares: decimal.Zero}, nil
	}

	bf := b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()
	a := amount.InexactFloat64()
	baseCost := costF(qy, qn, bf)

	// targetCost(s) - baseCost - a = 0; costAt(s) computes the cost of
	// the market after buying s shares of `side`.
	costAt := func(s float64) float64 {
		if side == sideYes {
			return costF(qy+s, qn, bf)
		}
		return costF(qy, qn+s, bf)
	}

	lo := 0.0
	hi := a * 10
	if hi <= 0 {
		hi = 1
	}
	for i := 0; i < MaxBisectionIterations && costAt(hi)-baseCost < a; i++ {
		hi *= 2
	}

	var mid float64
	for i := 0; i < MaxBisectionIterations; i++ {
		mid = (lo + hi) / 2
		diff := costAt(mid) - baseCost - a
		if math.Abs(diff) < CostTolerance {
			break
		}
		if diff < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}

	shares := decimal.NewFromFloat(mid).Round(PriceScale)
	if shares.LessThanOrEqual(decimal.Zero) {
		return Quote{Shares: decimal.Zero}, nil
	}

	spotBefore := sideSpot(qYes, qNo, b, side)
	avgPrice := amount.Div(shares).Round(PriceScale)

	var newQYes, newQNo decimal.Decimal
	if side == sideYes {
		newQYes, newQNo = qYes.Add(shares), qNo
	} else {
		newQYes, newQNo = qYes, qNo.Add(shares)
	}

	impact := decimal.Zero
	if !spotBefore.IsZero() {
		impact = avgPrice.Sub(spotBefore).Div(spotBefore).Round(PriceScale)
	}

	return Quote{
		Shares:      shares,
		AvgPrice:    avgPrice,
		PriceImpact: impact,
		SpotBefore:  spotBefore,
		NewPriceYes: Price(newQYes, newQNo, b),
		NewPriceNo:  PriceNo(newQYes, newQNo, b),
	}, nil
}

// QuoteSell computes the direct cost difference for selling `shares`
// of `side`:
//
//	proceeds = max(0, C(q) - C(q - s*e_side))
//
// No iteration is needed; it is a closed-form difference.
func QuoteSell(qYes, qNo, b decimal.Decimal, side string, shares decimal.Decimal) (Quote, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return Quote{}, ErrInvalidLiquidity
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return Quote{Shares: decimal.Zero}, nil
	}

	var newQYes, newQNo decimal.Decimal
	if side == sideYes {
		newQYes, newQNo = qYes.Sub(shares), qNo
	} else {
		newQYes, newQNo = qYes, qNo.Sub(shares)
	}

	before := Cost(qYes, qNo, b)
	after := Cost(newQYes, newQNo, b)
	proceeds := before.Sub(after)
	if proceeds.LessThan(decimal.Zero) {
		proceeds = decimal.Zero
	}

	spotBefore := sideSpot(qYes, qNo, b, side)
	avgPrice := decimal.Zero
	if !shares.IsZero() {
		avgPrice = proceeds.Div(shares).Round(PriceScale)
	}

	impact := decimal.Zero
	if !spotBefore.IsZero() {
		impact = spotBefore.Sub(avgPrice).Div(spotBefore).Round(PriceScale)
	}

	return Quote{
		Shares:      shares,
		AvgPrice:    avgPrice,
		PriceImpact: impact,
		SpotBefore:  spotBefore,
		NewPriceYes: Price(newQYes, newQNo, b),
		NewPriceNo:  PriceNo(newQYes, newQNo, b),
	}, nil
}

// sideYes is the side tag lmsr expects for the YES leg. Kept as a bare
// string (not model.Side) so this package has no dependency on model.
const sideYes = "YES"

func sideSpot(qYes, qNo, b decimal.Decimal, side string) decimal.Decimal {
	if side == sideYes {
		return Price(qYes, qNo, b)
	}
	return PriceNo(qYes, qNo, b)
}
