// Package model defines the core domain types shared across the market
// engine. All monetary and share quantities use shopspring/decimal —
// never float64 for money.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one leg of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// MarketStatus is the lifecycle state of a market. Transitions are
// monotone: open -> closed -> resolved (closed may be skipped).
type MarketStatus string

const (
	StatusOpen     MarketStatus = "open"
	StatusClosed   MarketStatus = "closed"
	StatusResolved MarketStatus = "resolved"
)

// TransactionType distinguishes a buy from a sell in the immutable
// transaction ledger.
type TransactionType string

const (
	TxBuy  TransactionType = "BUY"
	TxSell TransactionType = "SELL"
)

// DustThreshold is the minimum number of shares a position must hold
// to remain a live row; below this, rounding residue is treated as
// zero and the row is deleted.
var DustThreshold = decimal.NewFromFloat(0.0001)

// User is a unique identity with a cash balance. Balances are mutated
// only by the trading engine (buy/sell) and the resolver (payout).
type User struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ResolutionCriteria describes how to derive an outcome from an
// oracle's response: a dotted path into the payload, a comparison
// operator, and the expected value to compare against.
type ResolutionCriteria struct {
	Path     string `json:"path"`
	Operator string `json:"operator"`
	Expected Scalar `json:"value"`
}

// Market is a single binary event with LMSR inventory (q_yes, q_no, b).
type Market struct {
	ID                 string             `json:"id" db:"id"`
	Slug               string             `json:"slug" db:"slug"`
	Title              string             `json:"title" db:"title"`
	Category           string             `json:"category" db:"category"`
	SourceURL          string             `json:"source_url" db:"source_url"`
	ResolutionCriteria ResolutionCriteria `json:"resolution_criteria" db:"resolution_criteria"`
	CreatorID          string             `json:"creator_id" db:"creator_id"`
	QYes               decimal.Decimal    `json:"q_yes" db:"q_yes"`
	QNo                decimal.Decimal    `json:"q_no" db:"q_no"`
	B                  decimal.Decimal    `json:"b" db:"b"`
	Status             MarketStatus       `json:"status" db:"status"`
	Outcome            *Side              `json:"outcome,omitempty" db:"outcome"`
	CloseAt            time.Time          `json:"close_at" db:"close_at"`
	ResolvedAt         *time.Time         `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}

// Position is a user's holding of one side of one market. At most one
// row exists per (user, market, side).
type Position struct {
	UserID   string          `json:"user_id" db:"user_id"`
	MarketID string          `json:"market_id" db:"market_id"`
	Side     Side            `json:"side" db:"side"`
	Shares   decimal.Decimal `json:"shares" db:"shares"`
	AvgPrice decimal.Decimal `json:"avg_price" db:"avg_price"`
}

// Transaction is an immutable record of one BUY or SELL.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	MarketID      string          `json:"market_id" db:"market_id"`
	Side          Side            `json:"side" db:"side"`
	Type          TransactionType `json:"type" db:"type"`
	Shares        decimal.Decimal `json:"shares" db:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	TotalCash     decimal.Decimal `json:"total_cash" db:"total_cash"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// PricePoint is an immutable post-trade spot-price snapshot.
type PricePoint struct {
	MarketID  string          `json:"market_id" db:"market_id"`
	PriceYes  decimal.Decimal `json:"price_yes" db:"price_yes"`
	PriceNo   decimal.Decimal `json:"price_no" db:"price_no"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Resolution is the one immutable proof record written when a market
// resolves.
type Resolution struct {
	MarketID         string          `json:"market_id" db:"market_id"`
	Outcome          Side            `json:"outcome" db:"outcome"`
	SourceURL        string          `json:"source_url" db:"source_url"`
	SourceResponse   json.RawMessage `json:"source_response" db:"source_response"`
	CalculationSteps json.RawMessage `json:"calculation_steps" db:"calculation_steps"`
	FinalValue       Scalar          `json:"final_value" db:"final_value"`
	ResolvedBy       string          `json:"resolved_by" db:"resolved_by"`
	ResolvedAt       time.Time       `json:"resolved_at" db:"resolved_at"`
}

// ScalarKind tags which variant of Scalar is populated.
type ScalarKind int

const (
	ScalarString ScalarKind = iota
	ScalarNumber
	ScalarBool
)

// Scalar is a tagged variant over the three JSON leaf types resolution
// criteria may carry: string, number, or bool. Modeled as a struct
// rather than `any` so it round-trips through sqlite/JSON exactly and
// Evaluate never has to re-sniff a decoded interface{}.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Num  decimal.Decimal
	Bool bool
}

// StringScalar wraps a string value.
func StringScalar(s string) Scalar { return Scalar{Kind: ScalarString, Str: s} }

// NumberScalar wraps a numeric value.
func NumberScalar(n decimal.Decimal) Scalar { return Scalar{Kind: ScalarNumber, Num: n} }

// BoolScalar wraps a boolean value.
func BoolScalar(b bool) Scalar { return Scalar{Kind: ScalarBool, Bool: b} }

// String renders the scalar's underlying value as text, used for
// equals/contains comparisons after coercion.
func (s Scalar) String() string {
	switch s.Kind {
	case ScalarNumber:
		return s.Num.String()
	case ScalarBool:
		if s.Bool {
			return "true"
		}
		return "false"
	default:
		return s.Str
	}
}

// MarshalJSON encodes Scalar as its bare underlying JSON value, not as
// a struct with a Kind tag, so resolution criteria documents read
// naturally (`"value": 25` rather than `"value": {"kind":1,...}`).
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case ScalarNumber:
		return []byte(s.Num.String()), nil
	case ScalarBool:
		return json.Marshal(s.Bool)
	default:
		return json.Marshal(s.Str)
	}
}

// UnmarshalJSON decodes a bare JSON string/number/bool into the
// matching Scalar variant.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		*s = StringScalar(v)
	case bool:
		*s = BoolScalar(v)
	case float64:
		*s = NumberScalar(decimal.NewFromFloat(v))
	case nil:
		*s = StringScalar("")
	default:
		return fmt.Errorf("model: unsupported scalar JSON type %T", v)
	}
	return nil
}

// Value implements driver.Valuer so Scalar can be stored as a JSON
// text column.
func (s Scalar) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner, decoding the JSON text column back into
// a Scalar.
func (s *Scalar) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = StringScalar("")
		return nil
	case string:
		return json.Unmarshal([]byte(v), s)
	case []byte:
		return json.Unmarshal(v, s)
	default:
		return fmt.Errorf("model: cannot scan %T into Scalar", src)
	}
}

// Value implements driver.Valuer for ResolutionCriteria, stored as a
// single JSON text column on the market row.
func (c ResolutionCriteria) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for ResolutionCriteria.
func (c *ResolutionCriteria) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = ResolutionCriteria{}
		return nil
	case string:
		if v == "" {
			*c = ResolutionCriteria{}
			return nil
		}
		return json.Unmarshal([]byte(v), c)
	case []byte:
		if len(v) == 0 {
			*c = ResolutionCriteria{}
			return nil
		}
		return json.Unmarshal(v, c)
	default:
		return fmt.Errorf("model: cannot scan %T into ResolutionCriteria", src)
	}
}
