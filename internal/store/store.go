// Package store defines the persistence interface for the market engine.
// modernc.org/sqlite is the source of truth (a single embedded
// transactional database, not a client/server RDBMS); Redis provides an
// optional read-through cache layer; an in-memory implementation backs
// unit tests.
package store

import (
	"context"
	"time"

	"github.com/foretell/marketex/internal/model"
	"github.com/shopspring/decimal"
)

// Store is the read-only and transaction-scoping half of the
// persistence interface. Every mutation except CreateUser and
// CreateMarket happens inside a WithTx scope so callers never hold a
// partially-applied write.
type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)
	ListMarketsDue(ctx context.Context, now time.Time) ([]model.Market, error)
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)
	ListPositionsBySide(ctx context.Context, marketID string, side model.Side) ([]model.Position, error)
	ListTransactionsByMarket(ctx context.Context, marketID string) ([]model.Transaction, error)
	ListPricePointsByMarket(ctx context.Context, marketID string) ([]model.PricePoint, error)
	GetResolution(ctx context.Context, marketID string) (*model.Resolution, error)

	// CreateUser and CreateMarket are outside the trading/resolver write
	// path (account and market creation are not part of C3/C4's
	// invariants) so they commit directly rather than via WithTx.
	CreateUser(ctx context.Context, u *model.User) error
	CreateMarket(ctx context.Context, m *model.Market) error

	// WithTx runs fn against a transactional view of the store. If fn
	// returns an error the transaction rolls back and no mutation is
	// visible to subsequent calls; the error propagates to the caller
	// unchanged.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of read/write operations available inside a
// transaction scope, matching spec §4.2's required operation list.
type Tx interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error)
	ListPositionsBySide(ctx context.Context, marketID string, side model.Side) ([]model.Position, error)

	// DebitBalance fails with marketerr.KindInsufficientFunds if the
	// user's balance is below amount.
	DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) error
	CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error

	UpdateMarketInventory(ctx context.Context, marketID string, qYes, qNo decimal.Decimal) error
	MarkResolved(ctx context.Context, marketID string, outcome model.Side, resolvedAt time.Time) error
	MarkClosed(ctx context.Context, marketID string) error

	UpsertPosition(ctx context.Context, pos *model.Position) error
	DeletePositionIfDust(ctx context.Context, userID, marketID string, side model.Side) error

	AppendTransaction(ctx context.Context, t *model.Transaction) error
	AppendPricePoint(ctx context.Context, p *model.PricePoint) error
	InsertResolution(ctx context.Context, r *model.Resolution) error
}
