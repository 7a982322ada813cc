// Package memory implements store.Store over plain Go maps guarded by a
// mutex. It backs unit tests and local development; it holds no data
// once the process exits.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/model"
	"github.com/foretell/marketex/internal/store"
)

type posKey struct {
	userID, marketID string
	side             model.Side
}

// Store is an in-memory store.Store. WithTx snapshots every map before
// running its callback and restores the snapshot if the callback
// returns an error, giving the same all-or-nothing commit semantics as
// a real database transaction.
type Store struct {
	mu sync.Mutex

	users      map[string]*model.User
	markets    map[string]*model.Market
	positions  map[posKey]*model.Position
	txns       []model.Transaction
	prices     []model.PricePoint
	resolution map[string]*model.Resolution
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:      make(map[string]*model.User),
		markets:    make(map[string]*model.Market),
		positions:  make(map[posKey]*model.Position),
		resolution: make(map[string]*model.Resolution),
	}
}

func (s *Store) snapshot() *Store {
	cp := &Store{
		users:      make(map[string]*model.User, len(s.users)),
		markets:    make(map[string]*model.Market, len(s.markets)),
		positions:  make(map[posKey]*model.Position, len(s.positions)),
		resolution: make(map[string]*model.Resolution, len(s.resolution)),
		txns:       make([]model.Transaction, len(s.txns)),
		prices:     make([]model.PricePoint, len(s.prices)),
	}
	for k, v := range s.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range s.markets {
		m := *v
		cp.markets[k] = &m
	}
	for k, v := range s.positions {
		p := *v
		cp.positions[k] = &p
	}
	for k, v := range s.resolution {
		r := *v
		cp.resolution[k] = &r
	}
	copy(cp.txns, s.txns)
	copy(cp.prices, s.prices)
	return cp
}

func (s *Store) restore(cp *Store) {
	s.users = cp.users
	s.markets = cp.markets
	s.positions = cp.positions
	s.resolution = cp.resolution
	s.txns = cp.txns
	s.prices = cp.prices
}

// CreateUser persists a new user, outside any transaction scope.
func (s *Store) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// CreateMarket persists a new market, outside any transaction scope.
func (s *Store) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, marketerr.New(marketerr.KindNotFound, "user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, marketerr.New(marketerr.KindNotFound, "market %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetPosition(_ context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[posKey{userID, marketID, side}]
	if !ok {
		return nil, marketerr.New(marketerr.KindNotFound, "position %s/%s/%s not found", userID, marketID, side)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, *m)
	}
	return out, nil
}

func (s *Store) ListMarketsDue(_ context.Context, now time.Time) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Market
	for _, m := range s.markets {
		if m.Status == model.StatusOpen && !m.CloseAt.After(now) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *Store) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for k, p := range s.positions {
		if k.userID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) ListPositionsBySide(_ context.Context, marketID string, side model.Side) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listPositionsBySideLocked(s, marketID, side), nil
}

func listPositionsBySideLocked(s *Store, marketID string, side model.Side) []model.Position {
	var out []model.Position
	for k, p := range s.positions {
		if k.marketID == marketID && k.side == side {
			out = append(out, *p)
		}
	}
	return out
}

func (s *Store) ListTransactionsByMarket(_ context.Context, marketID string) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, t := range s.txns {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListPricePointsByMarket(_ context.Context, marketID string) ([]model.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PricePoint
	for _, p := range s.prices {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) GetResolution(_ context.Context, marketID string) (*model.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resolution[marketID]
	if !ok {
		return nil, marketerr.New(marketerr.KindNotFound, "resolution for market %s not found", marketID)
	}
	cp := *r
	return &cp, nil
}

// WithTx locks the store for the duration of fn, snapshotting state
// first so a returned error leaves every map exactly as it found it.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.snapshot()
	tx := &memTx{s: s, ctx: ctx}
	if err := fn(tx); err != nil {
		s.restore(cp)
		return err
	}
	return nil
}

// memTx implements store.Tx directly against the parent Store's maps.
// It assumes the caller (WithTx) already holds s.mu.
type memTx struct {
	s   *Store
	ctx context.Context
}

func (t *memTx) GetUser(_ context.Context, id string) (*model.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, marketerr.New(marketerr.KindNotFound, "user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (t *memTx) GetMarket(_ context.Context, id string) (*model.Market, error) {
	m, ok := t.s.markets[id]
	if !ok {
		return nil, marketerr.New(marketerr.KindNotFound, "market %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) GetPosition(_ context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	p, ok := t.s.positions[posKey{userID, marketID, side}]
	if !ok {
		return nil, marketerr.New(marketerr.KindNotFound, "position %s/%s/%s not found", userID, marketID, side)
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) ListPositionsBySide(_ context.Context, marketID string, side model.Side) ([]model.Position, error) {
	return listPositionsBySideLocked(t.s, marketID, side), nil
}

func (t *memTx) DebitBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	u, ok := t.s.users[userID]
	if !ok {
		return marketerr.New(marketerr.KindNotFound, "user %s not found", userID)
	}
	if u.Balance.LessThan(amount) {
		return marketerr.New(marketerr.KindInsufficientFunds, "user %s balance %s below %s", userID, u.Balance, amount)
	}
	u.Balance = u.Balance.Sub(amount)
	return nil
}

func (t *memTx) CreditBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	u, ok := t.s.users[userID]
	if !ok {
		return marketerr.New(marketerr.KindNotFound, "user %s not found", userID)
	}
	u.Balance = u.Balance.Add(amount)
	return nil
}

func (t *memTx) UpdateMarketInventory(_ context.Context, marketID string, qYes, qNo decimal.Decimal) error {
	m, ok := t.s.markets[marketID]
	if !ok {
		return marketerr.New(marketerr.KindNotFound, "market %s not found", marketID)
	}
	m.QYes, m.QNo = qYes, qNo
	return nil
}

func (t *memTx) MarkResolved(_ context.Context, marketID string, outcome model.Side, resolvedAt time.Time) error {
	m, ok := t.s.markets[marketID]
	if !ok {
		return marketerr.New(marketerr.KindNotFound, "market %s not found", marketID)
	}
	m.Status = model.StatusResolved
	m.Outcome = &outcome
	m.ResolvedAt = &resolvedAt
	return nil
}

func (t *memTx) MarkClosed(_ context.Context, marketID string) error {
	m, ok := t.s.markets[marketID]
	if !ok {
		return marketerr.New(marketerr.KindNotFound, "market %s not found", marketID)
	}
	m.Status = model.StatusClosed
	return nil
}

func (t *memTx) UpsertPosition(_ context.Context, pos *model.Position) error {
	cp := *pos
	t.s.positions[posKey{pos.UserID, pos.MarketID, pos.Side}] = &cp
	return nil
}

func (t *memTx) DeletePositionIfDust(_ context.Context, userID, marketID string, side model.Side) error {
	k := posKey{userID, marketID, side}
	p, ok := t.s.positions[k]
	if !ok {
		return nil
	}
	if p.Shares.LessThan(model.DustThreshold) {
		delete(t.s.positions, k)
	}
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, tr *model.Transaction) error {
	t.s.txns = append(t.s.txns, *tr)
	return nil
}

func (t *memTx) AppendPricePoint(_ context.Context, p *model.PricePoint) error {
	t.s.prices = append(t.s.prices, *p)
	return nil
}

func (t *memTx) InsertResolution(_ context.Context, r *model.Resolution) error {
	cp := *r
	t.s.resolution[r.MarketID] = &cp
	return nil
}
