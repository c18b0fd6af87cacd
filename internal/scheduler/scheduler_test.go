package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avelov/sellbot/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memPositionStore is an in-memory domain.PositionStore.
type memPositionStore struct {
	mu   sync.Mutex
	byID map[string]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{byID: make(map[string]domain.Position)}
}

func (s *memPositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[pos.Key()] = pos
	return nil
}

func (s *memPositionStore) Get(_ context.Context, wallet, mint string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[domain.PositionKey(wallet, mint)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.byID {
		if p.Status == domain.PositionStatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// memLimitStore is an in-memory domain.LimitOrderStore.
type memLimitStore struct {
	mu   sync.Mutex
	byID map[string]domain.LimitOrder
}

func newMemLimitStore() *memLimitStore {
	return &memLimitStore{byID: make(map[string]domain.LimitOrder)}
}

func (s *memLimitStore) Create(_ context.Context, o domain.LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	return nil
}

func (s *memLimitStore) Update(_ context.Context, o domain.LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[o.ID] = o
	return nil
}

func (s *memLimitStore) Get(_ context.Context, id string) (domain.LimitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.LimitOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memLimitStore) ListByStatus(_ context.Context, status domain.LimitOrderStatus) ([]domain.LimitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LimitOrder
	for _, o := range s.byID {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memLimitStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) ([]domain.LimitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []domain.LimitOrder
	for id, o := range s.byID {
		if o.Status.IsTerminal() && o.CreatedAt.Before(cutoff) {
			deleted = append(deleted, o)
			delete(s.byID, id)
		}
	}
	return deleted, nil
}

// memDCAStore is an in-memory domain.DCAOrderStore.
type memDCAStore struct {
	mu   sync.Mutex
	byID map[string]domain.DCAOrder
}

func newMemDCAStore() *memDCAStore {
	return &memDCAStore{byID: make(map[string]domain.DCAOrder)}
}

func (s *memDCAStore) Create(_ context.Context, o domain.DCAOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	return nil
}

func (s *memDCAStore) Update(_ context.Context, o domain.DCAOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[o.ID] = o
	return nil
}

func (s *memDCAStore) Get(_ context.Context, id string) (domain.DCAOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.DCAOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memDCAStore) ListByStatus(_ context.Context, status domain.DCAOrderStatus) ([]domain.DCAOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DCAOrder
	for _, o := range s.byID {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memDCAStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) ([]domain.DCAOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []domain.DCAOrder
	for id, o := range s.byID {
		if o.Status.IsTerminal() && o.CreatedAt.Before(cutoff) {
			deleted = append(deleted, o)
			delete(s.byID, id)
		}
	}
	return deleted, nil
}

// memPendingStore is an in-memory domain.PendingSellStore.
type memPendingStore struct {
	mu   sync.Mutex
	byID map[string]domain.PendingSell
}

func newMemPendingStore() *memPendingStore {
	return &memPendingStore{byID: make(map[string]domain.PendingSell)}
}

func (s *memPendingStore) Create(_ context.Context, ps domain.PendingSell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[ps.ID] = ps
	return nil
}

func (s *memPendingStore) Update(_ context.Context, ps domain.PendingSell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[ps.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[ps.ID] = ps
	return nil
}

func (s *memPendingStore) Get(_ context.Context, id string) (domain.PendingSell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.byID[id]
	if !ok {
		return domain.PendingSell{}, domain.ErrNotFound
	}
	return ps, nil
}

func (s *memPendingStore) ListByStatus(_ context.Context, status domain.PendingSellStatus) ([]domain.PendingSell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingSell
	for _, ps := range s.byID {
		if ps.Status == status {
			out = append(out, ps)
		}
	}
	return out, nil
}

// fakeFeed serves canned prices.
type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (f *fakeFeed) GetPrice(_ context.Context, mint string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.prices[mint]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeFeed) GetPrices(_ context.Context, mints []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64)
	for _, m := range mints {
		if p, ok := f.prices[m]; ok {
			out[m] = p
		}
	}
	return out, nil
}

type quoteCall struct {
	inputMint  string
	outputMint string
	amount     float64
}

// fakeSwap quotes 1:outRate and records submissions.
type fakeSwap struct {
	mu        sync.Mutex
	outRate   float64 // OutAmount = InAmount * outRate
	quoteErr  error
	submitSig string
	submitErr error
	payload   []byte
	unsignErr error
	quotes    []quoteCall
	submits   []string // signer keys, in order
	unsigneds int
}

func (f *fakeSwap) Quote(_ context.Context, inputMint, outputMint string, amount float64, slippageBps int) (domain.SwapQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quoteErr != nil {
		return domain.SwapQuote{}, f.quoteErr
	}
	f.quotes = append(f.quotes, quoteCall{inputMint, outputMint, amount})
	rate := f.outRate
	if rate == 0 {
		rate = 1
	}
	return domain.SwapQuote{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InAmount:    amount,
		OutAmount:   amount * rate,
		SlippageBps: slippageBps,
	}, nil
}

func (f *fakeSwap) BuildAndSubmit(_ context.Context, _ domain.SwapQuote, signerKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitSig, f.submitErr
	}
	f.submits = append(f.submits, signerKey)
	sig := f.submitSig
	if sig == "" {
		sig = fmt.Sprintf("sig-%d", len(f.submits))
	}
	return sig, nil
}

func (f *fakeSwap) BuildUnsigned(_ context.Context, _ domain.SwapQuote, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsignErr != nil {
		return nil, f.unsignErr
	}
	f.unsigneds++
	return f.payload, nil
}

func (f *fakeSwap) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// fakeLocks grants every lock unless the key is marked held.
type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

// captureSender records delivered notifications.
type captureSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *captureSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *captureSender) Name() string { return "capture" }

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}
