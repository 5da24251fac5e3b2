package view

import (
	"context"
	"errors"
	"sync"

	"refportal/internal/domain"
	"refportal/internal/feed"
)

// Fetcher loads the role-scoped referral set.
type Fetcher func(ctx context.Context) ([]domain.Referral, error)

type Snapshot struct {
	Generation   uint64
	Criteria     Criteria
	All          []domain.Referral
	Referrals    []domain.Referral
	StatusCounts map[domain.Status]int
}

// Live keeps the latest filtered projection. Every Refresh is tagged with
// a generation; a result that arrives after a newer Refresh or SetCriteria
// has started is dropped.
type Live struct {
	fetch    Fetcher
	onUpdate func(Snapshot)

	mu       sync.Mutex
	gen      uint64
	criteria Criteria
	cancel   context.CancelFunc
	current  Snapshot

	emitMu  sync.Mutex
	emitted uint64
}

func NewLive(fetch Fetcher, c Criteria, onUpdate func(Snapshot)) *Live {
	return &Live{fetch: fetch, criteria: c, onUpdate: onUpdate}
}

// ErrSuperseded is returned by Refresh when a later refresh replaced it.
var ErrSuperseded = errors.New("refresh superseded")

func (l *Live) begin(ctx context.Context) (context.Context, context.CancelFunc, uint64, Criteria) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	fctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	return fctx, cancel, l.gen, l.criteria
}

// Refresh re-fetches and publishes a snapshot unless superseded. It is safe
// to call concurrently; only the newest call's result is kept.
func (l *Live) Refresh(ctx context.Context) (Snapshot, error) {
	fctx, cancel, gen, c := l.begin(ctx)
	defer cancel()
	refs, err := l.fetch(fctx)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return Snapshot{}, ErrSuperseded
	}
	if err != nil {
		l.mu.Unlock()
		return Snapshot{}, err
	}
	snap := Snapshot{
		Generation:   gen,
		Criteria:     c,
		All:          refs,
		Referrals:    Filter(refs, c),
		StatusCounts: StatusCounts(refs),
	}
	l.current = snap
	l.mu.Unlock()

	l.emit(snap)
	return snap, nil
}

// SetCriteria cancels any in-flight fetch and refreshes with c.
func (l *Live) SetCriteria(ctx context.Context, c Criteria) (Snapshot, error) {
	l.mu.Lock()
	l.criteria = c
	l.mu.Unlock()
	return l.Refresh(ctx)
}

func (l *Live) Current() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Run refreshes once, then again on every change notification, until ctx
// ends. The subscription is released before Run returns.
func (l *Live) Run(ctx context.Context, f feed.Feed, filter feed.Filter) error {
	sub, err := f.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer sub.Close()
	if _, err := l.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		return err
	}
	err = sub.Each(ctx, func(feed.Change) error {
		if _, err := l.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) && ctx.Err() == nil {
			return err
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// emit delivers snapshots to onUpdate in generation order.
func (l *Live) emit(snap Snapshot) {
	if l.onUpdate == nil {
		return
	}
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	if snap.Generation <= l.emitted {
		return
	}
	l.emitted = snap.Generation
	l.onUpdate(snap)
}
