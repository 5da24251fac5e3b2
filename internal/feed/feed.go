// Package feed fans out referral change notifications to subscribers.
package feed

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	KindReferralCreated Kind = "referral.created"
	KindStatusChanged   Kind = "referral.status_changed"
)

// Change describes a write to the referral table. Subscribers should treat
// it as a trigger to re-fetch; fields beyond that are informational.
type Change struct {
	Kind       Kind      `json:"kind"`
	ReferralID string    `json:"referral_id"`
	ReferrerID string    `json:"referrer_id"`
	At         time.Time `json:"at"`
}

// Filter scopes a subscription. An empty ReferrerID matches every change.
type Filter struct {
	ReferrerID string
}

func (f Filter) Match(c Change) bool {
	return f.ReferrerID == "" || f.ReferrerID == c.ReferrerID
}

type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
}

// Subscription buffers at most one pending change; bursts collapse into the
// newest one. Close releases it and is safe to call more than once.
type Subscription struct {
	filter  Filter
	c       chan Change
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	release func()
}

func newSubscription(f Filter, release func()) *Subscription {
	return &Subscription{
		filter:  f,
		c:       make(chan Change, 1),
		done:    make(chan struct{}),
		release: release,
	}
}

// C is closed after Close.
func (s *Subscription) C() <-chan Change { return s.c }

func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Filter() Filter { return s.filter }

// deliver reports false when the pending change was replaced.
func (s *Subscription) deliver(c Change) (delivered bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.c <- c:
		return true, true
	default:
	}
	select {
	case <-s.c:
	default:
	}
	select {
	case s.c <- c:
	default:
	}
	return false, true
}

func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.c)
	s.mu.Unlock()
	if s.release != nil {
		s.release()
	}
	return nil
}

// Each calls fn for every pending change until ctx ends, the subscription
// is closed, or fn fails. It returns ctx.Err() on cancellation, nil once the
// subscription is closed, and fn's error otherwise. fn never runs
// concurrently with itself and never sees a zero Change from a closed
// subscription.
func (s *Subscription) Each(ctx context.Context, fn func(Change) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-s.c:
			if !ok {
				return nil
			}
			if err := fn(c); err != nil {
				return err
			}
		}
	}
}
