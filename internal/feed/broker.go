package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"refportal/internal/metrics"
)

// Broker is the in-process Feed.
type Broker struct {
	Metrics *metrics.Metrics
	Log     *zap.SugaredLogger

	mu   sync.RWMutex
	next uint64
	subs map[uint64]*Subscription
}

func NewBroker() *Broker {
	return &Broker{subs: map[uint64]*Subscription{}}
}

func (b *Broker) log() *zap.SugaredLogger {
	if b.Log != nil {
		return b.Log
	}
	return zap.NewNop().Sugar()
}

func (b *Broker) Publish(_ context.Context, c Change) error {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Match(c) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range targets {
		delivered, ok := s.deliver(c)
		if !ok {
			continue
		}
		if delivered {
			b.Metrics.IncFeedDelivery("delivered")
		} else {
			b.Metrics.IncFeedDelivery("coalesced")
		}
	}
	b.log().Debugw("change published", "kind", c.Kind, "referral_id", c.ReferralID, "subscribers", len(targets))
	return nil
}

// Subscribe registers a subscription that is released by Close or when ctx ends.
func (b *Broker) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.subs == nil {
		b.subs = map[uint64]*Subscription{}
	}
	b.next++
	id := b.next
	sub := newSubscription(f, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		b.Metrics.AddFeedSubscribers(-1)
	})
	b.subs[id] = sub
	b.mu.Unlock()
	b.Metrics.AddFeedSubscribers(1)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

// Len reports open subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
