package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
	return Change{}
}

func TestBrokerFiltersByReferrer(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	all, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer all.Close()
	mine, err := b.Subscribe(ctx, Filter{ReferrerID: "emp-1"})
	require.NoError(t, err)
	defer mine.Close()

	require.NoError(t, b.Publish(ctx, Change{Kind: KindReferralCreated, ReferralID: "r1", ReferrerID: "emp-2"}))
	assert.Equal(t, "r1", recv(t, all).ReferralID)
	select {
	case <-mine.C():
		t.Fatal("employee subscription saw another referrer's change")
	default:
	}

	require.NoError(t, b.Publish(ctx, Change{Kind: KindStatusChanged, ReferralID: "r2", ReferrerID: "emp-1"}))
	assert.Equal(t, "r2", recv(t, mine).ReferralID)
	assert.Equal(t, "r2", recv(t, all).ReferralID)
}

func TestBrokerCoalescesBursts(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	sub, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer sub.Close()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(ctx, Change{ReferralID: id}))
	}
	assert.Equal(t, "c", recv(t, sub).ReferralID)
	select {
	case <-sub.C():
		t.Fatal("expected a single pending notification")
	default:
	}
}

func TestCloseReleasesSubscription(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	sub, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.Len())
	_, ok := <-sub.C()
	assert.False(t, ok)
	require.NoError(t, b.Publish(ctx, Change{ReferralID: "late"}))
}

func TestContextCancelReleasesSubscription(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not released")
	}
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 10*time.Millisecond)

	_, err = b.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEachInvokesCallbackUntilCancelled(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	defer sub.Close()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- sub.Each(ctx, func(Change) error {
			if calls.Add(1) == 2 {
				cancel()
			}
			return nil
		})
	}()

	require.NoError(t, b.Publish(context.Background(), Change{ReferralID: "1"}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Publish(context.Background(), Change{ReferralID: "2"}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Each did not return")
	}
}

func TestEachStopsOnCloseWithoutZeroChange(t *testing.T) {
	b := NewBroker()
	sub, err := b.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)

	var seen []Change
	done := make(chan error, 1)
	go func() {
		done <- sub.Each(context.Background(), func(c Change) error {
			seen = append(seen, c)
			return nil
		})
	}()
	require.NoError(t, sub.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Each did not return after Close")
	}
	assert.Empty(t, seen)
	assert.Equal(t, 0, b.Len())
}

func TestEachReturnsCallbackError(t *testing.T) {
	b := NewBroker()
	sub, err := b.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	defer sub.Close()

	boom := errors.New("send failed")
	require.NoError(t, b.Publish(context.Background(), Change{ReferralID: "1"}))
	err = sub.Each(context.Background(), func(Change) error { return boom })
	assert.ErrorIs(t, err, boom)
}
