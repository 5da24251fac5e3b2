package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refportal/internal/domain"
	"refportal/internal/engine"
	"refportal/internal/feed"
	"refportal/internal/session"
)

func nextChange(t *testing.T, sub *feed.Subscription) feed.Change {
	t.Helper()
	select {
	case c := <-sub.C():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change relayed through redis")
		return feed.Change{}
	}
}

func TestRelayChangesPublishesWritesToOtherProcesses(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, e, err := Open(ctx, t.TempDir(), nil)
	require.NoError(t, err)
	defer conn.Close()
	_, closeRelay, err := RelayChanges(ctx, &e, "redis://"+srv.Addr(), "test:referrals", nil)
	require.NoError(t, err)
	defer closeRelay()

	watcherClient := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer watcherClient.Close()
	watcher := feed.NewRedisFeed(watcherClient, "test:referrals", nil, nil)
	go func() { _ = watcher.Run(ctx) }()
	select {
	case <-watcher.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher subscription not ready")
	}
	sub, err := watcher.Subscribe(ctx, feed.Filter{})
	require.NoError(t, err)
	defer sub.Close()

	hrActor, err := e.RegisterActor(ctx, engine.ActorInput{
		EmployeeCode: "HR-1", Name: "Helen Recruiter", Email: "helen@example.com", Password: "secret123", Role: domain.RoleHR,
	}, "")
	require.NoError(t, err)
	empActor, err := e.RegisterActor(ctx, engine.ActorInput{
		EmployeeCode: "E-100", Name: "Alice Smith", Email: "alice@example.com", Password: "secret123", Role: domain.RoleEmployee,
	}, "")
	require.NoError(t, err)
	hr := session.Local(hrActor, time.Now())
	emp := session.Local(empActor, time.Now())

	job, err := e.CreateJob(ctx, hr, engine.JobInput{Code: "ENG-101", Title: "Backend Engineer", Department: "Engineering"})
	require.NoError(t, err)
	batch, err := e.CreateReferrals(ctx, emp, engine.ReferralCreateOptions{
		Candidate: domain.Candidate{
			FirstName: "Jane", LastName: "Doe", Phone: "+1 555 010 2000",
			Email: "jane.doe@example.com", DOB: "1990-05-17",
		},
		JobIDs:           []string{job.ID},
		HowKnowCandidate: "We worked together for three years",
	})
	require.NoError(t, err)
	require.Len(t, batch.Referrals, 1)
	ref := batch.Referrals[0]

	created := nextChange(t, sub)
	assert.Equal(t, feed.KindReferralCreated, created.Kind)
	assert.Equal(t, ref.ID, created.ReferralID)
	assert.Equal(t, empActor.ID, created.ReferrerID)

	_, err = e.TransitionReferral(ctx, hr, engine.TransitionOptions{ReferralID: ref.ID, Status: "screening"})
	require.NoError(t, err)
	changed := nextChange(t, sub)
	assert.Equal(t, feed.KindStatusChanged, changed.Kind)
	assert.Equal(t, ref.ID, changed.ReferralID)
}

func TestRelayChangesKeepsLocalBroker(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()
	e := engine.Engine{Feed: feed.NewBroker()}
	broker := e.Feed.(*feed.Broker)

	rf, closeRelay, err := RelayChanges(ctx, &e, "redis://"+srv.Addr(), "", nil)
	require.NoError(t, err)
	defer closeRelay()
	assert.Same(t, rf, e.Feed)

	sub, err := rf.Subscribe(ctx, feed.Filter{})
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 1, broker.Len())
}

func TestRelayChangesRejectsBadURL(t *testing.T) {
	e := engine.Engine{Feed: feed.NewBroker()}
	_, _, err := RelayChanges(context.Background(), &e, "not-a-url", "", nil)
	require.Error(t, err)
	_, isBroker := e.Feed.(*feed.Broker)
	assert.True(t, isBroker)
}
