package app

import (
	"context"

	"go.uber.org/zap"

	"refportal/internal/engine"
	"refportal/internal/feed"
)

// RelayChanges routes e's change feed through a Redis channel so writes
// made in this process reach every instance listening on it. Local
// subscribers keep using the broker already on e. Call Run on the returned
// feed to receive remote changes; close releases the Redis client.
func RelayChanges(ctx context.Context, e *engine.Engine, url, channel string, log *zap.SugaredLogger) (*feed.RedisFeed, func() error, error) {
	client, err := feed.Dial(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	local, _ := e.Feed.(*feed.Broker)
	rf := feed.NewRedisFeed(client, channel, local, log)
	e.Feed = rf
	return rf, client.Close, nil
}
