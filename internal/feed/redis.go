package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "refportal:referrals"

// RedisFeed relays changes through a Redis pub/sub channel so every
// instance sharing the channel notifies its local subscribers.
type RedisFeed struct {
	client  *redis.Client
	channel string
	local   *Broker
	log     *zap.SugaredLogger
	ready   chan struct{}
}

func NewRedisFeed(client *redis.Client, channel string, local *Broker, log *zap.SugaredLogger) *RedisFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	if local == nil {
		local = NewBroker()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisFeed{
		client:  client,
		channel: channel,
		local:   local,
		log:     log.Named("feed.redis"),
		ready:   make(chan struct{}),
	}
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (f *RedisFeed) Publish(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, data).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	return f.local.Subscribe(ctx, filter)
}

// Ready is closed once Run holds a confirmed Redis subscription.
func (f *RedisFeed) Ready() <-chan struct{} { return f.ready }

// Run forwards channel messages to local subscribers until ctx ends.
func (f *RedisFeed) Run(ctx context.Context) error {
	ps := f.client.Subscribe(ctx, f.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}
	close(f.ready)
	f.log.Infow("relaying referral changes", "channel", f.channel)
	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				f.log.Warnw("dropping malformed change", "error", err)
				continue
			}
			_ = f.local.Publish(ctx, c)
		}
	}
}
