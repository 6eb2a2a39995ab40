package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultFanoutChannel = "calls:signaling"

type fanoutMessage struct {
	UserID string          `json:"user_id"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisFanout routes events through a Redis pub/sub channel so that a user
// connected to any node receives them. Every node, the publisher included,
// delivers from its subscription into its local hub.
type RedisFanout struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	log     *slog.Logger
	now     func() time.Time
}

func NewRedisFanout(rdb *redis.Client, hub *Hub, channel string, log *slog.Logger) *RedisFanout {
	if channel == "" {
		channel = DefaultFanoutChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisFanout{rdb: rdb, hub: hub, channel: channel, log: log, now: time.Now}
}

// SendToUser publishes the event. Whether the user is online anywhere is not
// known at this point, so no ErrNoConnection is reported.
func (f *RedisFanout) SendToUser(ctx context.Context, userID, eventType string, payload any) error {
	frame, err := encode(eventType, payload, f.now())
	if err != nil {
		return err
	}
	msg, err := json.Marshal(fanoutMessage{UserID: userID, Frame: frame})
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.channel, msg).Err()
}

// Run subscribes and delivers until ctx is done.
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return err
	}
	f.log.Info("signaling fan-out subscribed", "channel", f.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var fm fanoutMessage
			if err := json.Unmarshal([]byte(m.Payload), &fm); err != nil {
				f.log.Warn("dropping malformed fan-out message", "err", err)
				continue
			}
			f.hub.Deliver(fm.UserID, fm.Frame)
		}
	}
}
