package hub

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type relayMessage struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// Relay carries events between server instances over Redis pub/sub. Each
// instance broadcasts its own events locally, so messages from the same
// origin are skipped on receipt.
type Relay struct {
	rc      *redis.Client
	channel string
	origin  string
	local   *Hub
	logger  *log.Logger
	backoff time.Duration
}

func NewRelay(rc *redis.Client, channel, origin string, local *Hub, logger *log.Logger) *Relay {
	return &Relay{rc: rc, channel: channel, origin: origin, local: local, logger: logger, backoff: time.Second}
}

func (r *Relay) Publish(ctx context.Context, ev domain.Event) error {
	data, err := sonic.Marshal(relayMessage{Origin: r.origin, Event: ev})
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, r.channel, data).Err()
}

// Run subscribes to the relay channel until ctx is done, re-subscribing
// whenever the channel is lost.
func (r *Relay) Run(ctx context.Context) {
	for {
		r.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.backoff):
		}
	}
}

func (r *Relay) consume(ctx context.Context) {
	sub := r.rc.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		r.logger.WithError(err).Error("subscribe failed")
		return
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m relayMessage
			if err := sonic.UnmarshalString(msg.Payload, &m); err != nil {
				r.logger.WithError(err).Error("unable to parse relayed event")
				continue
			}
			if m.Origin == r.origin || m.Event.Room == "" {
				continue
			}
			r.local.Broadcast(m.Event.Room, m.Event)
		}
	}
}
