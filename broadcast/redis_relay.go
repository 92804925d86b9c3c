package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardian/core"
	"guardian/metrics"
	"guardian/util/goroutine"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	// DefaultRelayChannel is the pub/sub channel shared by all instances.
	DefaultRelayChannel = "guardian:events"

	relayOutboxSize     = 1024
	relayPublishTimeout = 2 * time.Second
)

// relayEnvelope is the msgpack wire form of a relayed event.
type relayEnvelope struct {
	Origin string     `msgpack:"origin"`
	Event  core.Event `msgpack:"event"`
}

// RedisRelay mirrors events between guardian instances over Redis pub/sub.
// Locally published events are queued and published asynchronously; events
// from other instances are delivered to local subscribers only, so nothing
// bounces back.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	origin  string
	local   *Broadcaster
	outbox  chan core.Event
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRedisRelay creates a relay for local. Call Start to begin relaying.
func NewRedisRelay(client redis.UniversalClient, channel string, local *Broadcaster, logger *zap.SugaredLogger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		outbox:  make(chan core.Event, relayOutboxSize),
		logger:  logger,
	}
}

// Origin identifies this instance on the wire.
func (r *RedisRelay) Origin() string {
	return r.origin
}

// Forward implements Forwarder. It never blocks; when the outbox is full the
// event is dropped for remote observers only.
func (r *RedisRelay) Forward(event core.Event) {
	select {
	case r.outbox <- event:
	default:
		metrics.EventsDropped.Inc()
		r.logger.Warnw("Redis relay outbox full, event not relayed",
			"incident_id", event.IncidentID,
			"type", event.Type)
	}
}

// Start subscribes to the relay channel and installs the relay as the local
// broadcaster's forwarder.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("redis relay already started")
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.pubsub = pubsub
	r.cancel = cancel
	r.started = true

	r.wg.Add(2)
	goroutine.Go("redis-relay-receive", r.logger, func() {
		defer r.wg.Done()
		r.receiveLoop(pubsub.Channel())
	})
	goroutine.Go("redis-relay-publish", r.logger, func() {
		defer r.wg.Done()
		r.publishLoop(runCtx)
	})

	r.local.SetForwarder(r)
	r.logger.Infow("Redis event relay started", "channel", r.channel, "origin", r.origin)
	return nil
}

// Stop detaches from the broadcaster, closes the subscription and waits for
// the relay goroutines. Queued events that were not yet published are lost.
func (r *RedisRelay) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.local.SetForwarder(nil)
	r.cancel()
	pubsub := r.pubsub
	r.mu.Unlock()

	if err := pubsub.Close(); err != nil {
		r.logger.Warnw("Failed to close redis subscription", "error", err)
	}
	r.wg.Wait()
	r.logger.Info("Redis event relay stopped")
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.outbox:
			payload, err := msgpack.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
			if err != nil {
				r.logger.Errorw("Failed to encode relayed event", "type", ev.Type, "error", err)
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
			err = r.client.Publish(pubCtx, r.channel, payload).Err()
			cancel()
			if err != nil {
				metrics.EventsDropped.Inc()
				r.logger.Warnw("Failed to publish relayed event",
					"incident_id", ev.IncidentID,
					"type", ev.Type,
					"error", err)
			}
		}
	}
}

func (r *RedisRelay) receiveLoop(messages <-chan *redis.Message) {
	for msg := range messages {
		var env relayEnvelope
		if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.logger.Warnw("Discarding malformed relay message", "channel", msg.Channel, "error", err)
			continue
		}
		if env.Origin == r.origin {
			continue
		}
		r.local.Deliver(env.Event)
	}
}
