package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/cache"
	"github.com/rescuelink/backend/internal/metrics"
	"github.com/rescuelink/backend/internal/models"
)

// ErrClosed is returned once the bus has been shut down.
var ErrClosed = errors.New("event bus closed")

const channelPrefix = "events:"

// HandlerFunc reacts to a delivered event. Returned errors are logged and
// never reach the publisher or sibling handlers.
type HandlerFunc func(ctx context.Context, evt models.DomainEvent) error

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// Bus is a publish/subscribe bus for domain events backed by Redis pub/sub.
// Each event name maps to its own channel and every process holds a single
// subscription connection.
type Bus struct {
	redis   *cache.RedisClient
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	pubsub   *redis.PubSub
	handlers map[string][]namedHandler
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBus(rc *cache.RedisClient, logger *zap.Logger, m *metrics.Metrics) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		redis:    rc,
		logger:   logger.With(zap.String("component", "eventbus")),
		metrics:  m,
		handlers: make(map[string][]namedHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ChannelFor returns the broker channel carrying the named event.
func ChannelFor(eventName string) string {
	return channelPrefix + eventName
}

// Publish serializes evt and hands it to the broker. It does not wait for any
// handler to run.
func (b *Bus) Publish(ctx context.Context, evt models.DomainEvent) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.Name, err)
	}
	if err := b.redis.Publish(ctx, ChannelFor(evt.Name), data); err != nil {
		b.logger.Error("failed to publish event",
			zap.String("event_name", evt.Name),
			zap.String("event_id", evt.ID.String()),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", evt.Name, err)
	}

	b.metrics.EventPublished(evt.Name)
	b.logger.Debug("event published",
		zap.String("event_name", evt.Name),
		zap.String("event_id", evt.ID.String()))
	return nil
}

// PublishPayload builds and publishes an event in one step.
func (b *Bus) PublishPayload(ctx context.Context, name string, payload interface{}) error {
	evt, err := models.NewDomainEvent(name, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, evt)
}

// Subscribe registers fn for eventName. The broker channel is subscribed only
// the first time a name is seen; later handlers are appended.
func (b *Bus) Subscribe(ctx context.Context, eventName, handlerName string, fn HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	_, known := b.handlers[eventName]
	if !known {
		if err := b.subscribeChannel(ctx, ChannelFor(eventName)); err != nil {
			return err
		}
	}

	b.handlers[eventName] = append(b.handlers[eventName], namedHandler{name: handlerName, fn: fn})
	b.logger.Info("handler subscribed",
		zap.String("event_name", eventName),
		zap.String("handler", handlerName))
	return nil
}

// subscribeChannel must be called with b.mu held.
func (b *Bus) subscribeChannel(ctx context.Context, channel string) error {
	if b.pubsub == nil {
		ps := b.redis.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		b.pubsub = ps
		b.wg.Add(1)
		go b.listen(ps)
		return nil
	}
	if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return nil
}

func (b *Bus) listen(ps *redis.PubSub) {
	defer b.wg.Done()

	for msg := range ps.Channel() {
		b.deliver(msg)
	}
}

func (b *Bus) deliver(msg *redis.Message) {
	var evt models.DomainEvent
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		b.logger.Warn("dropping malformed event",
			zap.String("channel", msg.Channel),
			zap.Error(err))
		return
	}
	if evt.Name == "" {
		evt.Name = strings.TrimPrefix(msg.Channel, channelPrefix)
	}

	b.mu.RLock()
	handlers := append([]namedHandler(nil), b.handlers[evt.Name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event",
			zap.String("event_name", evt.Name),
			zap.String("event_id", evt.ID.String()))
		return
	}

	for _, h := range handlers {
		b.wg.Add(1)
		go b.invoke(h, evt)
	}
}

func (b *Bus) invoke(h namedHandler, evt models.DomainEvent) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.metrics.HandlerFailed(h.name, evt.Name)
			b.logger.Error("event handler panicked",
				zap.String("handler", h.name),
				zap.String("event_name", evt.Name),
				zap.String("event_id", evt.ID.String()),
				zap.Any("panic", r))
		}
	}()

	if err := h.fn(b.ctx, evt); err != nil {
		b.metrics.HandlerFailed(h.name, evt.Name)
		b.logger.Error("event handler failed",
			zap.String("handler", h.name),
			zap.String("event_name", evt.Name),
			zap.String("event_id", evt.ID.String()),
			zap.Error(err))
	}
}

// Close stops the subscription and waits for in-flight handlers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ps := b.pubsub
	b.mu.Unlock()

	b.cancel()
	var err error
	if ps != nil {
		err = ps.Close()
	}
	b.wg.Wait()
	return err
}
