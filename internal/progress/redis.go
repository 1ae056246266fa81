package progress

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	redisrepo "github.com/formpilot/formpilot/internal/repository/redis"
	"github.com/formpilot/formpilot/internal/resilience"
)

// Broker is the pub/sub side of the Redis cache
type Broker interface {
	Publish(ctx context.Context, channel string, message any) error
}

// RedisPublisher publishes events to the broker so observers connected to any process see them
type RedisPublisher struct {
	broker  Broker
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
}

// NewRedisPublisher creates a broker-backed publisher
func NewRedisPublisher(broker Broker, logger *zap.Logger) *RedisPublisher {
	cfg := resilience.BrokerConfig("redis-progress")
	cfg.OnStateChange = resilience.LogStateChanges(logger)
	return &RedisPublisher{
		broker:  broker,
		breaker: resilience.NewCircuitBreaker(cfg),
		logger:  logger,
	}
}

// Publish implements Publisher. Broker failures are logged and the event is dropped.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.broker.Publish(ctx, redisrepo.ProgressChannel(e.Channel), e)
	})
	if err != nil {
		p.logger.Debug("progress event dropped",
			zap.String("channel", e.Channel),
			zap.String("kind", e.Kind),
			zap.Error(err),
		)
	}
}

// Forward relays broker messages to local observers until ctx ends or messages is closed
func Forward(ctx context.Context, messages <-chan *redis.Message, local Publisher, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				logger.Warn("malformed progress message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if e.Channel == "" {
				e.Channel = strings.TrimPrefix(msg.Channel, redisrepo.PrefixProgress)
			}
			local.Publish(ctx, e)
		}
	}
}
