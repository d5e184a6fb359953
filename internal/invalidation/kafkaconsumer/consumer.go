package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/invalidation"
)

// Invalidator is the cache surface the consumer drives. Implemented by
// *cache.ResultCache.
type Invalidator interface {
	OnRasterLayerChanged(ctx context.Context, rasterLayerID string) (int, error)
	OnGroupingChanged(ctx context.Context, legendID string) (int, error)
}

type Consumer struct {
	cfg   Config
	log   zerolog.Logger
	cache Invalidator
}

func New(cfg Config, log zerolog.Logger, inv Invalidator) *Consumer {
	return &Consumer{cfg: cfg, log: log, cache: inv}
}

// Start consumes invalidation events until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing invalidator")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.log.Info().Strs("brokers", c.cfg.Brokers).Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).Msg("kafka invalidation consumer starting")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.log.Error().Err(err).Str("topic", c.cfg.Topic).Msg("kafka consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne applies a single invalidation event message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error().Str("topic", msg.Topic).Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).Msg("kafka event decode failed")
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		// malformed events are logged and skipped, not retried
		c.log.Warn().Err(err).Str("kind", ev.Kind).Str("id", ev.ID).Msg("invalid invalidation event")
		return nil
	}

	var (
		deleted int
		err     error
	)
	switch ev.Kind {
	case invalidation.KindRasterChanged:
		deleted, err = c.cache.OnRasterLayerChanged(ctx, ev.ID)
	case invalidation.KindLegendChanged:
		deleted, err = c.cache.OnGroupingChanged(ctx, ev.ID)
	}
	if err != nil {
		return fmt.Errorf("invalidate %s %q: %w", ev.Kind, ev.ID, err)
	}
	c.log.Debug().Str("kind", ev.Kind).Str("id", ev.ID).Int("deleted", deleted).
		Msg("invalidation event applied")
	return nil
}

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

// groupHandler adapts a message processor to sarama's ConsumerGroupHandler.
type groupHandler struct {
	process messageProcessor
}

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(s sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
