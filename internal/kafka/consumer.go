package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/domain"
)

const (
	batchAttempts = 3
	batchBackoff  = 50 * time.Millisecond
)

// GuessHandler places and submits guesses. A returned error means part of
// the batch may be retried.
type GuessHandler interface {
	SubmitGuessBatch(ctx context.Context, batch domain.BatchGuessSubmission) error
}

// Consumer consumes guess submissions from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       GuessHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler GuessHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim collects guess submissions into batches. An offset is marked
// only once every submission up to it has been handled, so a crash or a
// failed batch redelivers the guesses instead of losing them. Replays are
// safe because a second submission for the same day returns the first
// result.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	b := &guessBatch{
		guesses: make([]domain.GuessSubmission, 0, cfg.BatchSize),
	}
	timer := time.NewTimer(cfg.BatchTimeout)
	defer timer.Stop()

	flush := func() error {
		if b.empty() {
			if b.last != nil {
				session.MarkMessage(b.last, "")
				b.last = nil
			}
			return nil
		}
		if err := h.consumer.submit(session.Context(), b.guesses); err != nil {
			return err
		}
		session.MarkMessage(b.last, "")
		b.reset()
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			return flush()

		case <-timer.C:
			if err := flush(); err != nil {
				return err
			}
			timer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return flush()
			}

			submission, err := DecodeSubmission(message.Value)
			if err != nil {
				h.consumer.logger.Warn("skipping guess submission",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				b.last = message
				if b.empty() {
					session.MarkMessage(message, "")
					b.last = nil
				}
				continue
			}

			b.add(submission, message)
			if len(b.guesses) >= cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
				timer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// guessBatch holds decoded submissions and the newest message they cover.
type guessBatch struct {
	guesses []domain.GuessSubmission
	last    *sarama.ConsumerMessage
}

func (b *guessBatch) add(g domain.GuessSubmission, msg *sarama.ConsumerMessage) {
	b.guesses = append(b.guesses, g)
	b.last = msg
}

func (b *guessBatch) empty() bool { return len(b.guesses) == 0 }

func (b *guessBatch) reset() {
	b.guesses = b.guesses[:0]
	b.last = nil
}

// submit hands a batch to the handler, retrying transient failures. The
// batch is copied so a retry never sees a reused slice.
func (c *Consumer) submit(ctx context.Context, guesses []domain.GuessSubmission) error {
	batch := domain.BatchGuessSubmission{Guesses: append([]domain.GuessSubmission(nil), guesses...)}

	var err error
	for attempt := 1; attempt <= batchAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = c.handler.SubmitGuessBatch(callCtx, batch)
		cancel()
		if err == nil {
			c.logger.Debug("processed batch", "batch_size", len(guesses))
			return nil
		}
		c.logger.Warn("failed to process batch",
			"error", err,
			"batch_size", len(guesses),
			"attempt", attempt,
		)
		if attempt == batchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("processing batch: %w", err)
		case <-time.After(batchBackoff * time.Duration(attempt)):
		}
	}
	c.logger.Error("giving up on batch, it will be redelivered", "error", err, "batch_size", len(guesses))
	return fmt.Errorf("processing batch: %w", err)
}

// DecodeSubmission parses and validates one message value
func DecodeSubmission(value []byte) (domain.GuessSubmission, error) {
	var submission domain.GuessSubmission
	if err := json.Unmarshal(value, &submission); err != nil {
		return submission, fmt.Errorf("unmarshaling message: %w", err)
	}
	if submission.PlayerID == "" {
		return submission, fmt.Errorf("missing player id: %w", domain.ErrInvalidRequest)
	}
	if !submission.Guess.Valid() {
		return submission, fmt.Errorf("guess %v: %w", submission.Guess, domain.ErrInvalidCoordinate)
	}
	return submission, nil
}
