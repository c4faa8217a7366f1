package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/family-history/internal/config"
	"github.com/family-history/internal/domain"
)

// importTimeout bounds the processing of one import message
const importTimeout = 30 * time.Second

// ImportHandler stores a snapshot received from the topic
type ImportHandler interface {
	Import(ctx context.Context, req domain.ImportRequest) (*domain.ImportResult, error)
}

// Consumer consumes snapshot import messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ImportHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ImportHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return newConsumer(cfg, handler, consumerGroup, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, handler ImportHandler, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
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
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
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
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

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

// DecodeMessage parses an import message and checks it carries a family and
// a roster
func DecodeMessage(value []byte) (domain.ImportRequest, error) {
	var req domain.ImportRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return req, fmt.Errorf("%w: %v", domain.ErrInvalidImport, err)
	}
	req.Family = strings.TrimSpace(req.Family)
	if req.Family == "" || strings.TrimSpace(req.Gmbr) == "" {
		return req, fmt.Errorf("%w: family and gmbr are required", domain.ErrInvalidImport)
	}
	return req, nil
}

// Collapse keeps only the last request of each (family, snapshot date) since
// a later import of the same day replaces the earlier one. Order of first
// appearance is preserved.
func Collapse(batch []domain.ImportRequest) []domain.ImportRequest {
	type key struct{ family, date string }
	index := make(map[key]int, len(batch))
	out := make([]domain.ImportRequest, 0, len(batch))
	for _, req := range batch {
		k := key{req.Family, strings.TrimSpace(req.SnapshotDate)}
		if i, ok := index[k]; ok {
			out[i] = req
			continue
		}
		index[k] = len(out)
		out = append(out, req)
	}
	return out
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

// ConsumeClaim batches import messages and marks them once processed
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger

	var (
		batch   = make([]domain.ImportRequest, 0, cfg.BatchSize)
		pending []*sarama.ConsumerMessage
	)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		for _, req := range Collapse(batch) {
			ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
			result, err := h.consumer.handler.Import(ctx, req)
			cancel()
			if err != nil {
				logger.Error("failed to import snapshot",
					"family", req.Family,
					"snapshot_date", req.SnapshotDate,
					"error", err,
				)
				continue
			}
			logger.Debug("imported snapshot from topic",
				"family", result.Family,
				"snapshot_date", result.SnapshotDate.String(),
				"points", result.Points,
			)
		}
		for _, msg := range pending {
			session.MarkMessage(msg, "")
		}
		batch = batch[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}

			req, err := DecodeMessage(message.Value)
			if err != nil {
				logger.Warn("skipping invalid import message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				pending = append(pending, message)
				continue
			}

			batch = append(batch, req)
			pending = append(pending, message)

			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
