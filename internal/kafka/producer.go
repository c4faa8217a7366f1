package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/family-history/internal/domain"
)

// Producer publishes import messages keyed by family, so the imports of one
// family stay ordered on a single partition
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSaramaConfig returns the producer settings used for import messages
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.MaxMessageBytes = 8 << 20
	return cfg
}

// NewProducer connects a synchronous producer to the brokers
func NewProducer(brokers []string, topic string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewProducerFrom(producer, topic), nil
}

// NewProducerFrom wraps an existing producer
func NewProducerFrom(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic}
}

// Publish sends one import request and returns where it was written
func (p *Producer) Publish(req domain.ImportRequest) (int32, int64, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return 0, 0, fmt.Errorf("encoding import message: %w", err)
	}
	if _, err := DecodeMessage(data); err != nil {
		return 0, 0, err
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(req.Family),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("publishing import message: %w", err)
	}
	return partition, offset, nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
