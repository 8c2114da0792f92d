package service

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"iotc-agent/internal/config"
	"iotc-agent/internal/model"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultMirrorTimeout bounds one mirror write so an unreachable broker
// cannot hold the telemetry tick.
const defaultMirrorTimeout = 2 * time.Second

// messageWriter is the part of kafka.Writer the mirror uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirror copies every telemetry record to a Kafka topic, keyed by device.
type KafkaMirror struct {
	writer  messageWriter
	logger  *zap.SugaredLogger
	topic   string
	timeout time.Duration
}

// NewKafkaMirror builds the writer from the KAFKA_* settings.
func NewKafkaMirror(cfg *config.Config, logger *zap.SugaredLogger) (*KafkaMirror, error) {
	tlsCfg, err := cfg.CreateKafkaTLSConfig()
	if err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		MaxAttempts:  3,
		WriteTimeout: defaultMirrorTimeout,
		Transport: &kafka.Transport{
			TLS:         tlsCfg,
			DialTimeout: 10 * time.Second,
		},
	}
	logger.Infow("kafka telemetry mirror enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	return newKafkaMirror(writer, cfg.KafkaTopic, logger), nil
}

func newKafkaMirror(w messageWriter, topic string, logger *zap.SugaredLogger) *KafkaMirror {
	return &KafkaMirror{writer: w, topic: topic, logger: logger, timeout: defaultMirrorTimeout}
}

// SendTelemetry writes one Kafka message per record.
func (k *KafkaMirror) SendTelemetry(ctx context.Context, records []model.TelemetryRecord) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := jsonStd.Marshal(model.TelemetryRecord{
			UniqueID: rec.UniqueID,
			Time:     rec.Time,
			Data:     model.CleanData(rec.Data),
		})
		if err != nil {
			return fmt.Errorf("encode telemetry record: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.UniqueID),
			Value: value,
			Time:  time.Now(),
		})
	}
	if len(msgs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write to %s: %w", k.topic, err)
	}
	k.logger.Debugw("telemetry mirrored", "topic", k.topic, "count", len(msgs))
	return nil
}

func (k *KafkaMirror) Close() error {
	return k.writer.Close()
}
