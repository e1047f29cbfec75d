package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// KafkaSink streams audit records into a Kafka topic as JSON, keyed by chat
// id so one chat's records stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSink) Write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.WithMessage(err, "cant marshal audit record")
	}
	// Records for in-flight updates still flush during shutdown.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return errors.WithMessage(s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(strconv.FormatInt(rec.ChatID, 10)),
		Value: payload,
	}), "cant write audit record")
}

func (s *KafkaSink) Start(ctx context.Context) error { return nil }

func (s *KafkaSink) Stop(ctx context.Context) error {
	return s.writer.Close()
}
