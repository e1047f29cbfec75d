package audit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zultrabot/zultra/internal/observability"
	"github.com/zultrabot/zultra/internal/pipeline"
)

// Record is the single terminal audit entry for one inbound update.
type Record struct {
	CorrelationID string           `json:"correlation_id"`
	UpdateID      int              `json:"update_id"`
	ChatID        int64            `json:"chat_id,omitempty"`
	UserID        int64            `json:"user_id,omitempty"`
	Command       string           `json:"command,omitempty"`
	Outcome       pipeline.Outcome `json:"outcome"`
	Reason        string           `json:"reason,omitempty"`
	Error         string           `json:"error,omitempty"`
	LatencyMS     int64            `json:"latency_ms"`
	Timestamp     time.Time        `json:"ts"`
}

// Sink receives the stream of audit records beyond the process log.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

type Logger struct {
	sink   Sink
	logger *log.Entry
}

func NewLogger(sink Sink) *Logger {
	return &Logger{
		sink:   sink,
		logger: log.WithField("context", "audit"),
	}
}

// Record emits the terminal entry. Denials are expected flow and log at
// INFO; handler failures log at ERROR.
func (l *Logger) Record(ctx context.Context, rec Record) {
	rec.Timestamp = time.Now()
	observability.RecordOutcome(string(rec.Outcome))

	entry := l.logger.WithFields(log.Fields{
		"correlation_id": rec.CorrelationID,
		"update_id":      rec.UpdateID,
		"chat_id":        rec.ChatID,
		"user_id":        rec.UserID,
		"command":        rec.Command,
		"outcome":        string(rec.Outcome),
		"latency_ms":     rec.LatencyMS,
	})
	if rec.Reason != "" {
		entry = entry.WithField("reason", rec.Reason)
	}
	if rec.Error != "" {
		entry = entry.WithField("error", rec.Error)
	}

	switch rec.Outcome {
	case pipeline.OutcomeHandlerFailed, pipeline.OutcomeHandlerTimeout:
		entry.Error("update failed")
	default:
		entry.Info("update processed")
	}

	if l.sink != nil {
		if err := l.sink.Write(ctx, rec); err != nil {
			l.logger.WithError(err).Warn("audit sink write failed")
		}
	}
}
