// Package notify delivers parent absence alerts to an outbound channel.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Message is the payload handed to a Sink for one absence episode.
type Message struct {
	NotificationID   string    `json:"notification_id"`
	StudentID        string    `json:"student_id"`
	StudentName      string    `json:"student_name"`
	ClassID          string    `json:"class_id"`
	ParentName       string    `json:"parent_name,omitempty"`
	ParentEmail      string    `json:"parent_email,omitempty"`
	ParentPhone      string    `json:"parent_phone,omitempty"`
	ConsecutiveDays  int       `json:"consecutive_days"`
	EpisodeStartedOn string    `json:"episode_started_on"`
	NotificationDate string    `json:"notification_date"`
	Text             string    `json:"text"`
	CreatedAt        time.Time `json:"created_at"`
}

// Sink sends a message. Implementations return an error for any outcome
// that did not reach the recipient.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// LogSink writes messages to the structured log. It is the fallback when no
// outbound channel is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.logger.Sugar().Infow("parent notification",
		"notification_id", msg.NotificationID,
		"student_id", msg.StudentID,
		"parent_email", msg.ParentEmail,
		"consecutive_days", msg.ConsecutiveDays,
		"text", msg.Text,
	)
	return nil
}
