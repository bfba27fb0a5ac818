package channel

import (
	"context"
	"log/slog"

	"journey-engine/internal/domain"
)

// LogSender implements ports.Messenger by logging messages instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg domain.Message) error {
	s.logger.InfoContext(ctx, "message sent",
		"job_id", msg.JobID,
		"customer_id", msg.CustomerID,
		"journey_id", msg.JourneyID,
		"node_id", msg.NodeID,
		"channel", msg.Channel,
		"template_id", msg.TemplateID,
	)
	return nil
}
