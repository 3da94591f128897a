package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// LogChannel writes notifications to the log. It stands in when no other channel is configured.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel constructs a log channel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Send logs the message.
func (c *LogChannel) Send(_ context.Context, subject, body string) error {
	if c == nil {
		return errors.New("log channel: nil channel")
	}
	c.logger.Warn().Str("subject", subject).Str("body", body).Msg("power notification")
	return nil
}

func (c *LogChannel) String() string { return "log" }
