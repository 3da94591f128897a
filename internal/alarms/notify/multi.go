package notify

import (
	"context"
	"errors"
)

// MultiChannel delivers to every channel and reports the joined failures.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel, skipping nil channels.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	filtered := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		if channel != nil {
			filtered = append(filtered, channel)
		}
	}
	return &MultiChannel{channels: filtered}
}

// Len reports the number of channels.
func (m *MultiChannel) Len() int {
	if m == nil {
		return 0
	}
	return len(m.channels)
}

// Send forwards the message to all channels. It fails only when every channel fails.
func (m *MultiChannel) Send(ctx context.Context, subject, body string) error {
	if m == nil || len(m.channels) == 0 {
		return errors.New("multi channel: no channels")
	}
	var errs []error
	for _, channel := range m.channels {
		if err := channel.Send(ctx, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}
