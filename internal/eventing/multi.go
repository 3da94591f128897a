package eventing

import (
	"context"

	voltage "linemonitor/internal/voltage/domain"
)

// MultiPublisher fans an event out to several publishers.
type MultiPublisher struct {
	publishers []voltage.Publisher
}

// NewMultiPublisher skips nil publishers.
func NewMultiPublisher(publishers ...voltage.Publisher) *MultiPublisher {
	filtered := make([]voltage.Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	return &MultiPublisher{publishers: filtered}
}

// Publish implements voltage.Publisher.
func (m *MultiPublisher) Publish(ctx context.Context, event voltage.Event) {
	if m == nil {
		return
	}
	for _, p := range m.publishers {
		p.Publish(ctx, event)
	}
}
