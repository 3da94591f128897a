package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"linemonitor/internal/observability/metrics"
	voltage "linemonitor/internal/voltage/domain"
)

// DefaultAveragingWindow is the number of samples averaged into one telemetry event.
const DefaultAveragingWindow = 4

// LineState is the externally visible state of a line.
type LineState string

const (
	StateNormal     LineState = "normal"
	StateFlickering LineState = "flickering"
	StateOutage     LineState = "outage"
)

// Classifier turns the samples of one line into transition and telemetry events.
// It is not safe for concurrent use; the monitor loop owns it.
type Classifier struct {
	line       voltage.LineID
	thresholds voltage.Thresholds
	publisher  voltage.Publisher
	markers    voltage.OutageMarkerStore
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	window     int
	buffer     []float64

	// zero values mean unset
	outOfRangeSince time.Time
	inRangeSince    time.Time
	flickerRaisedAt time.Time
	outageRaisedAt  time.Time
}

// ClassifierOption customizes a classifier.
type ClassifierOption func(*Classifier)

// WithOutageMarkers assigns the store used to persist open outages.
func WithOutageMarkers(store voltage.OutageMarkerStore) ClassifierOption {
	return func(c *Classifier) {
		c.markers = store
	}
}

// WithClassifierLogger assigns a logger.
func WithClassifierLogger(logger zerolog.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithClassifierMetrics assigns metrics.
func WithClassifierMetrics(m *metrics.Metrics) ClassifierOption {
	return func(c *Classifier) {
		c.metrics = m
	}
}

// WithAveragingWindow sets how many samples make one telemetry event.
func WithAveragingWindow(n int) ClassifierOption {
	return func(c *Classifier) {
		if n > 0 {
			c.window = n
		}
	}
}

// NewClassifier constructs a classifier for line.
func NewClassifier(line voltage.LineID, thresholds voltage.Thresholds, publisher voltage.Publisher, opts ...ClassifierOption) (*Classifier, error) {
	if line == "" {
		return nil, errors.New("classifier: empty line id")
	}
	if publisher == nil {
		return nil, errors.New("classifier: nil publisher")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		line:       line,
		thresholds: thresholds,
		publisher:  publisher,
		logger:     zerolog.Nop(),
		window:     DefaultAveragingWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("line", line.String()).Logger()
	c.buffer = make([]float64, 0, c.window)
	return c, nil
}

// Line returns the line this classifier watches.
func (c *Classifier) Line() voltage.LineID { return c.line }

// State reports the current line state.
func (c *Classifier) State() LineState {
	switch {
	case !c.outageRaisedAt.IsZero():
		return StateOutage
	case !c.flickerRaisedAt.IsZero():
		return StateFlickering
	default:
		return StateNormal
	}
}

// Restore re-seeds the classifier from a persisted outage marker.
// A line restored this way starts in the outage state without publishing OUTAGE again.
func (c *Classifier) Restore() bool {
	if c.markers == nil {
		return false
	}
	raisedAt, ok, err := c.markers.Read(c.line)
	if err != nil {
		c.logger.Error().Err(err).Msg("could not read outage marker")
		c.metrics.IncMarkerError("read")
		return false
	}
	if !ok {
		return false
	}
	c.outOfRangeSince = raisedAt
	c.flickerRaisedAt = raisedAt
	c.outageRaisedAt = raisedAt
	c.logger.Info().Time("since", raisedAt).Msg("restored a saved power outage from disk")
	return true
}

// Observe applies one sample and publishes any resulting events, which are also returned.
func (c *Classifier) Observe(ctx context.Context, sample voltage.Sample) []voltage.Event {
	t := sample.TakenAt
	var events []voltage.Event

	if !c.thresholds.InRange(sample.Value) {
		c.logger.Warn().Float64("volts", sample.Value).Msg("line is out of range")
		if c.outOfRangeSince.IsZero() {
			c.outOfRangeSince = t
		}
		c.inRangeSince = time.Time{}
		age := t.Sub(c.outOfRangeSince)

		if c.flickerRaisedAt.IsZero() && age >= c.thresholds.FlickerAfter && age < c.thresholds.OutageAfter {
			c.flickerRaisedAt = c.outOfRangeSince
			c.logger.Warn().Dur("age", age).Msg("line has been out of tolerance (flicker)")
			events = append(events, c.publish(ctx, voltage.NewTransition(voltage.KindFlicker, c.line, t)))
		}
		if c.outageRaisedAt.IsZero() && age >= c.thresholds.OutageAfter {
			c.outageRaisedAt = c.outOfRangeSince
			c.logger.Error().Dur("age", age).Msg("line has been out of tolerance (outage)")
			events = append(events, c.publish(ctx, voltage.NewTransition(voltage.KindOutage, c.line, t)))
			if c.markers != nil {
				if err := c.markers.Write(c.line, c.outageRaisedAt); err != nil {
					c.logger.Error().Err(err).Msg("could not write outage marker")
					c.metrics.IncMarkerError("write")
				}
			}
		}
	} else {
		if c.inRangeSince.IsZero() {
			c.inRangeSince = t
		}
		if !c.flickerRaisedAt.IsZero() && t.Sub(c.flickerRaisedAt) >= c.thresholds.OutageAfter {
			c.flickerRaisedAt = time.Time{}
			c.logger.Info().Msg("flicker cleared")
		}
		if !c.outageRaisedAt.IsZero() && t.Sub(c.inRangeSince) >= c.thresholds.ClearAfter {
			c.outageRaisedAt = time.Time{}
			c.logger.Info().Msg("outage cleared")
			events = append(events, c.publish(ctx, voltage.NewTransition(voltage.KindClear, c.line, t)))
			if c.markers != nil {
				if err := c.markers.Delete(c.line); err != nil {
					c.logger.Error().Err(err).Msg("could not delete outage marker")
					c.metrics.IncMarkerError("delete")
				}
			}
		}
		if c.flickerRaisedAt.IsZero() && c.outageRaisedAt.IsZero() {
			c.outOfRangeSince = time.Time{}
		}
	}

	if telemetry, ok := c.average(sample); ok {
		events = append(events, c.publish(ctx, telemetry))
	}
	return events
}

func (c *Classifier) average(sample voltage.Sample) (voltage.Event, bool) {
	c.buffer = append(c.buffer, sample.Value)
	if len(c.buffer) < c.window {
		return voltage.Event{}, false
	}
	var sum float64
	for _, v := range c.buffer {
		sum += v
	}
	avg := sum / float64(len(c.buffer))
	c.buffer = c.buffer[:0]
	c.metrics.SetLineVoltage(c.line.String(), avg)
	return voltage.NewTelemetry(c.line, avg, sample.TakenAt), true
}

func (c *Classifier) publish(ctx context.Context, event voltage.Event) voltage.Event {
	c.publisher.Publish(ctx, event)
	c.metrics.IncEvent(string(event.Kind), c.line.String())
	return event
}
