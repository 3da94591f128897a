package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"linemonitor/internal/observability/metrics"
	voltage "linemonitor/internal/voltage/domain"
)

const (
	// DefaultPollInterval is the pause between meter polls.
	DefaultPollInterval = 200 * time.Millisecond
	debugReadingEvery   = 10 * time.Second
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Monitor polls a sampler and feeds every reading to the classifier of its line.
type Monitor struct {
	sampler     voltage.Sampler
	classifiers map[voltage.LineID]*Classifier
	order       []voltage.LineID
	recorder    voltage.ReadingRecorder
	clock       Clock
	interval    time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	lastDebug   map[voltage.LineID]time.Time
}

// MonitorOption customizes the monitor.
type MonitorOption func(*Monitor)

// WithRecorder assigns the raw reading recorder.
func WithRecorder(recorder voltage.ReadingRecorder) MonitorOption {
	return func(m *Monitor) {
		m.recorder = recorder
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) MonitorOption {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// WithPollInterval sets the pause between polls.
func WithPollInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithMonitorLogger assigns a logger.
func WithMonitorLogger(logger zerolog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMonitorMetrics assigns metrics.
func WithMonitorMetrics(mt *metrics.Metrics) MonitorOption {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// NewMonitor constructs a monitor over sampler and one classifier per line.
func NewMonitor(sampler voltage.Sampler, classifiers []*Classifier, opts ...MonitorOption) (*Monitor, error) {
	if sampler == nil {
		return nil, errors.New("monitor: nil sampler")
	}
	if len(classifiers) == 0 {
		return nil, errors.New("monitor: no lines configured")
	}
	m := &Monitor{
		sampler:     sampler,
		classifiers: make(map[voltage.LineID]*Classifier, len(classifiers)),
		clock:       systemClock{},
		interval:    DefaultPollInterval,
		logger:      zerolog.Nop(),
		lastDebug:   make(map[voltage.LineID]time.Time, len(classifiers)),
	}
	for _, c := range classifiers {
		if c == nil {
			return nil, errors.New("monitor: nil classifier")
		}
		if _, dup := m.classifiers[c.Line()]; dup {
			return nil, fmt.Errorf("monitor: duplicate line %s", c.Line())
		}
		m.classifiers[c.Line()] = c
		m.order = append(m.order, c.Line())
	}
	sort.Slice(m.order, func(i, j int) bool { return m.order[i] < m.order[j] })
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Restore re-seeds every classifier from its outage marker and returns the restored lines.
func (m *Monitor) Restore() []voltage.LineID {
	var restored []voltage.LineID
	for _, line := range m.order {
		if m.classifiers[line].Restore() {
			restored = append(restored, line)
		}
	}
	return restored
}

// Classifier returns the classifier of line.
func (m *Monitor) Classifier(line voltage.LineID) (*Classifier, bool) {
	c, ok := m.classifiers[line]
	return c, ok
}

// Poll reads the meter once and classifies every configured line.
// Read failures are logged and leave line state untouched.
func (m *Monitor) Poll(ctx context.Context) []voltage.Event {
	if m == nil {
		return nil
	}
	readings, err := m.sampler.Read(ctx)
	if err != nil {
		if errors.Is(err, voltage.ErrMalformedReading) {
			m.logger.Warn().Err(err).Msg("discarding malformed meter reading")
			m.metrics.IncSample("malformed")
		} else {
			m.logger.Warn().Err(err).Msg("error reading the meter")
			m.metrics.IncSample(metrics.ResultError)
		}
		return nil
	}
	now := m.clock.Now()
	for line := range readings {
		if _, ok := m.classifiers[line]; ok {
			continue
		}
		m.logger.Debug().Str("line", line.String()).Msg("ignoring reading for unconfigured line")
	}
	for _, line := range m.order {
		if value, ok := readings[line]; !ok || math.IsNaN(value) || math.IsInf(value, 0) {
			m.logger.Warn().Str("line", line.String()).Msg("meter returned no usable value")
			m.metrics.IncSample("malformed")
			return nil
		}
	}
	m.metrics.IncSample(metrics.ResultSuccess)

	var events []voltage.Event
	for _, line := range m.order {
		sample := voltage.Sample{Line: line, Value: readings[line], TakenAt: now}
		if m.recorder != nil {
			if err := m.recorder.Record(sample); err != nil {
				m.logger.Error().Err(err).Str("line", line.String()).Msg("could not record reading")
			}
		}
		if last := m.lastDebug[line]; last.IsZero() || now.Sub(last) >= debugReadingEvery {
			m.lastDebug[line] = now
			m.logger.Debug().Str("line", line.String()).Float64("volts", sample.Value).Msg("reading")
		}
		events = append(events, m.classifiers[line].Observe(ctx, sample)...)
	}
	return events
}

// Serve polls until ctx is cancelled.
func (m *Monitor) Serve(ctx context.Context) error {
	if m == nil {
		return errors.New("monitor: nil monitor")
	}
	m.logger.Info().Dur("interval", m.interval).Int("lines", len(m.order)).Msg("line monitor started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("line monitor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// String names the service for the supervisor.
func (m *Monitor) String() string { return "line-monitor" }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
