package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	alarms "linemonitor/internal/alarms/domain"
	"linemonitor/internal/observability/metrics"
	voltage "linemonitor/internal/voltage/domain"
)

const (
	// FailureMarkerName is the state file that survives a host reboot while an outage notification is open.
	FailureMarkerName = "inPowerFailure"

	DefaultFlickerMaxAge   = 10 * time.Second
	DefaultFlickerInterval = 60 * time.Second
	DefaultClearUptime     = 5 * time.Minute

	markerTimeLayout = "2006-01-02 15:04:05.000000"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Submitter queues a notification for delivery without blocking.
type Submitter interface {
	Submit(n alarms.Notification) error
}

// StateStore keeps small named state files.
type StateStore interface {
	Get(name string) (string, bool, error)
	Put(name, content string) error
	Remove(name string) error
}

// UptimeSource reports how long the host has been running.
type UptimeSource interface {
	Uptime(ctx context.Context) (time.Duration, error)
}

type lineState struct {
	flickerActiveSince time.Time
	outageActive       bool
}

// Snapshot is a read-only view of the debounce state.
type Snapshot struct {
	InFailure       bool             `json:"in_failure"`
	Flickering      []voltage.LineID `json:"flickering"`
	Outages         []voltage.LineID `json:"outages"`
	LastFlickerSent time.Time        `json:"last_flicker_sent,omitempty"`
}

// Debouncer turns the event stream into at most one notification per condition.
type Debouncer struct {
	notifications   Submitter
	state           StateStore
	uptime          UptimeSource
	clock           Clock
	logger          zerolog.Logger
	metrics         *metrics.Metrics
	flickerMaxAge   time.Duration
	flickerInterval time.Duration
	clearUptime     time.Duration

	mu              sync.Mutex
	lines           map[voltage.LineID]*lineState
	limiter         *rate.Limiter
	lastFlickerSent time.Time
	lastEventAt     time.Time
	inFailure       bool
}

// DebouncerOption customizes the debouncer.
type DebouncerOption func(*Debouncer)

// WithClock assigns a clock.
func WithClock(clock Clock) DebouncerOption {
	return func(d *Debouncer) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) DebouncerOption {
	return func(d *Debouncer) {
		d.logger = logger
	}
}

// WithMetrics assigns metrics.
func WithMetrics(m *metrics.Metrics) DebouncerOption {
	return func(d *Debouncer) {
		d.metrics = m
	}
}

// WithFlickerMaxAge sets how long a flicker stays active without a newer one.
func WithFlickerMaxAge(age time.Duration) DebouncerOption {
	return func(d *Debouncer) {
		if age > 0 {
			d.flickerMaxAge = age
		}
	}
}

// WithFlickerInterval sets the minimum gap between flicker notifications.
func WithFlickerInterval(interval time.Duration) DebouncerOption {
	return func(d *Debouncer) {
		if interval > 0 {
			d.flickerInterval = interval
		}
	}
}

// WithClearUptime sets the host uptime required before an all-clear is sent.
func WithClearUptime(uptime time.Duration) DebouncerOption {
	return func(d *Debouncer) {
		if uptime > 0 {
			d.clearUptime = uptime
		}
	}
}

// NewDebouncer constructs a debouncer and restores the failure marker from state.
func NewDebouncer(notifications Submitter, state StateStore, uptime UptimeSource, opts ...DebouncerOption) (*Debouncer, error) {
	if notifications == nil {
		return nil, errors.New("debouncer: nil submitter")
	}
	if state == nil {
		return nil, errors.New("debouncer: nil state store")
	}
	if uptime == nil {
		return nil, errors.New("debouncer: nil uptime source")
	}
	d := &Debouncer{
		notifications:   notifications,
		state:           state,
		uptime:          uptime,
		clock:           systemClock{},
		logger:          zerolog.Nop(),
		flickerMaxAge:   DefaultFlickerMaxAge,
		flickerInterval: DefaultFlickerInterval,
		clearUptime:     DefaultClearUptime,
		lines:           make(map[voltage.LineID]*lineState),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limiter = rate.NewLimiter(rate.Every(d.flickerInterval), 1)

	content, ok, err := state.Get(FailureMarkerName)
	switch {
	case err != nil:
		d.logger.Error().Err(err).Msg("could not read power failure marker")
		d.metrics.IncMarkerError("read")
	case ok:
		d.inFailure = true
		d.logger.Info().Str("since", content).Msg("restored an open power failure from disk")
	}
	d.metrics.SetInFailure(d.inFailure)
	return d, nil
}

// Observe applies one event to the per-line state. Telemetry and notices leave state untouched.
func (d *Debouncer) Observe(event voltage.Event) {
	if d == nil || !event.IsTransition() || event.Line == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	line := d.line(event.Line)
	d.lastEventAt = event.EmittedAt
	switch event.Kind {
	case voltage.KindFlicker:
		line.flickerActiveSince = event.EmittedAt
	case voltage.KindOutage:
		line.flickerActiveSince = time.Time{}
		line.outageActive = true
	case voltage.KindClear:
		line.outageActive = false
	}
}

// Evaluate ages flickers, decides whether a notification is due, and submits it.
// The decision is returned for inspection; nil means nothing was sent.
func (d *Debouncer) Evaluate(ctx context.Context) *alarms.Notification {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()

	var flickering, outages []voltage.LineID
	for id, line := range d.lines {
		if !line.flickerActiveSince.IsZero() && now.Sub(line.flickerActiveSince) > d.flickerMaxAge {
			line.flickerActiveSince = time.Time{}
			d.logger.Debug().Str("line", id.String()).Msg("flicker aged out")
		}
		if !line.flickerActiveSince.IsZero() {
			flickering = append(flickering, id)
		}
		if line.outageActive {
			outages = append(outages, id)
		}
	}
	sortLines(flickering)
	sortLines(outages)

	switch {
	case len(flickering) > 0:
		if !d.limiter.AllowN(now, 1) {
			return nil
		}
		d.lastFlickerSent = now
		return d.submit(alarms.Notification{Kind: alarms.KindFlicker, Lines: flickering, At: now})

	case len(outages) > 0:
		marker := d.lastEventAt
		if marker.IsZero() {
			marker = now
		}
		if err := d.state.Put(FailureMarkerName, marker.UTC().Format(markerTimeLayout)+"\n"); err != nil {
			d.logger.Error().Err(err).Msg("could not write power failure marker")
			d.metrics.IncMarkerError("write")
		}
		if d.inFailure {
			return nil
		}
		d.inFailure = true
		d.metrics.SetInFailure(true)
		return d.submit(alarms.Notification{Kind: alarms.KindOutage, Lines: outages, At: now})

	case d.inFailure:
		uptime, err := d.uptime.Uptime(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("could not determine host uptime, deferring all-clear")
			return nil
		}
		if uptime < d.clearUptime {
			d.logger.Debug().Dur("uptime", uptime).Msg("host uptime below all-clear threshold")
			return nil
		}
		d.inFailure = false
		d.metrics.SetInFailure(false)
		if err := d.state.Remove(FailureMarkerName); err != nil {
			d.logger.Error().Err(err).Msg("could not remove power failure marker")
			d.metrics.IncMarkerError("delete")
		}
		return d.submit(alarms.Notification{Kind: alarms.KindClear, At: now})
	}
	return nil
}

// Snapshot returns the current state.
func (d *Debouncer) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := Snapshot{InFailure: d.inFailure, LastFlickerSent: d.lastFlickerSent}
	for id, line := range d.lines {
		if !line.flickerActiveSince.IsZero() {
			snap.Flickering = append(snap.Flickering, id)
		}
		if line.outageActive {
			snap.Outages = append(snap.Outages, id)
		}
	}
	sortLines(snap.Flickering)
	sortLines(snap.Outages)
	return snap
}

func (d *Debouncer) submit(n alarms.Notification) *alarms.Notification {
	d.logger.Info().Str("kind", string(n.Kind)).Str("lines", n.LinesPhrase()).Msg("sending notification")
	if err := d.notifications.Submit(n); err != nil {
		d.logger.Error().Err(err).Str("kind", string(n.Kind)).Msg("could not queue notification")
	}
	return &n
}

func (d *Debouncer) line(id voltage.LineID) *lineState {
	line, ok := d.lines[id]
	if !ok {
		line = &lineState{}
		d.lines[id] = line
	}
	return line
}

func sortLines(lines []voltage.LineID) {
	sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
