package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Clock provides time for deduplication.
type Clock interface {
	Now() time.Time
}

// BreakerConfig tunes the circuit breaker guarding the channel.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	return c
}

// Notifier sends a message over its channel. Failures are logged and reported as
// false; they never propagate.
type Notifier struct {
	channel      Channel
	breaker      *gobreaker.CircuitBreaker[struct{}]
	logger       zerolog.Logger
	clock        Clock
	sendTimeout  time.Duration
	dedupeWindow time.Duration

	mu   sync.Mutex
	sent map[string]time.Time
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithSendTimeout bounds a single channel send.
func WithSendTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.sendTimeout = timeout
		}
	}
}

// WithDedupeWindow suppresses identical subject and body pairs within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs a notifier whose channel is guarded by a circuit breaker.
func NewNotifier(channel Channel, breaker BreakerConfig, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("power notifier: nil channel")
	}
	n := &Notifier{
		channel:     channel,
		logger:      zerolog.Nop(),
		clock:       systemClock{},
		sendTimeout: 30 * time.Second,
		sent:        make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	cfg := breaker.withDefaults()
	logger := n.logger
	n.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "notification-channel",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("notification breaker changed state")
		},
	})
	return n, nil
}

// Notify sends subject and body and reports whether the channel accepted them.
func (n *Notifier) Notify(ctx context.Context, subject, body string) bool {
	if n == nil || n.channel == nil {
		return false
	}
	release, ok := n.claim(subject, body)
	if !ok {
		n.logger.Info().Str("subject", subject).Msg("suppressing duplicate notification")
		return false
	}
	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()
	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.channel.Send(sendCtx, subject, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			n.logger.Error().Str("subject", subject).Msg("notification channel unavailable, breaker open")
		} else {
			n.logger.Error().Err(err).Str("subject", subject).Msg("could not send notification")
		}
		release()
		return false
	}
	n.logger.Info().Str("subject", subject).Msg("notification sent")
	return true
}

// BreakerState reports the breaker state for diagnostics.
func (n *Notifier) BreakerState() string {
	if n == nil || n.breaker == nil {
		return ""
	}
	return n.breaker.State().String()
}

// claim records subject and body as sent before the send starts, so concurrent
// workers cannot both deliver the same message. release undoes a failed send.
func (n *Notifier) claim(subject, body string) (release func(), ok bool) {
	if n.dedupeWindow <= 0 {
		return func() {}, true
	}
	key := hashContent(subject + "\x00" + body)
	now := n.clock.Now().UTC()
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, at := range n.sent {
		if now.Sub(at) >= n.dedupeWindow {
			delete(n.sent, k)
		}
	}
	if _, seen := n.sent[key]; seen {
		return nil, false
	}
	n.sent[key] = now
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if at, ok := n.sent[key]; ok && at.Equal(now) {
			delete(n.sent, key)
		}
	}, true
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
