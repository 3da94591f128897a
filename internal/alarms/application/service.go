package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"linemonitor/internal/eventing"
)

const defaultRetryDelay = time.Second

// Receiver yields decoded wire messages.
type Receiver interface {
	Receive(ctx context.Context) (eventing.Message, error)
	Resubscribe() error
}

// Service is the subscriber loop feeding the debouncer.
type Service struct {
	receiver   Receiver
	debouncer  *Debouncer
	logger     zerolog.Logger
	retryDelay time.Duration
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithServiceLogger assigns a logger.
func WithServiceLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRetryDelay sets the pause after a failed receive or re-subscribe.
func WithRetryDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// NewService constructs the subscriber loop.
func NewService(receiver Receiver, debouncer *Debouncer, opts ...ServiceOption) (*Service, error) {
	if receiver == nil {
		return nil, errors.New("power service: nil receiver")
	}
	if debouncer == nil {
		return nil, errors.New("power service: nil debouncer")
	}
	s := &Service{
		receiver:   receiver,
		debouncer:  debouncer,
		logger:     zerolog.Nop(),
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve reads events until ctx is cancelled. Every datagram or receive timeout
// evaluates the policy, so an all-clear can go out without traffic.
func (s *Service) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("power service: nil service")
	}
	s.logger.Info().Msg("power notification service started")
	for {
		msg, err := s.receiver.Receive(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.Info().Msg("power notification service stopped")
			return ctxErr
		}
		switch {
		case err == nil:
			s.debouncer.Observe(msg.Event())
			s.debouncer.Evaluate(ctx)
		case errors.Is(err, eventing.ErrReceiveTimeout):
			s.debouncer.Evaluate(ctx)
			if err := s.receiver.Resubscribe(); err != nil {
				s.logger.Warn().Err(err).Msg("could not re-subscribe to the event group")
				s.wait(ctx)
			}
		case errors.Is(err, eventing.ErrMalformedMessage):
			s.logger.Debug().Err(err).Msg("discarding message")
			s.debouncer.Evaluate(ctx)
		default:
			s.logger.Warn().Err(err).Msg("error receiving events")
			s.wait(ctx)
			if err := s.receiver.Resubscribe(); err != nil {
				s.logger.Warn().Err(err).Msg("could not re-subscribe to the event group")
			}
		}
	}
}

// String names the service for the supervisor.
func (s *Service) String() string { return "power-notifier" }

func (s *Service) wait(ctx context.Context) {
	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
