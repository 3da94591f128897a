package eventing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"linemonitor/internal/observability/metrics"
)

// DefaultReceiveTimeout bounds a single receive before the subscriber re-joins the group.
const DefaultReceiveTimeout = 60 * time.Second

// ErrReceiveTimeout is returned when no datagram arrived within the receive timeout.
var ErrReceiveTimeout = errors.New("eventing: receive timed out")

// Subscriber joins a multicast group and decodes incoming wire messages.
// It is meant for a single reading goroutine.
type Subscriber struct {
	cfg     GroupConfig
	group   *net.UDPAddr
	ifi     *net.Interface
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	conn net.PacketConn
	pc   *ipv4.PacketConn
	buf  []byte
}

// SubscriberOption customizes a subscriber.
type SubscriberOption func(*Subscriber)

// WithReceiveTimeout overrides DefaultReceiveTimeout.
func WithReceiveTimeout(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSubscriberLogger assigns a logger.
func WithSubscriberLogger(logger zerolog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithSubscriberMetrics assigns metrics.
func WithSubscriberMetrics(m *metrics.Metrics) SubscriberOption {
	return func(s *Subscriber) {
		s.metrics = m
	}
}

// NewSubscriber validates cfg and joins the group.
func NewSubscriber(cfg GroupConfig, opts ...SubscriberOption) (*Subscriber, error) {
	cfg = cfg.withDefaults()
	group, err := cfg.groupAddr()
	if err != nil {
		return nil, err
	}
	ifi, err := cfg.iface()
	if err != nil {
		return nil, err
	}
	s := &Subscriber{
		cfg:     cfg,
		group:   group,
		ifi:     ifi,
		timeout: DefaultReceiveTimeout,
		logger:  zerolog.Nop(),
		buf:     make([]byte, maxDatagram),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Subscriber) open() error {
	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp4", ":"+strconv.Itoa(s.group.Port))
	if err != nil {
		return fmt.Errorf("eventing: listen on %d: %w", s.group.Port, err)
	}
	pc := ipv4.NewPacketConn(conn)
	if s.group.IP.IsMulticast() {
		if err := pc.JoinGroup(s.ifi, &net.UDPAddr{IP: s.group.IP}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("eventing: join %s: %w", s.group.IP, err)
		}
	}
	s.mu.Lock()
	s.conn, s.pc = conn, pc
	s.mu.Unlock()
	return nil
}

// Receive waits for the next well-formed message. It returns ErrReceiveTimeout when the
// receive timeout passes and an error wrapping ErrMalformedMessage for undecodable datagrams.
func (s *Subscriber) Receive(ctx context.Context) (Message, error) {
	s.mu.Lock()
	conn, pc := s.conn, s.pc
	s.mu.Unlock()
	if conn == nil {
		return Message{}, errors.New("eventing: subscriber closed")
	}
	if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return Message{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, _, _, err := pc.ReadFrom(s.buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Message{}, ErrReceiveTimeout
		}
		return Message{}, fmt.Errorf("eventing: receive: %w", err)
	}
	msg, err := Decode(string(s.buf[:n]))
	if err != nil {
		s.metrics.IncDiscarded()
		return Message{}, err
	}
	s.metrics.IncMessage(string(msg.Kind))
	return msg, nil
}

// Resubscribe closes the socket and joins the group again.
func (s *Subscriber) Resubscribe() error {
	s.closeConn()
	s.metrics.IncReconnect()
	if err := s.open(); err != nil {
		return err
	}
	s.logger.Debug().Str("group", s.group.String()).Msg("re-subscribed to event group")
	return nil
}

// Close leaves the group and releases the socket.
func (s *Subscriber) Close() error {
	if s == nil {
		return nil
	}
	return s.closeConn()
}

func (s *Subscriber) closeConn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if s.group.IP.IsMulticast() {
		_ = s.pc.LeaveGroup(s.ifi, &net.UDPAddr{IP: s.group.IP})
	}
	err := s.conn.Close()
	s.conn, s.pc = nil, nil
	return err
}
