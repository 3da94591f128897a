package eventing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"linemonitor/internal/observability/metrics"
	voltage "linemonitor/internal/voltage/domain"
)

const (
	// DefaultGroup and DefaultPort address the site's event stream.
	DefaultGroup = "224.168.2.10"
	DefaultPort  = 7165
	// DefaultTTL is the multicast hop limit of published datagrams.
	DefaultTTL = 20

	defaultWriteTimeout = 100 * time.Millisecond
	maxDatagram         = 1024
)

// GroupConfig addresses a multicast group.
type GroupConfig struct {
	Group string
	Port  int
	TTL   int
	// Interface names the network interface used to join or send; empty picks the system default.
	Interface string
	// Source is the sender's local address; empty binds the sender to Port+1.
	Source string
}

func (c GroupConfig) withDefaults() GroupConfig {
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Source == "" {
		c.Source = ":" + strconv.Itoa(c.Port+1)
	}
	return c
}

func (c GroupConfig) groupAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(c.Group)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("eventing: invalid IPv4 group %q", c.Group)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return nil, fmt.Errorf("eventing: invalid port %d", c.Port)
	}
	return &net.UDPAddr{IP: ip, Port: c.Port}, nil
}

func (c GroupConfig) iface() (*net.Interface, error) {
	if c.Interface == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(c.Interface)
	if err != nil {
		return nil, fmt.Errorf("eventing: interface %s: %w", c.Interface, err)
	}
	return ifi, nil
}

// MulticastPublisher broadcasts one wire message per UDP datagram. Sends are
// best effort: failures are logged and counted, never retried or returned.
type MulticastPublisher struct {
	conn         net.PacketConn
	pc           *ipv4.PacketConn
	dst          *net.UDPAddr
	writeTimeout time.Duration
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

// PublisherOption customizes a publisher.
type PublisherOption func(*publisherOptions)

type publisherOptions struct {
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) PublisherOption {
	return func(o *publisherOptions) {
		o.logger = logger
	}
}

// WithMetrics assigns metrics.
func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(o *publisherOptions) {
		o.metrics = m
	}
}

// WithWriteTimeout bounds a single datagram write.
func WithWriteTimeout(d time.Duration) PublisherOption {
	return func(o *publisherOptions) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

func collectOptions(opts []PublisherOption) publisherOptions {
	o := publisherOptions{logger: zerolog.Nop(), writeTimeout: defaultWriteTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMulticastPublisher binds the sender socket and configures the multicast TTL.
func NewMulticastPublisher(cfg GroupConfig, opts ...PublisherOption) (*MulticastPublisher, error) {
	cfg = cfg.withDefaults()
	dst, err := cfg.groupAddr()
	if err != nil {
		return nil, err
	}
	ifi, err := cfg.iface()
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenPacket("udp4", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("eventing: bind sender %s: %w", cfg.Source, err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("eventing: set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("eventing: set multicast loopback: %w", err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("eventing: set multicast interface: %w", err)
		}
	}
	o := collectOptions(opts)
	return &MulticastPublisher{
		conn:         conn,
		pc:           pc,
		dst:          dst,
		writeTimeout: o.writeTimeout,
		logger:       o.logger.With().Str("group", dst.String()).Logger(),
		metrics:      o.metrics,
	}, nil
}

// Publish implements voltage.Publisher.
func (p *MulticastPublisher) Publish(_ context.Context, event voltage.Event) {
	if p == nil {
		return
	}
	text, err := Encode(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("could not encode event")
		p.metrics.IncPublishError("multicast")
		return
	}
	if err := p.send(text); err != nil {
		p.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("could not send event")
		p.metrics.IncPublishError("multicast")
	}
}

func (p *MulticastPublisher) send(text string) error {
	if len(text) > maxDatagram {
		return fmt.Errorf("eventing: message of %d bytes exceeds %d", len(text), maxDatagram)
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
		return err
	}
	_, err := p.pc.WriteTo([]byte(text), nil, p.dst)
	return err
}

// LocalAddr returns the sender's bound address.
func (p *MulticastPublisher) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

// Close releases the sender socket.
func (p *MulticastPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
