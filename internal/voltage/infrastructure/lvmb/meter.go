package lvmb

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	voltage "linemonitor/internal/voltage/domain"
)

const (
	// DefaultBaudRate is the rate of the board's microcontroller.
	DefaultBaudRate = 9600
	// DefaultRetries bounds the lines read per poll.
	DefaultRetries = 3
	// DefaultReadTimeout bounds a single line read.
	DefaultReadTimeout = time.Second
)

var errReadTimeout = errors.New("lvmb: read timed out")

// Port is the byte stream of the voltage monitoring board.
type Port interface {
	io.Reader
	io.Closer
}

// Options configures a meter.
type Options struct {
	// Columns maps the whitespace separated fields of a meter line to lines, in order.
	// Empty ids skip a field.
	Columns []voltage.LineID
	Retries int
}

// Meter reads "<v0> <v1> ..." lines from the board and implements voltage.Sampler.
type Meter struct {
	mu      sync.Mutex
	port    Port
	reader  *bufio.Reader
	columns []voltage.LineID
	retries int
}

// Open opens the serial device and wraps it in a meter.
func Open(device string, baud int, timeout time.Duration, opts Options) (*Meter, error) {
	if device == "" {
		return nil, errors.New("lvmb: empty serial device")
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("lvmb: open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("lvmb: set read timeout: %w", err)
	}
	meter, err := New(port, opts)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return meter, nil
}

// New wraps an already opened port.
func New(port Port, opts Options) (*Meter, error) {
	if port == nil {
		return nil, errors.New("lvmb: nil port")
	}
	if len(opts.Columns) == 0 {
		return nil, errors.New("lvmb: no columns configured")
	}
	seen := make(map[voltage.LineID]struct{}, len(opts.Columns))
	for _, line := range opts.Columns {
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			return nil, fmt.Errorf("lvmb: line %s mapped twice", line)
		}
		seen[line] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, errors.New("lvmb: no columns mapped to a line")
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Meter{
		port:    port,
		reader:  bufio.NewReader(timeoutReader{r: port}),
		columns: append([]voltage.LineID(nil), opts.Columns...),
		retries: retries,
	}, nil
}

// Read returns the current voltage of every mapped line, retrying up to the configured count.
func (m *Meter) Read(ctx context.Context) (map[voltage.LineID]float64, error) {
	if m == nil {
		return nil, errors.New("lvmb: nil meter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < m.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lvmb: %w: %v", voltage.ErrReadFailed, err)
		}
		raw, err := m.reader.ReadString('\n')
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", voltage.ErrReadFailed, err)
			continue
		}
		readings, err := m.parse(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return readings, nil
	}
	return nil, fmt.Errorf("lvmb: failed to read voltages after %d attempts: %w", m.retries, lastErr)
}

func (m *Meter) parse(raw string) (map[voltage.LineID]float64, error) {
	fields := strings.Fields(strings.ReplaceAll(raw, "\x00", ""))
	if len(fields) < len(m.columns) {
		return nil, fmt.Errorf("%w: %q has %d fields, want %d", voltage.ErrMalformedReading, strings.TrimSpace(raw), len(fields), len(m.columns))
	}
	readings := make(map[voltage.LineID]float64, len(m.columns))
	for i, line := range m.columns {
		if line == "" {
			continue
		}
		value, err := strconv.ParseFloat(fields[i], 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("%w: field %d %q", voltage.ErrMalformedReading, i, fields[i])
		}
		readings[line] = math.Round(value*10) / 10
	}
	return readings, nil
}

// Close releases the serial port.
func (m *Meter) Close() error {
	if m == nil || m.port == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port.Close()
}

// timeoutReader turns the serial driver's empty timed-out reads into errors so a
// line read fails after one timeout instead of spinning.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil {
		return 0, errReadTimeout
	}
	return n, err
}
