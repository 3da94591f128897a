package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	voltage "linemonitor/internal/voltage/domain"
)

// DefaultFlushInterval is how long buffered readings may wait before hitting disk.
const DefaultFlushInterval = 10 * time.Second

type lineLog struct {
	file      *os.File
	writer    *bufio.Writer
	flushedAt time.Time
}

// Recorder appends every sample to voltage_<line>.log as "<unix seconds>  <volts>".
type Recorder struct {
	mu            sync.Mutex
	dir           string
	flushInterval time.Duration
	logs          map[voltage.LineID]*lineLog
	closed        bool
}

// Option customizes a recorder.
type Option func(*Recorder)

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d >= 0 {
			r.flushInterval = d
		}
	}
}

// New creates dir if needed and returns a recorder writing into it.
func New(dir string, opts ...Option) (*Recorder, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("recorder: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", dir, err)
	}
	r := &Recorder{
		dir:           dir,
		flushInterval: DefaultFlushInterval,
		logs:          make(map[voltage.LineID]*lineLog),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the log file of line.
func (r *Recorder) Path(line voltage.LineID) string {
	return filepath.Join(r.dir, "voltage_"+strings.TrimSuffix(line.String(), "V")+".log")
}

// Record buffers one sample and flushes the line's file when the flush interval has passed.
func (r *Recorder) Record(sample voltage.Sample) error {
	if r == nil {
		return errors.New("recorder: nil recorder")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder: closed")
	}
	log, err := r.open(sample.Line)
	if err != nil {
		return err
	}
	seconds := float64(sample.TakenAt.UnixMicro()) / 1e6
	if _, err := fmt.Fprintf(log.writer, "%.2f  %.1f\n", seconds, sample.Value); err != nil {
		return fmt.Errorf("recorder: write %s: %w", sample.Line, err)
	}
	if log.flushedAt.IsZero() {
		log.flushedAt = sample.TakenAt
	}
	if sample.TakenAt.Sub(log.flushedAt) >= r.flushInterval {
		log.flushedAt = sample.TakenAt
		if err := log.writer.Flush(); err != nil {
			return fmt.Errorf("recorder: flush %s: %w", sample.Line, err)
		}
	}
	return nil
}

func (r *Recorder) open(line voltage.LineID) (*lineLog, error) {
	if log, ok := r.logs[line]; ok {
		return log, nil
	}
	file, err := os.OpenFile(r.Path(line), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", line, err)
	}
	log := &lineLog{file: file, writer: bufio.NewWriter(file)}
	r.logs[line] = log
	return log, nil
}

// Close flushes and closes every open file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for line, log := range r.logs {
		if err := log.writer.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: flush %s: %w", line, err))
		}
		if err := log.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: close %s: %w", line, err))
		}
	}
	return errors.Join(errs...)
}
