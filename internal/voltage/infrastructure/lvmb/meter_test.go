package lvmb

import (
	"context"
	"errors"
	"strings"
	"testing"

	voltage "linemonitor/internal/voltage/domain"
)

type fakePort struct {
	*strings.Reader
	closed bool
}

func newFakePort(data string) *fakePort {
	return &fakePort{Reader: strings.NewReader(data)}
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

// stallingPort answers every read with nothing, like a serial port after its read timeout.
type stallingPort struct {
	reads int
}

func (s *stallingPort) Read(_ []byte) (int, error) {
	s.reads++
	return 0, nil
}

func (s *stallingPort) Close() error { return nil }

var boardColumns = Options{Columns: []voltage.LineID{"240V", "120V"}}

func TestMeterReadMapsColumns(t *testing.T) {
	meter, err := New(newFakePort("\x00241.26 119.94\r\n"), boardColumns)
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}

	readings, err := meter.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if readings["240V"] != 241.3 || readings["120V"] != 119.9 {
		t.Fatalf("unexpected readings %v", readings)
	}
}

func TestMeterReadRetriesGarbage(t *testing.T) {
	meter, err := New(newFakePort("boot\n120.0\n240.0 120.0\n"), boardColumns)
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}

	readings, err := meter.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if readings["120V"] != 120 {
		t.Fatalf("unexpected readings %v", readings)
	}
}

func TestMeterReadMalformed(t *testing.T) {
	meter, err := New(newFakePort("a b\nc d\ne f\n240.0 120.0\n"), boardColumns)
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}

	_, err = meter.Read(context.Background())
	if !errors.Is(err, voltage.ErrMalformedReading) {
		t.Fatalf("expected malformed reading, got %v", err)
	}
	readings, err := meter.Read(context.Background())
	if err != nil || readings["240V"] != 240 {
		t.Fatalf("expected the next poll to succeed, got %v %v", readings, err)
	}
}

func TestMeterReadTimeout(t *testing.T) {
	port := &stallingPort{}
	meter, err := New(port, Options{Columns: boardColumns.Columns, Retries: 2})
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}

	_, err = meter.Read(context.Background())
	if !errors.Is(err, voltage.ErrReadFailed) {
		t.Fatalf("expected read failure, got %v", err)
	}
	if port.reads != 2 {
		t.Fatalf("expected one read per attempt, got %d", port.reads)
	}
}

func TestMeterClose(t *testing.T) {
	port := newFakePort("")
	meter, err := New(port, boardColumns)
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}
	if err := meter.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !port.closed {
		t.Fatalf("expected port closed")
	}
}

func TestNewRejectsDuplicateColumns(t *testing.T) {
	if _, err := New(newFakePort(""), Options{Columns: []voltage.LineID{"120V", "120V"}}); err == nil {
		t.Fatalf("expected duplicate column error")
	}
}

func TestMeterSkipsUnmappedColumns(t *testing.T) {
	meter, err := New(newFakePort("241.3 119.9\n"), Options{Columns: []voltage.LineID{"", "120V"}})
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}
	got, err := meter.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got["120V"] != 119.9 {
		t.Fatalf("unexpected readings %v", got)
	}
	if _, err := New(newFakePort(""), Options{Columns: []voltage.LineID{"", ""}}); err == nil {
		t.Fatalf("expected an error without mapped columns")
	}
}
