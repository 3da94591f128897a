package markers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"linemonitor/internal/statefile"
	voltage "linemonitor/internal/voltage/domain"
)

const outagePrefix = "inPowerFailure"

// OutageMarkers stores one "open outage since" file per line.
// Content is the outage start as decimal unix seconds.
type OutageMarkers struct {
	store *statefile.Store
}

// NewOutageMarkers constructs marker storage over store.
func NewOutageMarkers(store *statefile.Store) *OutageMarkers {
	return &OutageMarkers{store: store}
}

// Write records an open outage for line.
func (m *OutageMarkers) Write(line voltage.LineID, raisedAt time.Time) error {
	return m.store.Put(Name(line), formatUnix(raisedAt))
}

// Read returns the outage start for line, if a marker exists.
func (m *OutageMarkers) Read(line voltage.LineID) (time.Time, bool, error) {
	content, ok, err := m.store.Get(Name(line))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := parseUnix(content)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("outage marker %s: %w", line, err)
	}
	return at, true, nil
}

// Delete removes the marker of line.
func (m *OutageMarkers) Delete(line voltage.LineID) error {
	return m.store.Remove(Name(line))
}

// Name is the state file holding the outage marker of line. A trailing V is dropped,
// so 120V and 120 share a marker.
func Name(line voltage.LineID) string {
	suffix := strings.TrimSuffix(line.String(), "V")
	if suffix == "" {
		suffix = line.String()
	}
	return outagePrefix + suffix
}

func formatUnix(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func parseUnix(content string) (time.Time, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(int64(math.Round(value * 1e6))).UTC(), nil
}
