package voltage

import (
	"context"
	"time"
)

// Sampler reads the current voltage of every line served by a meter.
// Failures wrap ErrReadFailed or ErrMalformedReading.
type Sampler interface {
	Read(ctx context.Context) (map[LineID]float64, error)
}

// Publisher broadcasts events. Implementations must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// OutageMarkerStore persists open outages across process restarts.
type OutageMarkerStore interface {
	Write(line LineID, raisedAt time.Time) error
	Read(line LineID) (time.Time, bool, error)
	Delete(line LineID) error
}

// ReadingRecorder keeps a raw log of every sample.
type ReadingRecorder interface {
	Record(sample Sample) error
}
