package voltage

import "errors"

var (
	// ErrReadFailed indicates a transient meter failure; the poll is skipped.
	ErrReadFailed = errors.New("voltage: meter read failed")
	// ErrMalformedReading indicates the meter answered with something that is not a voltage.
	ErrMalformedReading = errors.New("voltage: malformed reading")
)
