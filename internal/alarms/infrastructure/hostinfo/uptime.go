package hostinfo

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// Uptime reads the host's uptime from the operating system.
type Uptime struct{}

// Uptime returns the time since the host booted.
func (Uptime) Uptime(ctx context.Context) (time.Duration, error) {
	seconds, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}
