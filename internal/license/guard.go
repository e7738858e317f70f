package license

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// VolumeGuard caps the number of requests served per UTC day
type VolumeGuard struct {
	mu        sync.Mutex
	clock     quartz.Clock
	max       int
	count     int
	resetDate string
}

// NewVolumeGuard creates a guard allowing max requests per UTC day
func NewVolumeGuard(clock quartz.Clock, max int) *VolumeGuard {
	return &VolumeGuard{
		clock:     clock,
		max:       max,
		resetDate: utcDate(clock.Now()),
	}
}

// Allow counts one request and reports whether it fits under today's ceiling.
// The counter resets when the UTC date changes.
func (g *VolumeGuard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if today := utcDate(g.clock.Now()); today != g.resetDate {
		g.resetDate = today
		g.count = 0
	}
	g.count++
	return g.count <= g.max
}

// Count returns the requests counted today
func (g *VolumeGuard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func utcDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
