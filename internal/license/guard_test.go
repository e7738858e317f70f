package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
)

func TestVolumeGuard(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)).MustWait(ctx)

	g := NewVolumeGuard(clock, 5)
	for i := 0; i < 5; i++ {
		assert.True(t, g.Allow(), "request %d", i+1)
	}
	assert.False(t, g.Allow(), "6th request exceeds the ceiling")
	assert.False(t, g.Allow())

	// Still the same UTC day
	clock.Advance(30 * time.Second).MustWait(ctx)
	assert.False(t, g.Allow())

	// Date rollover resets the counter
	clock.Advance(time.Minute).MustWait(ctx)
	assert.True(t, g.Allow())
	assert.Equal(t, 1, g.Count())
}

func TestVolumeGuardUsesUTC(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	tokyo := time.FixedZone("JST", 9*3600)
	// 2026-03-02 01:00 in Tokyo is still 2026-03-01 in UTC
	clock.Set(time.Date(2026, 3, 2, 1, 0, 0, 0, tokyo)).MustWait(ctx)

	g := NewVolumeGuard(clock, 1)
	assert.True(t, g.Allow())

	clock.Set(time.Date(2026, 3, 2, 8, 0, 0, 0, tokyo)).MustWait(ctx)
	assert.False(t, g.Allow(), "UTC date has not changed")
}

func TestVolumeGuardConcurrent(t *testing.T) {
	clock := quartz.NewMock(t)
	g := NewVolumeGuard(clock, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 250; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
	assert.Equal(t, 250, g.Count())
}
