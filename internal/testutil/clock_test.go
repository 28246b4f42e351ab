package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestManualClock_StartsAtStart(t *testing.T) {
	clock := NewManualClock(testStart)
	assert.Equal(t, testStart, clock.Now())
	assert.Equal(t, testStart, clock.Now(), "reading must not move without Advance")
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(testStart)

	want := testStart.Add(90 * time.Second)
	assert.Equal(t, want, clock.Advance(90*time.Second))
	assert.Equal(t, want, clock.Now())
}

func TestManualClock_Set(t *testing.T) {
	clock := NewManualClock(testStart)

	earlier := testStart.Add(-time.Hour)
	clock.Set(earlier)
	assert.Equal(t, earlier, clock.Now())
}

func TestManualClock_ThreadSafety(t *testing.T) {
	clock := NewManualClock(testStart)

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, testStart.Add(goroutines*time.Millisecond), clock.Now())
}
