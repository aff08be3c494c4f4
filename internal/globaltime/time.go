// Package globaltime is the process-wide clock. Production code reads
// it instead of time.Now so window checks and persisted timestamps can
// be pinned in tests.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu     sync.RWMutex
	mocked bool
	frozen time.Time
)

// Now returns the current time, or the pinned time when a test has set
// one.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	if mocked {
		return frozen
	}
	return time.Now()
}

// UTC is Now in UTC. Push windows and database timestamps always use
// it.
func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime pins the clock. Callers must ResetTime when done.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	mocked = true
	frozen = t
}

// ResetTime restores the real clock.
func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	mocked = false
	frozen = time.Time{}
}
