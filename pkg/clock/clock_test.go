package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonicNeverRepeats(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	m := NewMonotonic(Fixed(at))

	first := m.Now()
	second := m.Now()

	assert.Equal(t, at.Truncate(time.Microsecond), first)
	assert.Equal(t, first.Add(time.Microsecond), second)
}

func TestMonotonicConcurrent(t *testing.T) {
	m := NewMonotonic(nil)
	const n = 200

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := m.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
}

func TestAfterIsStrictlyLater(t *testing.T) {
	m := NewMonotonic(Fixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, m.After(future).After(future))
	assert.Equal(t, "UTC", m.Now().Location().String())
}
