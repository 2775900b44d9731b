package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls []time.Time
	n     int
	err   error
}

func (f *fakeRefresher) RefreshOverdueStates(_ context.Context, asOf time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, asOf)
	return f.n, f.err
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestOverdueScheduler_RunNow(t *testing.T) {
	// GIVEN: A scheduler whose clock reads mid-morning
	// WHEN: Sweeping on demand
	// THEN: The sweep runs as of the start of that day
	ref := &fakeRefresher{n: 3}
	s := NewOverdueScheduler(ref, nil)
	s.Now = func() time.Time { return time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC) }

	assert.Equal(t, 3, s.RunNow())
	require.Len(t, ref.calls, 1)
	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), ref.calls[0])
}

func TestOverdueScheduler_RunNow_Error(t *testing.T) {
	ref := &fakeRefresher{n: 5, err: errors.New("db down")}
	s := NewOverdueScheduler(ref, nil)

	assert.Equal(t, 0, s.RunNow())
}

func TestOverdueScheduler_StartStop(t *testing.T) {
	ref := &fakeRefresher{}
	s := NewOverdueScheduler(ref, nil)
	s.CheckInterval = 10 * time.Millisecond

	s.Start()
	// Starting twice is a no-op
	s.Start()

	assert.Eventually(t, func() bool { return ref.count() >= 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	after := ref.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ref.count())

	// Stopping twice is a no-op
	s.Stop()
}

func TestOverdueScheduler_Disabled(t *testing.T) {
	ref := &fakeRefresher{}
	s := NewOverdueScheduler(ref, nil)
	s.Enabled = false

	s.Start()
	s.Stop()
	assert.Equal(t, 0, ref.count())
}

func TestOverdueScheduler_GetNextRunTime(t *testing.T) {
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	s := NewOverdueScheduler(&fakeRefresher{}, nil)
	s.Now = func() time.Time { return now }
	s.CheckInterval = 15 * time.Minute

	assert.Equal(t, now.Add(15*time.Minute), s.GetNextRunTime())
}
