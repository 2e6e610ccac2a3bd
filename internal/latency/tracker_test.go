package latency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEmpty(t *testing.T) {
	tr := NewTracker(16)
	st := tr.Snapshot()
	assert.Equal(t, uint64(0), st.Count)
	assert.Equal(t, time.Duration(0), st.Mean)
}

func TestRecordBasicStats(t *testing.T) {
	tr := NewTracker(16)
	for _, ns := range []int64{100, 200, 300, 400} {
		tr.RecordNs(ns)
	}
	st := tr.Snapshot()
	require.Equal(t, uint64(4), st.Count)
	assert.Equal(t, 250*time.Nanosecond, st.Mean)
	assert.Equal(t, 100*time.Nanosecond, st.Min)
	assert.Equal(t, 400*time.Nanosecond, st.Max)
	assert.Equal(t, 200*time.Nanosecond, st.Median)
}

func TestPercentiles(t *testing.T) {
	tr := NewTracker(128)
	for i := int64(1); i <= 100; i++ {
		tr.RecordNs(i)
	}
	st := tr.Snapshot()
	assert.Equal(t, 95*time.Nanosecond, st.P95)
	assert.Equal(t, 99*time.Nanosecond, st.P99)
}

func TestRingOverwrite(t *testing.T) {
	tr := NewTracker(4)
	for i := int64(1); i <= 100; i++ {
		tr.RecordNs(i)
	}
	st := tr.Snapshot()
	// Window stats cover only the retained ring; totals cover everything.
	assert.Equal(t, uint64(100), st.Count)
	assert.Equal(t, 1*time.Nanosecond, st.Min)
	assert.Equal(t, 100*time.Nanosecond, st.Max)
	assert.GreaterOrEqual(t, st.Median, 97*time.Nanosecond)
}

func TestReset(t *testing.T) {
	tr := NewTracker(16)
	tr.RecordNs(500)
	tr.Reset()
	assert.Equal(t, uint64(0), tr.Count())
	st := tr.Snapshot()
	assert.Equal(t, uint64(0), st.Count)
}

func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	tr := NewTracker(100)
	assert.Equal(t, 128, len(tr.samples))
}

func TestConcurrentRecord(t *testing.T) {
	tr := NewTracker(1024)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < 1000; i++ {
				tr.RecordNs(i + 1)
			}
		}()
	}
	wg.Wait()
	st := tr.Snapshot()
	assert.Equal(t, uint64(8000), st.Count)
	assert.Equal(t, 1*time.Nanosecond, st.Min)
	assert.Equal(t, 1000*time.Nanosecond, st.Max)
}
