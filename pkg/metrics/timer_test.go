package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimerStartsNearNow(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())
	assert.Less(t, time.Since(timer.start), time.Second)
}

func TestTimerDurationTracksElapsedTime(t *testing.T) {
	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	duration := timer.Duration()
	assert.GreaterOrEqual(t, duration, 50*time.Millisecond)
	assert.Less(t, duration, time.Second)
}

func TestTimerDurationIsMonotonicallyIncreasing(t *testing.T) {
	timer := NewTimer()

	var last time.Duration
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		d := timer.Duration()
		assert.Greater(t, d, last)
		last = d
	}
}

func TestMultipleTimersTrackIndependently(t *testing.T) {
	first := NewTimer()
	time.Sleep(50 * time.Millisecond)
	second := NewTimer()
	time.Sleep(50 * time.Millisecond)

	assert.Greater(t, first.Duration(), second.Duration())
}

func TestTimerObserveDurationRecordsToHistogram(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVecRecordsToHistogramVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_duration_vec_seconds",
			Help:    "Test duration histogram vec",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(histogramVec, "test_operation")

	assert.Equal(t, 1, testutil.CollectAndCount(histogramVec, "test_duration_vec_seconds"))
}
