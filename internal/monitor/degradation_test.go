package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glasskit/perfmon/internal/model"
)

func newTestDetector(t *testing.T) *DegradationDetector {
	t.Helper()
	return NewDegradationDetector(zap.NewNop(), DefaultDetectorConfig())
}

// feedSamples pushes values one second apart starting at start
func feedSamples(d *DegradationDetector, metric string, start time.Time, values ...float64) {
	for i, v := range values {
		d.AddSample(metric, v, start.Add(time.Duration(i)*time.Second))
	}
}

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestDegradationDetector_MinSamples(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	// One short of the minimum: no report
	feedSamples(detector, model.MetricRenderTime, start, repeat(10, 9)...)
	require.Nil(t, detector.DetectDegradation(model.MetricRenderTime))
	require.Nil(t, detector.Baseline(model.MetricRenderTime))

	// The tenth sample makes a report available
	detector.AddSample(model.MetricRenderTime, 10, start.Add(9*time.Second))
	require.NotNil(t, detector.DetectDegradation(model.MetricRenderTime))
	require.NotNil(t, detector.Baseline(model.MetricRenderTime))
}

func TestDegradationDetector_BaselineFrozen(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	feedSamples(detector, model.MetricRenderTime, start, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	baseline := detector.Baseline(model.MetricRenderTime)
	require.NotNil(t, baseline)
	require.InDelta(t, 5.5, baseline.Mean, 1e-9)
	require.InDelta(t, 5.5, baseline.Median, 1e-9)

	// Later samples, however extreme, never move the baseline
	feedSamples(detector, model.MetricRenderTime, start.Add(10*time.Second),
		repeat(1000, 20)...)
	after := detector.Baseline(model.MetricRenderTime)
	require.Equal(t, baseline.Mean, after.Mean)
	require.Equal(t, baseline.Median, after.Median)
	require.Equal(t, baseline.P95, after.P95)
	require.Equal(t, baseline.Timestamp, after.Timestamp)
}

func TestDegradationDetector_FrameRateSignConvention(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	// Baseline at 60 fps, recent behavior at 40 fps. Lower frame rate is
	// worse, so the drop reads as positive degradation.
	feedSamples(detector, model.MetricFrameRate, start, repeat(60, 10)...)
	feedSamples(detector, model.MetricFrameRate, start.Add(10*time.Second), repeat(40, 10)...)

	report := detector.DetectDegradation(model.MetricFrameRate)
	require.NotNil(t, report)
	require.InDelta(t, (60.0-40.0)/60.0, report.Percent, 1e-9)
	require.True(t, report.IsDegraded)
	require.Equal(t, model.DegradationHigh, report.Severity)
	require.InDelta(t, 60, report.BaselineValue, 1e-9)
	require.InDelta(t, 40, report.CurrentValue, 1e-9)
}

func TestDegradationDetector_RenderTimeDegradation(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	// Baseline at 10 ms, recent at 16 ms: 60% worse, critical bucket
	feedSamples(detector, model.MetricRenderTime, start, repeat(10, 10)...)
	feedSamples(detector, model.MetricRenderTime, start.Add(10*time.Second), repeat(16, 10)...)

	report := detector.DetectDegradation(model.MetricRenderTime)
	require.NotNil(t, report)
	require.InDelta(t, 0.6, report.Percent, 1e-9)
	require.True(t, report.IsDegraded)
	require.Equal(t, model.DegradationCritical, report.Severity)
}

func TestDegradationDetector_NotDegradedWithinThreshold(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	// 10% above baseline stays under the 15% default threshold
	feedSamples(detector, model.MetricRenderTime, start, repeat(10, 10)...)
	feedSamples(detector, model.MetricRenderTime, start.Add(10*time.Second), repeat(11, 10)...)

	report := detector.DetectDegradation(model.MetricRenderTime)
	require.NotNil(t, report)
	require.False(t, report.IsDegraded)
	require.Equal(t, model.DegradationLow, report.Severity)
}

func TestDegradationDetector_SeverityBuckets(t *testing.T) {
	cases := []struct {
		percent  float64
		severity model.DegradationSeverity
	}{
		{0.05, model.DegradationLow},
		{0.15, model.DegradationMedium},
		{0.29, model.DegradationMedium},
		{0.30, model.DegradationHigh},
		{0.49, model.DegradationHigh},
		{0.50, model.DegradationCritical},
		{0.90, model.DegradationCritical},
	}
	for _, tc := range cases {
		require.Equal(t, tc.severity, degradationSeverity(tc.percent),
			"percent %v", tc.percent)
	}
}

func TestDegradationDetector_TrendDirection(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	// Steadily rising render time degrades
	feedSamples(detector, model.MetricRenderTime, start,
		10, 11, 12, 13, 14, 15, 16, 17, 18, 19)
	trend := detector.Trend(model.MetricRenderTime)
	require.NotNil(t, trend)
	require.Equal(t, model.TrendDegrading, trend.Direction)
	require.Greater(t, trend.Slope, 0.0)
	require.Greater(t, trend.Confidence, 0.0)
	require.LessOrEqual(t, trend.Confidence, 1.0)

	// Steadily rising frame rate improves (inverted semantics)
	feedSamples(detector, model.MetricFrameRate, start,
		30, 32, 34, 36, 38, 40, 42, 44, 46, 48)
	trend = detector.Trend(model.MetricFrameRate)
	require.NotNil(t, trend)
	require.Equal(t, model.TrendImproving, trend.Direction)

	// Flat values are stable
	feedSamples(detector, model.MetricMemoryUsage, start, repeat(50, 10)...)
	trend = detector.Trend(model.MetricMemoryUsage)
	require.NotNil(t, trend)
	require.Equal(t, model.TrendStable, trend.Direction)
}

func TestDegradationDetector_WindowEviction(t *testing.T) {
	detector := NewDegradationDetector(zap.NewNop(), DetectorConfig{
		WindowSize: 10,
		MinSamples: 5,
	})
	start := time.Now()

	feedSamples(detector, model.MetricRenderTime, start, repeat(10, 30)...)
	stats := detector.Statistics()
	require.Equal(t, 10, stats.Metrics[model.MetricRenderTime].SampleCount)
}

func TestDegradationDetector_AllReports(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	feedSamples(detector, model.MetricRenderTime, start, repeat(10, 10)...)
	feedSamples(detector, model.MetricFrameRate, start, repeat(60, 3)...) // below minimum

	reports := detector.AllReports()
	require.Contains(t, reports, model.MetricRenderTime)
	require.NotContains(t, reports, model.MetricFrameRate)
}

func TestDegradationDetector_Reset(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	feedSamples(detector, model.MetricRenderTime, start, repeat(10, 10)...)
	require.NotNil(t, detector.Baseline(model.MetricRenderTime))

	detector.Reset()
	require.Nil(t, detector.Baseline(model.MetricRenderTime))
	require.Nil(t, detector.Trend(model.MetricRenderTime))
	require.Nil(t, detector.DetectDegradation(model.MetricRenderTime))
	require.Zero(t, detector.Statistics().TotalSamples)

	// A fresh baseline forms from post-reset samples
	feedSamples(detector, model.MetricRenderTime, start.Add(time.Minute), repeat(20, 10)...)
	baseline := detector.Baseline(model.MetricRenderTime)
	require.NotNil(t, baseline)
	require.InDelta(t, 20, baseline.Mean, 1e-9)
}

func TestDegradationDetector_Statistics(t *testing.T) {
	detector := newTestDetector(t)
	start := time.Now()

	feedSamples(detector, model.MetricRenderTime, start, repeat(10, 12)...)
	feedSamples(detector, model.MetricFrameRate, start, repeat(60, 4)...)

	stats := detector.Statistics()
	require.Equal(t, 16, stats.TotalSamples)
	require.Equal(t, 12, stats.Metrics[model.MetricRenderTime].SampleCount)
	require.True(t, stats.Metrics[model.MetricRenderTime].HasBaseline)
	require.Equal(t, 4, stats.Metrics[model.MetricFrameRate].SampleCount)
	require.False(t, stats.Metrics[model.MetricFrameRate].HasBaseline)
}
