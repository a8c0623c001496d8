package monitor

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glasskit/perfmon/internal/model"
)

// DetectorConfig holds the degradation detector configuration
type DetectorConfig struct {
	// WindowSize is the number of samples retained per metric
	WindowSize int

	// DegradationThreshold is the fractional delta against baseline above
	// which a metric is considered degraded
	DegradationThreshold float64

	// MinSamples is the minimum window size before baseline and reports
	// become available
	MinSamples int

	// SmoothingFactor is the EWMA weight given to each new sample
	SmoothingFactor float64
}

// DefaultDetectorConfig returns the stock detector configuration
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		WindowSize:           50,
		DegradationThreshold: 0.15,
		MinSamples:           10,
		SmoothingFactor:      0.3,
	}
}

// DetectorStatistics summarizes detector state per metric
type DetectorStatistics struct {
	TotalSamples int                        `json:"total_samples"`
	Metrics      map[string]MetricStatistic `json:"metrics"`
}

// MetricStatistic is the per-metric portion of DetectorStatistics
type MetricStatistic struct {
	SampleCount int                  `json:"sample_count"`
	HasBaseline bool                 `json:"has_baseline"`
	Direction   model.TrendDirection `json:"direction,omitempty"`
}

// DegradationDetector tracks per-metric sample windows, freezes a
// known-good baseline once enough samples arrive, and scores recent
// behavior against it. Independent of the alert manager; both may be fed
// from the same metric stream. Safe for concurrent use.
type DegradationDetector struct {
	logger *zap.Logger
	cfg    DetectorConfig

	mu        sync.RWMutex
	windows   map[string][]model.Sample
	baselines map[string]*model.Baseline
	trends    map[string]*model.Trend
}

// NewDegradationDetector creates a detector. Zero config fields are
// filled from DefaultDetectorConfig.
func NewDegradationDetector(logger *zap.Logger, cfg DetectorConfig) *DegradationDetector {
	def := DefaultDetectorConfig()
	if cfg.WindowSize == 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.DegradationThreshold == 0 {
		cfg.DegradationThreshold = def.DegradationThreshold
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.SmoothingFactor == 0 {
		cfg.SmoothingFactor = def.SmoothingFactor
	}

	return &DegradationDetector{
		logger:    logger.Named("degradation-detector"),
		cfg:       cfg,
		windows:   make(map[string][]model.Sample),
		baselines: make(map[string]*model.Baseline),
		trends:    make(map[string]*model.Trend),
	}
}

// AddSample appends one observation to the metric's window, freezing the
// baseline when the window first reaches the minimum size and recomputing
// the trend. A zero timestamp defaults to the current time.
func (d *DegradationDetector) AddSample(metric string, value float64, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	window := append(d.windows[metric], model.Sample{Value: value, Timestamp: ts})
	if len(window) > d.cfg.WindowSize {
		window = window[len(window)-d.cfg.WindowSize:]
	}
	d.windows[metric] = window

	if _, ok := d.baselines[metric]; !ok && len(window) >= d.cfg.MinSamples {
		d.baselines[metric] = d.computeBaseline(window, ts)
		d.logger.Info("Baseline established",
			zap.String("metric", metric),
			zap.Float64("mean", d.baselines[metric].Mean),
			zap.Int("samples", len(window)))
	}

	d.trends[metric] = d.computeTrend(metric, window)
}

// computeBaseline freezes the reference statistic over the earliest 20%
// of the window, or MinSamples entries, whichever is larger
func (d *DegradationDetector) computeBaseline(window []model.Sample, ts time.Time) *model.Baseline {
	n := int(math.Ceil(float64(len(window)) * 0.2))
	if n < d.cfg.MinSamples {
		n = d.cfg.MinSamples
	}
	if n > len(window) {
		n = len(window)
	}

	values := make([]float64, n)
	for i := 0; i < n; i++ {
		values[i] = window[i].Value
	}

	return &model.Baseline{
		Mean:      mean(values),
		Median:    median(values),
		P95:       percentile(values, 95),
		Timestamp: ts,
	}
}

// computeTrend recomputes the trend over the most recent samples
func (d *DegradationDetector) computeTrend(metric string, window []model.Sample) *model.Trend {
	start := 0
	if len(window) > trendWindow {
		start = len(window) - trendWindow
	}
	values := make([]float64, len(window)-start)
	for i := range values {
		values[i] = window[start+i].Value
	}

	s := slope(values)
	sd := stddev(values)
	if sd == 0 {
		sd = 1
	}
	confidence := math.Abs(s) / sd / 2
	if confidence > 1 {
		confidence = 1
	}

	direction := model.TrendStable
	if math.Abs(s) > stableSlopeEpsilon {
		// Rising values degrade high-direction metrics; frame rate is the
		// opposite, a rising frame rate is an improvement.
		rising := s > 0
		if metric == model.MetricFrameRate {
			rising = !rising
		}
		if rising {
			direction = model.TrendDegrading
		} else {
			direction = model.TrendImproving
		}
	}

	return &model.Trend{
		Smoothed:   ewma(values, d.cfg.SmoothingFactor),
		Slope:      s,
		Direction:  direction,
		Confidence: confidence,
	}
}

// DetectDegradation compares the mean of the most recent samples against
// the frozen baseline. Returns nil until the metric has a baseline, a
// trend, and at least MinSamples samples.
func (d *DegradationDetector) DetectDegradation(metric string) *model.DegradationReport {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.detectLocked(metric)
}

func (d *DegradationDetector) detectLocked(metric string) *model.DegradationReport {
	window := d.windows[metric]
	baseline := d.baselines[metric]
	trend := d.trends[metric]
	if baseline == nil || trend == nil || len(window) < d.cfg.MinSamples {
		return nil
	}

	start := 0
	if len(window) > recentWindow {
		start = len(window) - recentWindow
	}
	recent := make([]float64, len(window)-start)
	for i := range recent {
		recent[i] = window[start+i].Value
	}
	current := mean(recent)

	var percent float64
	if baseline.Mean != 0 {
		if metric == model.MetricFrameRate {
			// Lower frame rate is worse, so a drop counts as positive
			// degradation.
			percent = (baseline.Mean - current) / baseline.Mean
		} else {
			percent = (current - baseline.Mean) / baseline.Mean
		}
	}

	return &model.DegradationReport{
		Metric:        metric,
		IsDegraded:    percent > d.cfg.DegradationThreshold,
		Percent:       percent,
		BaselineValue: baseline.Mean,
		CurrentValue:  current,
		Direction:     trend.Direction,
		Confidence:    trend.Confidence,
		Severity:      degradationSeverity(percent),
		Timestamp:     time.Now(),
	}
}

// degradationSeverity buckets a fractional degradation, boundaries
// inclusive on the upper bucket
func degradationSeverity(percent float64) model.DegradationSeverity {
	switch {
	case percent < 0.15:
		return model.DegradationLow
	case percent < 0.30:
		return model.DegradationMedium
	case percent < 0.50:
		return model.DegradationHigh
	default:
		return model.DegradationCritical
	}
}

// AllReports returns a report for every tracked metric that satisfies the
// minimum-sample precondition. Metrics without a report are omitted.
func (d *DegradationDetector) AllReports() map[string]*model.DegradationReport {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]*model.DegradationReport)
	for metric := range d.windows {
		if report := d.detectLocked(metric); report != nil {
			out[metric] = report
		}
	}
	return out
}

// Baseline returns the frozen baseline for a metric, or nil if none exists
func (d *DegradationDetector) Baseline(metric string) *model.Baseline {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.baselines[metric]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// Trend returns the current trend for a metric, or nil if none exists
func (d *DegradationDetector) Trend(metric string) *model.Trend {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.trends[metric]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Reset clears all windows, baselines, and trends. The next samples will
// establish fresh baselines.
func (d *DegradationDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.windows = make(map[string][]model.Sample)
	d.baselines = make(map[string]*model.Baseline)
	d.trends = make(map[string]*model.Trend)
}

// Statistics reports per-metric sample counts, baseline presence, and
// trend direction, plus the total sample count across all metrics
func (d *DegradationDetector) Statistics() DetectorStatistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := DetectorStatistics{
		Metrics: make(map[string]MetricStatistic),
	}
	for metric, window := range d.windows {
		ms := MetricStatistic{
			SampleCount: len(window),
			HasBaseline: d.baselines[metric] != nil,
		}
		if t := d.trends[metric]; t != nil {
			ms.Direction = t.Direction
		}
		stats.Metrics[metric] = ms
		stats.TotalSamples += len(window)
	}
	return stats
}
