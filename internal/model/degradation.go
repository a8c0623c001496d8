package model

import "time"

// TrendDirection is the qualitative direction of a metric's trend
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDegrading TrendDirection = "degrading"
	TrendStable    TrendDirection = "stable"
)

// DegradationSeverity buckets a degradation percentage
type DegradationSeverity string

const (
	DegradationLow      DegradationSeverity = "low"
	DegradationMedium   DegradationSeverity = "medium"
	DegradationHigh     DegradationSeverity = "high"
	DegradationCritical DegradationSeverity = "critical"
)

// Baseline is the frozen "known good" reference for one metric. It is
// computed once, the first time the sample window reaches the minimum
// size, and never recomputed for the life of the detector.
type Baseline struct {
	Mean      float64   `json:"mean"`
	Median    float64   `json:"median"`
	P95       float64   `json:"p95"`
	Timestamp time.Time `json:"timestamp"`
}

// Trend is the rolling trend for one metric, recomputed on every sample
type Trend struct {
	Smoothed   float64        `json:"smoothed"`
	Slope      float64        `json:"slope"`
	Direction  TrendDirection `json:"direction"`
	Confidence float64        `json:"confidence"`
}

// DegradationReport compares recent behavior against the frozen baseline
type DegradationReport struct {
	Metric        string              `json:"metric"`
	IsDegraded    bool                `json:"is_degraded"`
	Percent       float64             `json:"percent"`
	BaselineValue float64             `json:"baseline_value"`
	CurrentValue  float64             `json:"current_value"`
	Direction     TrendDirection      `json:"direction"`
	Confidence    float64             `json:"confidence"`
	Severity      DegradationSeverity `json:"severity"`
	Timestamp     time.Time           `json:"timestamp"`
}
