package model

import "time"

// Metric names recognized by the default threshold configuration.
const (
	MetricFrameRate      = "frameRate"
	MetricRenderTime     = "renderTime"
	MetricMemoryUsage    = "memoryUsage"
	MetricMemoryLeak     = "memoryLeak"
	MetricComponentCount = "componentCount"
)

// MemoryTrendIncreasing marks a snapshot whose memory readings are rising.
const MemoryTrendIncreasing = "increasing"

// MemoryUsage carries the memory portion of a snapshot
type MemoryUsage struct {
	Percentage float64 `json:"percentage"`
	UsedBytes  uint64  `json:"used_bytes,omitempty"`
	TotalBytes uint64  `json:"total_bytes,omitempty"`
}

// Snapshot is one metrics observation handed to the alert manager.
// Optional fields are pointers; a nil field is absent and is skipped
// during threshold evaluation rather than treated as zero.
type Snapshot struct {
	Timestamp         time.Time    `json:"timestamp"`
	FrameRate         *float64     `json:"frame_rate,omitempty"`
	AverageRenderTime *float64     `json:"average_render_time,omitempty"`
	MemoryUsage       *MemoryUsage `json:"memory_usage,omitempty"`
	ComponentCount    *float64     `json:"component_count,omitempty"`
	MemoryTrend       string       `json:"memory_trend,omitempty"`
	MemoryIncrease    *float64     `json:"memory_increase,omitempty"`
}

// Sample is a single scalar observation for one named metric
type Sample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
