package collector

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/glasskit/perfmon/internal/model"
)

const (
	// rssWindow is how many process memory readings feed the leak signal
	rssWindow = 5

	// smoothing weight for the tick-rate and duration averages
	alpha = 0.3
)

// Collector produces metrics snapshots for a headless host. Tick rate
// stands in for frame rate, the measured collection duration for render
// time, and the goroutine count for component count.
type Collector struct {
	logger *zap.Logger
	proc   *process.Process

	mu           sync.Mutex
	lastTick     time.Time
	tickRate     float64
	renderTimeMs float64
	rssHistory   []float64
}

// New creates a collector bound to the current process
func New(logger *zap.Logger) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open current process: %w", err)
	}

	return &Collector{
		logger: logger.Named("collector"),
		proc:   proc,
	}, nil
}

// Collect gathers one snapshot. The first call has no tick rate yet; that
// field is left absent rather than reported as zero.
func (c *Collector) Collect(ctx context.Context) (*model.Snapshot, error) {
	started := time.Now()

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}

	procMem, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get process memory: %w", err)
	}

	goroutines := float64(runtime.NumGoroutine())
	elapsed := float64(time.Since(started).Microseconds()) / 1000.0

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.renderTimeMs == 0 {
		c.renderTimeMs = elapsed
	} else {
		c.renderTimeMs = alpha*elapsed + (1-alpha)*c.renderTimeMs
	}

	if !c.lastTick.IsZero() {
		if interval := started.Sub(c.lastTick).Seconds(); interval > 0 {
			rate := 1 / interval
			if c.tickRate == 0 {
				c.tickRate = rate
			} else {
				c.tickRate = alpha*rate + (1-alpha)*c.tickRate
			}
		}
	}
	c.lastTick = started

	c.rssHistory = append(c.rssHistory, float64(procMem.RSS))
	if len(c.rssHistory) > rssWindow {
		c.rssHistory = c.rssHistory[len(c.rssHistory)-rssWindow:]
	}

	renderTime := c.renderTimeMs
	snap := &model.Snapshot{
		Timestamp: started,
		MemoryUsage: &model.MemoryUsage{
			Percentage: memInfo.UsedPercent,
			UsedBytes:  memInfo.Used,
			TotalBytes: memInfo.Total,
		},
		ComponentCount:    &goroutines,
		AverageRenderTime: &renderTime,
	}
	if c.tickRate > 0 {
		rate := c.tickRate
		snap.FrameRate = &rate
	}

	if trend, increase := memoryTrend(c.rssHistory); trend != "" {
		snap.MemoryTrend = trend
		if trend == model.MemoryTrendIncreasing {
			snap.MemoryIncrease = &increase
		}
	}

	c.logger.Debug("Snapshot collected",
		zap.Float64("memory_percent", memInfo.UsedPercent),
		zap.Float64("goroutines", goroutines),
		zap.Float64("render_time_ms", renderTime))

	return snap, nil
}

// memoryTrend classifies the recent process memory readings. Returns an
// empty trend until the window is full.
func memoryTrend(history []float64) (string, float64) {
	if len(history) < rssWindow {
		return "", 0
	}
	delta := history[len(history)-1] - history[0]
	if delta > 0 {
		return model.MemoryTrendIncreasing, delta
	}
	if delta < 0 {
		return "decreasing", 0
	}
	return "stable", 0
}
