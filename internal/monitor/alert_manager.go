package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glasskit/perfmon/internal/model"
	"github.com/glasskit/perfmon/internal/storage"
)

// Notifier delivers alert and escalation events to an external channel.
// Delivery failures degrade observability only; they never affect
// detection state.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *model.Alert) error
	NotifyEscalation(ctx context.Context, escalation *model.Escalation) error
}

// Config holds the alert manager configuration. All fields are
// independently overridable; zero values are filled from DefaultConfig.
type Config struct {
	// Thresholds maps metric name to its breach levels
	Thresholds map[string]model.Threshold

	// AlertCooldown is the minimum time between repeated alerts with the
	// same metric+severity identity
	AlertCooldown time.Duration

	// MaxAlerts is an advisory cap on active alerts. It is carried in the
	// configuration but not enforced; no eviction policy exists.
	MaxAlerts int

	EnableNotifications  bool
	EnableConsoleLogging bool
	EnableStorage        bool

	EscalationEnabled   bool
	EscalationThreshold int
	EscalationCooldown  time.Duration
}

// ConfigPatch is a partial configuration applied with UpdateConfig.
// Nil fields leave the current value untouched.
type ConfigPatch struct {
	Thresholds           map[string]model.Threshold
	AlertCooldown        *time.Duration
	MaxAlerts            *int
	EnableNotifications  *bool
	EnableConsoleLogging *bool
	EnableStorage        *bool
	EscalationEnabled    *bool
	EscalationThreshold  *int
	EscalationCooldown   *time.Duration
}

// DefaultConfig returns the stock configuration
func DefaultConfig() Config {
	return Config{
		Thresholds: map[string]model.Threshold{
			model.MetricFrameRate: {
				Warning: 30, Critical: 15, Emergency: 5,
				Direction: model.DirectionLow, Unit: "fps",
			},
			model.MetricRenderTime: {
				Warning: 16, Critical: 33, Emergency: 100,
				Direction: model.DirectionHigh, Unit: "ms",
			},
			model.MetricMemoryUsage: {
				Warning: 70, Critical: 85, Emergency: 95,
				Direction: model.DirectionHigh, Unit: "%",
			},
			model.MetricMemoryLeak: {
				Warning: 10 << 20, Critical: 50 << 20, Emergency: 100 << 20,
				Direction: model.DirectionHigh, Unit: "bytes",
			},
			model.MetricComponentCount: {
				Warning: 1000, Critical: 2000, Emergency: 5000,
				Direction: model.DirectionHigh, Unit: "components",
			},
		},
		AlertCooldown:        30 * time.Second,
		MaxAlerts:            10,
		EnableNotifications:  true,
		EnableConsoleLogging: true,
		EnableStorage:        true,
		EscalationEnabled:    true,
		EscalationThreshold:  3,
		EscalationCooldown:   5 * time.Minute,
	}
}

// Statistics summarizes the alert manager state
type Statistics struct {
	ActiveCount     int                    `json:"active_count"`
	TotalCount      int                    `json:"total_count"`
	Last24Hours     int                    `json:"last_24_hours"`
	LastHour        int                    `json:"last_hour"`
	BySeverity      map[model.Severity]int `json:"by_severity"`
	ByMetric        map[string]int         `json:"by_metric"`
	EscalationCount int                    `json:"escalation_count"`
	LastEscalation  *time.Time             `json:"last_escalation,omitempty"`
}

// AlertManager compares metrics snapshots against configured thresholds
// and emits alert, resolution, and escalation events with cooldown and
// deduplication. Safe for concurrent use.
type AlertManager struct {
	logger   *zap.Logger
	store    storage.Store
	notifier Notifier

	mu              sync.RWMutex
	cfg             Config
	active          map[string]*model.Alert // keyed by metric name
	lastFired       map[string]time.Time    // keyed by metric:severity
	history         []model.Alert
	escalations     []model.Escalation
	escalationCount int
	lastEscalation  time.Time

	nextHandlerID  int
	alertHandlers  map[int]func(*model.Alert)
	resolutionSubs map[int]func(*model.Alert)
	escalationSubs map[int]func(*model.Escalation)
}

// NewAlertManager creates an alert manager. store and notifier may be nil,
// which disables the corresponding side effect regardless of configuration.
func NewAlertManager(logger *zap.Logger, cfg Config, store storage.Store, notifier Notifier) *AlertManager {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultConfig().Thresholds
	}
	if cfg.AlertCooldown == 0 {
		cfg.AlertCooldown = DefaultConfig().AlertCooldown
	}
	if cfg.EscalationThreshold == 0 {
		cfg.EscalationThreshold = DefaultConfig().EscalationThreshold
	}
	if cfg.EscalationCooldown == 0 {
		cfg.EscalationCooldown = DefaultConfig().EscalationCooldown
	}
	if cfg.MaxAlerts == 0 {
		cfg.MaxAlerts = DefaultConfig().MaxAlerts
	}

	return &AlertManager{
		logger:         logger.Named("alert-manager"),
		store:          store,
		notifier:       notifier,
		cfg:            cfg,
		active:         make(map[string]*model.Alert),
		lastFired:      make(map[string]time.Time),
		alertHandlers:  make(map[int]func(*model.Alert)),
		resolutionSubs: make(map[int]func(*model.Alert)),
		escalationSubs: make(map[int]func(*model.Escalation)),
	}
}

// presentMetric is one metric extracted from a snapshot
type presentMetric struct {
	name  string
	value float64
}

// extractMetrics lists the metrics present in the snapshot. Absent fields
// are skipped entirely, never assumed zero.
func extractMetrics(snap *model.Snapshot) []presentMetric {
	var out []presentMetric
	if snap.FrameRate != nil {
		out = append(out, presentMetric{model.MetricFrameRate, *snap.FrameRate})
	}
	if snap.AverageRenderTime != nil {
		out = append(out, presentMetric{model.MetricRenderTime, *snap.AverageRenderTime})
	}
	if snap.MemoryUsage != nil {
		out = append(out, presentMetric{model.MetricMemoryUsage, snap.MemoryUsage.Percentage})
	}
	if snap.ComponentCount != nil {
		out = append(out, presentMetric{model.MetricComponentCount, *snap.ComponentCount})
	}
	if snap.MemoryTrend == model.MemoryTrendIncreasing && snap.MemoryIncrease != nil {
		out = append(out, presentMetric{model.MetricMemoryLeak, *snap.MemoryIncrease})
	}
	return out
}

// evaluate returns the most severe threshold level breached by value, or
// ("", 0, false) when no level is breached. Boundaries are inclusive.
func evaluate(value float64, th model.Threshold) (model.Severity, float64, bool) {
	if th.Direction == model.DirectionLow {
		switch {
		case value <= th.Emergency:
			return model.SeverityEmergency, th.Emergency, true
		case value <= th.Critical:
			return model.SeverityCritical, th.Critical, true
		case value <= th.Warning:
			return model.SeverityWarning, th.Warning, true
		}
		return "", 0, false
	}
	switch {
	case value >= th.Emergency:
		return model.SeverityEmergency, th.Emergency, true
	case value >= th.Critical:
		return model.SeverityCritical, th.Critical, true
	case value >= th.Warning:
		return model.SeverityWarning, th.Warning, true
	}
	return "", 0, false
}

// alertMessage builds the human-readable message for a breach
func alertMessage(metric string, value, threshold float64, unit string) string {
	switch metric {
	case model.MetricFrameRate:
		return fmt.Sprintf("Frame rate dropped to %.1f fps (threshold %.1f)", value, threshold)
	case model.MetricRenderTime:
		return fmt.Sprintf("Average render time reached %.1f ms (threshold %.1f)", value, threshold)
	case model.MetricMemoryUsage:
		return fmt.Sprintf("Memory usage reached %.1f%% (threshold %.1f%%)", value, threshold)
	case model.MetricMemoryLeak:
		return fmt.Sprintf("Memory grew by %.1f MB while trending up (threshold %.1f MB)",
			value/(1<<20), threshold/(1<<20))
	case model.MetricComponentCount:
		return fmt.Sprintf("Component count reached %.0f (threshold %.0f)", value, threshold)
	}
	return fmt.Sprintf("%s reached %.2f %s (threshold %.2f)", metric, value, unit, threshold)
}

// CheckMetrics evaluates a snapshot against the configured thresholds and
// returns the alerts generated during this call. Resolution, escalation,
// logging, notification, and persistence side effects run before the call
// returns; subscriber callbacks are isolated from each other.
func (m *AlertManager) CheckMetrics(ctx context.Context, snap *model.Snapshot) []*model.Alert {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	m.mu.Lock()
	cfg := m.cfg

	var fired []model.Alert
	var resolved []model.Alert

	for _, pm := range extractMetrics(snap) {
		th, ok := cfg.Thresholds[pm.name]
		if !ok {
			// No thresholds configured for this metric
			continue
		}

		severity, breached, isBreach := evaluate(pm.value, th)
		if !isBreach {
			if existing, ok := m.active[pm.name]; ok {
				r := *existing
				resolvedAt := ts
				r.ResolvedAt = &resolvedAt
				delete(m.active, pm.name)
				m.appendHistory(r)
				resolved = append(resolved, r)
			}
			continue
		}

		key := pm.name + ":" + string(severity)
		if last, ok := m.lastFired[key]; ok && ts.Sub(last) < cfg.AlertCooldown {
			continue
		}

		existing, hasActive := m.active[pm.name]
		if hasActive && existing.Severity == severity {
			continue
		}

		alert := &model.Alert{
			ID:        uuid.New().String(),
			Metric:    pm.name,
			Severity:  severity,
			Value:     pm.value,
			Threshold: breached,
			Unit:      th.Unit,
			Direction: th.Direction,
			Message:   alertMessage(pm.name, pm.value, breached, th.Unit),
			CreatedAt: ts,
		}
		m.active[pm.name] = alert
		m.lastFired[key] = ts
		m.appendHistory(*alert)
		fired = append(fired, *alert)
	}

	escalation := m.checkEscalation(ts)
	m.mu.Unlock()

	for i := range resolved {
		m.dispatchResolution(&resolved[i])
	}

	out := make([]*model.Alert, 0, len(fired))
	for i := range fired {
		alert := &fired[i]
		if cfg.EnableConsoleLogging {
			m.logger.Warn("Alert created",
				zap.String("metric", alert.Metric),
				zap.String("severity", string(alert.Severity)),
				zap.Float64("value", alert.Value),
				zap.Float64("threshold", alert.Threshold))
		}
		m.dispatchAlert(alert)
		if cfg.EnableNotifications && m.notifier != nil {
			if err := m.notifier.NotifyAlert(ctx, alert); err != nil {
				m.logger.Warn("Failed to deliver alert notification", zap.Error(err))
			}
		}
		out = append(out, alert)
	}

	if len(fired) > 0 && cfg.EnableStorage {
		m.persistAlerts(ctx, fired)
	}

	if escalation != nil {
		m.handleEscalation(ctx, cfg, escalation)
	}

	return out
}

// appendHistory appends a copy of the alert to the bounded history log.
// Caller must hold the lock.
func (m *AlertManager) appendHistory(a model.Alert) {
	m.history = append(m.history, a)
	if len(m.history) > maxHistoryEntries {
		m.history = m.history[len(m.history)-maxHistoryEntries:]
	}
}

// checkEscalation emits an escalation when enough critical/emergency
// alerts are simultaneously active and the escalation cooldown has
// elapsed. Caller must hold the lock.
func (m *AlertManager) checkEscalation(ts time.Time) *model.Escalation {
	if !m.cfg.EscalationEnabled {
		return nil
	}

	var severe []model.Alert
	for _, a := range m.active {
		if a.Severity == model.SeverityCritical || a.Severity == model.SeverityEmergency {
			severe = append(severe, *a)
		}
	}
	if len(severe) < m.cfg.EscalationThreshold {
		return nil
	}
	if !m.lastEscalation.IsZero() && ts.Sub(m.lastEscalation) < m.cfg.EscalationCooldown {
		return nil
	}

	m.escalationCount++
	m.lastEscalation = ts
	escalation := model.Escalation{
		ID:        uuid.New().String(),
		Count:     m.escalationCount,
		Alerts:    severe,
		CreatedAt: ts,
	}

	m.escalations = append(m.escalations, escalation)
	if len(m.escalations) > maxStoredEscalations {
		m.escalations = m.escalations[len(m.escalations)-maxStoredEscalations:]
	}

	return &escalation
}

// handleEscalation runs the escalation side effects outside the lock
func (m *AlertManager) handleEscalation(ctx context.Context, cfg Config, escalation *model.Escalation) {
	if cfg.EnableConsoleLogging {
		m.logger.Error("Alert escalation triggered",
			zap.Int("count", escalation.Count),
			zap.Int("severe_alerts", len(escalation.Alerts)))
	}

	m.mu.RLock()
	subs := make([]func(*model.Escalation), 0, len(m.escalationSubs))
	for _, fn := range m.escalationSubs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		m.safeCallEscalation(fn, escalation)
	}

	if cfg.EnableNotifications && m.notifier != nil {
		if err := m.notifier.NotifyEscalation(ctx, escalation); err != nil {
			m.logger.Warn("Failed to deliver escalation notification", zap.Error(err))
		}
	}

	if cfg.EnableStorage {
		m.persistEscalation(ctx, *escalation)
	}
}

// dispatchAlert invokes every alert subscriber, isolating panics
func (m *AlertManager) dispatchAlert(alert *model.Alert) {
	m.mu.RLock()
	subs := make([]func(*model.Alert), 0, len(m.alertHandlers))
	for _, fn := range m.alertHandlers {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		m.safeCallAlert(fn, alert)
	}
}

// dispatchResolution invokes every resolution subscriber, isolating panics
func (m *AlertManager) dispatchResolution(alert *model.Alert) {
	m.mu.RLock()
	subs := make([]func(*model.Alert), 0, len(m.resolutionSubs))
	for _, fn := range m.resolutionSubs {
		subs = append(subs, fn)
	}
	logEnabled := m.cfg.EnableConsoleLogging
	m.mu.RUnlock()

	if logEnabled {
		m.logger.Info("Alert resolved",
			zap.String("metric", alert.Metric),
			zap.String("severity", string(alert.Severity)))
	}

	for _, fn := range subs {
		m.safeCallAlert(fn, alert)
	}
}

// safeCallAlert invokes one subscriber; a panic is logged, not propagated
func (m *AlertManager) safeCallAlert(fn func(*model.Alert), alert *model.Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Alert subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(alert)
}

func (m *AlertManager) safeCallEscalation(fn func(*model.Escalation), escalation *model.Escalation) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Escalation subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(escalation)
}

// OnAlert registers a callback for new alerts and returns an idempotent
// unregister function
func (m *AlertManager) OnAlert(fn func(*model.Alert)) func() {
	return m.register(m.alertHandlers, fn)
}

// OnResolution registers a callback for alert resolutions and returns an
// idempotent unregister function
func (m *AlertManager) OnResolution(fn func(*model.Alert)) func() {
	return m.register(m.resolutionSubs, fn)
}

// OnEscalation registers a callback for escalations and returns an
// idempotent unregister function
func (m *AlertManager) OnEscalation(fn func(*model.Escalation)) func() {
	m.mu.Lock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.escalationSubs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.escalationSubs, id)
		m.mu.Unlock()
	}
}

func (m *AlertManager) register(registry map[int]func(*model.Alert), fn func(*model.Alert)) func() {
	m.mu.Lock()
	id := m.nextHandlerID
	m.nextHandlerID++
	registry[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(registry, id)
		m.mu.Unlock()
	}
}

// ActiveAlerts returns copies of all currently active alerts
func (m *AlertManager) ActiveAlerts() []*model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Alert, 0, len(m.active))
	for _, a := range m.active {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// History returns the most recent limit history entries, newest last.
// A non-positive limit returns the full history.
func (m *AlertManager) History(limit int) []model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	out := make([]model.Alert, len(m.history)-start)
	copy(out, m.history[start:])
	return out
}

// Statistics computes summary counts over the current state and history
func (m *AlertManager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := Statistics{
		ActiveCount:     len(m.active),
		TotalCount:      len(m.history),
		BySeverity:      make(map[model.Severity]int),
		ByMetric:        make(map[string]int),
		EscalationCount: m.escalationCount,
	}
	if !m.lastEscalation.IsZero() {
		last := m.lastEscalation
		stats.LastEscalation = &last
	}

	for _, a := range m.history {
		age := now.Sub(a.CreatedAt)
		if age <= 24*time.Hour {
			stats.Last24Hours++
			stats.BySeverity[a.Severity]++
			stats.ByMetric[a.Metric]++
		}
		if age <= time.Hour {
			stats.LastHour++
		}
	}
	return stats
}

// ClearAlerts resets all in-memory alert state. Persisted records are
// left untouched.
func (m *AlertManager) ClearAlerts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = make(map[string]*model.Alert)
	m.lastFired = make(map[string]time.Time)
	m.history = nil
	m.escalations = nil
	m.escalationCount = 0
	m.lastEscalation = time.Time{}
}

// UpdateConfig applies a partial configuration. Only non-nil patch fields
// replace the current values.
func (m *AlertManager) UpdateConfig(patch ConfigPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if patch.Thresholds != nil {
		m.cfg.Thresholds = patch.Thresholds
	}
	if patch.AlertCooldown != nil {
		m.cfg.AlertCooldown = *patch.AlertCooldown
	}
	if patch.MaxAlerts != nil {
		m.cfg.MaxAlerts = *patch.MaxAlerts
	}
	if patch.EnableNotifications != nil {
		m.cfg.EnableNotifications = *patch.EnableNotifications
	}
	if patch.EnableConsoleLogging != nil {
		m.cfg.EnableConsoleLogging = *patch.EnableConsoleLogging
	}
	if patch.EnableStorage != nil {
		m.cfg.EnableStorage = *patch.EnableStorage
	}
	if patch.EscalationEnabled != nil {
		m.cfg.EscalationEnabled = *patch.EscalationEnabled
	}
	if patch.EscalationThreshold != nil {
		m.cfg.EscalationThreshold = *patch.EscalationThreshold
	}
	if patch.EscalationCooldown != nil {
		m.cfg.EscalationCooldown = *patch.EscalationCooldown
	}
}

// persistAlerts appends records to the bounded stored alert list.
// Storage failures degrade observability only and are logged as warnings.
func (m *AlertManager) persistAlerts(ctx context.Context, records []model.Alert) {
	if m.store == nil {
		return
	}
	stored := m.loadStoredAlerts(ctx)
	stored = append(stored, records...)
	if len(stored) > maxStoredAlerts {
		stored = stored[len(stored)-maxStoredAlerts:]
	}
	data, err := json.Marshal(stored)
	if err != nil {
		m.logger.Warn("Failed to marshal stored alerts", zap.Error(err))
		return
	}
	if err := m.store.Set(ctx, storageKeyAlerts, data); err != nil {
		m.logger.Warn("Failed to persist alerts", zap.Error(err))
	}
}

// loadStoredAlerts reads the persisted alert list, skipping malformed
// entries. Any failure yields an empty list.
func (m *AlertManager) loadStoredAlerts(ctx context.Context) []model.Alert {
	data, err := m.store.Get(ctx, storageKeyAlerts)
	if err != nil {
		if err != storage.ErrNotFound {
			m.logger.Warn("Failed to read stored alerts", zap.Error(err))
		}
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		m.logger.Warn("Stored alert list is malformed, discarding", zap.Error(err))
		return nil
	}

	out := make([]model.Alert, 0, len(raw))
	for _, entry := range raw {
		var a model.Alert
		if err := json.Unmarshal(entry, &a); err != nil {
			m.logger.Warn("Skipping malformed stored alert", zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out
}

// persistEscalation appends one record to the bounded stored escalation list
func (m *AlertManager) persistEscalation(ctx context.Context, record model.Escalation) {
	if m.store == nil {
		return
	}

	var stored []model.Escalation
	if data, err := m.store.Get(ctx, storageKeyEscalations); err == nil {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			m.logger.Warn("Stored escalation list is malformed, discarding", zap.Error(err))
		} else {
			for _, entry := range raw {
				var e model.Escalation
				if err := json.Unmarshal(entry, &e); err != nil {
					m.logger.Warn("Skipping malformed stored escalation", zap.Error(err))
					continue
				}
				stored = append(stored, e)
			}
		}
	} else if err != storage.ErrNotFound {
		m.logger.Warn("Failed to read stored escalations", zap.Error(err))
	}

	stored = append(stored, record)
	if len(stored) > maxStoredEscalations {
		stored = stored[len(stored)-maxStoredEscalations:]
	}
	data, err := json.Marshal(stored)
	if err != nil {
		m.logger.Warn("Failed to marshal stored escalations", zap.Error(err))
		return
	}
	if err := m.store.Set(ctx, storageKeyEscalations, data); err != nil {
		m.logger.Warn("Failed to persist escalations", zap.Error(err))
	}
}

// Escalations returns copies of the recorded escalations, oldest first
func (m *AlertManager) Escalations() []model.Escalation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Escalation, len(m.escalations))
	copy(out, m.escalations)
	return out
}
