package monitor

const (
	storageKeyAlerts      = "perfmon.alerts"
	storageKeyEscalations = "perfmon.escalations"

	maxStoredAlerts      = 100
	maxStoredEscalations = 20
	maxHistoryEntries    = 200

	// trendWindow is the number of most recent samples feeding the trend
	trendWindow = 20

	// recentWindow is the number of most recent samples compared against
	// the baseline when scoring degradation
	recentWindow = 10

	// stableSlopeEpsilon is the slope magnitude below which a trend is
	// reported as stable rather than improving/degrading
	stableSlopeEpsilon = 0.01
)
