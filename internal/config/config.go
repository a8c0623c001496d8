package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/glasskit/perfmon/internal/model"
)

// NATSConfig holds broker connection settings
type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig holds persistence settings
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AlertsConfig holds alert manager settings
type AlertsConfig struct {
	Cooldown            time.Duration              `mapstructure:"cooldown"`
	MaxAlerts           int                        `mapstructure:"max_alerts"`
	ConsoleLogging      bool                       `mapstructure:"console_logging"`
	Notifications       bool                       `mapstructure:"notifications"`
	EscalationEnabled   bool                       `mapstructure:"escalation_enabled"`
	EscalationThreshold int                        `mapstructure:"escalation_threshold"`
	EscalationCooldown  time.Duration              `mapstructure:"escalation_cooldown"`
	Thresholds          map[string]model.Threshold `mapstructure:"thresholds"`
}

// DetectorConfig holds degradation detector settings
type DetectorConfig struct {
	WindowSize           int     `mapstructure:"window_size"`
	DegradationThreshold float64 `mapstructure:"degradation_threshold"`
	MinSamples           int     `mapstructure:"min_samples"`
	SmoothingFactor      float64 `mapstructure:"smoothing_factor"`
}

// Config is the daemon configuration
type Config struct {
	AppName         string         `mapstructure:"app_name"`
	CollectSchedule string         `mapstructure:"collect_schedule"`
	ReportSchedule  string         `mapstructure:"report_schedule"`
	NATS            NATSConfig     `mapstructure:"nats"`
	Storage         StorageConfig  `mapstructure:"storage"`
	Alerts          AlertsConfig   `mapstructure:"alerts"`
	Detector        DetectorConfig `mapstructure:"detector"`
}

// Load reads configuration from the given path (a directory containing
// config.yaml) plus PERFMON_ environment overrides. A missing config file
// is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("PERFMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Alerts.Thresholds = canonicalizeMetricNames(cfg.Alerts.Thresholds)
	return &cfg, nil
}

// canonicalizeMetricNames restores the camelCase metric names that viper
// lowercases on read
func canonicalizeMetricNames(thresholds map[string]model.Threshold) map[string]model.Threshold {
	if thresholds == nil {
		return nil
	}
	known := []string{
		model.MetricFrameRate,
		model.MetricRenderTime,
		model.MetricMemoryUsage,
		model.MetricMemoryLeak,
		model.MetricComponentCount,
	}
	out := make(map[string]model.Threshold, len(thresholds))
	for name, th := range thresholds {
		canonical := name
		for _, k := range known {
			if strings.EqualFold(k, name) {
				canonical = k
				break
			}
		}
		out[canonical] = th
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "perfmon")
	v.SetDefault("collect_schedule", "@every 5s")
	v.SetDefault("report_schedule", "@every 1m")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.path", "perfmon.db")

	v.SetDefault("alerts.cooldown", 30*time.Second)
	v.SetDefault("alerts.max_alerts", 10)
	v.SetDefault("alerts.console_logging", true)
	v.SetDefault("alerts.notifications", true)
	v.SetDefault("alerts.escalation_enabled", true)
	v.SetDefault("alerts.escalation_threshold", 3)
	v.SetDefault("alerts.escalation_cooldown", 5*time.Minute)

	v.SetDefault("detector.window_size", 50)
	v.SetDefault("detector.degradation_threshold", 0.15)
	v.SetDefault("detector.min_samples", 10)
	v.SetDefault("detector.smoothing_factor", 0.3)
}
