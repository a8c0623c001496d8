package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/glasskit/perfmon/internal/model"
)

const (
	alertStreamName   = "ALERTS"
	alertSubjectBase  = "alert"
	escalationSubject = "alert.escalation"
)

// NATSNotifier publishes alert and escalation events to JetStream.
// Alerts go to alert.<severity>, escalations to alert.escalation.
type NATSNotifier struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSNotifier creates a notifier and ensures the ALERTS stream exists
func NewNATSNotifier(logger *zap.Logger, js nats.JetStreamContext) (*NATSNotifier, error) {
	stream, err := js.StreamInfo(alertStreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	if stream == nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     alertStreamName,
			Subjects: []string{alertSubjectBase + ".*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &NATSNotifier{
		logger: logger.Named("nats-notifier"),
		js:     js,
	}, nil
}

// NotifyAlert publishes one alert
func (n *NATSNotifier) NotifyAlert(_ context.Context, alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	subject := alertSubjectBase + "." + string(alert.Severity)
	if _, err := n.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	n.logger.Debug("Alert published",
		zap.String("subject", subject),
		zap.String("metric", alert.Metric))
	return nil
}

// NotifyEscalation publishes one escalation
func (n *NATSNotifier) NotifyEscalation(_ context.Context, escalation *model.Escalation) error {
	data, err := json.Marshal(escalation)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation: %w", err)
	}

	if _, err := n.js.Publish(escalationSubject, data); err != nil {
		return fmt.Errorf("failed to publish escalation: %w", err)
	}

	n.logger.Debug("Escalation published", zap.Int("count", escalation.Count))
	return nil
}

// LogNotifier writes alert and escalation events to the logger only.
// Used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a logger-backed notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("log-notifier")}
}

// NotifyAlert logs one alert
func (n *LogNotifier) NotifyAlert(_ context.Context, alert *model.Alert) error {
	n.logger.Warn("ALERT",
		zap.String("metric", alert.Metric),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("value", alert.Value),
		zap.String("message", alert.Message))
	return nil
}

// NotifyEscalation logs one escalation
func (n *LogNotifier) NotifyEscalation(_ context.Context, escalation *model.Escalation) error {
	n.logger.Error("ESCALATION",
		zap.Int("count", escalation.Count),
		zap.Int("severe_alerts", len(escalation.Alerts)))
	return nil
}
