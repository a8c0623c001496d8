package model

import "time"

// Severity represents the severity level of an alert
type Severity string

const (
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Direction indicates which way a metric breaches its thresholds
type Direction string

const (
	// DirectionLow means lower values are worse (e.g. frame rate)
	DirectionLow Direction = "low"
	// DirectionHigh means higher values are worse (e.g. render time, memory)
	DirectionHigh Direction = "high"
)

// Threshold holds the three breach levels for one metric
type Threshold struct {
	Warning   float64   `json:"warning"`
	Critical  float64   `json:"critical"`
	Emergency float64   `json:"emergency"`
	Direction Direction `json:"direction"`
	Unit      string    `json:"unit,omitempty"`
}

// Alert represents an active or historical threshold breach for one metric
type Alert struct {
	ID         string     `json:"id"`
	Metric     string     `json:"metric"`
	Severity   Severity   `json:"severity"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Unit       string     `json:"unit,omitempty"`
	Direction  Direction  `json:"direction"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Escalation is a meta-event emitted when enough severe alerts are active
// at the same time. Created once, never mutated.
type Escalation struct {
	ID        string    `json:"id"`
	Count     int       `json:"count"`
	Alerts    []Alert   `json:"alerts"`
	CreatedAt time.Time `json:"created_at"`
}
