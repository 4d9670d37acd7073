package threshold

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProfile is returned when a profile has no entry in the table
var ErrUnknownProfile = errors.New("unknown threshold profile")

// Severity is the outcome of classifying a metric value
type Severity string

const (
	Normal   Severity = "NORMAL"
	Warning  Severity = "WARNING"
	Critical Severity = "CRITICAL"
)

// ParseSeverity accepts any letter case, risk events from older producers use lowercase
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case Normal:
		return Normal, nil
	case Warning:
		return Warning, nil
	case Critical:
		return Critical, nil
	}
	return "", fmt.Errorf("invalid severity %q", s)
}

// Profile names a per-wearer set of metric ranges
type Profile string

const (
	Standard        Profile = "STANDARD"
	Cardiac         Profile = "CARDIAC"
	Elderly         Profile = "ELDERLY"
	RespiratoryRisk Profile = "RESPIRATORY_RISK"
	HighRisk        Profile = "HIGH_RISK"
)

// Profiles lists every profile a wearer may be assigned
var Profiles = []Profile{Standard, Cardiac, Elderly, RespiratoryRisk, HighRisk}

// ParseProfile validates a profile name
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Profiles {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProfile, s)
}

// Metric is one physiological channel reported by a device
type Metric string

const (
	HeartRate    Metric = "heart_rate"
	SpO2         Metric = "spo2"
	Temperature  Metric = "temperature"
	Motion       Metric = "motion"
	BatteryLevel Metric = "battery_level"
)

// DefaultOrder is the sequence Evaluate walks metrics in
var DefaultOrder = []Metric{HeartRate, SpO2, Temperature, Motion, BatteryLevel}

var metricLabels = map[Metric]string{
	HeartRate:    "Heart Rate",
	SpO2:         "SpO2",
	Temperature:  "Temperature",
	Motion:       "Motion",
	BatteryLevel: "Battery Level",
}

// ParseMetric validates a metric name
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := metricLabels[m]; !ok {
		return "", fmt.Errorf("unknown metric %q", s)
	}
	return m, nil
}

// Label returns the human readable metric name
func (m Metric) Label() string {
	if label, ok := metricLabels[m]; ok {
		return label
	}
	words := strings.Fields(strings.ReplaceAll(string(m), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Reading holds the metric values present in one measurement.
// Absent metrics are simply missing from the map.
type Reading map[Metric]float64

// Result is the dominant outcome of one measurement
type Result struct {
	Severity Severity
	Metric   Metric
	Value    float64
}

// Breached reports whether the result should produce a risk event
func (r Result) Breached() bool {
	return r.Severity != Normal && r.Severity != ""
}

// Evaluator classifies readings against a profile table
type Evaluator struct {
	table Table
	order []Metric
}

// NewEvaluator creates an evaluator. An empty order means DefaultOrder.
func NewEvaluator(table Table, order ...Metric) *Evaluator {
	if len(order) == 0 {
		order = DefaultOrder
	}
	return &Evaluator{
		table: table,
		order: order,
	}
}

// HasProfile reports whether the table defines the profile
func (e *Evaluator) HasProfile(profile Profile) bool {
	_, ok := e.table[profile]
	return ok
}

// Classify maps one metric value to a severity. Critical bands win over
// warning bands. A metric the profile does not define is NORMAL.
func (e *Evaluator) Classify(metric Metric, value float64, profile Profile) Severity {
	ranges, ok := e.table[profile][metric]
	if !ok {
		return Normal
	}
	if anyContains(ranges.Critical, value) {
		return Critical
	}
	if anyContains(ranges.Warning, value) {
		return Warning
	}
	return Normal
}

// Evaluate reduces a reading to one dominant severity. The first CRITICAL
// metric ends evaluation; the first WARNING is kept while later metrics are
// still checked.
func (e *Evaluator) Evaluate(reading Reading, profile Profile) (Result, error) {
	if !e.HasProfile(profile) {
		return Result{Severity: Normal}, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}

	result := Result{Severity: Normal}
	for _, metric := range e.order {
		value, ok := reading[metric]
		if !ok {
			continue
		}
		switch e.Classify(metric, value, profile) {
		case Critical:
			return Result{Severity: Critical, Metric: metric, Value: value}, nil
		case Warning:
			if result.Severity == Normal {
				result = Result{Severity: Warning, Metric: metric, Value: value}
			}
		}
	}
	return result, nil
}

func anyContains(intervals []Interval, value float64) bool {
	for _, iv := range intervals {
		if iv.Contains(value) {
			return true
		}
	}
	return false
}
