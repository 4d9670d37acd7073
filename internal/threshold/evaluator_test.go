package threshold_test

import (
	"errors"
	"testing"

	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_CriticalHeartRate(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	result, err := e.Evaluate(threshold.Reading{threshold.HeartRate: 130}, threshold.Standard)

	require.NoError(t, err)
	assert.Equal(t, threshold.Critical, result.Severity)
	assert.Equal(t, threshold.HeartRate, result.Metric)
	assert.Equal(t, 130.0, result.Value)
}

func TestEvaluate_LaterCriticalOverridesEarlierWarning(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	result, err := e.Evaluate(threshold.Reading{
		threshold.HeartRate: 110,
		threshold.SpO2:      80,
	}, threshold.Standard)

	require.NoError(t, err)
	assert.Equal(t, threshold.Critical, result.Severity)
	assert.Equal(t, threshold.SpO2, result.Metric)
	assert.Equal(t, 80.0, result.Value)
}

func TestEvaluate_FirstWarningIsRetained(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	result, err := e.Evaluate(threshold.Reading{
		threshold.HeartRate:   110,
		threshold.Temperature: 37.8,
	}, threshold.Standard)

	require.NoError(t, err)
	assert.Equal(t, threshold.Warning, result.Severity)
	assert.Equal(t, threshold.HeartRate, result.Metric)
}

func TestEvaluate_NormalWhenNothingBreaches(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	result, err := e.Evaluate(threshold.Reading{
		threshold.HeartRate:   72,
		threshold.SpO2:        98,
		threshold.Temperature: 36.6,
		threshold.Motion:      0.2,
	}, threshold.Standard)

	require.NoError(t, err)
	assert.Equal(t, threshold.Normal, result.Severity)
	assert.False(t, result.Breached())
}

func TestEvaluate_SkipsAbsentAndUndefinedMetrics(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	// battery_level has no ranges in the default table
	result, err := e.Evaluate(threshold.Reading{threshold.BatteryLevel: 1}, threshold.Standard)
	require.NoError(t, err)
	assert.Equal(t, threshold.Normal, result.Severity)

	result, err = e.Evaluate(threshold.Reading{}, threshold.Standard)
	require.NoError(t, err)
	assert.Equal(t, threshold.Normal, result.Severity)
}

func TestEvaluate_UnknownProfile(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	_, err := e.Evaluate(threshold.Reading{threshold.HeartRate: 130}, threshold.Profile("PEDIATRIC"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, threshold.ErrUnknownProfile))
}

func TestEvaluate_CriticalRegardlessOfOrder(t *testing.T) {
	reading := threshold.Reading{
		threshold.HeartRate:   110,
		threshold.SpO2:        80,
		threshold.Temperature: 37.8,
		threshold.Motion:      3,
	}
	orders := [][]threshold.Metric{
		{threshold.HeartRate, threshold.SpO2, threshold.Temperature, threshold.Motion},
		{threshold.Motion, threshold.Temperature, threshold.SpO2, threshold.HeartRate},
		{threshold.Temperature, threshold.HeartRate, threshold.Motion, threshold.SpO2},
		{threshold.SpO2, threshold.Motion, threshold.HeartRate, threshold.Temperature},
	}

	for _, order := range orders {
		e := threshold.NewEvaluator(threshold.DefaultTable(), order...)
		result, err := e.Evaluate(reading, threshold.Standard)
		require.NoError(t, err)
		assert.Equal(t, threshold.Critical, result.Severity, "order %v", order)
		assert.Equal(t, threshold.SpO2, result.Metric, "order %v", order)
	}
}

func TestClassify_BoundaryValues(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	cases := []struct {
		value    float64
		expected threshold.Severity
	}{
		{99.999, threshold.Normal},
		{100, threshold.Warning},
		{119.999, threshold.Warning},
		{120, threshold.Critical},
		{50, threshold.Normal},
		{49.999, threshold.Warning},
		{40, threshold.Warning},
		{39.999, threshold.Critical},
	}

	for _, c := range cases {
		assert.Equal(t, c.expected, e.Classify(threshold.HeartRate, c.value, threshold.Standard), "hr=%v", c.value)
	}
}

func TestClassify_IsPure(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	first := e.Classify(threshold.SpO2, 91, threshold.Standard)
	second := e.Classify(threshold.SpO2, 91, threshold.Standard)

	assert.Equal(t, threshold.Warning, first)
	assert.Equal(t, first, second)
}

func TestClassify_UndefinedMetricIsNormal(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultTable())

	assert.Equal(t, threshold.Normal, e.Classify(threshold.Motion, 100, threshold.Cardiac))
}

func TestParseSeverity(t *testing.T) {
	s, err := threshold.ParseSeverity("critical")
	require.NoError(t, err)
	assert.Equal(t, threshold.Critical, s)

	_, err = threshold.ParseSeverity("INFO")
	assert.Error(t, err)
}

func TestMetricLabel(t *testing.T) {
	assert.Equal(t, "Heart Rate", threshold.HeartRate.Label())
	assert.Equal(t, "SpO2", threshold.SpO2.Label())
	assert.Equal(t, "Skin Conductance", threshold.Metric("skin_conductance").Label())
}
