package threshold

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Interval is [Min, Max). A nil bound is unbounded on that side.
type Interval struct {
	Min *float64 `json:"min,omitempty" toml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" toml:"max,omitempty"`
}

// Contains applies the inclusive-lower, exclusive-upper contract
func (i Interval) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if i.Min != nil && v < *i.Min {
		return false
	}
	if i.Max != nil && v >= *i.Max {
		return false
	}
	return true
}

func (i Interval) String() string {
	lo, hi := "-inf", "+inf"
	if i.Min != nil {
		lo = fmt.Sprintf("%g", *i.Min)
	}
	if i.Max != nil {
		hi = fmt.Sprintf("%g", *i.Max)
	}
	return "[" + lo + ", " + hi + ")"
}

// Ranges are the bands of one metric within a profile
type Ranges struct {
	Normal   []Interval `json:"normal,omitempty" toml:"normal,omitempty"`
	Warning  []Interval `json:"warning,omitempty" toml:"warning,omitempty"`
	Critical []Interval `json:"critical,omitempty" toml:"critical,omitempty"`
}

// Table maps profile -> metric -> ranges
type Table map[Profile]map[Metric]Ranges

type rawTable map[string]map[string]Ranges

// ParseJSON decodes a table shaped {"PROFILE": {"metric": {...}}}
func ParseJSON(data []byte) (Table, error) {
	var raw rawTable
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode threshold table: %w", err)
	}
	return raw.table()
}

// ParseTOML decodes a table written as [PROFILE.metric] sections
func ParseTOML(data []byte) (Table, error) {
	var raw rawTable
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode threshold table: %w", err)
	}
	return raw.table()
}

// LoadFile reads a TOML threshold table from disk
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold file %s: %w", path, err)
	}
	return ParseTOML(data)
}

func (r rawTable) table() (Table, error) {
	if len(r) == 0 {
		return nil, fmt.Errorf("threshold table is empty")
	}
	t := make(Table, len(r))
	for profileName, metrics := range r {
		profile, err := ParseProfile(profileName)
		if err != nil {
			return nil, err
		}
		t[profile] = make(map[Metric]Ranges, len(metrics))
		for metricName, ranges := range metrics {
			metric, err := ParseMetric(metricName)
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", profile, err)
			}
			if err := ranges.validate(); err != nil {
				return nil, fmt.Errorf("profile %s metric %s: %w", profile, metric, err)
			}
			t[profile][metric] = ranges
		}
	}
	return t, nil
}

func (r Ranges) validate() error {
	for _, group := range [][]Interval{r.Normal, r.Warning, r.Critical} {
		for _, iv := range group {
			if iv.Min != nil && iv.Max != nil && *iv.Min >= *iv.Max {
				return fmt.Errorf("empty interval %s", iv)
			}
		}
	}
	return nil
}

func between(lo, hi float64) Interval { return Interval{Min: &lo, Max: &hi} }
func atLeast(lo float64) Interval     { return Interval{Min: &lo} }
func below(hi float64) Interval       { return Interval{Max: &hi} }

// DefaultTable is used when neither the catalog nor a file provides one.
// battery_level is intentionally absent: a low battery is a device concern.
func DefaultTable() Table {
	return Table{
		Standard: {
			HeartRate: {
				Normal:   []Interval{between(50, 100)},
				Warning:  []Interval{between(100, 120), between(40, 50)},
				Critical: []Interval{atLeast(120), below(40)},
			},
			SpO2: {
				Normal:   []Interval{atLeast(94)},
				Warning:  []Interval{between(90, 94)},
				Critical: []Interval{below(90)},
			},
			Temperature: {
				Normal:   []Interval{between(36, 37.5)},
				Warning:  []Interval{between(37.5, 38.5), between(35, 36)},
				Critical: []Interval{atLeast(38.5), below(35)},
			},
			Motion: {
				Normal:   []Interval{below(2.5)},
				Warning:  []Interval{between(2.5, 4)},
				Critical: []Interval{atLeast(4)},
			},
		},
		Cardiac: {
			HeartRate: {
				Normal:   []Interval{between(55, 90)},
				Warning:  []Interval{between(90, 110), between(45, 55)},
				Critical: []Interval{atLeast(110), below(45)},
			},
			SpO2: {
				Normal:   []Interval{atLeast(95)},
				Warning:  []Interval{between(91, 95)},
				Critical: []Interval{below(91)},
			},
			Temperature: {
				Normal:   []Interval{between(36, 37.5)},
				Warning:  []Interval{between(37.5, 38.3), between(35, 36)},
				Critical: []Interval{atLeast(38.3), below(35)},
			},
		},
		Elderly: {
			HeartRate: {
				Normal:   []Interval{between(55, 95)},
				Warning:  []Interval{between(95, 115), between(45, 55)},
				Critical: []Interval{atLeast(115), below(45)},
			},
			SpO2: {
				Normal:   []Interval{atLeast(92)},
				Warning:  []Interval{between(88, 92)},
				Critical: []Interval{below(88)},
			},
			Temperature: {
				Normal:   []Interval{between(35.8, 37.2)},
				Warning:  []Interval{between(37.2, 38), between(35, 35.8)},
				Critical: []Interval{atLeast(38), below(35)},
			},
			Motion: {
				Normal:   []Interval{below(2)},
				Warning:  []Interval{between(2, 3)},
				Critical: []Interval{atLeast(3)},
			},
		},
		RespiratoryRisk: {
			HeartRate: {
				Normal:   []Interval{between(50, 100)},
				Warning:  []Interval{between(100, 120), between(40, 50)},
				Critical: []Interval{atLeast(120), below(40)},
			},
			SpO2: {
				Normal:   []Interval{atLeast(92)},
				Warning:  []Interval{between(88, 92)},
				Critical: []Interval{below(88)},
			},
			Temperature: {
				Normal:   []Interval{between(36, 37.5)},
				Warning:  []Interval{between(37.5, 38.5)},
				Critical: []Interval{atLeast(38.5)},
			},
		},
		HighRisk: {
			HeartRate: {
				Normal:   []Interval{between(55, 90)},
				Warning:  []Interval{between(90, 105), between(48, 55)},
				Critical: []Interval{atLeast(105), below(48)},
			},
			SpO2: {
				Normal:   []Interval{atLeast(95)},
				Warning:  []Interval{between(92, 95)},
				Critical: []Interval{below(92)},
			},
			Temperature: {
				Normal:   []Interval{between(36, 37.3)},
				Warning:  []Interval{between(37.3, 38), between(35.5, 36)},
				Critical: []Interval{atLeast(38), below(35.5)},
			},
			Motion: {
				Normal:   []Interval{below(2)},
				Warning:  []Interval{between(2, 3)},
				Critical: []Interval{atLeast(3)},
			},
		},
	}
}
