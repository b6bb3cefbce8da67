package report

import (
	"bytes"
	"math"
	"strconv"
)

// Metric is a derived measurement that may be "not computable". It behaves
// like a float64 carrying NaN for the missing case, but marshals NaN as JSON
// null so reports stay serializable; encoding/json rejects NaN outright.
type Metric float64

// NaN returns the not-computable Metric.
func NaN() Metric {
	return Metric(math.NaN())
}

// IsNaN reports whether the metric could not be computed.
func (m Metric) IsNaN() bool {
	return math.IsNaN(float64(m))
}

// MarshalJSON encodes NaN as null and everything else as a plain number.
func (m Metric) MarshalJSON() ([]byte, error) {
	if m.IsNaN() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(m), 'f', -1, 64), nil
}

// UnmarshalJSON decodes null back into NaN.
func (m *Metric) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*m = NaN()
		return nil
	}
	value, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*m = Metric(value)
	return nil
}
