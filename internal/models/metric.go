package models

import "time"

// MetricSample is a single normalized time-series sample. Samples are
// immutable and produced only by the metrics gateway.
type MetricSample struct {
	Source     string
	Namespace  string
	Name       string
	Value      float64
	Unit       string
	Dimensions map[string]string
	Timestamp  time.Time
}

// TimeRange bounds a detection or query window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length, zero when the range is inverted.
func (tr TimeRange) Duration() time.Duration {
	if tr.End.Before(tr.Start) {
		return 0
	}
	return tr.End.Sub(tr.Start)
}

// Contains reports whether t falls inside the range (inclusive start, exclusive end).
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}
