package reconcile

import "math"

// Metric descriptor keys the heart-rate correlation looks up.
const (
	MetricHeartRate = "directHeartRate"
	MetricTimestamp = "directTimestamp"
)

// MetricIndex maps descriptor keys to column positions. It is built once per
// payload.
type MetricIndex map[string]int

// IndexMetrics builds the column index of a series. A nil series yields an
// empty index.
func IndexMetrics(series *MetricSeries) MetricIndex {
	idx := make(MetricIndex)
	if series == nil {
		return idx
	}
	for i, d := range series.MetricDescriptors {
		if _, seen := idx[d.Key]; !seen {
			idx[d.Key] = i
		}
	}
	return idx
}

// Correlator averages one metric column over time windows of a series.
type Correlator struct {
	rows     []MetricRow
	valueCol int
	timeCol  int
	ok       bool
}

// NewCorrelator prepares averaging of metric over series. When either the
// metric or the timestamp column is missing every average is absent.
func NewCorrelator(series *MetricSeries, metric string) Correlator {
	idx := IndexMetrics(series)
	valueCol, hasValue := idx[metric]
	timeCol, hasTime := idx[MetricTimestamp]
	c := Correlator{valueCol: valueCol, timeCol: timeCol, ok: hasValue && hasTime}
	if series != nil {
		c.rows = series.ActivityDetailMetrics
	}
	return c
}

// Average returns the rounded mean of samples whose timestamp lies in
// [startMs, endMs], or nil when none match. Short or incomplete rows are
// skipped.
func (c Correlator) Average(startMs, endMs int64) *int {
	if !c.ok {
		return nil
	}
	var sum float64
	var count int
	for _, row := range c.rows {
		if c.valueCol >= len(row.Metrics) || c.timeCol >= len(row.Metrics) {
			continue
		}
		ts, v := row.Metrics[c.timeCol], row.Metrics[c.valueCol]
		if ts == nil || v == nil {
			continue
		}
		if *ts >= float64(startMs) && *ts <= float64(endMs) {
			sum += *v
			count++
		}
	}
	if count == 0 {
		return nil
	}
	avg := int(math.Round(sum / float64(count)))
	return &avg
}

// AverageHeartRate averages the heart-rate column of series over the window.
func AverageHeartRate(series *MetricSeries, startMs, endMs int64) *int {
	return NewCorrelator(series, MetricHeartRate).Average(startMs, endMs)
}
