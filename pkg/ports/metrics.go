package ports

// MetricCollector is the metrics sink components report through, kept
// separate from logging so an adapter can fan a counter/gauge/histogram
// out to Prometheus or any other backend (spec.md §6, §9).
type MetricCollector interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// NopMetricCollector discards everything; used where no MetricCollector
// adapter is configured so callers never need a nil check.
type NopMetricCollector struct{}

func (NopMetricCollector) IncCounter(string, map[string]string)                {}
func (NopMetricCollector) ObserveHistogram(string, float64, map[string]string) {}
func (NopMetricCollector) SetGauge(string, float64, map[string]string)         {}
