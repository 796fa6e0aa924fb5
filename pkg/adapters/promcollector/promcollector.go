// Package promcollector implements ports.MetricCollector on top of
// prometheus/client_golang, grounded on pkg/metrics's registration and
// promhttp.Handler conventions. Unlike pkg/metrics's fixed set of named
// package-level vars (one metric per cluster concept known ahead of
// time), the Coordinator/Hub/Device components call IncCounter/
// ObserveHistogram/SetGauge with a metric name chosen at the call site,
// so this collector registers a CounterVec/HistogramVec/GaugeVec the
// first time it sees a given metric name, with the label names of that
// first call, and reuses it afterward.
package promcollector

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is a lazily-registering ports.MetricCollector.
type Collector struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// New builds a Collector backed by a fresh Prometheus registry.
func New() *Collector {
	return &Collector{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// Handler returns the Prometheus HTTP scrape handler for this
// Collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (c *Collector) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.counters[name]
	if !ok {
		v = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: fmt.Sprintf("devicehub %s counter", name)}, labelNames(labels))
		c.registry.MustRegister(v)
		c.counters[name] = v
	}
	return v
}

func (c *Collector) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.histograms[name]
	if !ok {
		v = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: fmt.Sprintf("devicehub %s histogram", name), Buckets: prometheus.DefBuckets}, labelNames(labels))
		c.registry.MustRegister(v)
		c.histograms[name] = v
	}
	return v
}

func (c *Collector) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.gauges[name]
	if !ok {
		v = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: fmt.Sprintf("devicehub %s gauge", name)}, labelNames(labels))
		c.registry.MustRegister(v)
		c.gauges[name] = v
	}
	return v
}

// IncCounter increments the named counter by 1, creating it on first use.
func (c *Collector) IncCounter(name string, labels map[string]string) {
	c.counterVec(name, labels).With(prometheus.Labels(labels)).Inc()
}

// ObserveHistogram records value against the named histogram, creating
// it on first use.
func (c *Collector) ObserveHistogram(name string, value float64, labels map[string]string) {
	c.histogramVec(name, labels).With(prometheus.Labels(labels)).Observe(value)
}

// SetGauge sets the named gauge to value, creating it on first use.
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	c.gaugeVec(name, labels).With(prometheus.Labels(labels)).Set(value)
}
