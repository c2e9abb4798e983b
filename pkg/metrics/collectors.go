package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	validMetricName = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	validLabelName  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// family describes one labelled metric of the sync set.
type family struct {
	subsystem string
	name      string
	help      string
	labels    []string
	buckets   []float64
}

// Counter counts sync events. A nil *Counter records nothing.
type Counter struct {
	vec *prometheus.CounterVec
}

// Inc increments the series selected by labelValues.
func (c *Counter) Inc(labelValues ...string) {
	if c == nil {
		return
	}
	c.vec.WithLabelValues(labelValues...).Inc()
}

// Gauge reports a current level such as breaker state or queue depth.
// A nil *Gauge records nothing.
type Gauge struct {
	vec *prometheus.GaugeVec
}

// Set stores value in the series selected by labelValues.
func (g *Gauge) Set(value float64, labelValues ...string) {
	if g == nil {
		return
	}
	g.vec.WithLabelValues(labelValues...).Set(value)
}

// Histogram observes latencies. A nil *Histogram records nothing.
type Histogram struct {
	vec *prometheus.HistogramVec
}

// Observe records value, in seconds, in the series selected by labelValues.
func (h *Histogram) Observe(value float64, labelValues ...string) {
	if h == nil {
		return
	}
	h.vec.WithLabelValues(labelValues...).Observe(value)
}

// registrar registers families under one namespace and keeps the first
// error, so a metric set can be declared without checking every step.
type registrar struct {
	reg       prometheus.Registerer
	namespace string
	err       error
}

func (r *registrar) register(f family, c prometheus.Collector) bool {
	if r.err != nil {
		return false
	}
	if err := validateFamily(r.namespace, f); err != nil {
		r.err = err
		return false
	}
	if err := r.reg.Register(c); err != nil {
		r.err = fmt.Errorf("failed to register %s_%s: %w", f.subsystem, f.name, err)
		return false
	}
	return true
}

func (r *registrar) counter(f family) *Counter {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: f.subsystem,
		Name:      f.name,
		Help:      f.help,
	}, f.labels)
	if !r.register(f, vec) {
		return nil
	}
	return &Counter{vec: vec}
}

func (r *registrar) gauge(f family) *Gauge {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: f.subsystem,
		Name:      f.name,
		Help:      f.help,
	}, f.labels)
	if !r.register(f, vec) {
		return nil
	}
	return &Gauge{vec: vec}
}

func (r *registrar) histogram(f family) *Histogram {
	buckets := f.buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: f.subsystem,
		Name:      f.name,
		Help:      f.help,
		Buckets:   buckets,
	}, f.labels)
	if !r.register(f, vec) {
		return nil
	}
	return &Histogram{vec: vec}
}

// validateFamily checks the fully qualified name and labels against the
// Prometheus naming rules.
func validateFamily(namespace string, f family) error {
	full := prometheus.BuildFQName(namespace, f.subsystem, f.name)
	if !validMetricName.MatchString(full) {
		return fmt.Errorf("invalid metric name: %q", full)
	}
	for _, label := range f.labels {
		if !validLabelName.MatchString(label) {
			return fmt.Errorf("invalid label name %q on %s", label, full)
		}
		if strings.HasPrefix(label, "__") {
			return fmt.Errorf("label name %q on %s is reserved", label, full)
		}
	}
	return nil
}
