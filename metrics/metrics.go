package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registry backs the package-level helpers. Metrics are created lazily on
// first use and keyed by group, name and label set so hot paths only pay for
// a map lookup.
type metricRegistry struct {
	mu         sync.RWMutex
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _registry = newMetricRegistry()

func newMetricRegistry() *metricRegistry {
	return &metricRegistry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry returns the prometheus registry holding all package metrics, for
// mounting on a scrape endpoint.
func Registry() *prometheus.Registry {
	return _registry.reg
}

// labelNames returns the sorted label keys of dims. Prometheus requires a
// fixed label schema per metric, so the key set is part of the lookup key.
func labelNames(dims Dimension) []string {
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func metricKey(group, name string, labels []string) string {
	if len(labels) == 0 {
		return group + "_" + name
	}
	return group + "_" + name + "{" + strings.Join(labels, ",") + "}"
}

func (r *metricRegistry) counter(group, name string, dims Dimension) prometheus.Counter {
	labels := labelNames(dims)
	key := metricKey(group, name, labels)

	r.mu.RLock()
	vec, ok := r.counters[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		vec, ok = r.counters[key]
		if !ok {
			vec = prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: group,
				Name:      name,
			}, labels)
			if err := r.reg.Register(vec); err != nil {
				if are, dup := err.(prometheus.AlreadyRegisteredError); dup {
					vec = are.ExistingCollector.(*prometheus.CounterVec)
				}
			}
			r.counters[key] = vec
		}
		r.mu.Unlock()
	}

	return vec.With(prometheus.Labels(dims))
}

func (r *metricRegistry) gauge(group, name string, dims Dimension) prometheus.Gauge {
	labels := labelNames(dims)
	key := metricKey(group, name, labels)

	r.mu.RLock()
	vec, ok := r.gauges[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		vec, ok = r.gauges[key]
		if !ok {
			vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: group,
				Name:      name,
			}, labels)
			if err := r.reg.Register(vec); err != nil {
				if are, dup := err.(prometheus.AlreadyRegisteredError); dup {
					vec = are.ExistingCollector.(*prometheus.GaugeVec)
				}
			}
			r.gauges[key] = vec
		}
		r.mu.Unlock()
	}

	return vec.With(prometheus.Labels(dims))
}

func (r *metricRegistry) histogram(group, name string, dims Dimension) prometheus.Observer {
	labels := labelNames(dims)
	key := metricKey(group, name, labels)

	r.mu.RLock()
	vec, ok := r.histograms[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		vec, ok = r.histograms[key]
		if !ok {
			vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: group,
				Name:      name,
				Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
			}, labels)
			if err := r.reg.Register(vec); err != nil {
				if are, dup := err.(prometheus.AlreadyRegisteredError); dup {
					vec = are.ExistingCollector.(*prometheus.HistogramVec)
				}
			}
			r.histograms[key] = vec
		}
		r.mu.Unlock()
	}

	return vec.With(prometheus.Labels(dims))
}

// IncrCounterWithGroup increments a counter scoped by group.
func IncrCounterWithGroup(group, name string, v Value) {
	_registry.counter(group, name, nil).Add(float64(v))
}

// IncrCounterWithDimGroup increments a counter scoped by group with extra
// dimensions attached as labels.
func IncrCounterWithDimGroup(group, name string, v Value, dims Dimension) {
	_registry.counter(group, name, dims).Add(float64(v))
}

// UpdateGaugeWithGroup sets a gauge scoped by group to the given value.
func UpdateGaugeWithGroup(group, name string, v Value) {
	_registry.gauge(group, name, nil).Set(float64(v))
}

// UpdateGaugeWithDimGroup sets a gauge scoped by group with extra dimensions
// attached as labels.
func UpdateGaugeWithDimGroup(group, name string, v Value, dims Dimension) {
	_registry.gauge(group, name, dims).Set(float64(v))
}

// ReportWithGroup records a value under the aggregation policy, choosing the
// backing metric type accordingly.
func ReportWithGroup(group, name string, v Value, policy Policy) {
	ReportWithDimGroup(group, name, v, policy, nil)
}

// ReportWithDimGroup records a value under the aggregation policy with extra
// dimensions attached as labels.
func ReportWithDimGroup(group, name string, v Value, policy Policy, dims Dimension) {
	switch policy {
	case PolicySum:
		_registry.counter(group, name, dims).Add(float64(v))
	case PolicyAvg, PolicyMax, PolicyMin, PolicyMid, PolicyStopwatch, PolicyHistogram:
		_registry.histogram(group, name, dims).Observe(float64(v))
	default:
		_registry.gauge(group, name, dims).Set(float64(v))
	}
}
