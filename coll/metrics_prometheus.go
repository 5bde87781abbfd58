package coll

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	cacheLookups      *prometheus.CounterVec
	cacheEvictions    *prometheus.CounterVec
	requestsCompleted *prometheus.CounterVec
	requestsFailed    *prometheus.CounterVec
	fallbacks         *prometheus.CounterVec
}

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
// Counters already registered on the Registerer are reused.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string, keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, keys)
	}

	p := &PrometheusMetrics{
		cacheLookups:      counter("ucg_coll_cache_lookups_total", "Number of request cache lookups by result", lookupLabelKeys),
		cacheEvictions:    counter("ucg_coll_cache_evictions_total", "Number of requests removed from the request cache", evictionLabelKeys),
		requestsCompleted: counter("ucg_coll_requests_completed_total", "Number of collective requests completed by the engine", requestLabelKeys),
		requestsFailed:    counter("ucg_coll_requests_failed_total", "Number of collective requests that failed inside the component", failureLabelKeys),
		fallbacks:         counter("ucg_coll_fallbacks_total", "Number of calls handed to the previous implementation", fallbackLabelKeys),
	}

	var err error
	if p.cacheLookups, err = registerCounterVec(reg, p.cacheLookups); err != nil {
		return nil, err
	}
	if p.cacheEvictions, err = registerCounterVec(reg, p.cacheEvictions); err != nil {
		return nil, err
	}
	if p.requestsCompleted, err = registerCounterVec(reg, p.requestsCompleted); err != nil {
		return nil, err
	}
	if p.requestsFailed, err = registerCounterVec(reg, p.requestsFailed); err != nil {
		return nil, err
	}
	if p.fallbacks, err = registerCounterVec(reg, p.fallbacks); err != nil {
		return nil, err
	}
	return p, nil
}

var (
	requestLabelKeys  = []string{labelOp, labelMode, labelComm}
	lookupLabelKeys   = []string{labelOp, labelMode, labelComm, labelResult}
	evictionLabelKeys = []string{labelOp, labelComm, labelReason}
	failureLabelKeys  = []string{labelOp, labelMode, labelComm, labelStage}
	fallbackLabelKeys = []string{labelOp, labelMode, labelComm, labelReason}
)

func (p *PrometheusMetrics) CacheLookup(hit bool, attrs map[string]string) {
	labs := labels(attrs, lookupLabelKeys...)
	labs[labelResult] = lookupResult(hit)
	p.cacheLookups.With(labs).Inc()
}

func (p *PrometheusMetrics) CacheEvicted(reason string, attrs map[string]string) {
	labs := labels(attrs, evictionLabelKeys...)
	labs[labelReason] = reason
	p.cacheEvictions.With(labs).Inc()
}

func (p *PrometheusMetrics) RequestCompleted(attrs map[string]string) {
	p.requestsCompleted.With(labels(attrs, requestLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RequestFailed(_ error, attrs map[string]string) {
	p.requestsFailed.With(labels(attrs, failureLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) Fallback(reason string, attrs map[string]string) {
	labs := labels(attrs, fallbackLabelKeys...)
	labs[labelReason] = reason
	p.fallbacks.With(labs).Inc()
}

func lookupResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
