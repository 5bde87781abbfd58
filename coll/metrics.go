package coll

import "fmt"

// MetricHook captures collective telemetry events.
type MetricHook interface {
	CacheLookup(hit bool, attrs map[string]string)
	CacheEvicted(reason string, attrs map[string]string)
	RequestCompleted(attrs map[string]string)
	RequestFailed(err error, attrs map[string]string)
	Fallback(reason string, attrs map[string]string)
}

const (
	labelOp     = "op"
	labelMode   = "mode"
	labelComm   = "comm"
	labelResult = "result"
	labelReason = "reason"
	labelStage  = "stage"
)

// Eviction reasons reported through CacheEvicted.
const (
	evictLRU      = "lru"
	evictStale    = "stale"
	evictFailed   = "failed"
	evictTeardown = "teardown"
	evictClose    = "close"
)

func metricAttrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(fields))
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs[field.key] = fmt.Sprint(field.value)
	}
	return attrs
}

// telemetry bundles the log, trace and metric sinks of a component.
type telemetry struct {
	log     logger
	tracer  Tracer
	metrics MetricHook
}

func (t *telemetry) metricCacheLookup(hit bool, fields ...logField) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.CacheLookup(hit, metricAttrs(fields...))
}

func (t *telemetry) metricCacheEvicted(reason string, fields ...logField) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.CacheEvicted(reason, metricAttrs(fields...))
}

func (t *telemetry) metricRequestCompleted(fields ...logField) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.RequestCompleted(metricAttrs(fields...))
}

func (t *telemetry) metricRequestFailed(err error, fields ...logField) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.RequestFailed(err, metricAttrs(fields...))
}

func (t *telemetry) metricFallback(reason string, fields ...logField) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.Fallback(reason, metricAttrs(fields...))
}

func (t *telemetry) startSpan(name string, fields ...logField) Span {
	if t == nil || t.tracer == nil {
		return nil
	}
	attrs := append([]TraceAttribute{{Key: "component", Value: "ucg-coll"}}, attributesFromFields(fields...)...)
	return t.tracer.StartSpan(name, attrs...)
}
