package coll

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter             metric.Meter
	cacheLookups      metric.Int64Counter
	cacheEvictions    metric.Int64Counter
	requestsCompleted metric.Int64Counter
	requestsFailed    metric.Int64Counter
	fallbacks         metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/ucg-go/coll"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	cacheLookups, err := meter.Int64Counter("ucg.coll.cache.lookups")
	if err != nil {
		return nil, err
	}
	cacheEvictions, err := meter.Int64Counter("ucg.coll.cache.evictions")
	if err != nil {
		return nil, err
	}
	requestsCompleted, err := meter.Int64Counter("ucg.coll.requests.completed")
	if err != nil {
		return nil, err
	}
	requestsFailed, err := meter.Int64Counter("ucg.coll.requests.failed")
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("ucg.coll.fallbacks")
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		meter:             meter,
		cacheLookups:      cacheLookups,
		cacheEvictions:    cacheEvictions,
		requestsCompleted: requestsCompleted,
		requestsFailed:    requestsFailed,
		fallbacks:         fallbacks,
	}, nil
}

// CacheLookup records a request cache lookup and whether it hit.
func (o *OTelMetrics) CacheLookup(hit bool, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelResult, lookupResult(hit)))
	o.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

// CacheEvicted records a request leaving the cache.
func (o *OTelMetrics) CacheEvicted(reason string, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelReason, reason))
	o.cacheEvictions.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

func (o *OTelMetrics) RequestCompleted(attrs map[string]string) {
	o.requestsCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func (o *OTelMetrics) RequestFailed(_ error, attrs map[string]string) {
	attributes := otelAttrs(attrs)
	if v := attrs[labelStage]; v != "" {
		attributes = append(attributes, attribute.String(labelStage, v))
	}
	o.requestsFailed.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

// Fallback records a call handed to the previous implementation.
func (o *OTelMetrics) Fallback(reason string, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelReason, reason))
	o.fallbacks.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

func otelAttrs(attrs map[string]string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(labelOp, attrs[labelOp]),
	}
	if v := attrs[labelMode]; v != "" {
		kvs = append(kvs, attribute.String(labelMode, v))
	}
	if v := attrs[labelComm]; v != "" {
		kvs = append(kvs, attribute.String(labelComm, v))
	}
	return kvs
}
