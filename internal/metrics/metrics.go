// Package metrics exports ingestion telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for ingest, delete and derivative operations.
type Observer interface {
	RecordIngest(duration time.Duration, sizeBytes int64, err error)
	RecordRejection(kind string)
	RecordDelete(duration time.Duration, existed bool, err error)
	RecordDerivative(spec string, duration time.Duration, err error)
	RecordSweep(removed, regenerated int, err error)
}

type PrometheusObserver struct {
	duration    *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	derivatives *prometheus.CounterVec
	deletes     *prometheus.CounterVec
	swept       *prometheus.CounterVec
	ingested    prometheus.Counter
}

func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "imagestore"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{}
	var err error
	if o.duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of ingest, delete and derive operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.errors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Count of failed operations.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.rejections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_uploads_total",
		Help:      "Uploads refused by validation, by reason.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if o.derivatives, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "derivatives_total",
		Help:      "Derivatives produced, by size and outcome.",
	}, []string{"spec", "outcome"})); err != nil {
		return nil, err
	}
	if o.deletes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deletes_total",
		Help:      "Delete requests, by whether the original existed.",
	}, []string{"existed"})); err != nil {
		return nil, err
	}
	if o.swept, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_files_total",
		Help:      "Derivatives removed or regenerated by maintenance sweeps.",
	}, []string{"action"})); err != nil {
		return nil, err
	}
	if o.ingested, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_bytes_total",
		Help:      "Cumulative size of stored originals.",
	})); err != nil {
		return nil, err
	}
	return o, nil
}

// register reuses an identical collector already present in reg, so several
// observers can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func (o *PrometheusObserver) RecordIngest(duration time.Duration, sizeBytes int64, err error) {
	o.record("ingest", duration, err)
	if err == nil {
		o.ingested.Add(float64(sizeBytes))
	}
}

func (o *PrometheusObserver) RecordRejection(kind string) {
	o.rejections.WithLabelValues(kind).Inc()
}

func (o *PrometheusObserver) RecordDelete(duration time.Duration, existed bool, err error) {
	o.record("delete", duration, err)
	if err == nil {
		o.deletes.WithLabelValues(fmt.Sprint(existed)).Inc()
	}
}

func (o *PrometheusObserver) RecordDerivative(spec string, duration time.Duration, err error) {
	o.record("derive", duration, err)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	o.derivatives.WithLabelValues(spec, outcome).Inc()
}

func (o *PrometheusObserver) RecordSweep(removed, regenerated int, err error) {
	if err != nil {
		o.errors.WithLabelValues("sweep").Inc()
	}
	o.swept.WithLabelValues("removed").Add(float64(removed))
	o.swept.WithLabelValues("regenerated").Add(float64(regenerated))
}

func (o *PrometheusObserver) record(op string, duration time.Duration, err error) {
	o.duration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues(op).Inc()
	}
}

type nopObserver struct{}

// Nop discards everything; used when metrics are disabled.
func Nop() Observer { return nopObserver{} }

func (nopObserver) RecordIngest(time.Duration, int64, error) {}

func (nopObserver) RecordRejection(string) {}

func (nopObserver) RecordDelete(time.Duration, bool, error) {}

func (nopObserver) RecordDerivative(string, time.Duration, error) {}

func (nopObserver) RecordSweep(int, int, error) {}
