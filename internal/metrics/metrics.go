// Package metrics exposes Prometheus collectors for signing activity.
//
// Collectors live in a dedicated registry rather than the global default so
// that embedding applications keep control over what they export.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "asic"

// Registry holds every collector defined here.
var Registry = prometheus.NewRegistry()

var (
	signatures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signatures_total",
		Help:      "Finalized signatures by profile, container type and result.",
	}, []string{"profile", "container", "result"})

	extensions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extensions_total",
		Help:      "Signature extensions by source and target profile.",
	}, []string{"from", "to", "result"})

	serviceRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "service_requests_total",
		Help:      "OCSP and TSA requests by result.",
	}, []string{"service", "result"})

	serviceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "service_request_duration_seconds",
		Help:      "OCSP and TSA request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"})

	validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validations_total",
		Help:      "Container validations by verdict.",
	}, []string{"verdict"})
)

func init() {
	Registry.MustRegister(signatures, extensions, serviceRequests, serviceLatency, validations)
}

// Service names used as label values.
const (
	ServiceOCSP = "ocsp"
	ServiceTSA  = "tsa"
)

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveSignature counts a finalize attempt.
func ObserveSignature(profile, container string, err error) {
	signatures.WithLabelValues(profile, container, result(err)).Inc()
}

// ObserveExtension counts an extension attempt.
func ObserveExtension(from, to string, err error) {
	extensions.WithLabelValues(from, to, result(err)).Inc()
}

// ObserveServiceCall records one OCSP or TSA round trip started at start.
func ObserveServiceCall(service string, start time.Time, err error) {
	serviceRequests.WithLabelValues(service, result(err)).Inc()
	serviceLatency.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// ObserveValidation counts a validation verdict.
func ObserveValidation(valid bool) {
	verdict := "invalid"
	if valid {
		verdict = "valid"
	}
	validations.WithLabelValues(verdict).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
