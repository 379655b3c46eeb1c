package metrics

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventworker"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	eventsProcessed   *prom.CounterVec
	processingLatency prom.Histogram
	pollingErrors     prom.Counter
	activeWorkers     prom.Gauge
	retryAttempts     prom.Counter
	deadLetters       *prom.CounterVec
	idempotency       *prom.CounterVec
	queueDepth        prom.Gauge

	apiRequests    *prom.CounterVec
	apiLatency     *prom.HistogramVec
	eventsSubmitted prom.Counter
	eventErrors    prom.Counter
}

// NewPrometheusRecorder constructs and registers the metrics on reg. A nil reg
// gets a private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		eventsProcessed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_processed_total",
			Help:      "Total events processed by final outcome",
		}, []string{"status"}),
		processingLatency: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "processing_latency_seconds",
			Help:      "Time from receipt to terminal outcome, retries included",
			Buckets:   prom.DefBuckets,
		}),
		pollingErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_polling_errors_total",
			Help:      "Failed receive calls against the queue",
		}),
		activeWorkers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "active_workers",
			Help:      "Messages currently being handled",
		}),
		retryAttempts: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "retry_attempts_total",
			Help:      "Processing attempts that were retried after a failure",
		}),
		deadLetters: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "dead_letter_total",
			Help:      "Exhausted messages by dead-letter outcome",
		}, []string{"outcome"}),
		idempotency: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "idempotency_lookups_total",
			Help:      "Idempotency cache lookups by result",
		}, []string{"result"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Messages waiting in the primary queue at the last sample",
		}),
		apiRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by method, route and status code",
		}, []string{"method", "endpoint", "status"}),
		apiLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_latency_seconds",
			Help:      "API request latency by route",
			Buckets:   prom.DefBuckets,
		}, []string{"endpoint"}),
		eventsSubmitted: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "events_submitted_total",
			Help:      "Events accepted and enqueued",
		}),
		eventErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "event_errors_total",
			Help:      "Event submissions that failed",
		}),
	}
	reg.MustRegister(
		pr.eventsProcessed, pr.processingLatency, pr.pollingErrors, pr.activeWorkers,
		pr.retryAttempts, pr.deadLetters, pr.idempotency, pr.queueDepth,
		pr.apiRequests, pr.apiLatency, pr.eventsSubmitted, pr.eventErrors,
	)
	return pr
}

func (p *PrometheusRecorder) IncEventsProcessed(result ProcessedLabel) {
	if p == nil {
		return
	}
	p.eventsProcessed.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveProcessingLatency(d time.Duration) {
	if p == nil {
		return
	}
	p.processingLatency.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncQueuePollingErrors() {
	if p == nil {
		return
	}
	p.pollingErrors.Inc()
}

func (p *PrometheusRecorder) SetActiveWorkers(n int) {
	if p == nil {
		return
	}
	p.activeWorkers.Set(float64(n))
}

func (p *PrometheusRecorder) IncRetryAttempts() {
	if p == nil {
		return
	}
	p.retryAttempts.Inc()
}

func (p *PrometheusRecorder) IncDeadLetter(outcome DeadLetterLabel) {
	if p == nil {
		return
	}
	p.deadLetters.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncIdempotencyLookup(result LookupLabel) {
	if p == nil {
		return
	}
	p.idempotency.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncAPIRequest(method, endpoint string, status int) {
	if p == nil {
		return
	}
	p.apiRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

func (p *PrometheusRecorder) ObserveAPILatency(endpoint string, d time.Duration) {
	if p == nil {
		return
	}
	p.apiLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncEventsSubmitted() {
	if p == nil {
		return
	}
	p.eventsSubmitted.Inc()
}

func (p *PrometheusRecorder) IncEventErrors() {
	if p == nil {
		return
	}
	p.eventErrors.Inc()
}
