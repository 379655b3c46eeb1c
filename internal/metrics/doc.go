// Package metrics provides the observability hooks of the worker and the
// ingestion API.
//
// Components receive a Recorder through their options and default to
// NoopRecorder, so no call site needs a nil check:
//
//	w := worker.New(q, proc, tracker, router, worker.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// PrometheusRecorder registers every metric on the registry it is given;
// HTTPHandler and Serve expose that registry for scraping.
package metrics
