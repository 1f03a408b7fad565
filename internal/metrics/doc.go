// Package metrics records job, step, clone and queue metrics.
//
// Components receive a Recorder; NoopRecorder is the default so callers
// never nil-check. The daemon injects a PrometheusRecorder and serves its
// registry on /metrics.
package metrics
