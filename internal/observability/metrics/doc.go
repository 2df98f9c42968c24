// Package metrics exposes Prometheus collectors for the HTTP surface, the
// orchestration loop, tool correlation and the task processor.
package metrics
