// Package api exposes the HTTP surface of the daemon: task submission,
// listing, detail and cancellation, completion of correlated tool requests by
// external executors, the tool catalog, and Prometheus metrics.
package api
