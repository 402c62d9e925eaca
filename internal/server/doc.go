// Package server exposes the control API: session start/stop, status,
// configuration, statistics, and Prometheus metrics over HTTP.
package server
