// Package metrics exposes a daemon's state as Prometheus gauges served
// over an optional HTTP bind. Collection is pull-based: gauges read the
// daemon's published status at scrape time, so no control-loop code
// touches the metrics path.
package metrics
