// Package metrics exposes console statistics to Prometheus.
//
// Components keep their own counters and expose them through Stats
// methods; this package reads those snapshots at scrape time through
// GaugeFunc and CounterFunc collectors, so nothing on the hot path
// touches Prometheus.
//
// Key metrics:
//   - session connection state, reconnect attempts and heartbeat timeouts
//   - frames received, dispatched, malformed and unhandled
//   - handler calls and panics
//   - tracked, active and awaited jobs
//   - poller cycles and HTTP fallback errors
//   - history journal inserts, drops and queue depth
package metrics
