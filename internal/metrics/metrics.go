package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/studio-console/internal/connection"
	"github.com/rickgao/studio-console/internal/poller"
	"github.com/rickgao/studio-console/internal/router"
	"github.com/rickgao/studio-console/internal/tasks"
	"github.com/rickgao/studio-console/internal/writer"
)

const defaultNamespace = "studio_console"

// Config contains metrics configuration.
type Config struct {
	// Namespace prefixes every metric. Defaults to "studio_console".
	Namespace string
	// ConstLabels are added to every metric, e.g. the instance id.
	ConstLabels map[string]string
	// Registerer receives the collectors. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Sources reads component statistics. Nil sources are skipped.
type Sources struct {
	Connection func() connection.ManagerStats
	Registry   func() router.RegistryStats
	Tasks      func() tasks.Stats
	Poller     func() poller.Stats
	History    func() writer.HistoryStats
}

type builder struct {
	cfg        Config
	collectors []prometheus.Collector
}

func (b *builder) gauge(subsystem, name, help string, fn func() float64) {
	b.collectors = append(b.collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   b.cfg.Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: b.cfg.ConstLabels,
	}, fn))
}

func (b *builder) counter(subsystem, name, help string, fn func() float64) {
	b.collectors = append(b.collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   b.cfg.Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: b.cfg.ConstLabels,
	}, fn))
}

// Register creates collectors for every non-nil source and registers
// them. Registration errors are joined; collectors that registered stay
// registered.
func Register(cfg Config, src Sources) error {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	b := &builder{cfg: cfg}

	if fn := src.Connection; fn != nil {
		b.gauge("session", "state", "Connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closing).",
			func() float64 { return float64(fn().State) })
		b.gauge("session", "reconnect_attempts", "Failed attempts since the last successful connect.",
			func() float64 { return float64(fn().ReconnectAttempts) })
		b.counter("session", "connects_total", "Successful connects.",
			func() float64 { return float64(fn().Connects) })
		b.counter("session", "connect_failures_total", "Failed dial attempts.",
			func() float64 { return float64(fn().ConnectFailures) })
		b.counter("session", "connection_losses_total", "Unexpected connection losses.",
			func() float64 { return float64(fn().ConnectionLosses) })
		b.counter("session", "heartbeat_timeouts_total", "Connections dropped for missing pongs.",
			func() float64 { return float64(fn().HeartbeatTimeouts) })
		b.counter("session", "frames_received_total", "Text frames read from the socket.",
			func() float64 { return float64(fn().FramesReceived) })
		b.counter("session", "frames_malformed_total", "Frames dropped before dispatch.",
			func() float64 { return float64(fn().FramesMalformed) })
		b.counter("session", "frames_sent_total", "Frames written to the socket.",
			func() float64 { return float64(fn().FramesSent) })
	}

	if fn := src.Registry; fn != nil {
		b.counter("dispatch", "frames_total", "Decoded frames offered to handlers.",
			func() float64 { return float64(fn().FramesDispatched) })
		b.counter("dispatch", "malformed_frames_total", "Frames that failed to decode.",
			func() float64 { return float64(fn().FramesMalformed) })
		b.counter("dispatch", "unhandled_frames_total", "Frames with no registered handler.",
			func() float64 { return float64(fn().Unhandled) })
		b.counter("dispatch", "handler_calls_total", "Handler invocations.",
			func() float64 { return float64(fn().HandlerCalls) })
		b.counter("dispatch", "handler_panics_total", "Handler invocations that panicked.",
			func() float64 { return float64(fn().HandlerPanics) })
		b.gauge("dispatch", "handlers", "Registered handlers.",
			func() float64 { return float64(fn().Handlers) })
	}

	if fn := src.Tasks; fn != nil {
		b.gauge("tasks", "known", "Jobs held by the tracker.",
			func() float64 { return float64(fn().Known) })
		b.gauge("tasks", "active", "Pending or running jobs.",
			func() float64 { return float64(fn().Active) })
		b.gauge("tasks", "waiters", "Callers waiting for a job to finish.",
			func() float64 { return float64(fn().Waiters) })
		b.counter("tasks", "dropped_changes_total", "Change notifications dropped on a full channel.",
			func() float64 { return float64(fn().DroppedChanges) })
		b.counter("tasks", "decode_errors_total", "task_update pushes that could not be decoded.",
			func() float64 { return float64(fn().DecodeErrors) })
		b.counter("tasks", "stale_updates_total", "Snapshots ignored because the job had already finished.",
			func() float64 { return float64(fn().StaleUpdates) })
	}

	if fn := src.Poller; fn != nil {
		b.counter("poller", "cycles_total", "Poll cycles run.",
			func() float64 { return float64(fn().Cycles) })
		b.counter("poller", "push_requests_total", "Status requests sent over the session.",
			func() float64 { return float64(fn().PushRequests) })
		b.counter("poller", "http_fetches_total", "Jobs refreshed over HTTP.",
			func() float64 { return float64(fn().HTTPFetches) })
		b.counter("poller", "http_errors_total", "Failed HTTP refreshes.",
			func() float64 { return float64(fn().HTTPErrors) })
	}

	if fn := src.History; fn != nil {
		b.counter("history", "recorded_total", "Events queued for the journal.",
			func() float64 { return float64(fn().Recorded) })
		b.counter("history", "dropped_total", "Events dropped on a full queue.",
			func() float64 { return float64(fn().Dropped) })
		b.counter("history", "inserts_total", "Rows written to the journal.",
			func() float64 { return float64(fn().Inserts) })
		b.counter("history", "errors_total", "Failed batch inserts.",
			func() float64 { return float64(fn().Errors) })
		b.gauge("history", "queued", "Events waiting to be written.",
			func() float64 { return float64(fn().Queued) })
	}

	var errs []error
	for _, c := range b.collectors {
		if err := cfg.Registerer.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler serves the metrics gathered by g, or the default gatherer
// when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
