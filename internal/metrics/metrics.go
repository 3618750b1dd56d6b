package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
)

// Registry holds every hookrouter collector. The router is a short-lived
// process, so nothing is scraped: the registry is written to a textfile for
// node_exporter's textfile collector instead.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	handlerDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hookrouter_handler_duration_seconds",
		Help:    "Wall time of hook handler processes",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"event", "handler", "mode"})

	handlerOutcomeTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hookrouter_handler_outcome_total",
		Help: "Handler runs grouped by outcome",
	}, []string{"event", "handler", "outcome"})

	routeDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hookrouter_route_duration_seconds",
		Help:    "End-to-end duration of one routed event",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"event"})

	routeExitTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hookrouter_route_exit_total",
		Help: "Routed events grouped by aggregate exit code",
	}, []string{"event", "exit_code"})

	lastRoute = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hookrouter_last_route_timestamp_seconds",
		Help: "Unix time of the most recent routed event",
	}, []string{"event"})
)

// ObserveHandler records one handler run.
func ObserveHandler(event string, mode hook.Mode, res hook.Result) {
	event = label(event)
	handler := label(res.Handler)
	handlerDuration.WithLabelValues(event, handler, string(mode)).Observe(res.Duration.Seconds())
	handlerOutcomeTotal.WithLabelValues(event, handler, label(string(res.Outcome))).Inc()
}

// ObserveRoute records one routed event.
func ObserveRoute(event string, exitCode int, duration time.Duration) {
	event = label(event)
	routeDuration.WithLabelValues(event).Observe(duration.Seconds())
	routeExitTotal.WithLabelValues(event, strconv.Itoa(exitCode)).Inc()
	lastRoute.WithLabelValues(event).SetToCurrentTime()
}

// WriteTextfile atomically writes the current registry to path.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
