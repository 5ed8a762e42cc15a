// Package observability provides Prometheus metrics and structured logging
// for the coordinator and unit processes.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: dispatch_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions in a process embedding this
// package alongside other instrumented libraries.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric descriptor the coordinator and
// unit processes record against.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Fire events ──────────────────────────────────────────────────────

	// EventsIngestedTotal counts fire events popped from the priority
	// queue and processed. Labels: severity.
	EventsIngestedTotal *prometheus.CounterVec

	// EventsPurgedTotal counts queued events purged by the cleanup timer
	// or a FIRE_OUT transition.
	EventsPurgedTotal prometheus.Counter

	// QueueDepth is the current depth of the coordinator's priority queue.
	QueueDepth prometheus.Gauge

	// ─── Dispatch ─────────────────────────────────────────────────────────

	// DispatchesTotal counts units dispatched to a zone. Labels: reason
	// (event, idle, reconcile). Redirections are counted by
	// RedirectionsTotal instead.
	DispatchesTotal *prometheus.CounterVec

	// DispatchSendFailuresTotal counts dispatch sends that failed and were
	// reverted.
	DispatchSendFailuresTotal prometheus.Counter

	// ZonesActive is the current number of zones with hasFire=true.
	ZonesActive prometheus.Gauge

	// ZonesFullyAssigned is the current size of the fullyAssigned set.
	ZonesFullyAssigned prometheus.Gauge

	// ─── Units ────────────────────────────────────────────────────────────

	// UnitStateTransitionsTotal counts unit state transitions. Labels:
	// from_state, to_state.
	UnitStateTransitionsTotal *prometheus.CounterVec

	// UnitsRegistered is the current number of units known to the registry.
	UnitsRegistered prometheus.Gauge

	// UnitsFaulted is the current number of units in the Fault state.
	UnitsFaulted prometheus.Gauge

	// FirefightingDuration records the time spent in DroppingAgent, by
	// severity.
	FirefightingDuration *prometheus.HistogramVec

	// ─── Fault handling ───────────────────────────────────────────────────

	// RedirectionsTotal counts in-flight redirections.
	RedirectionsTotal prometheus.Counter

	// FireOutTotal counts FIRE_OUT telemetry received. Labels: duplicate
	// (true, false) — whether this was an idempotent repeat.
	FireOutTotal *prometheus.CounterVec

	// ─── Process ──────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since process start.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers every dispatch Prometheus metric on a
// fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "events",
			Name:      "ingested_total",
			Help:      "Total fire events accepted into the priority queue, by severity.",
		}, []string{"severity"}),

		EventsPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "events",
			Name:      "purged_total",
			Help:      "Total queued events purged by cleanup or a FIRE_OUT transition.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Current depth of the coordinator's priority event queue.",
		}),

		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Total units dispatched to a zone, by reason.",
		}, []string{"reason"}),

		DispatchSendFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "dispatch",
			Name:      "send_failures_total",
			Help:      "Total dispatch sends that failed and had their bookkeeping increment reverted.",
		}),

		ZonesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "zones",
			Name:      "active",
			Help:      "Current number of zones with an active fire.",
		}),

		ZonesFullyAssigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "zones",
			Name:      "fully_assigned",
			Help:      "Current size of the fullyAssigned memoisation set.",
		}),

		UnitStateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "units",
			Name:      "state_transitions_total",
			Help:      "Total unit state transitions, by from_state and to_state.",
		}, []string{"from_state", "to_state"}),

		UnitsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "units",
			Name:      "registered",
			Help:      "Current number of units known to the registry.",
		}),

		UnitsFaulted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "units",
			Name:      "faulted",
			Help:      "Current number of units in the Fault state.",
		}),

		FirefightingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Subsystem: "units",
			Name:      "firefighting_duration_seconds",
			Help:      "Time spent in DroppingAgent, by severity.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"severity"}),

		RedirectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "dispatch",
			Name:      "redirections_total",
			Help:      "Total in-flight unit redirections performed by reconciliation.",
		}),

		FireOutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "zones",
			Name:      "fire_out_total",
			Help:      "Total FIRE_OUT telemetry received, labelled by whether it was a duplicate delivery.",
		}, []string{"duplicate"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since process start.",
		}),
	}

	reg.MustRegister(
		m.EventsIngestedTotal,
		m.EventsPurgedTotal,
		m.QueueDepth,
		m.DispatchesTotal,
		m.DispatchSendFailuresTotal,
		m.ZonesActive,
		m.ZonesFullyAssigned,
		m.UnitStateTransitionsTotal,
		m.UnitsRegistered,
		m.UnitsFaulted,
		m.FirefightingDuration,
		m.RedirectionsTotal,
		m.FireOutTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr. Blocks
// until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
