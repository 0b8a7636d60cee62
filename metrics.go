package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig is the optional "metrics" section of the configuration
// document (SPEC_FULL.md §6 "Ambient metrics"). An empty Listen disables the
// HTTP endpoint entirely.
type MetricsConfig struct {
	Listen string `json:"listen"`
}

// MetricsExporter scrapes StateCore.GetDiagnostics and per-instance resource
// samples onto a Prometheus registry, serving them over /metrics. Grounded
// on the teacher's PrometheusMetrics in prometheus.go: promauto-registered
// vectors keyed by a single label, refreshed from a snapshot on each scrape
// rather than updated inline at every mutation site.
type MetricsExporter struct {
	core   *StateCore
	server *http.Server

	decodesTotal     *prometheus.GaugeVec
	qsosTotal        prometheus.Gauge
	restartsTotal    *prometheus.GaugeVec
	watchdogTrips    *prometheus.GaugeVec
	decoderCPU       *prometheus.GaugeVec
	decoderRSS       *prometheus.GaugeVec
}

// NewMetricsExporter registers the hub's gauges on a fresh registry (never
// the global default, so a panicking re-registration in tests can't collide
// with another instance).
func NewMetricsExporter(core *StateCore) *MetricsExporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &MetricsExporter{
		core: core,
		decodesTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsjtxhub_decodes_total",
			Help: "Total decodes ingested per channel.",
		}, []string{"channel"}),
		qsosTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsjtxhub_qsos_completed_total",
			Help: "Total QSOs logged across all channels.",
		}),
		restartsTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsjtxhub_restarts_total",
			Help: "Total decoder restarts issued per channel.",
		}, []string{"channel"}),
		watchdogTrips: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsjtxhub_watchdog_trips_total",
			Help: "Total heartbeat-watchdog timeouts observed per channel.",
		}, []string{"channel"}),
		decoderCPU: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsjtxhub_decoder_cpu_percent",
			Help: "Last-sampled CPU percent of the channel's decoder process.",
		}, []string{"channel"}),
		decoderRSS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsjtxhub_decoder_rss_bytes",
			Help: "Last-sampled resident set size of the channel's decoder process.",
		}, []string{"channel"}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m.server = &http.Server{Handler: mux}
	return m
}

// refresh pulls the current diagnostics and instance snapshot and sets every
// gauge, called on each scrape via a promhttp middleware would be more
// idiomatic, but the teacher's own UpdateFromMeasurement pattern — refresh
// eagerly, then serve a plain registry — is simpler to reason about here
// since GetDiagnostics is already lock-cheap.
func (m *MetricsExporter) refresh() {
	diag := m.core.GetDiagnostics()
	snap := m.core.Snapshot()

	var qsos int64
	for i := 0; i < 4; i++ {
		letter := channelLetters[i]
		m.decodesTotal.WithLabelValues(letter).Set(float64(diag.DecodesPerChannel[i]))
		m.restartsTotal.WithLabelValues(letter).Set(float64(diag.RestartsPerChannel[i]))
		m.watchdogTrips.WithLabelValues(letter).Set(float64(diag.WatchdogTrips[i]))
		qsos += snap.Channels[i].QSOCount

		if inst, ok := snap.Instances[i]; ok && inst.ResourceSample != nil {
			m.decoderCPU.WithLabelValues(letter).Set(inst.ResourceSample.CPUPercent)
			m.decoderRSS.WithLabelValues(letter).Set(float64(inst.ResourceSample.RSSBytes))
		}
	}
	m.qsosTotal.Set(float64(qsos))
}

// Run binds listen and serves /metrics until ctx is canceled. A refresh
// precedes every request via a thin middleware so scrapes never see data
// older than the scrape itself.
func (m *MetricsExporter) Run(ctx context.Context, listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}

	base := m.server.Handler
	m.server.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.refresh()
		base.ServeHTTP(w, r)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- m.server.Serve(ln) }()

	log.Printf("metrics: serving /metrics on %s", listen)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
