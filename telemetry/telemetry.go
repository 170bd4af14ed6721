// Package telemetry wires go-metrics for the broker: an in-memory sink always,
// plus a Prometheus sink served over HTTP when a metrics address is set.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	log "github.com/CefBoud/monpubsub/logging"
	"github.com/hashicorp/go-metrics"
	metricsprom "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric keys
var (
	KeyRequests   = []string{"broker", "requests"}
	KeyScaleUp    = []string{"broker", "scale_up"}
	KeyScaleDown  = []string{"broker", "scale_down"}
	KeyRosterSize = []string{"broker", "roster_size"}
	KeyPoolSize   = []string{"broker", "pool_size"}
	KeyLeader     = []string{"broker", "leader"}
	KeyDropped    = []string{"broker", "dropped"}
	KeyBroadcasts = []string{"broker", "broadcasts"}
)

// Telemetry holds the metrics sink and, with Prometheus enabled, its registry
type Telemetry struct {
	Metrics  *metrics.Metrics
	Inmem    *metrics.InmemSink
	Registry *prometheus.Registry // nil without Prometheus
}

func config(service string) *metrics.Config {
	cfg := metrics.DefaultConfig(service)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	return cfg
}

// New builds the metrics pipeline for service
func New(service string, withPrometheus bool) (*Telemetry, error) {
	t := &Telemetry{Inmem: metrics.NewInmemSink(10*time.Second, time.Minute)}
	var sink metrics.MetricSink = t.Inmem
	if withPrometheus {
		t.Registry = prometheus.NewRegistry()
		promSink, err := metricsprom.NewPrometheusSinkFrom(metricsprom.PrometheusOpts{
			Expiration: time.Minute,
			Registerer: t.Registry,
		})
		if err != nil {
			return nil, err
		}
		sink = metrics.FanoutSink{t.Inmem, promSink}
	}
	m, err := metrics.New(config(service), sink)
	if err != nil {
		return nil, err
	}
	t.Metrics = m
	return t, nil
}

// Discard returns metrics that go nowhere
func Discard() *metrics.Metrics {
	m, _ := metrics.New(config("discard"), &metrics.BlackholeSink{})
	return m
}

// Handler serves the Prometheus registry; 404 without Prometheus
func (t *Telemetry) Handler() http.Handler {
	if t.Registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (t *Telemetry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("metrics listening on %s", ln.Addr())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
