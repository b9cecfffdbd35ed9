package node

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// metricsServer exposes the node's Prometheus registry over HTTP as a
// lifecycle service.
type metricsServer struct {
	srv *http.Server
	log zerolog.Logger
}

func newMetricsServer(addr string, reg *prometheus.Registry, logger zerolog.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &metricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger,
	}
}

func (m *metricsServer) Name() string { return "metrics" }

func (m *metricsServer) Start() error {
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error().Err(err).Msg("metrics server exited")
		}
	}()
	m.log.Info().Str("addr", m.srv.Addr).Msg("serving metrics")
	return nil
}

func (m *metricsServer) Stop() error {
	return m.srv.Close()
}
