package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dria-x-project/dkn/internal/logger"
)

// Server exposes the collector's counters as Prometheus gauges on
// /metrics.
type Server struct {
	collector *Collector
	registry  *prometheus.Registry
	server    *http.Server
	log       logger.Logger
}

// NewServer creates a metrics server bound to the given port.
func NewServer(collector *Collector, port int) *Server {
	registry := prometheus.NewRegistry()

	gauge := func(name, help string, value func(Snapshot) int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dkn",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value(collector.Snapshot()))
		})
	}

	registry.MustRegister(
		gauge("gossip_accepted_total", "Gossip messages accepted", func(s Snapshot) int64 { return s.GossipAccepted }),
		gauge("gossip_rejected_total", "Gossip messages rejected", func(s Snapshot) int64 { return s.GossipRejected }),
		gauge("gossip_ignored_total", "Gossip messages ignored", func(s Snapshot) int64 { return s.GossipIgnored }),
		gauge("tasks_completed_single_total", "Completed single-track tasks", func(s Snapshot) int64 { return s.TasksCompletedSingle }),
		gauge("tasks_completed_batch_total", "Completed batch-track tasks", func(s Snapshot) int64 { return s.TasksCompletedBatch }),
		gauge("tasks_failed_total", "Tasks whose execution errored", func(s Snapshot) int64 { return s.TasksFailed }),
		gauge("heartbeats_sent_total", "Heartbeat requests sent", func(s Snapshot) int64 { return s.HeartbeatsSent }),
		gauge("heartbeats_acked_total", "Heartbeat acknowledgements received", func(s Snapshot) int64 { return s.HeartbeatsAcked }),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		collector: collector,
		registry:  registry,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.GetDefaultLogger(),
	}
}

// Start serves /metrics until Stop is called.
func (s *Server) Start() {
	go func() {
		s.log.Info("serving metrics", logger.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server failed", logger.Error(err))
		}
	}()
}

// Stop shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
