package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	BlocksIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torusscan_blocks_indexed_total",
		Help: "Canonical blocks written to block_stream.",
	}, []string{"network", "worker"})

	RPCRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torusscan_rpc_retries_total",
		Help: "Node RPC attempts that failed and were retried.",
	}, []string{"network", "op"})

	ConnectionResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torusscan_node_connection_resets_total",
		Help: "Full node connection resets after transport or metadata errors.",
	}, []string{"network"})

	ProjectionRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torusscan_projection_rows_total",
		Help: "Rows written per projection.",
	}, []string{"network", "projection"})

	BlocksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torusscan_moneyflow_blocks_skipped_total",
		Help: "Blocks skipped by the money-flow writer because height <= GlobalState.",
	}, []string{"network"})

	AnalyticsRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torusscan_graph_analytics_runs_total",
		Help: "Completed community/pagerank/embedding refresh cycles.",
	}, []string{"network", "step"})

	LastIndexedHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "torusscan_last_indexed_height",
		Help: "Highest block height committed, per worker.",
	}, []string{"network", "worker"})
)

// Serve starts the prometheus listener on the given port. A port of 0
// disables the listener; metrics stay registered in-process either way.
func Serve(log *logrus.Entry, port int) {
	if port == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("port", port).Info("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics listener failed")
		}
	}()
}
