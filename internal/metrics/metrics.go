// Package metrics is adapted from the teacher's metrics/metrics.go:
// counters registered with the default Prometheus registry at package
// init(), served from a dedicated mux and listener rather than the
// application router.
package metrics

import (
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var GoVersion = runtime.Version()

var (
	CounterRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "psi_requests_total",
		Help: "Total number of PSI execute requests accepted by the ingress, by policy.",
	}, []string{"policy"})

	CounterRequestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "psi_request_errors_total",
		Help: "Total number of PSI execute requests that failed, by error kind.",
	}, []string{"kind"})

	CounterBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "psi_batches_total",
		Help: "Total number of peer calls issued by the batcher policy.",
	})

	HistogramBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "psi_batch_size",
		Help:    "Number of DispatcherRequests combined into each peer call.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	CounterPeerReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "psi_peer_reconnects_total",
		Help: "Total number of successful peer channel reconnects.",
	})

	CounterPeerUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "psi_peer_unavailable_total",
		Help: "Total number of peer RPCs that returned Unavailable.",
	})

	BuildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A metric with a constant '1' value labeled by version and goversion the binary was built with.",
	}, []string{"version", "goversion"})
)

func init() {
	prometheus.MustRegister(
		CounterRequestsTotal, CounterRequestErrors, CounterBatchesTotal,
		HistogramBatchSize, CounterPeerReconnects, CounterPeerUnavailable, BuildInfo,
	)
}

// RegisterAndListen serves /metrics and the standard pprof debug routes on
// listenAddr, mirroring the teacher's RegisterAndListen.
func RegisterAndListen(listenAddr, version string, errLog *log.Logger) {
	BuildInfo.WithLabelValues(version, GoVersion).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/debug/version", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "GoVersion: %s", GoVersion)
	})

	server := http.Server{
		Handler:  mux,
		Addr:     listenAddr,
		ErrorLog: errLog,
	}

	errLog.Printf("metrics listening on %s", listenAddr)
	if err := server.ListenAndServe(); err != nil {
		errLog.Printf("failed to serve metrics: %v", err)
	}
}
