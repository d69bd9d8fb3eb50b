package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/go-chi/chi"
	"github.com/rs/zerolog"

	"github.com/ninefl/psi-node/internal/audit"
	"github.com/ninefl/psi-node/internal/curve"
	"github.com/ninefl/psi-node/internal/discovery"
	"github.com/ninefl/psi-node/internal/engine"
	"github.com/ninefl/psi-node/internal/ingress"
	"github.com/ninefl/psi-node/internal/metrics"
	"github.com/ninefl/psi-node/internal/policy"
	"github.com/ninefl/psi-node/internal/wire"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	var (
		key               = flag.String("key", "", "secret scalar key material; randomly generated if empty")
		id                = flag.String("id", "", "this instance's peer identity string")
		target            = flag.String("target", "", "the remote peer's identity string")
		host              = flag.String("host", "0.0.0.0:6325", "HTTP ingress bind address")
		psiHost           = flag.String("psi-host", "0.0.0.0:6324", "peer RPC bind address")
		remote            = flag.String("remote", "", "the remote peer's RPC address")
		redisAddress      = flag.String("redis-address", "", "optional Redis address for service-discovery write")
		redisPassword     = flag.String("redis-password", "", "Redis auth password")
		curveName         = flag.String("curve", "curve25519", "curve25519 or p256")
		policyName        = flag.String("policy", "default", "default or batcher")
		batcherDurationMs = flag.Int("batcher-duration-ms", 10, "batcher: max wall-clock wait to fill a batch")
		batcherCache      = flag.Int("batcher-cache", 10000, "batcher: per-worker bounded queue capacity")
		batcherBatchSize  = flag.Int("batcher-batch-size", 1000, "batcher: max requests combined per peer call")
		batcherWorkers    = flag.Int("batcher-workers", 8, "batcher: number of independent worker queues")
		innerTLS          = flag.Bool("inner-tls", false, "enable TLS on the peer channel (server certificate only)")
		innerTLSCertPath  = flag.String("inner-tls-cert-path", "/App/tls", "directory holding server.pem/server.key/ca.pem")
		metricsAddr       = flag.String("metrics-address", "0.0.0.0:6326", "Prometheus metrics bind address")
		kafkaBrokers      = flag.String("kafka-brokers", "", "comma-separated Kafka brokers for the optional audit sink")
		kafkaAuditTopic   = flag.String("kafka-audit-topic", "psi.audit.v1", "Kafka topic for audit events")
	)
	flag.Parse()

	if env := os.Getenv("KAFKA_BROKERS"); env != "" && *kafkaBrokers == "" {
		*kafkaBrokers = env
	}

	if *key == "" {
		*key = randomAlphanumeric(32)
	}
	if !strings.HasPrefix(*remote, "http") {
		*remote = "http://" + *remote
	}
	peerAddr := strings.TrimPrefix(strings.TrimPrefix(*remote, "http://"), "https://")

	zlog := zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	if os.Getenv("ENV") != "production" {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	var auditSink *audit.Sink
	if *kafkaBrokers != "" {
		auditSink = audit.NewSink(strings.Split(*kafkaBrokers, ","), *kafkaAuditTopic, zlog)
	}

	cfg := engine.Config{
		CurveType:  curve.Type(*curveName),
		Key:        []byte(*key),
		ID:         *id,
		Target:     *target,
		ListenAddr: *psiHost,
		PeerAddr:   peerAddr,
		TLS: engine.TLSConfig{
			Enabled:    *innerTLS,
			ServerCert: *innerTLSCertPath + "/server.pem",
			ServerKey:  *innerTLSCertPath + "/server.key",
			PeerCACert: *innerTLSCertPath + "/ca.pem",
		},
		PolicyName: *policyName,
		Batcher: policy.BatcherConfig{
			Workers:   *batcherWorkers,
			Duration:  time.Duration(*batcherDurationMs) * time.Millisecond,
			Cache:     *batcherCache,
			BatchSize: *batcherBatchSize,
		},
		Redis:        discovery.Config{Addr: *redisAddress, Password: *redisPassword},
		Audit:        auditSink,
		BuildVersion: Version,
	}

	ctx := context.Background()
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		raven.CaptureErrorAndWait(err, nil)
		zlog.Error().Err(err).Msg("fatal: engine setup failed")
		os.Exit(1)
	}

	go metrics.RegisterAndListen(*metricsAddr, Version, log.New(os.Stderr, "metrics: ", log.LstdFlags))

	_, router := ingress.NewRouter(ctx, eng, *policyName, eng.Logger())
	httpSrv := &http.Server{Addr: *host, Handler: chi.ServerBaseContext(ctx, router)}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			raven.CaptureErrorAndWait(wire.NewError(wire.KindLocalFatal, err), nil)
			zlog.Error().Err(err).Msg("fatal: ingress server failed")
			os.Exit(1)
		}
	}()

	zlog.Info().Str("host", *host).Str("psi_host", *psiHost).Msg("serving node started")
	waitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	eng.Shutdown()
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func randomAlphanumeric(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("randomAlphanumeric: %v", err))
	}
	out := make([]byte, n)
	for i, v := range buf {
		out[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(out)
}
