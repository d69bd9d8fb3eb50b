// Package engine implements the Engine (C4): composes Curve, Peer Client,
// Peer Server, and Policy, and owns process lifecycle (start, serve,
// shutdown).
package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pressly/lg"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	gtls "google.golang.org/grpc/credentials"

	"github.com/ninefl/psi-node/internal/audit"
	"github.com/ninefl/psi-node/internal/curve"
	"github.com/ninefl/psi-node/internal/discovery"
	"github.com/ninefl/psi-node/internal/metrics"
	"github.com/ninefl/psi-node/internal/peer"
	"github.com/ninefl/psi-node/internal/policy"
	"github.com/ninefl/psi-node/internal/psirpc"
	"github.com/ninefl/psi-node/internal/wire"
)

// TLSConfig bundles the server-presented identity and the CA the outbound
// client verifies the peer against, for TLS on the peer channel. Only the
// server presents a certificate; clients are not authenticated by TLS.
type TLSConfig struct {
	Enabled    bool
	ServerCert string // server.pem
	ServerKey  string // server.key
	PeerCACert string // ca.pem, used by the outbound client
}

// Config is everything the Engine needs to start: curve choice, peer
// identity, transport addresses, policy selection, and the optional
// ambient integrations (Redis discovery, Kafka audit).
type Config struct {
	CurveType    curve.Type
	Key          []byte
	ID           string
	Target       string
	ListenAddr   string // PSI port this instance's Peer Server binds
	PeerAddr     string // the remote peer's PSI port
	TLS          TLSConfig
	PolicyName   string // "default" or "batcher"
	Batcher      policy.BatcherConfig
	Redis        discovery.Config
	Audit        *audit.Sink
	BuildVersion string
}

// Engine composes C1-C6 into a runnable serving node.
type Engine struct {
	cfg    Config
	sec    curve.Secret
	client *peer.Client
	server *peer.Server
	pol    policy.Policy
	grpc   *grpc.Server
	log    *logrus.Logger
	zlog   zerolog.Logger
	cron   *cron.Cron
}

// New constructs the Engine. Fallible by design: curve setup, bind, and TLS
// load may all fail, and a failure here is always KindLocalFatal (spec
// §4.4). The Redis discovery write does not fail New: discovery.Announce
// logs its errors and returns nothing.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	_, logger := setupLogger(ctx)
	zlog := zerolog.New(logger.Writer()).With().Timestamp().Logger()

	sec, err := curve.New(cfg.CurveType, cfg.Key)
	if err != nil {
		return nil, wire.NewError(wire.KindLocalFatal, fmt.Errorf("curve setup: %w", err))
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, wire.NewError(wire.KindLocalFatal, fmt.Errorf("bind %s: %w", cfg.ListenAddr, err))
	}

	peerServer := peer.NewServer(sec, zlog)

	grpcOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(1 << 30),
		grpc.MaxSendMsgSize(1 << 30),
	}
	if cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.ServerCert, cfg.TLS.ServerKey)
		if err != nil {
			return nil, wire.NewError(wire.KindLocalFatal, fmt.Errorf("loading server TLS identity: %w", err))
		}
		creds := gtls.NewTLS(&tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}
	srv := grpc.NewServer(grpcOpts...)
	psirpc.RegisterServer(srv, peerServer)

	go func() {
		if err := srv.Serve(lis); err != nil {
			logger.WithError(err).Error("peer server stopped serving")
		}
	}()

	client := peer.NewClient(peer.ClientConfig{
		Addr:       cfg.PeerAddr,
		ID:         cfg.ID,
		Target:     cfg.Target,
		UseTLS:     cfg.TLS.Enabled,
		CACertPath: cfg.TLS.PeerCACert,
	}, sec, zlog)

	var pol policy.Policy
	switch cfg.PolicyName {
	case "batcher":
		pol = policy.NewBatcher(cfg.Batcher, client, sec, zlog)
	default:
		pol = policy.NewDefault(client)
	}

	if cfg.Redis.Addr != "" {
		discovery.Announce(cfg.Redis, cfg.ID, cfg.ListenAddr, zlog)
	}

	e := &Engine{
		cfg:    cfg,
		sec:    sec,
		client: client,
		server: peerServer,
		pol:    pol,
		grpc:   srv,
		log:    logger,
		zlog:   zlog,
	}

	if cfg.PolicyName == "batcher" {
		e.startTelemetry()
	}

	return e, nil
}

// startTelemetry runs a minute-by-minute structured log of the batcher's
// backlog depth and the peer channel's reconnect/unavailable counters
// (spec_full §6). Skipped entirely for the default policy, which has no
// backlog to report.
func (e *Engine) startTelemetry() {
	batcher, ok := e.pol.(*policy.Batcher)
	if !ok {
		return
	}
	e.cron = cron.New()
	_, _ = e.cron.AddFunc("@every 1m", func() {
		e.zlog.Info().
			Str("policy", e.cfg.PolicyName).
			Int("batcher_queue_depth", batcher.QueueDepth()).
			Float64("peer_reconnects_total", readCounter(metrics.CounterPeerReconnects)).
			Float64("peer_unavailable_total", readCounter(metrics.CounterPeerUnavailable)).
			Msg("batcher telemetry tick")
	})
	e.cron.Start()
}

// readCounter extracts the current value of a prometheus.Counter. Counter
// exposes no direct accessor; Write is the documented way to introspect a
// collector's own state outside of a scrape.
func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Logger returns the engine's request logger, so the ingress router can
// wire the same ambient request-logging the teacher applies.
func (e *Engine) Logger() *logrus.Logger {
	return e.log
}

// Execute delegates a client request to the configured Policy, recording
// metrics and optionally emitting a metadata-only audit event.
func (e *Engine) Execute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	start := time.Now()
	res, err := e.pol.Execute(ctx, req)

	if e.cfg.Audit.Enabled() {
		ev := audit.Event{
			Peer:      e.cfg.Target,
			KeyCount:  len(req.Keys),
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if req.Header != nil {
			ev.RequestID = req.Header.RequestID
		}
		if res != nil && res.Header != nil {
			ev.Code = res.Header.Code
		} else if err != nil {
			ev.Code = -1
		}
		go e.cfg.Audit.Emit(ev)
	}

	return res, err
}

// Shutdown signals the Peer Server and Policy, waiting up to 2s before
// forcing a stop (spec §4.4).
func (e *Engine) Shutdown() {
	if e.cron != nil {
		e.cron.Stop()
	}

	done := make(chan struct{})
	go func() {
		e.pol.Shutdown()
		e.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		e.grpc.Stop()
	}
}

func setupLogger(ctx context.Context) (context.Context, *logrus.Logger) {
	logger := logrus.New()
	lg.RedirectStdlogOutput(logger)
	lg.DefaultLogger = logger
	ctx = lg.WithLoggerContext(ctx, logger)
	return ctx, logger
}
