// Package peer implements the Peer Client (C2) and Peer Server (C3): the
// gRPC channel two serving node instances use to exchange a second
// encryption layer over each other's records. With TLS enabled, the client
// verifies the server's certificate; the client presents no certificate.
package peer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ninefl/psi-node/internal/curve"
	"github.com/ninefl/psi-node/internal/metrics"
	"github.com/ninefl/psi-node/internal/psirpc"
	"github.com/ninefl/psi-node/internal/wire"
)

// ClientConfig configures the outbound channel to the peer serving node.
type ClientConfig struct {
	Addr       string // host:port
	ID         string
	Target     string
	UseTLS     bool
	CACertPath string
}

// Client is the Peer Client (C2): one lazily-constructed channel shared
// across requests, guarded by a read/write lease so concurrent reconnect
// attempts never pile up (spec §5 "Shared resources").
type Client struct {
	cfg ClientConfig
	sec curve.Secret
	log zerolog.Logger

	mu   sync.RWMutex // guards conn/rpc: read lease for sends, write lease for reconnect
	conn *grpc.ClientConn
	rpc  psirpc.Client
}

// NewClient constructs a Peer Client. The channel itself is not dialed
// until the first RPC (lazy connect, spec §4.2).
func NewClient(cfg ClientConfig, sec curve.Secret, log zerolog.Logger) *Client {
	return &Client{cfg: cfg, sec: sec, log: log.With().Str("component", "peer_client").Logger()}
}

func (c *Client) dialOptions() ([]grpc.DialOption, error) {
	// The batcher may produce very large batches; remove the default
	// message-size ceiling on both directions (spec §4.3 "Message size").
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(1<<30),
			grpc.MaxCallSendMsgSize(1<<30),
		),
	}

	if !c.cfg.UseTLS {
		return append(opts, grpc.WithInsecure()), nil
	}
	pool := x509.NewCertPool()
	pem, err := ioutil.ReadFile(c.cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("peer client: reading CA cert: %w", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("peer client: no certificates parsed from %s", c.cfg.CACertPath)
	}
	creds := credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})
	return append(opts, grpc.WithTransportCredentials(creds)), nil
}

// connection returns the current channel, dialing it on first use.
func (c *Client) connection() (psirpc.Client, error) {
	c.mu.RLock()
	if c.rpc != nil {
		rpc := c.rpc
		c.mu.RUnlock()
		return rpc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		return c.rpc, nil
	}
	opts, err := c.dialOptions()
	if err != nil {
		return nil, err
	}
	conn, err := grpc.Dial(c.cfg.Addr, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.rpc = psirpc.NewClient(conn)
	return c.rpc, nil
}

// reconnect replaces the channel in place. It is guarded by a non-blocking
// write lease: if another reconnect is already in flight, this call gives
// up immediately rather than blocking behind it (spec §5, preventing
// thundering reconnects).
func (c *Client) reconnect() {
	if !c.mu.TryLock() {
		return
	}
	defer c.mu.Unlock()

	old := c.conn
	opts, err := c.dialOptions()
	if err != nil {
		c.log.Error().Err(err).Msg("peer reconnect: dial options")
		return
	}
	conn, err := grpc.Dial(c.cfg.Addr, opts...)
	if err != nil {
		c.log.Error().Err(err).Msg("peer reconnect: dial failed")
		return
	}
	c.conn = conn
	c.rpc = psirpc.NewClient(conn)
	if old != nil {
		_ = old.Close()
	}
	metrics.CounterPeerReconnects.Inc()
	c.log.Info().Str("addr", c.cfg.Addr).Msg("peer channel reconnected")
}

func (c *Client) withMetadata(ctx context.Context) context.Context {
	md := metadata.Pairs("id", c.cfg.ID, "target", c.cfg.Target)
	return metadata.NewOutgoingContext(ctx, md)
}

// classify maps a peer RPC error onto wire.Kind, triggering a reconnect
// attempt (never blocking on it) when the peer is Unavailable.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
		metrics.CounterPeerUnavailable.Inc()
		go c.reconnect()
		return wire.NewError(wire.KindPeerUnavailable, err)
	}
	return wire.NewError(wire.KindPeerError, err)
}

// PsiExecute applies encrypt_self to req.Keys, then calls the peer's unary
// PsiExecute RPC.
func (c *Client) PsiExecute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	encrypted, err := c.sec.EncryptSelf(req.Keys)
	if err != nil {
		return nil, err
	}
	return c.PsiExecuteWithoutEncrypt(ctx, &wire.ExecuteRequest{Header: req.Header, Keys: encrypted})
}

// PsiExecuteWithoutEncrypt forwards an already-encrypted batch — the
// escape hatch the Batcher uses, since it pre-encrypts once up front
// (spec §4.2 "Pre-transmission encryption").
func (c *Client) PsiExecuteWithoutEncrypt(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	rpc, err := c.connection()
	if err != nil {
		return nil, c.classify(err)
	}
	res, err := rpc.PsiExecute(c.withMetadata(ctx), req)
	if err != nil {
		return nil, c.classify(err)
	}
	return res, nil
}

// PsiStreamExecute opens a bidirectional stream. Each call to Send applies
// encrypt_self lazily, per spec §4.2.
func (c *Client) PsiStreamExecute(ctx context.Context) (*StreamSession, error) {
	rpc, err := c.connection()
	if err != nil {
		return nil, c.classify(err)
	}
	stream, err := rpc.PsiStreamExecute(c.withMetadata(ctx))
	if err != nil {
		return nil, c.classify(err)
	}
	return &StreamSession{stream: stream, sec: c.sec, classify: c.classify}, nil
}

// StreamSession wraps the client side of PsiStreamExecute.
type StreamSession struct {
	stream   psirpc.ExecuteStreamClient
	sec      curve.Secret
	classify func(error) error
}

// Send applies encrypt_self to req.Keys before writing it to the stream.
func (s *StreamSession) Send(req *wire.ExecuteRequest) error {
	encrypted, err := s.sec.EncryptSelf(req.Keys)
	if err != nil {
		return err
	}
	if err := s.stream.Send(&wire.ExecuteRequest{Header: req.Header, Keys: encrypted}); err != nil {
		return s.classify(err)
	}
	return nil
}

// Recv reads the next result in the peer's response order, which must
// match the caller's request order (peer contract, spec §4.2 "Ordering").
func (s *StreamSession) Recv() (*wire.ExecuteResult, error) {
	res, err := s.stream.Recv()
	if err != nil {
		return nil, s.classify(err)
	}
	return res, nil
}

// Close closes the send side of the stream.
func (s *StreamSession) Close() error {
	return s.stream.CloseSend()
}
