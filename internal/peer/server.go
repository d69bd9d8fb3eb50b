package peer

import (
	"context"
	"errors"
	"io"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ninefl/psi-node/internal/curve"
	"github.com/ninefl/psi-node/internal/psirpc"
	"github.com/ninefl/psi-node/internal/wire"
)

// Server is the Peer Server (C3): the inbound RPC endpoint that applies
// encrypt_peer to records the remote serving node has already encrypted
// once under its own scalar.
type Server struct {
	sec curve.Secret
	log zerolog.Logger
}

// NewServer constructs a Peer Server bound to a Secret.
func NewServer(sec curve.Secret, log zerolog.Logger) *Server {
	return &Server{sec: sec, log: log.With().Str("component", "peer_server").Logger()}
}

var _ psirpc.Server = (*Server)(nil)

// PsiExecute applies encrypt_peer to the inbound records and returns them
// under a back-header built from the request's correlation header.
func (s *Server) PsiExecute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	encrypted, err := s.sec.EncryptPeer(req.Keys)
	if err != nil {
		return wire.FromError(err, req.Header), nil
	}
	return &wire.ExecuteResult{Header: wire.BackHeader(req.Header), Keys: encrypted}, nil
}

// PsiStreamExecute pumps the bidirectional stream: for each inbound
// message, applies encrypt_peer and writes back a result under
// back_header. A broken-pipe condition on the underlying connection
// terminates the stream without forwarding further; any other receive
// error is returned once as the stream's final status, which ends the
// stream (spec §4.3, supplemented from execute/serve.rs's match_for_io_error).
func (s *Server) PsiStreamExecute(stream psirpc.ExecuteStreamServer) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if isBrokenPipe(err) {
				s.log.Debug().Err(err).Msg("peer stream: broken pipe, terminating")
				return nil
			}
			s.log.Warn().Err(err).Msg("peer stream: recv error, forwarding once")
			return err
		}

		encrypted, encErr := s.sec.EncryptPeer(req.Keys)
		var res *wire.ExecuteResult
		if encErr != nil {
			res = wire.FromError(encErr, req.Header)
		} else {
			res = &wire.ExecuteResult{Header: wire.BackHeader(req.Header), Keys: encrypted}
		}

		if err := stream.Send(res); err != nil {
			if isBrokenPipe(err) {
				s.log.Debug().Err(err).Msg("peer stream: broken pipe on send, terminating")
				return nil
			}
			return err
		}
	}
}

// isBrokenPipe walks a gRPC status/transport error's wrapped cause looking
// for a broken-pipe condition (EPIPE, io.ErrClosedPipe, or a "broken pipe"
// message), the Go analogue of the Rust server's h2::Error/io::Error
// BrokenPipe downcast chain.
func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return strings.Contains(err.Error(), "broken pipe")
}
