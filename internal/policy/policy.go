// Package policy implements the request-admission layer in front of the
// Peer Client (C5): either a direct pass-through (default) or a
// time+size-bounded batcher that coalesces many small client requests
// into fewer, larger peer calls.
package policy

import (
	"context"

	"github.com/ninefl/psi-node/internal/wire"
)

// PeerExecutor is the subset of peer.Client a Policy needs: the unary RPC
// with local pre-encryption, and the escape hatch for callers (the
// Batcher) that pre-encrypt themselves.
type PeerExecutor interface {
	PsiExecute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error)
	PsiExecuteWithoutEncrypt(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error)
}

// Policy is the admission layer the Engine calls into for every client
// request.
type Policy interface {
	Execute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error)
	Shutdown()
}

// Default is the "default" policy: forwards every request directly to the
// Peer Client with no batching.
type Default struct {
	client PeerExecutor
}

// NewDefault builds the direct-forwarding policy.
func NewDefault(client PeerExecutor) *Default {
	return &Default{client: client}
}

func (d *Default) Execute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	return d.client.PsiExecute(ctx, req)
}

func (d *Default) Shutdown() {}
