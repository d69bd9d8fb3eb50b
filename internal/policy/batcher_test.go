package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninefl/psi-node/internal/curve"
	"github.com/ninefl/psi-node/internal/wire"
)

// fakePeer implements PeerExecutor and echoes back each key unchanged, so
// assertions can check ordering/shape survived batching.
type fakePeer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePeer) PsiExecute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	return f.PsiExecuteWithoutEncrypt(ctx, req)
}

func (f *fakePeer) PsiExecuteWithoutEncrypt(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &wire.ExecuteResult{
		Header: wire.BackHeader(req.Header),
		Keys:   req.Keys,
	}, nil
}

type lengthMismatchPeer struct{}

func (lengthMismatchPeer) PsiExecute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	return lengthMismatchPeer{}.PsiExecuteWithoutEncrypt(ctx, req)
}

func (lengthMismatchPeer) PsiExecuteWithoutEncrypt(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	return &wire.ExecuteResult{
		Header: wire.BackHeader(req.Header),
		Keys:   req.Keys[:len(req.Keys)-1], // drop one key: peer contract violation
	}, nil
}

func testSecret(t *testing.T) curve.Secret {
	t.Helper()
	sec, err := curve.New(curve.Curve25519, []byte("12345678901234567890123456789012"))
	require.NoError(t, err)
	return sec
}

func record(b byte) []byte {
	r := make([]byte, 32)
	r[0] = b
	return r
}

func TestBatcherMergesConcurrentCalls(t *testing.T) {
	peer := &fakePeer{}
	b := NewBatcher(BatcherConfig{Workers: 2, Duration: 20 * time.Millisecond, Cache: 64, BatchSize: 8}, peer, testSecret(t), zerolog.Nop())
	defer b.Shutdown()

	var wg sync.WaitGroup
	results := make([]*wire.ExecuteResult, 50)
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &wire.ExecuteRequest{Header: &wire.CorrelationHeader{RequestID: "r"}, Keys: [][]byte{record(byte(i))}}
			res, err := b.Execute(context.Background(), req)
			results[i] = res
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Keys, 1)
		assert.Equal(t, int32(0), results[i].Header.Code)
	}
	assert.Less(t, peer.calls, 50, "batching should reduce peer call count below caller count")
}

func TestBatcherLengthMismatchFailsWholeBatch(t *testing.T) {
	b := NewBatcher(BatcherConfig{Workers: 1, Duration: 5 * time.Millisecond, Cache: 8, BatchSize: 2}, lengthMismatchPeer{}, testSecret(t), zerolog.Nop())
	defer b.Shutdown()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &wire.ExecuteRequest{Keys: [][]byte{record(byte(i))}}
			_, err := b.Execute(context.Background(), req)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		werr, ok := wire.AsError(err)
		require.True(t, ok)
		assert.Equal(t, wire.KindPeerError, werr.Kind)
	}
}

func TestDefaultPolicyForwardsDirectly(t *testing.T) {
	peer := &fakePeer{}
	d := NewDefault(peer)
	req := &wire.ExecuteRequest{Keys: [][]byte{record(1)}}
	res, err := d.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Keys, 1)
	assert.Equal(t, 1, peer.calls)
}
