package policy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ninefl/psi-node/internal/curve"
	"github.com/ninefl/psi-node/internal/metrics"
	"github.com/ninefl/psi-node/internal/wire"
)

var errSendClosed = errors.New("batcher: queue closed for shutdown")

// BatcherConfig configures the batcher policy (spec §4.5).
type BatcherConfig struct {
	Workers   int           // W: number of independent worker queues
	Duration  time.Duration // D: max wall-clock wait to fill a batch
	Cache     int           // C: per-worker bounded queue capacity
	BatchSize int           // B: max DispatcherRequests combined per peer call
}

// dispatcherRequest is the internal record a batcher worker consumes; it
// mirrors spec.md's DispatcherRequest (ipl/wait/rsp), collapsed into a
// single buffered channel that carries both the wake-up and the payload —
// the idiomatic Go analogue of the original's Notify+Mutex<Result> pair.
type dispatcherRequest struct {
	req  *wire.ExecuteRequest
	done chan outcome
}

type outcome struct {
	res *wire.ExecuteResult
	err error
}

// Batcher is the "batcher" policy (C5): amortises peer round-trips by
// combining many client requests into time+size bounded peer calls across
// N worker queues, while preserving each caller's result shape.
type Batcher struct {
	client PeerExecutor
	sec    curve.Secret
	cfg    BatcherConfig
	log    zerolog.Logger

	counter  uint64
	queues   []chan *dispatcherRequest
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewBatcher constructs a Batcher and starts its worker goroutines.
func NewBatcher(cfg BatcherConfig, client PeerExecutor, sec curve.Secret, log zerolog.Logger) *Batcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	b := &Batcher{
		client:   client,
		sec:      sec,
		cfg:      cfg,
		log:      log.With().Str("component", "batcher").Logger(),
		queues:   make([]chan *dispatcherRequest, cfg.Workers),
		shutdown: make(chan struct{}),
	}
	for i := range b.queues {
		b.queues[i] = make(chan *dispatcherRequest, cfg.Cache)
	}
	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	return b
}

// Execute pre-encrypts req.Keys on the caller's goroutine (so worker CPU
// is spent purely on network and accumulation), enqueues a
// dispatcherRequest on a round-robin worker, and awaits its completion
// signal.
func (b *Batcher) Execute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	encrypted, err := b.sec.EncryptSelf(req.Keys)
	if err != nil {
		return nil, err
	}
	dr := &dispatcherRequest{
		req:  &wire.ExecuteRequest{Header: req.Header, Keys: encrypted},
		done: make(chan outcome, 1),
	}

	idx := atomic.AddUint64(&b.counter, 1) % uint64(len(b.queues))
	select {
	case b.queues[idx] <- dr:
	case <-b.shutdown:
		return nil, wire.NewError(wire.KindSendClosed, errSendClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case o := <-dr.done:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueueDepth returns the number of dispatcherRequests currently buffered
// across all worker queues, awaiting their next collect/flush cycle.
func (b *Batcher) QueueDepth() int {
	depth := 0
	for _, q := range b.queues {
		depth += len(q)
	}
	return depth
}

// Shutdown broadcasts the shutdown signal and awaits all worker
// goroutines. In-flight batches may still be dispatched or abandoned
// depending on where each worker is in its loop — a best-effort drain,
// not a guarantee (spec §4.5 "Shutdown").
func (b *Batcher) Shutdown() {
	b.once.Do(func() { close(b.shutdown) })
	b.wg.Wait()
}

func (b *Batcher) worker(idx int) {
	defer b.wg.Done()
	queue := b.queues[idx]
	log := b.log.With().Int("worker", idx).Logger()

	for {
		batch := make([]*dispatcherRequest, 0, b.cfg.BatchSize)
		timer := time.NewTimer(b.cfg.Duration)
		shuttingDown := false

	collect:
		for len(batch) < b.cfg.BatchSize {
			select {
			case dr := <-queue:
				batch = append(batch, dr)
			case <-timer.C:
				break collect
			case <-b.shutdown:
				shuttingDown = true
				break collect
			}
		}
		timer.Stop()

		if len(batch) > 0 {
			b.dispatch(batch, log)
		}
		if shuttingDown {
			return
		}
	}
}

func (b *Batcher) dispatch(batch []*dispatcherRequest, log zerolog.Logger) {
	combined := &wire.ExecuteRequest{Header: batch[0].req.Header}
	for _, dr := range batch {
		combined.Keys = append(combined.Keys, dr.req.Keys...)
	}

	metrics.CounterBatchesTotal.Inc()
	metrics.HistogramBatchSize.Observe(float64(len(batch)))

	res, err := b.client.PsiExecuteWithoutEncrypt(context.Background(), combined)
	if err != nil {
		log.Warn().Err(err).Int("batch_size", len(batch)).Msg("peer call failed, broadcasting to batch")
		for _, dr := range batch {
			dr.done <- outcome{err: err}
		}
		return
	}

	if res.Header != nil && res.Header.Code != 0 {
		for _, dr := range batch {
			dr.done <- outcome{res: &wire.ExecuteResult{Header: res.Header}}
		}
		return
	}

	expected := 0
	for _, dr := range batch {
		expected += len(dr.req.Keys)
	}
	if expected != len(res.Keys) {
		mismatch := wire.NewError(wire.KindPeerError, wire.ErrLengthMismatch)
		log.Error().Int("expected", expected).Int("got", len(res.Keys)).Msg("peer contract violation: length mismatch")
		for _, dr := range batch {
			dr.done <- outcome{err: mismatch}
		}
		return
	}

	offset := 0
	for _, dr := range batch {
		n := len(dr.req.Keys)
		dr.done <- outcome{res: &wire.ExecuteResult{
			Header: wire.BackHeader(dr.req.Header),
			Keys:   res.Keys[offset : offset+n],
		}}
		offset += n
	}
}
