package pipeline

import (
	"context"
	"errors"
	"sync"

	"gold-analysis-engine/internal/indicator"
	"gold-analysis-engine/internal/logging"
	"gold-analysis-engine/internal/signal"
	"gold-analysis-engine/internal/zones"
)

// ErrPoolClosed is returned when work is submitted after shutdown
var ErrPoolClosed = errors.New("signal worker pool closed")

// signalRequest is one unit of signal computation. The snapshot fields
// are read-only inputs; the reply channel carries the result back to
// exactly one waiter.
type signalRequest struct {
	ctx   context.Context
	price float64
	ind   *indicator.Set
	zones *zones.Result
	reply chan signalResult
}

type signalResult struct {
	pair *signal.Pair
	err  error
}

// WorkerPool runs signal generation on a fixed set of goroutines fed
// by a request channel. Workers share nothing mutable; each request
// carries its own snapshot in and gets a completed pair out.
type WorkerPool struct {
	engine   *signal.Engine
	requests chan signalRequest
	quit     chan struct{}
	wg       sync.WaitGroup
	log      *logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewWorkerPool starts workers goroutines over a shared request channel
func NewWorkerPool(workers int, engine *signal.Engine) *WorkerPool {
	if workers < 1 {
		workers = 1
	}

	p := &WorkerPool{
		engine:   engine,
		requests: make(chan signalRequest),
		quit:     make(chan struct{}),
		log:      logging.WithComponent("signal-workers"),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run(i)
	}
	return p
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case req := <-p.requests:
			// The submitter may have given up already
			if err := req.ctx.Err(); err != nil {
				req.reply <- signalResult{err: err}
				continue
			}

			pair, err := p.engine.Generate(req.price, req.ind, req.zones)
			if err != nil {
				p.log.WithRunID(logging.RunIDFromContext(req.ctx)).Debug(
					"signal generation failed", "worker", id, "error", err)
			}
			req.reply <- signalResult{pair: pair, err: err}
		}
	}
}

// Submit hands one snapshot to the pool and waits for the pair. It
// returns early when ctx is cancelled; the worker's late reply is
// absorbed by the buffered channel.
func (p *WorkerPool) Submit(ctx context.Context, price float64, ind *indicator.Set, zr *zones.Result) (*signal.Pair, error) {
	req := signalRequest{
		ctx:   ctx,
		price: price,
		ind:   ind,
		zones: zr,
		reply: make(chan signalResult, 1),
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolClosed
	case p.requests <- req:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-req.reply:
		return res.pair, res.err
	}
}

// Close stops the workers. In-flight requests finish; queued submits
// fail with ErrPoolClosed.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.quit)
	p.wg.Wait()
}
