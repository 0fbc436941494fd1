// Package worker processes ingested signals asynchronously: persist,
// invalidate, re-resolve, propagate.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/internal/resolve"
	"github.com/okian/sibyl/pkg/logger"
	"github.com/okian/sibyl/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	budgetResetInterval     = 1 * time.Second
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Appender persists a signal, superseding its slot occupant.
type Appender interface {
	Append(ctx context.Context, s signal.Signal) (string, error)
}

// Resolver recomputes a subject's resolutions.
type Resolver interface {
	Resolve(ctx context.Context, subjectID string) (resolve.Result, error)
}

// Deriver produces one-hop propagation signals under a batch budget.
type Deriver interface {
	Derive(ctx context.Context, origin signal.Signal, fused float64) ([]signal.Signal, error)
	ResetBudget()
}

// Enqueuer feeds derived signals back into the ingestion pipeline so they
// flow through the same validate/persist path as originals. Loop
// prevention lives in the deriver, not here.
type Enqueuer interface {
	Enqueue(ctx context.Context, s signal.Signal) bool
}

// Queue defines how workers receive signals.
type Queue interface {
	Dequeue(ctx context.Context) <-chan signal.Signal
}

// InMemoryWorker consumes one dequeue stream.
type InMemoryWorker struct {
	queue    Queue
	store    Appender
	resolver Resolver
	deriver  Deriver
	enqueue  Enqueuer
	name     string

	invalidate func(subjectID string)

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(q Queue, store Appender, resolver Resolver, deriver Deriver, enqueue Enqueuer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		store:      store,
		resolver:   resolver,
		deriver:    deriver,
		enqueue:    enqueue,
		name:       "worker",
		invalidate: func(string) {},
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop until ctx is canceled or Shutdown is called.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	signals := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case s, ok := <-signals:
			if !ok {
				return
			}
			if err := w.process(ctx, s); err != nil {
				w.logger.Error(ctx, "error processing signal",
					logger.String("signalID", s.ID),
					logger.Error(err),
				)
			}
		}
	}
}

// signalShutdown closes the shutdown channel exactly once.
func (w *InMemoryWorker) signalShutdown() {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.signalShutdown()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process handles one signal end to end.
func (w *InMemoryWorker) process(ctx context.Context, s signal.Signal) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerLatency(float64(time.Since(start).Milliseconds()))
	}()

	// Producers are validated at the API edge, but derived and replayed
	// signals take this path too.
	if err := s.Validate(); err != nil {
		metrics.RecordSignalRejected()
		return fmt.Errorf("invalid signal %s: %w", s.ID, err)
	}

	superseded, err := w.store.Append(ctx, s)
	if err != nil {
		metrics.RecordWorkerError()
		return fmt.Errorf("append signal %s: %w", s.ID, err)
	}
	if superseded != "" {
		w.logger.Debug(ctx, "signal superseded",
			logger.String("old", superseded),
			logger.String("new", s.ID),
		)
	}
	w.invalidate(s.SubjectID)
	metrics.RecordSignalProcessed()

	result, err := w.resolver.Resolve(ctx, s.SubjectID)
	if err != nil {
		metrics.RecordWorkerError()
		return fmt.Errorf("resolve %s: %w", s.SubjectID, err)
	}

	// Propagation only triggers when the new signal's own entity won its
	// kind; a losing signal has nothing worth spreading.
	res, ok := result[s.EntityKind]
	if !ok || res.EntityID != s.EntityID {
		return nil
	}
	derived, err := w.deriver.Derive(ctx, s, res.Confidence)
	if err != nil {
		metrics.RecordWorkerError()
		return fmt.Errorf("propagate from %s: %w", s.ID, err)
	}
	for _, d := range derived {
		if !w.enqueue.Enqueue(ctx, d) {
			metrics.RecordPropagationDropped()
		}
	}
	return nil
}

// Pool manages multiple workers and the propagation budget window.
type Pool struct {
	workers []*InMemoryWorker
	deriver Deriver

	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates and wires a worker pool.
func NewPool(workerCount int, q Queue, store Appender, resolver Resolver, deriver Deriver, enqueue Enqueuer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		deriver:  deriver,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewInMemoryWorker(q, store, resolver, deriver, enqueue,
			append(opts, WithName("worker-"+strconv.Itoa(i)))...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start launches all workers plus the budget reset loop.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.budgetLoop(ctx)
}

// budgetLoop opens a fresh propagation budget window at a fixed cadence.
// The interval defines what "per ingestion batch" means operationally: a
// highly connected entity can exhaust one window but not starve the next.
func (p *Pool) budgetLoop(ctx context.Context) {
	ticker := time.NewTicker(budgetResetInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.deriver.ResetBudget()
		}
	}
}

// Stop signals all workers and waits briefly for each.
func (p *Pool) Stop() {
	close(p.shutdown)
	for _, w := range p.workers {
		w.signalShutdown()
		select {
		case <-w.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
}

// Shutdown gracefully stops the pool, honoring ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	close(p.shutdown)
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		w.signalShutdown()
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	return nil
}
