// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	signalqueue "github.com/okian/sibyl/internal/adapters/mq/queue"
	workerpool "github.com/okian/sibyl/internal/adapters/mq/worker"
	repository "github.com/okian/sibyl/internal/adapters/repository"
	"github.com/okian/sibyl/internal/domain/decay"
	"github.com/okian/sibyl/internal/domain/policy"
	"github.com/okian/sibyl/internal/domain/reliability"
	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/internal/feedback"
	"github.com/okian/sibyl/internal/propagate"
	"github.com/okian/sibyl/internal/resolve"
	"github.com/okian/sibyl/pkg/logger"
	"github.com/okian/sibyl/pkg/metrics"
)

const hoursPerDay = 24

// Service wires the signal pipeline together: store, queue, workers,
// resolver, reliability model, feedback recorder, and propagation engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Store
	sqlite      *repository.SQLiteStore
	relStore    reliability.Store
	corrections feedback.CorrectionStore
	model       *reliability.Model
	table       *decay.Table
	gate        *policy.Gate
	resolver    *resolve.Resolver
	recorder    *feedback.Recorder
	graph       *propagate.MemGraph
	engine      *propagate.Engine
	queue       *signalqueue.InMemoryQueue
	workerPool  *workerpool.Pool

	// Resolution cache, invalidated whenever a subject gains a signal
	// or a correction. The per-subject generation counter fences the
	// check-compute-store path: a result computed before an invalidation
	// must not be re-installed after it.
	cacheMu  sync.RWMutex
	cache    map[string]resolve.Result
	cacheGen map[string]uint64

	// Configuration
	workerCount       int
	queueSize         int
	shardCount        int
	storePath         string
	autoLink          float64
	flagged           float64
	suggest           float64
	halfLifeDays      map[string]float64
	defaultHalfLife   float64
	propThreshold     float64
	propAttenuation   float64
	propMaxFanout     int
	edgeMultipliers   map[string]float64
	edgeFloors        map[string]float64
	materiality       float64

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the signal queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithShardCount sets the number of signal store shards.
func WithShardCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.shardCount = count
		}
	}
}

// WithStorePath routes persistence to a SQLite file instead of memory.
func WithStorePath(path string) Option {
	return func(s *Service) {
		s.storePath = path
	}
}

// WithGateThresholds sets the policy bands.
func WithGateThresholds(autoLink, flagged, suggest float64) Option {
	return func(s *Service) {
		s.autoLink = autoLink
		s.flagged = flagged
		s.suggest = suggest
	}
}

// WithHalfLifeDays sets per-kind decay half-lives plus the fallback.
func WithHalfLifeDays(days map[string]float64, fallback float64) Option {
	return func(s *Service) {
		if days != nil {
			s.halfLifeDays = days
		}
		if fallback > 0 {
			s.defaultHalfLife = fallback
		}
	}
}

// WithPropagationSettings tunes spillover onto related entities.
func WithPropagationSettings(threshold, attenuation float64, maxFanout int) Option {
	return func(s *Service) {
		if threshold > 0 {
			s.propThreshold = threshold
		}
		if attenuation > 0 {
			s.propAttenuation = attenuation
		}
		if maxFanout > 0 {
			s.propMaxFanout = maxFanout
		}
	}
}

// WithEdgeMultipliers sets propagation strength per edge type.
func WithEdgeMultipliers(multipliers map[string]float64) Option {
	return func(s *Service) {
		if multipliers != nil {
			s.edgeMultipliers = multipliers
		}
	}
}

// WithEdgeFloors sets minimum origin confidence per edge type.
func WithEdgeFloors(floors map[string]float64) Option {
	return func(s *Service) {
		if floors != nil {
			s.edgeFloors = floors
		}
	}
}

// WithMateriality sets the feedback materiality share.
func WithMateriality(share float64) Option {
	return func(s *Service) {
		if share > 0 {
			s.materiality = share
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cache:           make(map[string]resolve.Result),
		cacheGen:        make(map[string]uint64),
		workerCount:     runtime.NumCPU() * 4,
		queueSize:       100_000,
		shardCount:      8,
		autoLink:        0.85,
		flagged:         0.60,
		suggest:         0.30,
		defaultHalfLife: 30,
		propThreshold:   0.65,
		propAttenuation: 0.4,
		propMaxFanout:   32,
		materiality:     0.10,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting resolution service...")

	if err := s.initStores(ctx); err != nil {
		return err
	}

	s.table = decay.NewTable(s.decayOptions()...)
	s.gate = policy.NewGate(policy.WithThresholds(s.autoLink, s.flagged, s.suggest))
	s.model = reliability.NewModel(s.relStore)
	s.resolver = resolve.New(s.store, s.model, s.table, s.gate)

	s.graph = propagate.NewMemGraph()
	s.engine = propagate.New(s.graph, s.propagationOptions()...)

	s.recorder = feedback.NewRecorder(s.store, s.store, s.corrections, s.model, s.table,
		feedback.WithMateriality(s.materiality),
		feedback.WithInvalidator(s.invalidateCache),
	)

	s.queue = signalqueue.NewInMemoryQueue(
		signalqueue.WithCapacity(s.queueSize),
	)

	s.workerPool = workerpool.NewPool(s.workerCount, s.queue, s.store, s, s.engine, s.queue,
		workerpool.WithInvalidator(s.invalidateCache),
	)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "resolution service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("shards", s.shardCount),
		logger.String("store", s.storeKind()),
	)

	return nil
}

// initStores picks the persistence backend from configuration.
func (s *Service) initStores(ctx context.Context) error {
	if s.storePath == "" {
		s.store = repository.NewMemStore(repository.WithShardCount(s.shardCount))
		s.relStore = reliability.NewMemStore()
		s.corrections = feedback.NewMemLog()
		return nil
	}

	db, err := repository.OpenSQLite(ctx, s.storePath)
	if err != nil {
		return fmt.Errorf("open store %s: %w", s.storePath, err)
	}
	s.sqlite = db
	s.store = db
	s.relStore = db.ReliabilityStore()
	s.corrections = db.CorrectionStore()
	return nil
}

func (s *Service) storeKind() string {
	if s.storePath == "" {
		return "memory"
	}
	return "sqlite"
}

// decayOptions translates the day-denominated config into table options.
func (s *Service) decayOptions() []decay.Option {
	opts := []decay.Option{
		decay.WithFallback(time.Duration(s.defaultHalfLife*hoursPerDay) * time.Hour),
	}
	for k, days := range s.halfLifeDays {
		if days <= 0 {
			continue
		}
		opts = append(opts, decay.WithHalfLife(signal.Kind(k), time.Duration(days*hoursPerDay)*time.Hour))
	}
	return opts
}

// propagationOptions translates edge config into engine options.
func (s *Service) propagationOptions() []propagate.Option {
	opts := []propagate.Option{
		propagate.WithThreshold(s.propThreshold),
		propagate.WithAttenuation(s.propAttenuation),
		propagate.WithMaxFanout(s.propMaxFanout),
	}
	for t, m := range s.edgeMultipliers {
		opts = append(opts, propagate.WithMultiplier(propagate.EdgeType(t), m))
	}
	for t, f := range s.edgeFloors {
		opts = append(opts, propagate.WithConfidenceFloor(propagate.EdgeType(t), f))
	}
	return opts
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping resolution service...")

	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.workerPool != nil {
		s.workerPool.Stop()
	}
	if s.sqlite != nil {
		_ = s.sqlite.Close()
	}

	s.started = false
	s.logger.Info(ctx, "resolution service stopped")
}

// invalidateCache drops the cached resolution for a subject and bumps its
// generation so in-flight reads cannot re-install the stale result.
func (s *Service) invalidateCache(subjectID string) {
	s.cacheMu.Lock()
	delete(s.cache, subjectID)
	s.cacheGen[subjectID]++
	s.cacheMu.Unlock()
}

// cacheSnapshot reads the cached result, if any, and the subject's current
// generation.
func (s *Service) cacheSnapshot(subjectID string) (resolve.Result, uint64, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	cached, ok := s.cache[subjectID]
	return cached, s.cacheGen[subjectID], ok
}

// storeCached installs a computed result unless the subject was
// invalidated since the generation was snapshotted. Reports whether the
// result was kept.
func (s *Service) storeCached(subjectID string, gen uint64, result resolve.Result) bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheGen[subjectID] != gen {
		return false
	}
	s.cache[subjectID] = result
	return true
}

// Ingest validates a signal and submits it for asynchronous processing.
// Returns ErrQueueFull when the pipeline is saturated; callers translate
// that into backpressure.
func (s *Service) Ingest(ctx context.Context, sig signal.Signal) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	if err := sig.Validate(); err != nil {
		metrics.RecordSignalRejected()
		return err
	}
	if !s.queue.Enqueue(ctx, sig) {
		return ErrQueueFull
	}
	return nil
}

// Resolve returns the subject's per-kind resolutions, from cache when a
// fresh one exists. The worker invalidation hook keeps cached entries
// from outliving the signals they were computed from.
func (s *Service) Resolve(ctx context.Context, subjectID string) (resolve.Result, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}

	cached, gen, ok := s.cacheSnapshot(subjectID)
	if ok {
		return cached, nil
	}

	result, err := s.resolver.Resolve(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	s.storeCached(subjectID, gen, result)
	return result, nil
}

// Explain returns the scored evidence for every candidate of one kind,
// winners and losers alike.
func (s *Service) Explain(ctx context.Context, subjectID string, kind signal.EntityKind) ([]resolve.Contributor, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	return s.resolver.Explain(ctx, subjectID, kind)
}

// RecordCorrection applies a user correction to the reliability model and
// the signal log.
func (s *Service) RecordCorrection(ctx context.Context, c feedback.Correction) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	return s.recorder.Record(ctx, c)
}

// LinkEntities adds a directed relationship edge used by propagation.
func (s *Service) LinkEntities(from, to string, toKind signal.EntityKind, edgeType propagate.EdgeType) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	s.graph.Link(from, propagate.Edge{To: to, ToKind: toKind, Type: edgeType})
	return nil
}

// RefreshAll re-resolves every known subject against current decay ages.
// Returns the number of subjects refreshed.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	if !s.isStarted() {
		return 0, ErrNotStarted
	}

	subjects, err := s.store.Subjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subjects: %w", err)
	}
	for _, id := range subjects {
		s.invalidateCache(id)
		if _, err := s.Resolve(ctx, id); err != nil {
			return 0, fmt.Errorf("refresh %s: %w", id, err)
		}
	}
	return len(subjects), nil
}

// SweepReliability drops reliability triples unused since the cutoff.
// Returns the number removed.
func (s *Service) SweepReliability(ctx context.Context, cutoff time.Time) (int, error) {
	if !s.isStarted() {
		return 0, ErrNotStarted
	}
	return s.relStore.Sweep(ctx, cutoff)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"store":       s.storeKind(),
	}

	if s.started {
		ctx := context.Background()
		queueLen := s.queue.Len(ctx)
		liveSignals := s.store.Count(ctx)
		triples := s.relStore.Count(ctx)
		corrections := s.corrections.Count(ctx)

		stats["queueLength"] = queueLen
		stats["liveSignals"] = liveSignals
		stats["reliabilityTriples"] = triples
		stats["corrections"] = corrections

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateStoreLiveSignals(liveSignals)
		metrics.UpdateWorkerCount(s.workerCount)
	}

	return stats
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
