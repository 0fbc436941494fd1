package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/pkg/metrics"
)

// Default in-memory store configuration.
const (
	defaultShardCount = 8
)

// shard holds the signals for a slice of the subject space. Each shard has
// its own lock so concurrent ingestion for unrelated subjects never
// contends with a resolution read.
type shard struct {
	mu        sync.RWMutex
	bySubject map[string][]signal.Signal
	byID      map[string]sigRef
}

// sigRef locates a signal inside its subject slice.
type sigRef struct {
	subjectID string
	index     int
}

// MemStore is the default sharded in-memory Store.
type MemStore struct {
	shardCount int
	shards     []*shard
	live       int64
	mu         sync.Mutex // guards live
}

// NewMemStore creates a sharded in-memory signal store.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{shardCount: defaultShardCount}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{
			bySubject: make(map[string][]signal.Signal),
			byID:      make(map[string]sigRef),
		}
	}
	metrics.UpdateStoreShardCount(s.shardCount)
	return s
}

func (s *MemStore) shardFor(subjectID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subjectID))
	return s.shards[int(h.Sum32())%s.shardCount]
}

// Append adds a signal and supersedes any live occupant of its slot.
func (s *MemStore) Append(_ context.Context, sig signal.Signal) (string, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreAppendLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := sig.Validate(); err != nil {
		return "", err
	}

	sh := s.shardFor(sig.SubjectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	superseded := ""
	key := sig.Key()
	sigs := sh.bySubject[sig.SubjectID]
	for i := range sigs {
		if sigs[i].SupersededBy == "" && sigs[i].Key() == key {
			sigs[i].SupersededBy = sig.ID
			superseded = sigs[i].ID
			break
		}
	}
	sh.byID[sig.ID] = sigRef{subjectID: sig.SubjectID, index: len(sigs)}
	sh.bySubject[sig.SubjectID] = append(sigs, sig)

	s.mu.Lock()
	if superseded == "" {
		s.live++
	}
	live := s.live
	s.mu.Unlock()
	metrics.UpdateStoreLiveSignals(int(live))
	if superseded != "" {
		metrics.RecordSignalSuperseded()
	}
	return superseded, nil
}

// BySubject returns a copy of the subject's live signals.
func (s *MemStore) BySubject(_ context.Context, subjectID string) ([]signal.Signal, error) {
	sh := s.shardFor(subjectID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sigs := sh.bySubject[subjectID]
	out := make([]signal.Signal, 0, len(sigs))
	for _, sig := range sigs {
		if sig.SupersededBy == "" {
			out = append(out, sig)
		}
	}
	return out, nil
}

// Get returns a signal by id.
func (s *MemStore) Get(_ context.Context, id string) (signal.Signal, error) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		if ref, ok := sh.byID[id]; ok {
			sig := sh.bySubject[ref.subjectID][ref.index]
			sh.mu.RUnlock()
			return sig, nil
		}
		sh.mu.RUnlock()
	}
	return signal.Signal{}, ErrSignalNotFound
}

// Subjects lists all subject ids across shards.
func (s *MemStore) Subjects(_ context.Context) ([]string, error) {
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id := range sh.bySubject {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

// Count returns the number of live signals.
func (s *MemStore) Count(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.live)
}
