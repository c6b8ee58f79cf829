package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// JobStore is the job registry. Each job is published as a whole snapshot;
// Publish is a compare-and-swap on Version so a poller never observes a torn
// job and concurrent writers for the same job cannot both win.
type JobStore interface {
	// Create stores a new job. It fails with ErrConflict if the id exists.
	Create(ctx context.Context, job *Job) error
	// Get returns the current snapshot or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Publish replaces the snapshot whose Version is next.Version-1. It
	// fails with ErrConflict when another snapshot was published first.
	Publish(ctx context.Context, next *Job) error
	// List returns every job ordered by creation time, then id.
	List(ctx context.Context) ([]*Job, error)
	// Delete evicts a job. Deleting an unknown id is ErrJobNotFound.
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps snapshots in process. Each job is an atomic pointer, so
// writers for different jobs never contend and readers never lock a job.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*atomic.Pointer[Job]
}

var _ JobStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*atomic.Pointer[Job])}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrConflict
	}
	p := &atomic.Pointer[Job]{}
	p.Store(job)
	s.jobs[job.ID] = p
	return nil
}

func (s *MemoryStore) slot(id string) (*atomic.Pointer[Job], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.jobs[id]
	return p, ok
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	p, ok := s.slot(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return p.Load(), nil
}

func (s *MemoryStore) Publish(_ context.Context, next *Job) error {
	p, ok := s.slot(next.ID)
	if !ok {
		return ErrJobNotFound
	}
	cur := p.Load()
	if cur.Version != next.Version-1 {
		return ErrConflict
	}
	if !p.CompareAndSwap(cur, next) {
		return ErrConflict
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	out := make([]*Job, 0, len(s.jobs))
	for _, p := range s.jobs {
		out = append(out, p.Load())
	}
	s.mu.RUnlock()
	sortJobs(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func sortJobs(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
