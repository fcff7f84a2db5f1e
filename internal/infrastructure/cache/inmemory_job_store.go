package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/google/uuid"
)

// jobEntry guards one job. Updates to different jobs never contend.
type jobEntry struct {
	mu  sync.Mutex
	job *catalogsync.ImportJob
}

// InMemoryJobStore implements catalogsync.JobStore using an in-memory map.
// Finished jobs are dropped once they are older than the retention window.
// This is suitable for single-instance deployments and testing.
type InMemoryJobStore struct {
	mu        sync.RWMutex
	entries   map[uuid.UUID]*jobEntry
	retention time.Duration
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ catalogsync.JobStore = (*InMemoryJobStore)(nil)

// NewInMemoryJobStore creates a new in-memory job store.
// It starts a background goroutine to purge expired jobs; a zero retention keeps jobs forever.
func NewInMemoryJobStore(retention time.Duration) *InMemoryJobStore {
	store := &InMemoryJobStore{
		entries:   make(map[uuid.UUID]*jobEntry),
		retention: retention,
		stopChan:  make(chan struct{}),
	}

	if retention > 0 {
		interval := min(retention/2, 5*time.Minute)
		store.wg.Add(1)
		go store.cleanupLoop(interval)
	}

	return store
}

// Create stores a new job
func (s *InMemoryJobStore) Create(_ context.Context, job *catalogsync.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.ID]; exists {
		return catalogsync.ErrJobAlreadyExists
	}
	s.entries[job.ID] = &jobEntry{job: job.Clone()}
	return nil
}

// Get returns a snapshot of the job
func (s *InMemoryJobStore) Get(_ context.Context, id uuid.UUID) (*catalogsync.ImportJob, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, catalogsync.ErrJobNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// Update applies fn to the job under its lock. When fn fails the job is left unchanged.
func (s *InMemoryJobStore) Update(_ context.Context, id uuid.UUID, fn func(job *catalogsync.ImportJob) error) (*catalogsync.ImportJob, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, catalogsync.ErrJobNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.job.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	e.job = working
	return working.Clone(), nil
}

// List returns matching jobs, newest first
func (s *InMemoryJobStore) List(_ context.Context, filter catalogsync.JobFilter) ([]*catalogsync.ImportJob, error) {
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	jobs := make([]*catalogsync.ImportJob, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if filter.Matches(e.job) {
			jobs = append(jobs, e.job.Clone())
		}
		e.mu.Unlock()
	}

	sortNewestFirst(jobs)
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (s *InMemoryJobStore) entry(id uuid.UUID) (*jobEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Close stops the cleanup goroutine and releases resources
// Safe to call multiple times
func (s *InMemoryJobStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryJobStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup(time.Now())
		}
	}
}

// cleanup removes finished jobs older than the retention window.
// Pending and running jobs are never removed.
func (s *InMemoryJobStore) cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		e.mu.Lock()
		expired := isExpired(e.job, now, s.retention)
		e.mu.Unlock()
		if expired {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Size returns the number of jobs in the store (for testing/monitoring)
func (s *InMemoryJobStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func isExpired(job *catalogsync.ImportJob, now time.Time, retention time.Duration) bool {
	if retention <= 0 || !job.Status.IsTerminal() || job.FinishedAt == nil {
		return false
	}
	return now.Sub(*job.FinishedAt) > retention
}

func sortNewestFirst(jobs []*catalogsync.ImportJob) {
	slices.SortFunc(jobs, func(a, b *catalogsync.ImportJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
