package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
)

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// MemoryRecords keeps job records in process. Records are stored serialised so
// callers never share mutable state with the store.
type MemoryRecords struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	// issued maps every id ever created to the time its record expired. The
	// zero time marks a record that is still live.
	issued    map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

// NewMemoryRecords returns an empty record store. now defaults to time.Now.
// Tombstones of expired records are dropped retention after expiry; a
// retention <= 0 keeps them for the life of the process.
func NewMemoryRecords(now func() time.Time, retention time.Duration) *MemoryRecords {
	if now == nil {
		now = time.Now
	}
	return &MemoryRecords{
		items:     make(map[string]*memoryItem),
		issued:    make(map[string]time.Time),
		retention: retention,
		now:       now,
	}
}

func (m *MemoryRecords) Create(ctx context.Context, job *domain.Job, ttl time.Duration, enqueue func(context.Context) error) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.issued[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.items[job.ID] = &memoryItem{data: data, expiresAt: m.now().Add(ttl)}
	m.issued[job.ID] = time.Time{}

	if enqueue != nil {
		if err := enqueue(ctx); err != nil {
			delete(m.items, job.ID)
			delete(m.issued, job.ID)
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
	}
	return nil
}

// live returns the unexpired item for id or the matching lookup error.
// Callers hold m.mu.
func (m *MemoryRecords) live(id string) (*memoryItem, error) {
	item, ok := m.items[id]
	if !ok {
		if _, issued := m.issued[id]; issued {
			return nil, domain.NewJobExpiredError(id)
		}
		return nil, domain.NewJobNotFoundError(id)
	}
	if !m.now().Before(item.expiresAt) {
		m.bury(id, item)
		return nil, domain.NewJobExpiredError(id)
	}
	return item, nil
}

func (m *MemoryRecords) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	item, err := m.live(id)
	var data []byte
	if err == nil {
		data = item.data
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (m *MemoryRecords) Put(_ context.Context, job *domain.Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.live(job.ID)
	if err != nil {
		return err
	}
	item.data = data
	item.expiresAt = m.now().Add(ttl)
	return nil
}

func (m *MemoryRecords) Touch(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.live(id)
	if err != nil {
		return err
	}
	item.expiresAt = m.now().Add(ttl)
	return nil
}

func (m *MemoryRecords) List(_ context.Context, filter ListFilter) ([]*domain.Job, error) {
	m.mu.Lock()
	now := m.now()
	payloads := make([][]byte, 0, len(m.items))
	for _, item := range m.items {
		if now.Before(item.expiresAt) {
			payloads = append(payloads, item.data)
		}
	}
	m.mu.Unlock()

	jobs := make([]*domain.Job, 0, len(payloads))
	for _, data := range payloads {
		var job domain.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		if filter.matches(&job) {
			jobs = append(jobs, &job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	limit := ClampPageSize(filter.PageSize) + 1
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *MemoryRecords) PurgeExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var purged int64
	for id, item := range m.items {
		if !now.Before(item.expiresAt) {
			m.bury(id, item)
			purged++
		}
	}

	if m.retention > 0 {
		cutoff := now.Add(-m.retention)
		for id, expiredAt := range m.issued {
			if !expiredAt.IsZero() && !expiredAt.After(cutoff) {
				delete(m.issued, id)
			}
		}
	}
	return purged, nil
}

// bury replaces an expired record with its tombstone. Callers hold m.mu.
func (m *MemoryRecords) bury(id string, item *memoryItem) {
	delete(m.items, id)
	m.issued[id] = item.expiresAt
}

func (m *MemoryRecords) HealthCheck(context.Context) error {
	return nil
}

// MemoryQueue is an in-process FIFO of job ids.
type MemoryQueue struct {
	mu  sync.Mutex
	ids []string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return "", false, nil
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	return id, true, nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids), nil
}

func (q *MemoryQueue) HealthCheck(context.Context) error {
	return nil
}
