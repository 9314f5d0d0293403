package exec

import (
	"fmt"
	"sync"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/plan"
)

var _ = u.EMPTY

// JobManager is the process-wide registry of live jobs, the only
// shared mutable structure in this core.  It is an injected service
// with its own lifecycle, not a package global.
type JobManager struct {
	mu      sync.RWMutex
	jobs    map[plan.Id]*plan.Job
	metrics *Metrics
}

func NewJobManager(metrics *Metrics) *JobManager {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &JobManager{jobs: make(map[plan.Id]*plan.Job), metrics: metrics}
}

// RegisterJob inserts a job.  A duplicate id means the allocator's
// uniqueness invariant broke; surfaced, never swallowed.
func (m *JobManager) RegisterJob(job *plan.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.Id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Id)
	}
	m.jobs[job.Id] = job
	m.metrics.JobsActive.Inc()
	return nil
}

// Job looks up a live job; a stale/expired statement handle gets
// ErrJobNotFound.
func (m *JobManager) Job(id plan.Id) (*plan.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// RemoveJob atomically detaches and returns the job, nil when already
// removed; double-close must not error.
func (m *JobManager) RemoveJob(id plan.Id) *plan.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	delete(m.jobs, id)
	m.metrics.JobsActive.Dec()
	return job
}

func (m *JobManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// Drain removes every job at shutdown, returning what was live.
func (m *JobManager) Drain() []*plan.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*plan.Job, 0, len(m.jobs))
	for id, job := range m.jobs {
		out = append(out, job)
		delete(m.jobs, id)
		m.metrics.JobsActive.Dec()
	}
	return out
}
