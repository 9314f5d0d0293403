package exec

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"time"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/plan"
)

var _ = u.EMPTY

// Batch is one fetch cycle's worth of rows plus the terminal flag.
type Batch struct {
	Rows [][]driver.Value
	Done bool
}

// Cursor wraps a job's raw iterator with offset/limit fetch semantics.
// The iterator is created lazily on first fetch so a prepared-but-
// never-fetched statement starts no distributed work.  It caches no
// rows beyond the current batch.
type Cursor struct {
	mu       sync.Mutex
	mgr      *JobManager
	runner   *Runner
	job      *plan.Job
	params   []driver.Value
	rows     *ResultReader
	offset   int64
	done     bool
	closed   bool
	started  bool
	fetching bool
}

func NewCursor(mgr *JobManager, runner *Runner, job *plan.Job) *Cursor {
	return &Cursor{mgr: mgr, runner: runner, job: job}
}

func (m *Cursor) JobId() plan.Id { return m.job.Id }

// Execute binds params and marks the statement pending; the returned
// count is -1, meaning "has a result set".  Re-executing while a prior
// execution is still live violates the at-most-one-live-execution rule.
func (m *Cursor) Execute(params []driver.Value) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("%w: %s", ErrJobClosed, m.job.Id)
	}
	if m.rows != nil && !m.done {
		return 0, fmt.Errorf("%w: %s", ErrStmtBusy, m.job.Id)
	}
	if len(params) != len(m.job.Params) {
		return 0, fmt.Errorf("statement expects %d params, got %d", len(m.job.Params), len(params))
	}
	m.params = params
	return -1, nil
}

// Fetch returns up to maxRows rows starting at offset.  Offsets are
// forward-only and must be sequential; maxRows == 0 is a probe that
// returns nothing but still reports done truthfully.
func (m *Cursor) Fetch(ctx context.Context, offset int64, maxRows int) (*Batch, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobClosed, m.job.Id)
	}
	if m.fetching {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: concurrent fetch on %s", ErrStmtBusy, m.job.Id)
	}
	if offset != m.offset {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: got %d want %d", ErrBadFetch, offset, m.offset)
	}
	if maxRows < 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("maxRows must be >= 0, got %d", maxRows)
	}
	if maxRows == 0 || m.done {
		b := &Batch{Done: m.done}
		m.mu.Unlock()
		return b, nil
	}

	start := time.Now()
	if m.rows == nil {
		rows, err := m.runner.CreateIterator(ctx, m.job, m.params)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.rows = rows
		m.started = true
	}
	rows := m.rows
	m.fetching = true
	// the blocking pulls run without the lock so Close can interrupt
	m.mu.Unlock()

	batch := &Batch{Rows: make([][]driver.Value, 0, maxRows)}
	var fetchErr error
	exhausted := false
	for len(batch.Rows) < maxRows {
		dest := make([]driver.Value, len(rows.Columns()))
		err := rows.Next(dest)
		if err == io.EOF {
			exhausted = true
			break
		}
		if err != nil {
			fetchErr = err
			break
		}
		batch.Rows = append(batch.Rows, dest)
	}

	m.mu.Lock()
	m.fetching = false
	if fetchErr != nil {
		m.mu.Unlock()
		return nil, fetchErr
	}
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobClosed, m.job.Id)
	}
	if exhausted {
		m.done = true
		batch.Done = true
	}
	m.offset += int64(len(batch.Rows))
	m.mu.Unlock()
	m.runner.metrics.FetchSeconds.Observe(time.Since(start).Seconds())
	return batch, nil
}

// Close tears the statement down: deregister the job, stop the local
// iterator, and best-effort destroy every remote task.  Idempotent.
func (m *Cursor) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	rows := m.rows
	started := m.started
	m.mu.Unlock()

	m.mgr.RemoveJob(m.job.Id)
	if rows != nil {
		rows.Close()
	}
	if started {
		m.runner.DestroyRemoteTasks(ctx, m.job)
	}
	return nil
}
