package exec

import (
	"context"
	"database/sql/driver"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/datasource/membtree"
	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// Runner turns a registered job into a consumable row stream and
// reclaims distributed resources on close.
type Runner struct {
	loc     schema.Location
	dialer  Dialer
	store   *membtree.Store
	metrics *Metrics
}

func NewRunner(loc schema.Location, dialer Dialer, store *membtree.Store, metrics *Metrics) *Runner {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Runner{loc: loc, dialer: dialer, store: store, metrics: metrics}
}

// CreateIterator dispatches every non-root task to its location (the
// dialer routes in-process for local ones), runs the root task here,
// and returns the lazy forward-only iterator over the job's output.
func (m *Runner) CreateIterator(ctx context.Context, job *plan.Job, params []driver.Value) (*ResultReader, error) {
	params, err := coerceParams(job.Params, params)
	if err != nil {
		return nil, err
	}

	started := make([]*plan.Task, 0, len(job.Tasks))
	for _, id := range job.TaskOrder {
		t := job.Tasks[id]
		if t.Id == job.RootTaskId {
			continue
		}
		req := &StartTaskRequest{JobId: job.Id, Task: t, Edges: job.EdgesFor(t), Params: params}
		if err := m.dialer.StartTask(ctx, t.Loc, req); err != nil {
			u.Errorf("start task %s at %s failed: %v", t.Id, t.Loc, err)
			m.stopTasks(job, started)
			return nil, err
		}
		t.Status = plan.TaskRunning
		started = append(started, t)
	}

	runCtx, cancel := context.WithCancel(ctx)
	env := &Env{Ctx: runCtx, Store: m.store, Dialer: m.dialer, Params: params, Loc: m.loc}
	pipe, err := NewPipeline(job.Id, job.RootTask(), job.EdgesFor(job.RootTask()), env)
	if err != nil {
		cancel()
		m.stopTasks(job, started)
		return nil, err
	}
	job.RootTask().Status = plan.TaskRunning

	rr := NewResultReader(job.Cols)
	rr.MessageInSet(pipe.Out())
	rr.OnClose(func() {
		cancel()
		pipe.Close()
	})
	go func() {
		if err := pipe.Run(); err != nil && err != ErrShuttingDown {
			select {
			case rr.ErrChan() <- err:
			default:
			}
		}
		job.RootTask().Status = plan.TaskFinished
	}()
	return rr, nil
}

// DestroyRemoteTasks broadcasts stop to every remote task, best-effort:
// an unreachable location is logged, the rest still get their stop, and
// abandoned tasks self-expire on their node anyway.
func (m *Runner) DestroyRemoteTasks(ctx context.Context, job *plan.Job) int {
	stopped := 0
	for _, t := range job.RemoteTasks() {
		if err := m.dialer.StopTask(ctx, t.Loc, job.Id, t.Id); err != nil {
			u.Warnf("stop task %s at %s failed: %v", t.Id, t.Loc, err)
			continue
		}
		t.Status = plan.TaskDestroyed
		stopped++
	}
	// local non-root tasks stop in-process through the same path
	for _, t := range job.LocalTasks() {
		if err := m.dialer.StopTask(ctx, t.Loc, job.Id, t.Id); err != nil {
			u.Warnf("stop local task %s failed: %v", t.Id, err)
			continue
		}
		t.Status = plan.TaskDestroyed
	}
	return stopped
}

func (m *Runner) stopTasks(job *plan.Job, tasks []*plan.Task) {
	ctx := context.Background()
	for _, t := range tasks {
		if err := m.dialer.StopTask(ctx, t.Loc, job.Id, t.Id); err != nil {
			u.Warnf("stop task %s at %s failed: %v", t.Id, t.Loc, err)
		}
	}
}
