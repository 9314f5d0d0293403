package exec

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"

	u "github.com/araddon/gou"
	"github.com/pborman/uuid"

	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// CommandRunner executes statements with no result set (ddl, update)
// against the catalog; that execution itself is a collaborator concern.
// The returned count is 0 for schema-changing statements.
type CommandRunner interface {
	RunCommand(ctx context.Context, cmd *rel.Command) (int64, error)
}

// stmt is one prepared statement on a session: a select cursor or a
// command.
type stmt struct {
	cursor *Cursor
	cmd    *rel.Command
}

// Session backs the client statement protocol for one connection:
// prepare -> handle, execute, fetch cycles, close.  Each statement
// handle doubles as its job's identifier.  Preparing the same
// statement text again closes the prior live execution, keeping at
// most one live execution per statement.
type Session struct {
	id     string
	loc    schema.Location
	schema *schema.Schema
	ranges schema.RangeResolver
	alloc  *plan.IdAllocator
	mgr    *JobManager
	runner *Runner
	cmds   CommandRunner

	mu           sync.Mutex
	stmts        map[plan.Id]*stmt
	fingerprints map[uint64]plan.Id
}

func NewSession(loc schema.Location, sch *schema.Schema, ranges schema.RangeResolver, mgr *JobManager, runner *Runner, cmds CommandRunner) *Session {
	return &Session{
		id:           uuid.New(),
		loc:          loc,
		schema:       sch,
		ranges:       ranges,
		alloc:        plan.NewIdAllocator(loc),
		mgr:          mgr,
		runner:       runner,
		cmds:         cmds,
		stmts:        make(map[plan.Id]*stmt),
		fingerprints: make(map[uint64]plan.Id),
	}
}

func (m *Session) Id() string { return m.id }

// Prepare compiles a statement.  Selects build + register a job; the
// job id is the statement handle.  Commands get a handle without a job.
func (m *Session) Prepare(ctx context.Context, st rel.Statement) (plan.Id, error) {
	switch s := st.(type) {
	case *rel.Select:
		pctx := plan.NewContext(s.Raw, m.schema, m.ranges, m.loc, m.alloc)
		if prior, live := m.liveFor(pctx.Fingerprint()); live {
			u.Debugf("statement re-prepared, closing prior execution %s", prior)
			m.CloseStmt(ctx, prior)
		}
		job, err := plan.BuildJob(pctx, s)
		if err != nil {
			return "", err
		}
		if err := m.mgr.RegisterJob(job); err != nil {
			return "", err
		}
		c := NewCursor(m.mgr, m.runner, job)
		m.mu.Lock()
		m.stmts[job.Id] = &stmt{cursor: c}
		if s.Raw != "" {
			m.fingerprints[pctx.Fingerprint()] = job.Id
		}
		m.mu.Unlock()
		return job.Id, nil
	case *rel.Command:
		id := m.alloc.Next()
		m.mu.Lock()
		m.stmts[id] = &stmt{cmd: s}
		m.mu.Unlock()
		return id, nil
	}
	return "", fmt.Errorf("unsupported statement type %T", st)
}

func (m *Session) liveFor(fp uint64) (plan.Id, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.fingerprints[fp]
	if !ok {
		return "", false
	}
	_, live := m.stmts[id]
	return id, live
}

// Execute runs the statement.  Commands report their update count (0
// for schema changes); selects report -1, "has a result set", which
// the client follows with fetch cycles.
func (m *Session) Execute(ctx context.Context, handle plan.Id, params []driver.Value) (int64, error) {
	st, err := m.stmt(handle)
	if err != nil {
		return 0, err
	}
	if st.cmd != nil {
		if m.cmds == nil {
			return 0, fmt.Errorf("no command runner configured")
		}
		return m.cmds.RunCommand(ctx, st.cmd)
	}
	return st.cursor.Execute(params)
}

// ExecuteBatch runs execute once per param set, collecting update
// counts in order.  Sequential round-trips for now.
// TODO: dispatch a whole batch to each location in one message.
func (m *Session) ExecuteBatch(ctx context.Context, handle plan.Id, paramSets [][]driver.Value) ([]int64, error) {
	counts := make([]int64, 0, len(paramSets))
	for _, params := range paramSets {
		n, err := m.Execute(ctx, handle, params)
		if err != nil {
			return counts, err
		}
		counts = append(counts, n)
	}
	return counts, nil
}

// Fetch pulls the next batch for a select statement.
func (m *Session) Fetch(ctx context.Context, handle plan.Id, offset int64, maxRows int) (*Batch, error) {
	st, err := m.stmt(handle)
	if err != nil {
		return nil, err
	}
	if st.cursor == nil {
		return nil, fmt.Errorf("statement %s has no result set", handle)
	}
	return st.cursor.Fetch(ctx, offset, maxRows)
}

// CloseStmt tears down one statement; idempotent, a second close of
// the same handle is a no-op.
func (m *Session) CloseStmt(ctx context.Context, handle plan.Id) error {
	m.mu.Lock()
	st, ok := m.stmts[handle]
	delete(m.stmts, handle)
	m.mu.Unlock()
	if !ok || st.cursor == nil {
		return nil
	}
	return st.cursor.Close(ctx)
}

// Close tears down every statement, the connection-dropped path.
func (m *Session) Close(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]plan.Id, 0, len(m.stmts))
	for id := range m.stmts {
		handles = append(handles, id)
	}
	m.mu.Unlock()
	errs := make(errList, 0)
	for _, h := range handles {
		if err := m.CloseStmt(ctx, h); err != nil {
			errs.append(err)
		}
	}
	return errs.error()
}

func (m *Session) stmt(handle plan.Id) (*stmt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stmts[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, handle)
	}
	return st, nil
}
