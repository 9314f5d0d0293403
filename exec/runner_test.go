package exec

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araddon/sqlgrid/datasource/membtree"
	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

var testLoc = schema.Location{Name: "local", Addr: "127.0.0.1:1000"}

// single node serving the whole key space, no exchange involved
func testEnv(t *testing.T) (*schema.Schema, schema.StaticRanges, *membtree.Store) {
	sch := schema.NewSchema("test")
	sch.AddTable(schema.NewTable("users", "user_id", []string{"user_id", "name", "amount"}))

	store := membtree.NewStore()
	tbl := store.CreateTable(schema.NewTable("users", "user_id", []string{"user_id", "name", "amount"}))
	names := []string{"aaron", "bob", "carol", "dave", "erin"}
	for i, name := range names {
		require.NoError(t, tbl.Put([]driver.Value{int64(i + 1), name, float64((i + 1) * 10)}))
	}

	users := schema.NewDistribution("users")
	users.Add(schema.FullRange(), testLoc)
	return sch, schema.StaticRanges{"users": users}, store
}

func buildTestJob(t *testing.T, sel *rel.Select) (*plan.Job, *Runner, *JobManager) {
	sch, ranges, store := testEnv(t)
	ctx := plan.NewContext(sel.Raw, sch, ranges, testLoc, plan.NewIdAllocator(testLoc))
	job, err := plan.BuildJob(ctx, sel)
	require.NoError(t, err)
	mgr := NewJobManager(nil)
	require.NoError(t, mgr.RegisterJob(job))
	return job, NewRunner(testLoc, nil, store, nil), mgr
}

func TestCursorFetch(t *testing.T) {
	job, runner, mgr := buildTestJob(t, &rel.Select{Plan: &rel.Scan{Table: "users"}, Raw: "select * from users"})
	c := NewCursor(mgr, runner, job)
	ctx := context.Background()

	n, err := c.Execute(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n, "selects report 'has a result set'")

	// a zero-row probe starts no work and reports done truthfully
	b, err := c.Fetch(ctx, 0, 0)
	require.NoError(t, err)
	assert.False(t, b.Done)
	assert.Len(t, b.Rows, 0)

	b, err = c.Fetch(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	assert.False(t, b.Done)
	assert.Equal(t, "aaron", b.Rows[0][1])
	assert.Equal(t, "bob", b.Rows[1][1])

	// offsets are forward-only and sequential
	_, err = c.Fetch(ctx, 0, 2)
	assert.ErrorIs(t, err, ErrBadFetch)
	_, err = c.Fetch(ctx, 5, 2)
	assert.ErrorIs(t, err, ErrBadFetch)

	b, err = c.Fetch(ctx, 2, 100)
	require.NoError(t, err)
	assert.Len(t, b.Rows, 3)
	assert.True(t, b.Done)

	// fetching past the end stays done and empty
	b, err = c.Fetch(ctx, 5, 10)
	require.NoError(t, err)
	assert.True(t, b.Done)
	assert.Len(t, b.Rows, 0)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx), "close is idempotent")
	_, err = c.Fetch(ctx, 5, 1)
	assert.ErrorIs(t, err, ErrJobClosed)
}

func TestCursorParamCount(t *testing.T) {
	sel := &rel.Select{
		Plan: &rel.Scan{Table: "users", Filter: &rel.Predicate{And: []rel.Comparison{
			rel.CmpParam("name", rel.OpEq, 0),
		}}},
		Params: []rel.ParamType{rel.ParamString},
		Raw:    "select * from users where name = ?",
	}
	job, runner, mgr := buildTestJob(t, sel)
	c := NewCursor(mgr, runner, job)

	_, err := c.Execute(nil)
	require.Error(t, err, "missing params")

	n, err := c.Execute([]driver.Value{"carol"})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)

	b, err := c.Fetch(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, b.Rows, 1)
	assert.Equal(t, "carol", b.Rows[0][1])
}

func TestRunnerFullQuery(t *testing.T) {
	// filter + project + sort + limit, all on one co-located task
	sel := &rel.Select{
		Plan: &rel.Limit{
			Input: &rel.Sort{
				Input: &rel.Project{
					Input: &rel.Filter{
						Input: &rel.Scan{Table: "users"},
						Pred:  rel.Predicate{And: []rel.Comparison{rel.Cmp("amount", rel.OpGe, 20.0)}},
					},
					Cols: []rel.ProjCol{{Col: "name"}, {Col: "amount"}},
				},
				Col:  "amount",
				Desc: true,
			},
			Limit: 2,
		},
		Raw: "select name, amount ...",
	}
	job, runner, mgr := buildTestJob(t, sel)
	c := NewCursor(mgr, runner, job)

	b, err := c.Fetch(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	assert.Equal(t, "erin", b.Rows[0][0])
	assert.Equal(t, "dave", b.Rows[1][0])
	require.NoError(t, c.Close(context.Background()))
}

func TestRunnerValues(t *testing.T) {
	sel := &rel.Select{
		Plan: &rel.Values{
			Cols: []string{"id", "name"},
			Rows: [][]interface{}{{int64(1), "aaron"}, {int64(2), "bob"}},
		},
		Raw: "values (1,'aaron'),(2,'bob')",
	}
	job, runner, mgr := buildTestJob(t, sel)
	c := NewCursor(mgr, runner, job)

	b, err := c.Fetch(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	assert.True(t, b.Done)
	assert.Equal(t, "aaron", b.Rows[0][1])
	assert.Equal(t, "bob", b.Rows[1][1])
	require.NoError(t, c.Close(context.Background()))
}

type fakeCmds struct {
	count int64
	calls int
}

func (m *fakeCmds) RunCommand(ctx context.Context, cmd *rel.Command) (int64, error) {
	m.calls++
	return m.count, nil
}

func TestSession(t *testing.T) {
	sch, ranges, store := testEnv(t)
	mgr := NewJobManager(nil)
	runner := NewRunner(testLoc, nil, store, nil)
	cmds := &fakeCmds{count: 7}
	sess := NewSession(testLoc, sch, ranges, mgr, runner, cmds)
	ctx := context.Background()

	sel := &rel.Select{Plan: &rel.Scan{Table: "users"}, Raw: "select * from users"}
	h, err := sess.Prepare(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Len(), "the statement handle is a registered job")

	n, err := sess.Execute(ctx, h, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)

	b, err := sess.Fetch(ctx, h, 0, 100)
	require.NoError(t, err)
	assert.Len(t, b.Rows, 5)
	assert.True(t, b.Done)

	require.NoError(t, sess.CloseStmt(ctx, h))
	assert.Equal(t, 0, mgr.Len())
	require.NoError(t, sess.CloseStmt(ctx, h), "double close is a no-op")
	_, err = sess.Fetch(ctx, h, 0, 1)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSessionReprepare(t *testing.T) {
	sch, ranges, store := testEnv(t)
	mgr := NewJobManager(nil)
	runner := NewRunner(testLoc, nil, store, nil)
	sess := NewSession(testLoc, sch, ranges, mgr, runner, nil)
	ctx := context.Background()

	sel := &rel.Select{Plan: &rel.Scan{Table: "users"}, Raw: "select * from users"}
	h1, err := sess.Prepare(ctx, sel)
	require.NoError(t, err)

	// preparing the same text again closes the prior live execution
	h2, err := sess.Prepare(ctx, sel)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 1, mgr.Len())
	_, err = sess.Fetch(ctx, h1, 0, 1)
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, sess.Close(ctx))
	assert.Equal(t, 0, mgr.Len())
}

func TestSessionCommand(t *testing.T) {
	sch, ranges, store := testEnv(t)
	cmds := &fakeCmds{count: 3}
	sess := NewSession(testLoc, sch, ranges, NewJobManager(nil), NewRunner(testLoc, nil, store, nil), cmds)
	ctx := context.Background()

	h, err := sess.Prepare(ctx, &rel.Command{Raw: "update users set ..."})
	require.NoError(t, err)

	n, err := sess.Execute(ctx, h, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	counts, err := sess.ExecuteBatch(ctx, h, [][]driver.Value{nil, nil, nil})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 3, 3}, counts)
	assert.Equal(t, 4, cmds.calls)

	_, err = sess.Fetch(ctx, h, 0, 1)
	assert.Error(t, err, "commands have no result set")
}
