package plan

import (
	"testing"

	u "github.com/araddon/gou"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

func init() {
	u.SetupLogging("debug")
	u.SetColorOutput()
}

var (
	coordLoc = schema.Location{Name: "coord", Addr: "127.0.0.1:1000"}
	locA     = schema.Location{Name: "a", Addr: "127.0.0.1:1001"}
	locB     = schema.Location{Name: "b", Addr: "127.0.0.1:1002"}
)

// Three ranges over two locations; locA serves two of them.
func testCtx(raw string) *Context {
	sch := schema.NewSchema("test")
	sch.AddTable(schema.NewTable("users", "user_id", []string{"user_id", "name", "email"}))
	sch.AddTable(schema.NewTable("orders", "order_id", []string{"order_id", "user_id", "amount"}))

	users := schema.NewDistribution("users")
	users.Add(schema.KeyRange{Start: 0, End: 100}, locA)
	users.Add(schema.KeyRange{Start: 100, End: 200}, locA)
	users.Add(schema.KeyRange{Start: 200, End: schema.MaxKey}, locB)
	orders := schema.NewDistribution("orders")
	orders.Add(schema.FullRange(), locB)
	ranges := schema.StaticRanges{"users": users, "orders": orders}

	return NewContext(raw, sch, ranges, coordLoc, NewIdAllocator(coordLoc))
}

func opsOfKind(t *Task, kind OpKind) []*Operator {
	var out []*Operator
	for _, op := range t.Ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func TestBuildScanFanout(t *testing.T) {
	job, err := BuildJob(testCtx("select * from users"), &rel.Select{Plan: &rel.Scan{Table: "users"}})
	require.NoError(t, err)

	// one feeder per range even though locA serves two of them, plus coordinator
	require.Equal(t, 4, len(job.Tasks))
	root := job.RootTask()
	require.NotNil(t, root)
	assert.Equal(t, coordLoc, root.Loc)
	assert.Len(t, job.RemoteTasks(), 3)
	assert.Len(t, job.LocalTasks(), 0)

	locs := map[string]int{}
	ranges := map[schema.KeyRange]bool{}
	for _, id := range job.TaskOrder {
		task := job.Tasks[id]
		if task.Id == job.RootTaskId {
			continue
		}
		locs[task.Loc.Name]++
		require.Len(t, task.Ops, 1)
		require.Equal(t, OpScan, task.Ops[0].Kind)
		ranges[task.Ops[0].Scan.Range] = true
	}
	assert.Equal(t, 2, locs["a"])
	assert.Equal(t, 1, locs["b"])
	assert.Len(t, ranges, 3, "each feeder owns a distinct range")

	// every feeder edge crosses the network to the coordinator's merge
	merge := opsOfKind(root, OpMerge)
	require.Len(t, merge, 1)
	require.Len(t, merge[0].Inputs, 3)
	for _, eid := range merge[0].Inputs {
		out := job.Outputs[eid]
		require.NotNil(t, out)
		assert.True(t, out.Remote())
	}
	assert.Equal(t, []string{"user_id", "name", "email"}, job.Cols)
}

func TestBuildPruneEq(t *testing.T) {
	scan := &rel.Scan{Table: "users", Filter: &rel.Predicate{And: []rel.Comparison{
		rel.Cmp("user_id", rel.OpEq, int64(150)),
	}}}
	job, err := BuildJob(testCtx("select * from users where user_id = 150"), &rel.Select{Plan: scan})
	require.NoError(t, err)

	// key 150 lives in [100,200) only
	require.Equal(t, 2, len(job.Tasks))
	feeder := job.Tasks[job.TaskOrder[0]]
	assert.Equal(t, locA, feeder.Loc)
	assert.Equal(t, schema.KeyRange{Start: 100, End: 200}, feeder.Ops[0].Scan.Range)
}

func TestBuildPruneRange(t *testing.T) {
	scan := &rel.Scan{Table: "users", Filter: &rel.Predicate{And: []rel.Comparison{
		rel.Cmp("user_id", rel.OpGe, int64(100)),
	}}}
	job, err := BuildJob(testCtx("select * from users where user_id >= 100"), &rel.Select{Plan: scan})
	require.NoError(t, err)
	assert.Equal(t, 3, len(job.Tasks), "two matched ranges plus coordinator")
}

func TestBuildParamNeverPrunes(t *testing.T) {
	scan := &rel.Scan{Table: "users", Filter: &rel.Predicate{And: []rel.Comparison{
		rel.CmpParam("user_id", rel.OpEq, 0),
	}}}
	sel := &rel.Select{Plan: scan, Params: []rel.ParamType{rel.ParamInt}}
	job, err := BuildJob(testCtx("select * from users where user_id = ?"), sel)
	require.NoError(t, err)
	assert.Equal(t, 4, len(job.Tasks), "params are bound after build, cannot prune")
}

func TestBuildZeroRanges(t *testing.T) {
	ctx := testCtx("select * from users where user_id = 500")
	// shrink the distribution so the bound misses every range
	users := schema.NewDistribution("users")
	users.Add(schema.KeyRange{Start: 0, End: 100}, locA)
	ctx.Ranges = schema.StaticRanges{"users": users}

	scan := &rel.Scan{Table: "users", Filter: &rel.Predicate{And: []rel.Comparison{
		rel.Cmp("user_id", rel.OpEq, int64(500)),
	}}}
	job, err := BuildJob(ctx, &rel.Select{Plan: scan})
	require.NoError(t, err)

	// coordinator-only job; merge with zero inputs closes immediately
	require.Equal(t, 1, len(job.Tasks))
	root := job.RootTask()
	merge := opsOfKind(root, OpMerge)
	require.Len(t, merge, 1)
	assert.Len(t, merge[0].Inputs, 0)
	assert.Len(t, job.Outputs, 1, "only the merge->root edge")
}

func TestBuildFilterProjectRideAlong(t *testing.T) {
	plan := &rel.Project{
		Input: &rel.Filter{
			Input: &rel.Scan{Table: "users"},
			Pred:  rel.Predicate{And: []rel.Comparison{rel.Cmp("name", rel.OpNe, "bob")}},
		},
		Cols: []rel.ProjCol{{Col: "name"}, {Col: "email", As: "contact"}},
	}
	job, err := BuildJob(testCtx("select name, email as contact from users where name != 'bob'"), &rel.Select{Plan: plan})
	require.NoError(t, err)

	for _, task := range job.RemoteTasks() {
		require.Len(t, task.Ops, 3, "filter and project ride on each feeder")
		assert.Equal(t, OpScan, task.Ops[0].Kind)
		assert.Equal(t, OpFilter, task.Ops[1].Kind)
		assert.Equal(t, OpProject, task.Ops[2].Kind)
	}
	assert.Equal(t, []string{"name", "contact"}, job.Cols)
}

func TestBuildAggregate(t *testing.T) {
	plan := &rel.Aggregate{
		Input:   &rel.Scan{Table: "users"},
		Aggs:    []rel.AggSpec{{Func: rel.AggCount, Col: "user_id", As: "ct"}},
		GroupBy: []string{"name"},
	}
	job, err := BuildJob(testCtx("select name, count(user_id) as ct from users group by name"), &rel.Select{Plan: plan})
	require.NoError(t, err)

	root := job.RootTask()
	require.Len(t, opsOfKind(root, OpAgg), 1, "global aggregate combines at the coordinator")
	for _, task := range job.RemoteTasks() {
		assert.Len(t, opsOfKind(task, OpAgg), 0)
	}
	assert.Equal(t, []string{"name", "ct"}, job.Cols)
}

func TestBuildJoin(t *testing.T) {
	plan := &rel.Join{
		Left:     &rel.Scan{Table: "users"},
		Right:    &rel.Scan{Table: "orders"},
		LeftKey:  "user_id",
		RightKey: "user_id",
	}
	job, err := BuildJob(testCtx("select * from users join orders on ..."), &rel.Select{Plan: plan})
	require.NoError(t, err)

	root := job.RootTask()
	jb := opsOfKind(root, OpJoinBuild)
	jp := opsOfKind(root, OpJoinProbe)
	require.Len(t, jb, 1)
	require.Len(t, jp, 1)
	assert.Len(t, jb[0].Inputs, 3, "every users feeder feeds the build side")
	require.Len(t, jp[0].Inputs, 2, "build edge plus one orders feeder")

	// the probe's first input is, by convention, the local build edge
	buildEdge := job.Outputs[jp[0].Inputs[0]]
	require.NotNil(t, buildEdge)
	assert.Equal(t, jb[0].Id, buildEdge.Producer)
	assert.False(t, buildEdge.Remote())

	// join output dedups the shared key column
	assert.Equal(t, []string{"user_id", "name", "email", "order_id", "amount"}, job.Cols)
}

func TestBuildRank(t *testing.T) {
	plan := &rel.Rank{
		Table: "users", VectorCol: "embedding",
		Target: []float64{1, 0}, Metric: rel.MetricL2, K: 5,
	}
	job, err := BuildJob(testCtx("rank users"), &rel.Select{Plan: plan})
	require.NoError(t, err)

	// per-range top-K, then coordinator re-ranks: sort on distance, limit K
	assert.Len(t, job.RemoteTasks(), 3)
	for _, task := range job.RemoteTasks() {
		require.Len(t, task.Ops, 1)
		assert.Equal(t, OpRank, task.Ops[0].Kind)
		assert.Equal(t, 5, task.Ops[0].Rank.K)
	}
	root := job.RootTask()
	sorts := opsOfKind(root, OpSort)
	require.Len(t, sorts, 1)
	assert.Equal(t, DistanceCol, sorts[0].Sort.Col)
	limits := opsOfKind(root, OpLimit)
	require.Len(t, limits, 1)
	assert.Equal(t, 5, limits[0].Limit.Limit)
	assert.Equal(t, []string{"user_id", "name", "email", DistanceCol}, job.Cols)
}

func TestBuildCoLocatedSingleRange(t *testing.T) {
	ctx := testCtx("select * from users")
	users := schema.NewDistribution("users")
	users.Add(schema.FullRange(), coordLoc)
	ctx.Ranges = schema.StaticRanges{"users": users}

	job, err := BuildJob(ctx, &rel.Select{Plan: &rel.Scan{Table: "users"}})
	require.NoError(t, err)

	// a single co-located range needs no merge and no exchange at all
	require.Equal(t, 1, len(job.Tasks))
	root := job.RootTask()
	assert.Len(t, opsOfKind(root, OpMerge), 0)
	assert.Equal(t, OpScan, root.Ops[0].Kind)
	assert.Equal(t, OpRoot, root.Ops[len(root.Ops)-1].Kind)
}

func TestBuildValues(t *testing.T) {
	plan := &rel.Values{
		Cols: []string{"id", "name"},
		Rows: [][]interface{}{{int64(1), "aaron"}, {int64(2), "bob"}},
	}
	job, err := BuildJob(testCtx("values"), &rel.Select{Plan: plan})
	require.NoError(t, err)

	// inline rows involve no data node at all
	require.Equal(t, 1, len(job.Tasks))
	root := job.RootTask()
	assert.Equal(t, coordLoc, root.Loc)
	assert.Equal(t, OpValues, root.Ops[0].Kind)
	assert.Equal(t, []string{"id", "name"}, job.Cols)
}

func TestBuildErrors(t *testing.T) {
	_, err := BuildJob(testCtx("x"), &rel.Select{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuild)

	_, err = BuildJob(testCtx("x"), &rel.Select{Plan: &rel.Scan{Table: "nope"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuild)

	_, err = BuildJob(testCtx("x"), &rel.Select{Plan: &rel.Rank{Table: "users", K: 0}})
	require.Error(t, err)
}

func TestKeyBound(t *testing.T) {
	pred := func(cs ...rel.Comparison) *rel.Predicate { return &rel.Predicate{And: cs} }

	r, ok := keyBound(pred(rel.Cmp("user_id", rel.OpEq, int64(7))), "user_id")
	require.True(t, ok)
	assert.Equal(t, schema.KeyRange{Start: 7, End: 8}, r)

	// equality on a string key prunes through the hash
	r, ok = keyBound(pred(rel.Cmp("user_id", rel.OpEq, "aaron")), "user_id")
	require.True(t, ok)
	assert.Equal(t, schema.KeyOf("aaron"), r.Start)

	// range ops on non-integer literals cannot prune (hash order is meaningless)
	_, ok = keyBound(pred(rel.Cmp("user_id", rel.OpGt, "aaron")), "user_id")
	assert.False(t, ok)

	// conjunction intersects
	r, ok = keyBound(pred(
		rel.Cmp("user_id", rel.OpGe, int64(10)),
		rel.Cmp("user_id", rel.OpLt, int64(20)),
	), "user_id")
	require.True(t, ok)
	assert.Equal(t, schema.KeyRange{Start: 10, End: 20}, r)

	// other columns are ignored
	_, ok = keyBound(pred(rel.Cmp("name", rel.OpEq, "x")), "user_id")
	assert.False(t, ok)

	_, ok = keyBound(nil, "user_id")
	assert.False(t, ok)
}

func TestIdAllocator(t *testing.T) {
	a := NewIdAllocator(locA)
	b := NewIdAllocator(locB)
	seen := map[Id]bool{}
	for i := 0; i < 100; i++ {
		for _, id := range []Id{a.Next(), b.Next()} {
			require.False(t, seen[id], "id %s allocated twice", id)
			seen[id] = true
		}
	}
}
