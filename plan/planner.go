package plan

import (
	"fmt"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

var (
	_ = u.EMPTY

	// ErrBuild wraps any reason a logical plan cannot be realized as a
	// job, fatal to the prepare step.
	ErrBuild = fmt.Errorf("cannot build job")
)

// JobBuilder walks a logical plan bottom-up and, using the current
// range distribution, emits the Task/Operator graph.
//
// Placement policy: one scan/rank task per matched range, even when a
// location serves several ranges (finer parallelism, the range stays
// the unit of work).  Non-combining operators (filter, project) ride
// along on each feeder task; combining operators (merge, global
// aggregate, global sort/limit, join) go to a coordinator task at the
// builder's own location, fed by exchange edges.
type JobBuilder struct {
	Ctx   *Context
	job   *Job
	coord *Task
}

func NewJobBuilder(ctx *Context) *JobBuilder {
	return &JobBuilder{Ctx: ctx}
}

// BuildJob compiles a select statement into a Job.
func BuildJob(ctx *Context, sel *rel.Select) (*Job, error) {
	return NewJobBuilder(ctx).Build(sel)
}

// buildState is the frontier of the walk: current feeder tasks and the
// tail operator of each.
type buildState struct {
	tasks []*Task
	tails []*Operator
}

func (m *JobBuilder) Build(sel *rel.Select) (*Job, error) {
	if sel.Plan == nil {
		return nil, fmt.Errorf("%w: empty logical plan", ErrBuild)
	}
	m.job = &Job{
		Id:      m.Ctx.Alloc.Next(),
		Params:  sel.Params,
		Tasks:   make(map[Id]*Task),
		Outputs: make(map[Id]*Output),
		Loc:     m.Ctx.Loc,
	}
	st, err := m.walk(sel.Plan)
	if err != nil {
		return nil, err
	}
	task, tail := m.combine(st)
	root := m.newOp(OpRoot)
	m.addOp(task, root, tail)
	m.job.RootTaskId = task.Id

	cols, err := m.planCols(sel.Plan)
	if err != nil {
		return nil, err
	}
	m.job.Cols = cols
	u.Debugf("built job %s   tasks=%d outputs=%d root=%s", m.job.Id, len(m.job.Tasks), len(m.job.Outputs), task.Id)
	return m.job, nil
}

func (m *JobBuilder) walk(n rel.PlanNode) (*buildState, error) {
	switch p := n.(type) {
	case *rel.Scan:
		return m.walkScan(p)
	case *rel.Rank:
		return m.walkRank(p)
	case *rel.Filter:
		st, err := m.walk(p.Input)
		if err != nil {
			return nil, err
		}
		return m.perTask(st, func() *Operator {
			op := m.newOp(OpFilter)
			op.Filter = &FilterParams{Pred: p.Pred}
			return op
		}), nil
	case *rel.Project:
		st, err := m.walk(p.Input)
		if err != nil {
			return nil, err
		}
		return m.perTask(st, func() *Operator {
			op := m.newOp(OpProject)
			op.Project = &ProjectParams{Cols: p.Cols}
			return op
		}), nil
	case *rel.Aggregate:
		st, err := m.walk(p.Input)
		if err != nil {
			return nil, err
		}
		task, tail := m.combine(st)
		op := m.newOp(OpAgg)
		op.Agg = &AggParams{Aggs: p.Aggs, GroupBy: p.GroupBy}
		m.addOp(task, op, tail)
		return &buildState{tasks: []*Task{task}, tails: []*Operator{op}}, nil
	case *rel.Sort:
		st, err := m.walk(p.Input)
		if err != nil {
			return nil, err
		}
		task, tail := m.combine(st)
		op := m.newOp(OpSort)
		op.Sort = &SortParams{Col: p.Col, Desc: p.Desc}
		m.addOp(task, op, tail)
		return &buildState{tasks: []*Task{task}, tails: []*Operator{op}}, nil
	case *rel.Limit:
		st, err := m.walk(p.Input)
		if err != nil {
			return nil, err
		}
		task, tail := m.combine(st)
		op := m.newOp(OpLimit)
		op.Limit = &LimitParams{Limit: p.Limit, Offset: p.Offset}
		m.addOp(task, op, tail)
		return &buildState{tasks: []*Task{task}, tails: []*Operator{op}}, nil
	case *rel.Join:
		return m.walkJoin(p)
	case *rel.Values:
		// inline rows always run at the coordinator
		t := m.coordinator()
		op := m.newOp(OpValues)
		op.Values = &ValuesParams{Cols: p.Cols, Rows: p.Rows}
		m.addOp(t, op, nil)
		return &buildState{tasks: []*Task{t}, tails: []*Operator{op}}, nil
	}
	return nil, fmt.Errorf("%w: unknown plan node %T", ErrBuild, n)
}

func (m *JobBuilder) walkScan(p *rel.Scan) (*buildState, error) {
	tbl, err := m.Ctx.Schema.Table(p.Table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}
	parts, err := m.partitions(p.Table, tbl.KeyCol, p.Filter)
	if err != nil {
		return nil, err
	}
	st := &buildState{}
	for _, part := range parts {
		t := m.newTask(part.Loc)
		op := m.newOp(OpScan)
		op.Scan = &ScanParams{Table: tbl.Name, Range: part.Range, Filter: p.Filter}
		m.addOp(t, op, nil)
		st.tasks = append(st.tasks, t)
		st.tails = append(st.tails, op)
	}
	return st, nil
}

// walkRank fans out one rank task per matched range, then merges at the
// coordinator and re-ranks: sort on the distance column, limit K.
func (m *JobBuilder) walkRank(p *rel.Rank) (*buildState, error) {
	tbl, err := m.Ctx.Schema.Table(p.Table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if p.K <= 0 {
		return nil, fmt.Errorf("%w: rank k must be > 0", ErrBuild)
	}
	parts, err := m.partitions(p.Table, tbl.KeyCol, p.Filter)
	if err != nil {
		return nil, err
	}
	st := &buildState{}
	for _, part := range parts {
		t := m.newTask(part.Loc)
		op := m.newOp(OpRank)
		op.Rank = &RankParams{
			Table: tbl.Name, Range: part.Range,
			VectorCol: p.VectorCol, Target: p.Target, Metric: p.Metric, K: p.K,
			Filter: p.Filter,
		}
		m.addOp(t, op, nil)
		st.tasks = append(st.tasks, t)
		st.tails = append(st.tails, op)
	}
	task, tail := m.combine(st)
	sortOp := m.newOp(OpSort)
	sortOp.Sort = &SortParams{Col: DistanceCol}
	m.addOp(task, sortOp, tail)
	limitOp := m.newOp(OpLimit)
	limitOp.Limit = &LimitParams{Limit: p.K}
	m.addOp(task, limitOp, sortOp)
	return &buildState{tasks: []*Task{task}, tails: []*Operator{limitOp}}, nil
}

// walkJoin places the hash join on the coordinator: every build-side
// feeder gets an edge into join-build, every probe-side feeder into
// join-probe.  Convention: join-probe's Inputs[0] is the local edge
// from join-build.
func (m *JobBuilder) walkJoin(p *rel.Join) (*buildState, error) {
	stBuild, err := m.walk(p.Left)
	if err != nil {
		return nil, err
	}
	stProbe, err := m.walk(p.Right)
	if err != nil {
		return nil, err
	}
	coord := m.coordinator()
	jb := m.newOp(OpJoinBuild)
	jb.Join = &JoinParams{LeftKey: p.LeftKey, RightKey: p.RightKey}
	coord.Ops = append(coord.Ops, jb)
	for i := range stBuild.tasks {
		m.link(stBuild.tasks[i], stBuild.tails[i], coord, jb)
	}
	jp := m.newOp(OpJoinProbe)
	jp.Join = &JoinParams{LeftKey: p.LeftKey, RightKey: p.RightKey}
	coord.Ops = append(coord.Ops, jp)
	m.link(coord, jb, coord, jp)
	for i := range stProbe.tasks {
		m.link(stProbe.tasks[i], stProbe.tails[i], coord, jp)
	}
	return &buildState{tasks: []*Task{coord}, tails: []*Operator{jp}}, nil
}

// partitions applies the pruning optimization: a predicate bounding the
// partition key narrows the fan-out to only the ranges it touches.
func (m *JobBuilder) partitions(table, keyCol string, pred *rel.Predicate) ([]schema.RangeLocation, error) {
	dist, err := m.Ctx.Ranges.RangesFor(table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if bound, ok := keyBound(pred, keyCol); ok {
		parts := dist.Touching(bound)
		u.Debugf("pruned %s to %d/%d ranges for bound %s", table, len(parts), dist.Len(), bound)
		return parts, nil
	}
	return dist.All(), nil
}

// keyBound derives a key-range bound from comparisons on the partition
// key.  Equality prunes for any literal (strings hash); range operators
// prune only for integer literals, since hashed keys are not ordered.
// Param references cannot prune, params are bound after build.
func keyBound(pred *rel.Predicate, keyCol string) (schema.KeyRange, bool) {
	if pred.Empty() {
		return schema.KeyRange{}, false
	}
	r := schema.FullRange()
	prunable := false
	for _, c := range pred.And {
		if c.Col != keyCol || c.Param >= 0 {
			continue
		}
		switch c.Op {
		case rel.OpEq:
			k := schema.KeyOf(c.Val)
			r = intersect(r, schema.KeyRange{Start: k, End: boundedNext(k)})
			prunable = true
		case rel.OpGe, rel.OpGt, rel.OpLt, rel.OpLe:
			k, ok := intKey(c.Val)
			if !ok {
				continue
			}
			switch c.Op {
			case rel.OpGe:
				r = intersect(r, schema.KeyRange{Start: k, End: schema.MaxKey})
			case rel.OpGt:
				r = intersect(r, schema.KeyRange{Start: boundedNext(k), End: schema.MaxKey})
			case rel.OpLt:
				r = intersect(r, schema.KeyRange{Start: 0, End: k})
			case rel.OpLe:
				r = intersect(r, schema.KeyRange{Start: 0, End: boundedNext(k)})
			}
			prunable = true
		}
	}
	return r, prunable
}

func intersect(a, b schema.KeyRange) schema.KeyRange {
	if b.Start > a.Start {
		a.Start = b.Start
	}
	if b.End < a.End {
		a.End = b.End
	}
	return a
}

func boundedNext(k uint64) uint64 {
	if k == schema.MaxKey {
		return schema.MaxKey
	}
	return k + 1
}

func intKey(v interface{}) (uint64, bool) {
	switch vt := v.(type) {
	case int:
		return uint64(vt), true
	case int64:
		return uint64(vt), true
	case uint64:
		return vt, true
	case float64:
		if vt == float64(uint64(vt)) {
			return uint64(vt), true
		}
	}
	return 0, false
}

// perTask appends an operator instance to every feeder task; an empty
// frontier (zero matched ranges) degrades to the coordinator chain.
func (m *JobBuilder) perTask(st *buildState, mk func() *Operator) *buildState {
	if len(st.tasks) == 0 {
		task, tail := m.combine(st)
		op := mk()
		m.addOp(task, op, tail)
		return &buildState{tasks: []*Task{task}, tails: []*Operator{op}}
	}
	for i := range st.tasks {
		op := mk()
		m.addOp(st.tasks[i], op, st.tails[i])
		st.tails[i] = op
	}
	return st
}

// combine collapses the frontier to a single chain at the coordinator,
// adding a merge fed by exchange edges when the input is fanned out or
// lives on another node.
func (m *JobBuilder) combine(st *buildState) (*Task, *Operator) {
	if len(st.tasks) == 1 && st.tasks[0].Loc.Addr == m.Ctx.Loc.Addr {
		return st.tasks[0], st.tails[0]
	}
	coord := m.coordinator()
	merge := m.newOp(OpMerge)
	coord.Ops = append(coord.Ops, merge)
	for i := range st.tasks {
		m.link(st.tasks[i], st.tails[i], coord, merge)
	}
	return coord, merge
}

func (m *JobBuilder) coordinator() *Task {
	if m.coord == nil {
		m.coord = m.newTask(m.Ctx.Loc)
	}
	return m.coord
}

func (m *JobBuilder) newTask(loc schema.Location) *Task {
	t := &Task{Id: m.Ctx.Alloc.Next(), JobId: m.job.Id, Loc: loc, Status: TaskPending}
	m.job.Tasks[t.Id] = t
	m.job.TaskOrder = append(m.job.TaskOrder, t.Id)
	return t
}

func (m *JobBuilder) newOp(kind OpKind) *Operator {
	return &Operator{Id: m.Ctx.Alloc.Next(), Kind: kind}
}

// addOp appends op to a task chain, linking from the previous tail when
// there is one.
func (m *JobBuilder) addOp(t *Task, op *Operator, from *Operator) {
	t.Ops = append(t.Ops, op)
	if from != nil {
		m.link(t, from, t, op)
	}
}

// link creates the Output edge between two operators; remote iff the
// two tasks are bound to different locations.
func (m *JobBuilder) link(fromTask *Task, from *Operator, toTask *Task, to *Operator) *Output {
	o := &Output{
		Id:        m.Ctx.Alloc.Next(),
		Producer:  from.Id,
		Consumers: []Id{to.Id},
		From:      fromTask.Loc,
		Locality:  LocalityLocal,
	}
	if fromTask.Loc.Addr != toTask.Loc.Addr {
		o.Locality = LocalityRemote
	}
	m.job.Outputs[o.Id] = o
	from.Outputs = append(from.Outputs, o.Id)
	to.Inputs = append(to.Inputs, o.Id)
	return o
}

// planCols derives the client-visible column list of the plan's output.
func (m *JobBuilder) planCols(n rel.PlanNode) ([]string, error) {
	switch p := n.(type) {
	case *rel.Scan:
		tbl, err := m.Ctx.Schema.Table(p.Table)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBuild, err)
		}
		return tbl.Cols, nil
	case *rel.Rank:
		tbl, err := m.Ctx.Schema.Table(p.Table)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBuild, err)
		}
		return append(append([]string{}, tbl.Cols...), DistanceCol), nil
	case *rel.Filter:
		return m.planCols(p.Input)
	case *rel.Sort:
		return m.planCols(p.Input)
	case *rel.Limit:
		return m.planCols(p.Input)
	case *rel.Project:
		cols := make([]string, 0, len(p.Cols))
		for _, c := range p.Cols {
			cols = append(cols, c.Name())
		}
		return cols, nil
	case *rel.Aggregate:
		cols := append([]string{}, p.GroupBy...)
		for _, a := range p.Aggs {
			cols = append(cols, a.As)
		}
		return cols, nil
	case *rel.Values:
		return p.Cols, nil
	case *rel.Join:
		left, err := m.planCols(p.Left)
		if err != nil {
			return nil, err
		}
		right, err := m.planCols(p.Right)
		if err != nil {
			return nil, err
		}
		cols := append([]string{}, left...)
		for _, c := range right {
			dup := false
			for _, l := range left {
				if l == c {
					dup = true
					break
				}
			}
			if !dup {
				cols = append(cols, c)
			}
		}
		return cols, nil
	}
	return nil, fmt.Errorf("%w: unknown plan node %T", ErrBuild, n)
}
