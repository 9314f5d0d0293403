// Package plan is the physical side of a statement: the Job graph of
// Tasks and Operators produced by the JobBuilder from a logical plan
// plus the current range distribution.
//
// Operators are pure data until a task starts; behavior is attached by
// the executor with one exhaustive switch over OpKind.
package plan

import (
	"fmt"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// OpKind enumerates operator kinds.
type OpKind string

const (
	OpScan      OpKind = "scan"
	OpFilter    OpKind = "filter"
	OpProject   OpKind = "project"
	OpAgg       OpKind = "agg"
	OpSort      OpKind = "sort"
	OpLimit     OpKind = "limit"
	OpJoinBuild OpKind = "join-build"
	OpJoinProbe OpKind = "join-probe"
	OpRank      OpKind = "rank"
	OpValues    OpKind = "values"
	OpMerge     OpKind = "merge"
	OpRoot      OpKind = "root"
)

// DistanceCol is the synthetic column a rank operator appends.
const DistanceCol = "_distance"

type (
	ScanParams struct {
		Table  string          `json:"table"`
		Range  schema.KeyRange `json:"range"`
		Filter *rel.Predicate  `json:"filter,omitempty"`
	}
	FilterParams struct {
		Pred rel.Predicate `json:"pred"`
	}
	ProjectParams struct {
		Cols []rel.ProjCol `json:"cols"`
	}
	AggParams struct {
		Aggs    []rel.AggSpec `json:"aggs"`
		GroupBy []string      `json:"groupBy,omitempty"`
	}
	SortParams struct {
		Col  string `json:"col"`
		Desc bool   `json:"desc,omitempty"`
	}
	LimitParams struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset,omitempty"`
	}
	JoinParams struct {
		LeftKey  string `json:"leftKey"`
		RightKey string `json:"rightKey"`
	}
	ValuesParams struct {
		Cols []string        `json:"cols"`
		Rows [][]interface{} `json:"rows"`
	}
	RankParams struct {
		Table     string             `json:"table"`
		Range     schema.KeyRange    `json:"range"`
		VectorCol string             `json:"vectorCol"`
		Target    []float64          `json:"target"`
		Metric    rel.DistanceMetric `json:"metric"`
		K         int                `json:"k"`
		Filter    *rel.Predicate     `json:"filter,omitempty"`
	}
)

// Operator is one dataflow stage, a tagged variant over OpKind with
// kind-specific params.  Immutable once built.
type Operator struct {
	Id      Id             `json:"id"`
	Kind    OpKind         `json:"kind"`
	Scan    *ScanParams    `json:"scan,omitempty"`
	Filter  *FilterParams  `json:"filter,omitempty"`
	Project *ProjectParams `json:"project,omitempty"`
	Agg     *AggParams     `json:"agg,omitempty"`
	Sort    *SortParams    `json:"sort,omitempty"`
	Limit   *LimitParams   `json:"limit,omitempty"`
	Join    *JoinParams    `json:"join,omitempty"`
	Rank    *RankParams    `json:"rank,omitempty"`
	Values  *ValuesParams  `json:"values,omitempty"`
	Inputs  []Id           `json:"inputs,omitempty"`  // input edge ids, in order
	Outputs []Id           `json:"outputs,omitempty"` // output edge ids
}

func (m *Operator) String() string { return fmt.Sprintf("%s(%s)", m.Kind, m.Id) }

// Locality of an exchange edge.
type Locality string

const (
	LocalityLocal  Locality = "local"
	LocalityRemote Locality = "remote"
)

// Output is an exchange edge between operators.  Exactly one producer;
// possibly many consumers (broadcast fan-out).  Remote iff the producer
// task and at least one consumer task are bound to different locations,
// in which case the edge is a network stream pulled from From.
type Output struct {
	Id        Id              `json:"id"`
	Producer  Id              `json:"producer"`
	Consumers []Id            `json:"consumers"`
	Locality  Locality        `json:"locality"`
	From      schema.Location `json:"from"` // producer task's location
}

func (m *Output) Remote() bool { return m.Locality == LocalityRemote }

// TaskStatus lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskFinished  TaskStatus = "finished"
	TaskDestroyed TaskStatus = "destroyed"
)

// Task is the unit of placement: a connected operator subgraph bound to
// one location.  Tasks on other nodes are referenced only by id+location.
type Task struct {
	Id     Id              `json:"id"`
	JobId  Id              `json:"jobId"`
	Loc    schema.Location `json:"loc"`
	Ops    []*Operator     `json:"ops"` // topological order
	Status TaskStatus      `json:"status"`
}

func (m *Task) Op(id Id) *Operator {
	for _, op := range m.Ops {
		if op.Id == id {
			return op
		}
	}
	return nil
}

// Job is the full distributed plan for one statement execution.  Its id
// doubles as the statement handle.  Mutated only during the build phase.
type Job struct {
	Id         Id              `json:"id"`
	Params     []rel.ParamType `json:"params,omitempty"`
	Tasks      map[Id]*Task    `json:"tasks"`
	TaskOrder  []Id            `json:"taskOrder"` // build order, deterministic
	Outputs    map[Id]*Output  `json:"outputs"`
	RootTaskId Id              `json:"rootTaskId"`
	Loc        schema.Location `json:"loc"` // coordinator location
	Cols       []string        `json:"cols,omitempty"`
}

func (m *Job) RootTask() *Task { return m.Tasks[m.RootTaskId] }

// RemoteTasks are every task not placed at the coordinator.
func (m *Job) RemoteTasks() []*Task {
	out := make([]*Task, 0, len(m.Tasks))
	for _, id := range m.TaskOrder {
		t := m.Tasks[id]
		if t.Loc.Addr != m.Loc.Addr {
			out = append(out, t)
		}
	}
	return out
}

// LocalTasks are non-root tasks placed at the coordinator.
func (m *Job) LocalTasks() []*Task {
	out := make([]*Task, 0, 2)
	for _, id := range m.TaskOrder {
		t := m.Tasks[id]
		if t.Loc.Addr == m.Loc.Addr && t.Id != m.RootTaskId {
			out = append(out, t)
		}
	}
	return out
}

// EdgesFor collects every Output referenced by a task's operators, the
// set a remote node needs to run it.
func (m *Job) EdgesFor(t *Task) []*Output {
	seen := make(map[Id]bool)
	out := make([]*Output, 0, 8)
	add := func(id Id) {
		if seen[id] {
			return
		}
		if o, ok := m.Outputs[id]; ok {
			seen[id] = true
			out = append(out, o)
		}
	}
	for _, op := range t.Ops {
		for _, id := range op.Inputs {
			add(id)
		}
		for _, id := range op.Outputs {
			add(id)
		}
	}
	return out
}
