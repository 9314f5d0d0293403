// Package rel defines the logical plan handed to the job builder.
//
// The sql parser/optimizer that produces these nodes lives outside this
// repo; nodes here are pure data, json-serializable, with just enough
// predicate structure for partition-key pruning.
package rel

import (
	"fmt"
)

// CompareOp is a comparison operator inside a predicate.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNe CompareOp = "ne"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
)

// Comparison is one column-vs-value comparison.  Either Val is a
// literal, or Param >= 0 references a bound query parameter.
type Comparison struct {
	Col   string      `json:"col"`
	Op    CompareOp   `json:"op"`
	Val   interface{} `json:"val,omitempty"`
	Param int         `json:"param"`
}

func Cmp(col string, op CompareOp, val interface{}) Comparison {
	return Comparison{Col: col, Op: op, Val: val, Param: -1}
}

func CmpParam(col string, op CompareOp, param int) Comparison {
	return Comparison{Col: col, Op: op, Param: param}
}

// Predicate is a conjunction of comparisons.
type Predicate struct {
	And []Comparison `json:"and"`
}

func (p *Predicate) Empty() bool { return p == nil || len(p.And) == 0 }

// AggFunc enumerates supported aggregate functions.
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggAvg   AggFunc = "avg"
)

// AggSpec is one aggregate output column.
type AggSpec struct {
	Func AggFunc `json:"func"`
	Col  string  `json:"col,omitempty"`
	As   string  `json:"as"`
}

// ProjCol is one projected output column, optionally renamed.
type ProjCol struct {
	Col string `json:"col"`
	As  string `json:"as,omitempty"`
}

func (p ProjCol) Name() string {
	if p.As != "" {
		return p.As
	}
	return p.Col
}

// DistanceMetric for vector ranking.
type DistanceMetric string

const (
	MetricL2     DistanceMetric = "l2"
	MetricCosine DistanceMetric = "cosine"
	MetricDot    DistanceMetric = "dot"
)

// PlanNode is a node of the logical plan tree.
type PlanNode interface {
	planNode()
	String() string
}

type (
	// Scan reads a table, optionally with a pushed-down filter.  The
	// builder consults the table's range distribution to fan this out.
	Scan struct {
		Table  string     `json:"table"`
		Filter *Predicate `json:"filter,omitempty"`
	}

	// Rank is a nearest-neighbor leaf: scan a table's vector column and
	// keep the K rows closest to Target under Metric.
	Rank struct {
		Table     string         `json:"table"`
		VectorCol string         `json:"vectorCol"`
		Target    []float64      `json:"target"`
		Metric    DistanceMetric `json:"metric"`
		K         int            `json:"k"`
		Filter    *Predicate     `json:"filter,omitempty"`
	}

	Filter struct {
		Input PlanNode  `json:"-"`
		Pred  Predicate `json:"pred"`
	}

	Project struct {
		Input PlanNode  `json:"-"`
		Cols  []ProjCol `json:"cols"`
	}

	Aggregate struct {
		Input   PlanNode  `json:"-"`
		Aggs    []AggSpec `json:"aggs"`
		GroupBy []string  `json:"groupBy,omitempty"`
	}

	Sort struct {
		Input PlanNode `json:"-"`
		Col   string   `json:"col"`
		Desc  bool     `json:"desc,omitempty"`
	}

	Limit struct {
		Input  PlanNode `json:"-"`
		Limit  int      `json:"limit"`
		Offset int      `json:"offset,omitempty"`
	}

	// Join is an equi-join; Left is the build side, Right the probe side.
	Join struct {
		Left     PlanNode `json:"-"`
		Right    PlanNode `json:"-"`
		LeftKey  string   `json:"leftKey"`
		RightKey string   `json:"rightKey"`
	}

	// Values is an inline-rows leaf, no table behind it.
	Values struct {
		Cols []string        `json:"cols"`
		Rows [][]interface{} `json:"rows"`
	}
)

func (*Scan) planNode()      {}
func (*Rank) planNode()      {}
func (*Filter) planNode()    {}
func (*Project) planNode()   {}
func (*Aggregate) planNode() {}
func (*Sort) planNode()      {}
func (*Limit) planNode()     {}
func (*Join) planNode()      {}
func (*Values) planNode()    {}

func (m *Scan) String() string { return fmt.Sprintf("Scan(%s)", m.Table) }
func (m *Rank) String() string {
	return fmt.Sprintf("Rank(%s.%s %s k=%d)", m.Table, m.VectorCol, m.Metric, m.K)
}
func (m *Filter) String() string  { return fmt.Sprintf("Filter(%d cmps)", len(m.Pred.And)) }
func (m *Project) String() string { return fmt.Sprintf("Project(%d cols)", len(m.Cols)) }
func (m *Aggregate) String() string {
	return fmt.Sprintf("Aggregate(%d aggs group by %v)", len(m.Aggs), m.GroupBy)
}
func (m *Sort) String() string   { return fmt.Sprintf("Sort(%s desc=%v)", m.Col, m.Desc) }
func (m *Limit) String() string  { return fmt.Sprintf("Limit(%d,%d)", m.Offset, m.Limit) }
func (m *Join) String() string   { return fmt.Sprintf("Join(%s=%s)", m.LeftKey, m.RightKey) }
func (m *Values) String() string { return fmt.Sprintf("Values(%d rows)", len(m.Rows)) }
