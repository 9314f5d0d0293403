package exec

import (
	"database/sql/driver"
	"fmt"
	"sort"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// GroupBy is the global aggregate stage, placed on the coordinator
// after the merge of all contributing tasks.  Buffers its entire input.
type GroupBy struct {
	*TaskBase
	p *plan.AggParams
}

func NewGroupBy(p *plan.AggParams) *GroupBy {
	return &GroupBy{TaskBase: NewTaskBase("GroupBy"), p: p}
}

type aggAcc struct {
	groupVals []driver.Value
	count     int64
	sums      []float64
	mins      []driver.Value
	maxs      []driver.Value
	nonNil    []int64
}

func (m *GroupBy) Run() error {
	defer close(m.msgOutCh)

	rows, err := drainInput(m.msgInCh, m.sigCh)
	if err != nil {
		if err != ErrShuttingDown {
			m.forward(&ErrMessage{Err: err})
		}
		return err
	}

	nAggs := len(m.p.Aggs)
	groups := make(map[string]*aggAcc)
	order := make([]string, 0, 16)
	for _, rm := range rows {
		key := ""
		gvals := make([]driver.Value, len(m.p.GroupBy))
		for i, col := range m.p.GroupBy {
			v, _ := rm.Get(col)
			gvals[i] = v
			key += fmt.Sprintf("%v\x00", v)
		}
		acc, ok := groups[key]
		if !ok {
			acc = &aggAcc{
				groupVals: gvals,
				sums:      make([]float64, nAggs),
				mins:      make([]driver.Value, nAggs),
				maxs:      make([]driver.Value, nAggs),
				nonNil:    make([]int64, nAggs),
			}
			groups[key] = acc
			order = append(order, key)
		}
		acc.count++
		for i, a := range m.p.Aggs {
			if a.Func == rel.AggCount {
				continue
			}
			v, ok := rm.Get(a.Col)
			if !ok || v == nil {
				continue
			}
			acc.nonNil[i]++
			if f, isNum := asFloat(v); isNum {
				acc.sums[i] += f
			}
			if acc.mins[i] == nil {
				acc.mins[i] = v
			} else if c, cerr := compareVals(v, acc.mins[i]); cerr == nil && c < 0 {
				acc.mins[i] = v
			}
			if acc.maxs[i] == nil {
				acc.maxs[i] = v
			} else if c, cerr := compareVals(v, acc.maxs[i]); cerr == nil && c > 0 {
				acc.maxs[i] = v
			}
		}
	}

	// No grouping columns means one output row even for empty input.
	if len(m.p.GroupBy) == 0 && len(order) == 0 {
		key := ""
		groups[key] = &aggAcc{
			sums:   make([]float64, nAggs),
			mins:   make([]driver.Value, nAggs),
			maxs:   make([]driver.Value, nAggs),
			nonNil: make([]int64, nAggs),
		}
		order = append(order, key)
	}

	cols := append([]string{}, m.p.GroupBy...)
	for _, a := range m.p.Aggs {
		cols = append(cols, a.As)
	}
	colIdx := make(map[string]int, len(cols))
	for i, c := range cols {
		colIdx[c] = i
	}
	sort.Strings(order)

	var id uint64
	for _, key := range order {
		acc := groups[key]
		vals := make([]driver.Value, len(cols))
		copy(vals, acc.groupVals)
		for i, a := range m.p.Aggs {
			var v driver.Value
			switch a.Func {
			case rel.AggCount:
				v = acc.count
			case rel.AggSum:
				v = acc.sums[i]
			case rel.AggMin:
				v = acc.mins[i]
			case rel.AggMax:
				v = acc.maxs[i]
			case rel.AggAvg:
				if acc.nonNil[i] > 0 {
					v = acc.sums[i] / float64(acc.nonNil[i])
				}
			}
			vals[len(m.p.GroupBy)+i] = v
		}
		id++
		if !m.forward(schema.NewRowMessage(id, colIdx, vals)) {
			return nil
		}
	}
	return nil
}
