package exec

import (
	"database/sql/driver"
	"sort"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/datasource/membtree"
	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// Scanner is the leaf stage for one key range of a table, reading the
// node-local store and applying any pushed-down filter.
type Scanner struct {
	*TaskBase
	p      *plan.ScanParams
	store  *membtree.Store
	params []driver.Value
}

func NewScanner(p *plan.ScanParams, store *membtree.Store, params []driver.Value) *Scanner {
	return &Scanner{TaskBase: NewTaskBase("Scanner"), p: p, store: store, params: params}
}

func (m *Scanner) Run() error {
	defer close(m.msgOutCh)

	tbl, err := m.store.Table(m.p.Table)
	if err != nil {
		m.forward(&ErrMessage{Err: err})
		return err
	}
	var evalErr error
	tbl.Scan(m.p.Range, func(msg *schema.RowMessage) bool {
		keep, err := evalPredicate(m.p.Filter, m.params, msg)
		if err != nil {
			evalErr = err
			return false
		}
		if !keep {
			// still check for cancel between rows
			select {
			case <-m.sigCh:
				return false
			default:
			}
			return true
		}
		return m.forward(msg)
	})
	if evalErr != nil {
		m.forward(&ErrMessage{Err: evalErr})
		return evalErr
	}
	return nil
}

// Ranker is the distance-ranking leaf: scan one range, keep the K rows
// closest to the target vector, emit them with the distance column
// appended.  The coordinator re-ranks across ranges.
type Ranker struct {
	*TaskBase
	p      *plan.RankParams
	store  *membtree.Store
	params []driver.Value
}

func NewRanker(p *plan.RankParams, store *membtree.Store, params []driver.Value) *Ranker {
	return &Ranker{TaskBase: NewTaskBase("Ranker"), p: p, store: store, params: params}
}

type ranked struct {
	row  *schema.RowMessage
	dist float64
}

func (m *Ranker) Run() error {
	defer close(m.msgOutCh)

	tbl, err := m.store.Table(m.p.Table)
	if err != nil {
		m.forward(&ErrMessage{Err: err})
		return err
	}

	top := make([]ranked, 0, m.p.K+1)
	var scanErr error
	cancelled := false
	tbl.Scan(m.p.Range, func(msg *schema.RowMessage) bool {
		select {
		case <-m.sigCh:
			cancelled = true
			return false
		default:
		}
		keep, err := evalPredicate(m.p.Filter, m.params, msg)
		if err != nil {
			scanErr = err
			return false
		}
		if !keep {
			return true
		}
		vv, ok := msg.Get(m.p.VectorCol)
		if !ok {
			return true
		}
		vec, ok := asVector(vv)
		if !ok {
			return true
		}
		d, err := distance(m.p.Metric, m.p.Target, vec)
		if err != nil {
			scanErr = err
			return false
		}
		top = append(top, ranked{row: msg, dist: d})
		if len(top) > m.p.K {
			sort.Slice(top, func(i, j int) bool { return top[i].dist < top[j].dist })
			top = top[:m.p.K]
		}
		return true
	})
	if scanErr != nil {
		m.forward(&ErrMessage{Err: scanErr})
		return scanErr
	}
	if cancelled {
		return nil
	}

	sort.Slice(top, func(i, j int) bool { return top[i].dist < top[j].dist })

	// append the distance column
	baseCols := tbl.Schema().Cols
	colIdx := make(map[string]int, len(baseCols)+1)
	for i, c := range baseCols {
		colIdx[c] = i
	}
	colIdx[plan.DistanceCol] = len(baseCols)
	for _, r := range top {
		vals := make([]driver.Value, len(baseCols)+1)
		copy(vals, r.row.Vals)
		vals[len(baseCols)] = r.dist
		if !m.forward(schema.NewRowMessage(r.row.Id(), colIdx, vals)) {
			return nil
		}
	}
	return nil
}
