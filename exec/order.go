package exec

import (
	"sort"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/plan"
)

var _ = u.EMPTY

// Order is the global sort stage; buffers all input, the only way to
// get a total order across unordered exchange channels.
type Order struct {
	*TaskBase
	p *plan.SortParams
}

func NewOrder(p *plan.SortParams) *Order {
	return &Order{TaskBase: NewTaskBase("Order"), p: p}
}

func (m *Order) Run() error {
	defer close(m.msgOutCh)

	rows, err := drainInput(m.msgInCh, m.sigCh)
	if err != nil {
		if err != ErrShuttingDown {
			m.forward(&ErrMessage{Err: err})
		}
		return err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := rows[i].Get(m.p.Col)
		b, _ := rows[j].Get(m.p.Col)
		c, cerr := compareVals(a, b)
		if cerr != nil {
			return false
		}
		if m.p.Desc {
			return c > 0
		}
		return c < 0
	})

	for _, rm := range rows {
		if !m.forward(rm) {
			return nil
		}
	}
	return nil
}
