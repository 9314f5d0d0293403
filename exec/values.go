package exec

import (
	"database/sql/driver"

	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

// Values emits a fixed set of inline rows; a leaf with no store behind
// it, always placed at the coordinator.
type Values struct {
	*TaskBase
	p *plan.ValuesParams
}

func NewValues(p *plan.ValuesParams) *Values {
	return &Values{TaskBase: NewTaskBase("Values"), p: p}
}

func (m *Values) Run() error {
	defer close(m.msgOutCh)

	colIdx := make(map[string]int, len(m.p.Cols))
	for i, c := range m.p.Cols {
		colIdx[c] = i
	}
	for i, row := range m.p.Rows {
		vals := make([]driver.Value, len(row))
		for j, v := range row {
			vals[j] = v
		}
		if !m.forward(schema.NewRowMessage(uint64(i+1), colIdx, vals)) {
			return nil
		}
	}
	return nil
}
