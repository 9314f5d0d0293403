package exec

import (
	"database/sql/driver"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// Projection narrows and renames columns.
type Projection struct {
	*TaskBase
}

func NewProjection(cols []rel.ProjCol) *Projection {
	m := &Projection{TaskBase: NewTaskBase("Projection")}
	colIdx := make(map[string]int, len(cols))
	for i, c := range cols {
		colIdx[c.Name()] = i
	}
	m.Handler = func(msg schema.Message) bool {
		rm, ok := msg.Body().(*schema.RowMessage)
		if !ok {
			u.Warnf("unexpected message type: %T", msg.Body())
			return true
		}
		vals := make([]driver.Value, len(cols))
		for i, c := range cols {
			if v, ok := rm.Get(c.Col); ok {
				vals[i] = v
			}
		}
		return m.forward(schema.NewRowMessage(rm.Id(), colIdx, vals))
	}
	return m
}
