package exec

import (
	"database/sql/driver"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// Where filters rows by a predicate.
type Where struct {
	*TaskBase
}

func NewWhere(pred rel.Predicate, params []driver.Value) *Where {
	m := &Where{TaskBase: NewTaskBase("Where")}
	m.Handler = func(msg schema.Message) bool {
		rm, ok := msg.Body().(*schema.RowMessage)
		if !ok {
			u.Warnf("unexpected message type: %T", msg.Body())
			return true
		}
		keep, err := evalPredicate(&pred, params, rm)
		if err != nil {
			m.forward(&ErrMessage{Err: err})
			return false
		}
		if !keep {
			return true
		}
		return m.forward(msg)
	}
	return m
}
