package exec

import (
	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

// Limit applies offset/limit; once satisfied it keeps draining input
// (dropping rows) so upstream stages unwind through channel close
// rather than deadlocking.
type Limit struct {
	*TaskBase
}

func NewLimit(p *plan.LimitParams) *Limit {
	m := &Limit{TaskBase: NewTaskBase("Limit")}
	skipped, emitted := 0, 0
	m.Handler = func(msg schema.Message) bool {
		if skipped < p.Offset {
			skipped++
			return true
		}
		if p.Limit > 0 && emitted >= p.Limit {
			return true
		}
		emitted++
		return m.forward(msg)
	}
	return m
}
