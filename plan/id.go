package plan

import (
	"fmt"
	"sync/atomic"

	"github.com/dchest/siphash"
	"github.com/pborman/uuid"

	"github.com/araddon/sqlgrid/schema"
)

// Id is a cluster-unique identifier for jobs, tasks and operators.
type Id string

// IdAllocator hands out identifiers that cannot collide across nodes:
// each id combines the originating location's name, a per-allocator
// random seed, and a monotonic sequence.
type IdAllocator struct {
	loc  schema.Location
	seed uint64
	seq  uint64
}

func NewIdAllocator(loc schema.Location) *IdAllocator {
	return &IdAllocator{
		loc:  loc,
		seed: siphash.Hash(0, 1, []byte(loc.String()+uuid.New())),
	}
}

func (m *IdAllocator) Next() Id {
	n := atomic.AddUint64(&m.seq, 1)
	return Id(fmt.Sprintf("%s-%06x-%d", m.loc.Name, m.seed&0xffffff, n))
}
