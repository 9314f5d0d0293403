package plan

import (
	"github.com/dchest/siphash"

	"github.com/araddon/sqlgrid/schema"
)

// Context carries what the builder needs to plan one statement: the
// schema, the range metadata resolver, and this node's location (which
// becomes the coordinator location for any job built here).
type Context struct {
	Raw         string
	Schema      *schema.Schema
	Ranges      schema.RangeResolver
	Loc         schema.Location
	Alloc       *IdAllocator
	fingerprint uint64
}

func NewContext(raw string, s *schema.Schema, ranges schema.RangeResolver, loc schema.Location, alloc *IdAllocator) *Context {
	return &Context{Raw: raw, Schema: s, Ranges: ranges, Loc: loc, Alloc: alloc}
}

// Fingerprint is a stable hash of the raw statement text, not unique
// per execution, used to key prepared-plan notes on a session.
func (m *Context) Fingerprint() uint64 {
	if m.fingerprint == 0 && m.Raw != "" {
		m.fingerprint = siphash.Hash(0, 1, []byte(m.Raw))
	}
	return m.fingerprint
}
