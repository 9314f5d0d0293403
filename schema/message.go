package schema

import (
	"database/sql/driver"

	"github.com/dchest/siphash"
)

type (
	// Message is a row/event flowing through a dataflow of tasks, the
	// Id() method provides a consistent uint64 which can be used by
	// routing/hashing to split messages amongst multiple machines.
	//
	// Body() returns interface allowing this to be generic structure for routing
	Message interface {
		Id() uint64
		Body() interface{}
	}

	// Key interface is the Unique Key identifying a row
	Key interface {
		Key() driver.Value
	}
)

// KeyUint64 implements Key over our native uint64 row keys.
type KeyUint64 struct {
	ID uint64
}

func (m *KeyUint64) Key() driver.Value { return driver.Value(m.ID) }

// KeyOf converts a partition-key column value into our native uint64
// key space.  Integers map directly, strings/bytes are sip-hashed so
// they distribute across ranges.
func KeyOf(dv driver.Value) uint64 {
	switch vt := dv.(type) {
	case int:
		return uint64(vt)
	case int32:
		return uint64(vt)
	case int64:
		return uint64(vt)
	case uint64:
		return vt
	case float64:
		// json decoding turns ints into float64
		return uint64(vt)
	case []byte:
		return siphash.Hash(0, 1, vt)
	case string:
		return siphash.Hash(0, 1, []byte(vt))
	case *KeyUint64:
		return vt.ID
	case nil:
		return 0
	}
	return 0
}

// RowMessage is the message implementation used for rows, an ordered
// list of driver.Value plus a shared column->index map.  The column map
// is shared by every row of a table/batch, not copied per row.
type RowMessage struct {
	Vals   []driver.Value
	ColIdx map[string]int
	IdVal  uint64
}

func NewRowMessage(id uint64, colIdx map[string]int, vals []driver.Value) *RowMessage {
	return &RowMessage{Vals: vals, ColIdx: colIdx, IdVal: id}
}

func (m *RowMessage) Id() uint64        { return m.IdVal }
func (m *RowMessage) Body() interface{} { return m }

// Get a column value by name.
func (m *RowMessage) Get(col string) (driver.Value, bool) {
	idx, ok := m.ColIdx[col]
	if !ok || idx >= len(m.Vals) {
		return nil, false
	}
	return m.Vals[idx], true
}

// Columns in ordinal order.
func (m *RowMessage) Columns() []string {
	cols := make([]string, len(m.ColIdx))
	for name, idx := range m.ColIdx {
		if idx < len(cols) {
			cols[idx] = name
		}
	}
	return cols
}

func (m *RowMessage) Copy() *RowMessage {
	vals := make([]driver.Value, len(m.Vals))
	copy(vals, m.Vals)
	return &RowMessage{Vals: vals, ColIdx: m.ColIdx, IdVal: m.IdVal}
}
