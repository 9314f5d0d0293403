// Package membtree is the node-local row store backing scan tasks, an
// in-memory btree per table keyed by the uint64 row-key space that the
// range distribution partitions.
package membtree

import (
	"database/sql/driver"
	"fmt"
	"sync"

	u "github.com/araddon/gou"
	"github.com/google/btree"

	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// Row implements btree.Item, ordered by key.
type Row struct {
	KeyVal uint64
	Vals   []driver.Value
}

func (m *Row) Less(than btree.Item) bool {
	return m.KeyVal < than.(*Row).KeyVal
}

// Table holds the rows this node serves for one table.  A node stores
// only the ranges routed to it; the store does not know or enforce the
// distribution, the builder already did that.
type Table struct {
	tbl *schema.Table
	mu  sync.RWMutex
	bt  *btree.BTree
}

func NewTable(tbl *schema.Table) *Table {
	return &Table{tbl: tbl, bt: btree.New(32)}
}

func (m *Table) Schema() *schema.Table { return m.tbl }

func (m *Table) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bt.Len()
}

// Put inserts or replaces a row; the key derives from the partition-key
// column.
func (m *Table) Put(vals []driver.Value) error {
	if len(vals) != len(m.tbl.Cols) {
		return fmt.Errorf("row has %d vals, table %q has %d cols", len(vals), m.tbl.Name, len(m.tbl.Cols))
	}
	idx, ok := m.tbl.ColIdx()[m.tbl.KeyCol]
	if !ok {
		return fmt.Errorf("table %q missing key column %q", m.tbl.Name, m.tbl.KeyCol)
	}
	key := schema.KeyOf(vals[idx])
	m.mu.Lock()
	m.bt.ReplaceOrInsert(&Row{KeyVal: key, Vals: vals})
	m.mu.Unlock()
	return nil
}

// Scan walks rows with keys in r, ascending, calling fn per row; fn
// returning false stops the scan (cooperative cancel).
func (m *Table) Scan(r schema.KeyRange, fn func(*schema.RowMessage) bool) {
	colIdx := m.tbl.ColIdx()
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.bt.AscendGreaterOrEqual(&Row{KeyVal: r.Start}, func(it btree.Item) bool {
		row := it.(*Row)
		if !r.Contains(row.KeyVal) {
			return false
		}
		vals := make([]driver.Value, len(row.Vals))
		copy(vals, row.Vals)
		return fn(schema.NewRowMessage(row.KeyVal, colIdx, vals))
	})
}

// Store is all tables a node serves.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

func NewStore() *Store {
	return &Store{tables: make(map[string]*Table)}
}

func (m *Store) CreateTable(tbl *schema.Table) *Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := NewTable(tbl)
	m.tables[tbl.Name] = t
	return t
}

func (m *Store) Table(name string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q not found in store", name)
	}
	return t, nil
}
