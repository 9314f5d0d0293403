// Package schema: tables, locations, and the key-range distribution
// that maps ranges of the row-key space to the cluster node serving them.
package schema

import (
	"fmt"
	"strings"
	"sync"

	u "github.com/araddon/gou"
)

var _ = u.EMPTY

// Location identifies a cluster node, the network address a task can
// be dispatched to plus a short name used in identifiers.
type Location struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

func (l Location) String() string { return fmt.Sprintf("%s(%s)", l.Name, l.Addr) }
func (l Location) Empty() bool    { return l.Addr == "" }

// Table, just name + ordered columns + which column is the partition key.
type Table struct {
	Name   string
	Cols   []string
	KeyCol string
	colIdx map[string]int
}

func NewTable(name, keyCol string, cols []string) *Table {
	t := &Table{Name: strings.ToLower(name), Cols: cols, KeyCol: keyCol}
	t.colIdx = make(map[string]int, len(cols))
	for i, c := range cols {
		t.colIdx[c] = i
	}
	return t
}

// ColIdx is the shared column->ordinal map handed to row messages.
func (t *Table) ColIdx() map[string]int { return t.colIdx }

func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIdx[name]
	return ok
}

// Schema is a named collection of tables.
type Schema struct {
	Name   string
	mu     sync.RWMutex
	tables map[string]*Table
}

func NewSchema(name string) *Schema {
	return &Schema{Name: name, tables: make(map[string]*Table)}
}

func (s *Schema) AddTable(t *Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.Name] = t
}

func (s *Schema) Table(name string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tbl, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("table %q not found in schema %q", name, s.Name)
	}
	return tbl, nil
}

func (s *Schema) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	return names
}
