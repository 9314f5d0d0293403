package schema

import (
	"fmt"
	"math"

	u "github.com/araddon/gou"
	"github.com/google/btree"
)

var _ = u.EMPTY

const MaxKey = uint64(math.MaxUint64)

// KeyRange is a half-open range [Start, End) of the uint64 row-key space.
// End == MaxKey means unbounded above.
type KeyRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func FullRange() KeyRange { return KeyRange{Start: 0, End: MaxKey} }

func (r KeyRange) Contains(k uint64) bool { return k >= r.Start && k < r.End }

func (r KeyRange) Overlaps(o KeyRange) bool { return r.Start < o.End && o.Start < r.End }

func (r KeyRange) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// RangeLocation is one entry of a distribution, a key range and the
// location currently serving it.
type RangeLocation struct {
	Range KeyRange
	Loc   Location
}

type rangeItem struct {
	RangeLocation
}

func (m *rangeItem) Less(than btree.Item) bool {
	return m.Range.Start < than.(*rangeItem).Range.Start
}

// Distribution is the ordered mapping of disjoint key ranges to the
// location serving each, for one table.  Ranges are kept in a btree so
// routing a key or intersecting a bound walks only matching entries.
//
// The distribution may change between job builds; a job's placement is
// fixed at build time, tasks are never re-routed mid execution.
type Distribution struct {
	Table string
	bt    *btree.BTree
}

func NewDistribution(table string) *Distribution {
	return &Distribution{Table: table, bt: btree.New(32)}
}

func (m *Distribution) Add(r KeyRange, loc Location) {
	m.bt.ReplaceOrInsert(&rangeItem{RangeLocation{Range: r, Loc: loc}})
}

func (m *Distribution) Len() int { return m.bt.Len() }

// Route finds the location serving a single key.
func (m *Distribution) Route(key uint64) (Location, bool) {
	var found *rangeItem
	m.bt.DescendLessOrEqual(&rangeItem{RangeLocation{Range: KeyRange{Start: key}}}, func(it btree.Item) bool {
		found = it.(*rangeItem)
		return false
	})
	if found == nil || !found.Range.Contains(key) {
		return Location{}, false
	}
	return found.Loc, true
}

// Touching returns, in key order, every range intersecting the given
// bound.  This is the partition-pruning primitive: a predicate on the
// partition key narrows the bound, and only matching ranges get tasks.
func (m *Distribution) Touching(bound KeyRange) []RangeLocation {
	out := make([]RangeLocation, 0, 4)
	// The first candidate may start before bound.Start.
	var first *rangeItem
	m.bt.DescendLessOrEqual(&rangeItem{RangeLocation{Range: KeyRange{Start: bound.Start}}}, func(it btree.Item) bool {
		first = it.(*rangeItem)
		return false
	})
	if first != nil && first.Range.Overlaps(bound) {
		out = append(out, first.RangeLocation)
	}
	m.bt.AscendGreaterOrEqual(&rangeItem{RangeLocation{Range: KeyRange{Start: bound.Start + 1}}}, func(it btree.Item) bool {
		ri := it.(*rangeItem)
		if !ri.Range.Overlaps(bound) {
			return false
		}
		out = append(out, ri.RangeLocation)
		return true
	})
	return out
}

// All returns every range in key order, the full fan-out case.
func (m *Distribution) All() []RangeLocation {
	out := make([]RangeLocation, 0, m.bt.Len())
	m.bt.Ascend(func(it btree.Item) bool {
		out = append(out, it.(*rangeItem).RangeLocation)
		return true
	})
	return out
}

// RangeResolver looks up the current distribution for a table, provided
// by the metadata/catalog layer, consumed read-only here.
type RangeResolver interface {
	RangesFor(table string) (*Distribution, error)
}

// StaticRanges is a fixed in-memory RangeResolver, used by tests and
// single-process clusters.
type StaticRanges map[string]*Distribution

func (m StaticRanges) RangesFor(table string) (*Distribution, error) {
	d, ok := m[table]
	if !ok {
		return nil, fmt.Errorf("no range distribution for table %q", table)
	}
	return d, nil
}
