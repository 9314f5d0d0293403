package schema

import (
	"database/sql/driver"
	"testing"

	u "github.com/araddon/gou"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	u.SetupLogging("debug")
	u.SetColorOutput()
}

var (
	locA = Location{Name: "a", Addr: "127.0.0.1:1001"}
	locB = Location{Name: "b", Addr: "127.0.0.1:1002"}
	locC = Location{Name: "c", Addr: "127.0.0.1:1003"}
)

func testDist() *Distribution {
	d := NewDistribution("users")
	d.Add(KeyRange{Start: 0, End: 100}, locA)
	d.Add(KeyRange{Start: 100, End: 200}, locB)
	d.Add(KeyRange{Start: 200, End: MaxKey}, locC)
	return d
}

func TestKeyOf(t *testing.T) {
	assert.Equal(t, uint64(42), KeyOf(int64(42)))
	assert.Equal(t, uint64(42), KeyOf(42))
	// json decoding hands us float64 for what started as an int
	assert.Equal(t, uint64(42), KeyOf(float64(42)))
	assert.Equal(t, KeyOf("aaron"), KeyOf([]byte("aaron")))
	assert.NotEqual(t, KeyOf("aaron"), KeyOf("bob"))
	assert.Equal(t, uint64(0), KeyOf(nil))
}

func TestRoute(t *testing.T) {
	d := testDist()
	require.Equal(t, 3, d.Len())

	loc, ok := d.Route(0)
	require.True(t, ok)
	assert.Equal(t, locA, loc)

	loc, ok = d.Route(99)
	require.True(t, ok)
	assert.Equal(t, locA, loc)

	// range start is inclusive, prior range's end exclusive
	loc, ok = d.Route(100)
	require.True(t, ok)
	assert.Equal(t, locB, loc)

	loc, ok = d.Route(MaxKey - 1)
	require.True(t, ok)
	assert.Equal(t, locC, loc)
}

func TestTouching(t *testing.T) {
	d := testDist()

	rls := d.Touching(KeyRange{Start: 50, End: 150})
	require.Len(t, rls, 2)
	assert.Equal(t, locA, rls[0].Loc)
	assert.Equal(t, locB, rls[1].Loc)

	// fully inside the middle range
	rls = d.Touching(KeyRange{Start: 150, End: 160})
	require.Len(t, rls, 1)
	assert.Equal(t, locB, rls[0].Loc)

	// point lookup expressed as a single-key range
	rls = d.Touching(KeyRange{Start: 199, End: 200})
	require.Len(t, rls, 1)
	assert.Equal(t, locB, rls[0].Loc)

	rls = d.Touching(FullRange())
	assert.Len(t, rls, 3)

	// empty bound matches nothing
	rls = d.Touching(KeyRange{Start: 100, End: 100})
	assert.Len(t, rls, 0)
}

func TestKeyRange(t *testing.T) {
	r := KeyRange{Start: 10, End: 20}
	assert.True(t, r.Contains(10))
	assert.True(t, r.Contains(19))
	assert.False(t, r.Contains(20))
	assert.False(t, r.Contains(9))

	assert.True(t, r.Overlaps(KeyRange{Start: 19, End: 30}))
	assert.False(t, r.Overlaps(KeyRange{Start: 20, End: 30}))
	assert.False(t, r.Overlaps(KeyRange{Start: 0, End: 10}))
}

func TestRowMessage(t *testing.T) {
	colIdx := map[string]int{"user_id": 0, "name": 1}
	rm := NewRowMessage(5, colIdx, []driver.Value{int64(5), "aaron"})
	v, ok := rm.Get("name")
	require.True(t, ok)
	assert.Equal(t, "aaron", v)
	_, ok = rm.Get("missing")
	assert.False(t, ok)

	cp := rm.Copy()
	cp.Vals[1] = "bob"
	v, _ = rm.Get("name")
	assert.Equal(t, "aaron", v, "copy must not alias the original's vals")
}
