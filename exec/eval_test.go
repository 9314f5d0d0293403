package exec

import (
	"database/sql/driver"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araddon/sqlgrid/rel"
)

func TestCompareVals(t *testing.T) {
	cases := []struct {
		a, b driver.Value
		want int
	}{
		{int64(1), int64(2), -1},
		{int64(2), int64(2), 0},
		// cross numeric types compare by value, the json float64
		// degradation must not change comparison results
		{int64(2), float64(2), 0},
		{float64(2.5), int(2), 1},
		{"a", "b", -1},
		{true, false, 1},
		{nil, int64(1), -1},
		{nil, nil, 0},
		// time vs its string form
		{time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "2020/01/02", -1},
	}
	for _, c := range cases {
		got, err := compareVals(c.a, c.b)
		require.NoError(t, err, "compare %v %v", c.a, c.b)
		assert.Equal(t, c.want, got, "compare %v %v", c.a, c.b)
	}

	_, err := compareVals("a", int64(1))
	assert.Error(t, err)
}

func TestDistance(t *testing.T) {
	d, err := distance(rel.MetricL2, []float64{0, 0}, []float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 5.0, d)

	// dot is negated so that smaller always means closer
	d, err = distance(rel.MetricDot, []float64{1, 2}, []float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, -11.0, d)

	d, err = distance(rel.MetricCosine, []float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-9)

	_, err = distance(rel.MetricL2, []float64{1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestAsVector(t *testing.T) {
	v, ok := asVector([]float64{1, 2})
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, v)

	// vectors arrive as []interface{} after a json hop
	v, ok = asVector([]interface{}{float64(1), float64(2)})
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, v)

	_, ok = asVector("nope")
	assert.False(t, ok)
}

func TestCoerceParams(t *testing.T) {
	types := []rel.ParamType{rel.ParamInt, rel.ParamString, rel.ParamFloat, rel.ParamBool}

	out, err := coerceParams(types, []driver.Value{float64(42), []byte("x"), int64(3), "true"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out[0])
	assert.Equal(t, "x", out[1])
	assert.Equal(t, 3.0, out[2])
	assert.Equal(t, true, out[3])

	_, err = coerceParams(types, []driver.Value{int64(1)})
	assert.Error(t, err, "param count mismatch")

	_, err = coerceParams([]rel.ParamType{rel.ParamInt}, []driver.Value{math.Pi})
	assert.Error(t, err, "non-integral float cannot be an int param")

	out, err = coerceParams([]rel.ParamType{rel.ParamTime}, []driver.Value{"2021/03/01"})
	require.NoError(t, err)
	ts, ok := out[0].(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2021, ts.Year())

	// nil stays nil regardless of declared type
	out, err = coerceParams([]rel.ParamType{rel.ParamInt}, []driver.Value{nil})
	require.NoError(t, err)
	assert.Nil(t, out[0])
}
