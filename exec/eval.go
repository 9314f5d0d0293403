package exec

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/araddon/sqlgrid/rel"
	"github.com/araddon/sqlgrid/schema"
)

// resolveVal pulls the comparison value, either the literal or a bound
// parameter.
func resolveVal(c rel.Comparison, params []driver.Value) (driver.Value, error) {
	if c.Param < 0 {
		return driver.Value(c.Val), nil
	}
	if c.Param >= len(params) {
		return nil, fmt.Errorf("predicate references param %d, only %d bound", c.Param, len(params))
	}
	return params[c.Param], nil
}

// evalPredicate evaluates a conjunction against a row.
func evalPredicate(pred *rel.Predicate, params []driver.Value, row *schema.RowMessage) (bool, error) {
	if pred.Empty() {
		return true, nil
	}
	for _, c := range pred.And {
		lv, ok := row.Get(c.Col)
		if !ok {
			return false, nil
		}
		rv, err := resolveVal(c, params)
		if err != nil {
			return false, err
		}
		cmp, err := compareVals(lv, rv)
		if err != nil {
			return false, err
		}
		var pass bool
		switch c.Op {
		case rel.OpEq:
			pass = cmp == 0
		case rel.OpNe:
			pass = cmp != 0
		case rel.OpLt:
			pass = cmp < 0
		case rel.OpLe:
			pass = cmp <= 0
		case rel.OpGt:
			pass = cmp > 0
		case rel.OpGe:
			pass = cmp >= 0
		default:
			return false, fmt.Errorf("unknown compare op %q", c.Op)
		}
		if !pass {
			return false, nil
		}
	}
	return true, nil
}

// compareVals compares two driver values with numeric/time coercion;
// returns -1/0/1.
func compareVals(a, b driver.Value) (int, error) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, nil
		}
		if a == nil {
			return -1, nil
		}
		return 1, nil
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			}
			return 0, nil
		}
	}
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			switch {
			case at.Before(bt):
				return -1, nil
			case at.After(bt):
				return 1, nil
			}
			return 0, nil
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), nil
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0, nil
			}
			if !av {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func asFloat(v driver.Value) (float64, bool) {
	switch vt := v.(type) {
	case int:
		return float64(vt), true
	case int32:
		return float64(vt), true
	case int64:
		return float64(vt), true
	case uint64:
		return float64(vt), true
	case float32:
		return float64(vt), true
	case float64:
		return vt, true
	}
	return 0, false
}

func asTime(v driver.Value) (time.Time, bool) {
	switch vt := v.(type) {
	case time.Time:
		return vt, true
	case string:
		if t, err := dateparse.ParseAny(vt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// asVector reads a vector column value; json decoding yields
// []interface{} of float64.
func asVector(v driver.Value) ([]float64, bool) {
	switch vt := v.(type) {
	case []float64:
		return vt, true
	case []interface{}:
		out := make([]float64, len(vt))
		for i, e := range vt {
			f, ok := asFloat(e)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

// distance of a row vector from the target under the given metric;
// smaller is closer for every metric (dot is negated).
func distance(metric rel.DistanceMetric, target, v []float64) (float64, error) {
	if len(target) != len(v) {
		return 0, fmt.Errorf("vector dims differ: %d vs %d", len(target), len(v))
	}
	switch metric {
	case rel.MetricL2, "":
		var sum float64
		for i := range v {
			d := v[i] - target[i]
			sum += d * d
		}
		return math.Sqrt(sum), nil
	case rel.MetricDot:
		var dot float64
		for i := range v {
			dot += v[i] * target[i]
		}
		return -dot, nil
	case rel.MetricCosine:
		var dot, nv, nt float64
		for i := range v {
			dot += v[i] * target[i]
			nv += v[i] * v[i]
			nt += target[i] * target[i]
		}
		if nv == 0 || nt == 0 {
			return 1, nil
		}
		return 1 - dot/(math.Sqrt(nv)*math.Sqrt(nt)), nil
	}
	return 0, fmt.Errorf("unknown distance metric %q", metric)
}

// coerceParams validates and coerces bound params against the job's
// declared param schema.
func coerceParams(types []rel.ParamType, params []driver.Value) ([]driver.Value, error) {
	if len(params) != len(types) {
		return nil, fmt.Errorf("statement expects %d params, got %d", len(types), len(params))
	}
	out := make([]driver.Value, len(params))
	for i, p := range params {
		v, err := coerceParam(types[i], p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %v", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func coerceParam(t rel.ParamType, v driver.Value) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case rel.ParamInt:
		if f, ok := asFloat(v); ok && f == math.Trunc(f) {
			return int64(f), nil
		}
		if s, ok := v.(string); ok {
			return strconv.ParseInt(s, 10, 64)
		}
	case rel.ParamFloat:
		if f, ok := asFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			return strconv.ParseFloat(s, 64)
		}
	case rel.ParamString:
		switch vt := v.(type) {
		case string:
			return vt, nil
		case []byte:
			return string(vt), nil
		}
	case rel.ParamBool:
		switch vt := v.(type) {
		case bool:
			return vt, nil
		case string:
			return strconv.ParseBool(vt)
		}
	case rel.ParamTime:
		if ts, ok := asTime(v); ok {
			return ts, nil
		}
	default:
		return nil, fmt.Errorf("unknown param type %q", t)
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
}
