package hooks

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bulkload/internal/config"
	"bulkload/internal/frame"
	"bulkload/internal/schema"
)

// CastNulls rewrites values of integer and boolean destination columns so they
// encode as valid literals: missing values (nil, NaN, "") become NULL, whole
// floats become integers and numbers become booleans. A value that cannot be
// represented fails the hook.
func CastNulls(_ context.Context, f *frame.Frame, hc *Context, _ config.Options) (*frame.Frame, error) {
	if hc == nil || hc.Schema == nil {
		return f, nil
	}
	for ci, name := range f.Columns {
		typ := hc.Schema.TypeOf(name)
		var cast func(any) (any, error)
		switch typ {
		case schema.Integer:
			cast = castInt32
		case schema.BigInt:
			cast = castInt
		case schema.Boolean:
			cast = castBool
		default:
			continue
		}
		for ri, row := range f.Rows {
			v, err := cast(row[ci])
			if err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", name, ri, err)
			}
			row[ci] = v
		}
	}
	return f, nil
}

func isMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func castInt(v any) (any, error) {
	if isMissing(v) {
		return nil, nil
	}
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return uintToInt(uint64(t))
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return uintToInt(t)
	case float64:
		return floatToInt(t)
	case float32:
		return floatToInt(float64(t))
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to integer", t)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot cast %T to integer", v)
}

// castInt32 is castInt limited to the range of a 4-byte integer column.
func castInt32(v any) (any, error) {
	out, err := castInt(v)
	if err != nil || out == nil {
		return out, err
	}
	if n := out.(int64); n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("%d out of range for integer", n)
	}
	return out, nil
}

func uintToInt(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("%d out of range for bigint", u)
	}
	return int64(u), nil
}

func floatToInt(f float64) (any, error) {
	if math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("cannot cast %v to integer", f)
	}
	return int64(f), nil
}

func castBool(v any) (any, error) {
	if isMissing(v) {
		return nil, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case uint:
		return t != 0, nil
	case uint64:
		return t != 0, nil
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		n, _ := castInt(t)
		return n.(int64) != 0, nil
	case float64:
		return t != 0, nil
	case float32:
		return t != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to boolean", t)
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot cast %T to boolean", v)
}
