package router

import (
	"math"
	"reflect"

	"github.com/pkg/errors"
)

// ErrDecode is returned when a reply does not have the expected shape.
var ErrDecode = errors.New("malformed reply")

// Args are the arguments of an inbound message, with typed accessors that
// report shape mismatches as ErrDecode.
type Args []any

// Len returns the number of arguments.
func (a Args) Len() int {
	return len(a)
}

// Require fails unless there are at least n arguments.
func (a Args) Require(n int) error {
	if len(a) < n {
		return errors.Wrapf(ErrDecode, "expected at least %d arguments, got %d", n, len(a))
	}
	return nil
}

func (a Args) at(i int) (any, error) {
	if i < 0 || i >= len(a) {
		return nil, errors.Wrapf(ErrDecode, "argument %d missing, got %d arguments", i, len(a))
	}
	return a[i], nil
}

// Int32 returns argument i as an int32.
func (a Args) Int32(i int) (int32, error) {
	v, err := a.at(i)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int32:
		return x, nil
	case int64:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, errors.Wrapf(ErrDecode, "argument %d: %d overflows int32", i, x)
		}
		return int32(x), nil
	default:
		return 0, errors.Wrapf(ErrDecode, "argument %d: expected int32, got %T", i, v)
	}
}

// Float32 returns argument i as a float32. Integer arguments are converted.
func (a Args) Float32(i int) (float32, error) {
	v, err := a.at(i)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float32:
		return x, nil
	case float64:
		return float32(x), nil
	case int32:
		return float32(x), nil
	case int64:
		return float32(x), nil
	default:
		return 0, errors.Wrapf(ErrDecode, "argument %d: expected float32, got %T", i, v)
	}
}

// Float64 returns argument i as a float64. Integer arguments are converted.
func (a Args) Float64(i int) (float64, error) {
	v, err := a.at(i)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, errors.Wrapf(ErrDecode, "argument %d: expected float64, got %T", i, v)
	}
}

// String returns argument i as a string.
func (a Args) String(i int) (string, error) {
	v, err := a.at(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Wrapf(ErrDecode, "argument %d: expected string, got %T", i, v)
	}
	return s, nil
}

// Float32s returns count arguments starting at from as float32 values.
func (a Args) Float32s(from, count int) ([]float32, error) {
	if count < 0 {
		return nil, errors.Wrapf(ErrDecode, "negative value count %d", count)
	}
	if err := a.Require(from + count); err != nil {
		return nil, err
	}
	out := make([]float32, count)
	for i := range out {
		f, err := a.Float32(from + i)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// Key is a tuple of argument values that must equal the leading arguments of
// a reply for the reply to match. An empty key matches every reply.
type Key []any

// Matches reports whether the key equals the leading arguments of args.
func (k Key) Matches(args []any) bool {
	if len(args) < len(k) {
		return false
	}
	for i, v := range k {
		if !argEqual(v, args[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether both keys hold the same values.
func (k Key) Equal(o Key) bool {
	return len(k) == len(o) && k.Matches(o)
}

// argEqual compares OSC argument values. Integers compare by value
// regardless of width, as do floats.
func argEqual(a, b any) bool {
	if ai, ok := asInt(a); ok {
		bi, ok := asInt(b)
		return ok && ai == bi
	}
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return reflect.DeepEqual(a, b)
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
