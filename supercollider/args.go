package supercollider

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Args are named synth controls. Values may be Go numbers, strings, a
// *Buffer or a *Bus, which are replaced by their IDs.
type Args map[string]any

// flatten returns the controls as alternating names and values, in name
// order.
func (a Args) flatten() ([]any, error) {
	names := lo.Keys(a)
	sort.Strings(names)

	out := make([]any, 0, 2*len(names))
	for _, name := range names {
		v, err := coerce(a[name])
		if err != nil {
			return nil, errors.Wrapf(err, "control %q", name)
		}
		out = append(out, name, v)
	}
	return out, nil
}

// coerce converts a control value to a type the engine understands.
func coerce(v any) (any, error) {
	switch x := v.(type) {
	case *Buffer:
		return x.id, nil
	case *Bus:
		return x.index, nil
	case int32, float32, string:
		return x, nil
	case int:
		return toInt32(int64(x))
	case int8:
		return int32(x), nil
	case int16:
		return int32(x), nil
	case int64:
		return toInt32(x)
	case uint8:
		return int32(x), nil
	case uint16:
		return int32(x), nil
	case uint32:
		return toInt32(int64(x))
	case float64:
		return float32(x), nil
	case bool:
		return lo.Ternary[int32](x, 1, 0), nil
	default:
		return nil, errors.Errorf("unsupported control value %T", v)
	}
}

func toInt32(v int64) (any, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return nil, errors.Errorf("control value %d overflows int32", v)
	}
	return int32(v), nil
}
