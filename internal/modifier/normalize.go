package modifier

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Normalize canonicalizes a raw modifier input. Target defaults to subtotal and
// the name defaults to "<type> (<value>)". Order and metadata are carried over
// only when the caller supplied them.
func Normalize(in Input) (Modifier, error) {
	if in.Type == "" || isFalsy(in.Value) {
		return Modifier{}, ErrInvalidModifier
	}
	raw := valueString(in.Value)

	target := Target(in.Target)
	if target == "" {
		target = TargetSubtotal
	}
	name := in.Name
	if name == "" {
		name = fmt.Sprintf("%s (%s)", in.Type, raw)
	}

	m := Modifier{
		Name:   name,
		Type:   in.Type,
		Value:  ParseValue(raw),
		Target: target,
	}
	if in.Order != nil {
		if order, ok := orderValue(in.Order); ok {
			m.Order = &order
		}
	}
	if in.Metadata != nil {
		m.Metadata = in.Metadata
	}
	return m, nil
}

// ApplyPatch returns a copy of m with the patch fields applied. The value is
// re-parsed when it changes.
func ApplyPatch(m Modifier, p Patch) Modifier {
	out := m.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Value != nil {
		out.Value = ParseValue(valueString(p.Value))
	}
	if p.Target != nil {
		out.Target = Target(*p.Target)
	}
	if p.Order != nil {
		if order, ok := orderValue(p.Order); ok {
			out.Order = &order
		}
	}
	if p.Metadata != nil {
		out.Metadata = p.Metadata
	}
	return out
}

func isFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case json.Number:
		f, err := val.Float64()
		return val == "" || (err == nil && f == 0)
	case decimal.Decimal:
		return val.IsZero()
	case float64:
		return val == 0 || math.IsNaN(val)
	case float32:
		return val == 0
	case int:
		return val == 0
	case int32:
		return val == 0
	case int64:
		return val == 0
	}
	return false
}

// valueString renders a raw value in its stored form. Numbers go through
// decimal so exponents and trailing zeros never reach the stored value.
func valueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		if d, err := decimal.NewFromString(val.String()); err == nil {
			return d.String()
		}
		return val.String()
	case decimal.Decimal:
		return val.String()
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
		return decimal.NewFromFloat(val).String()
	case float32:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return strconv.FormatFloat(float64(val), 'f', -1, 32)
		}
		return decimal.NewFromFloat32(val).String()
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func isNumber(v any) bool {
	switch val := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return !math.IsNaN(float64(val)) && !math.IsInf(float64(val), 0)
	case float64:
		return !math.IsNaN(val) && !math.IsInf(val, 0)
	case json.Number:
		_, err := val.Float64()
		return err == nil
	}
	return false
}

func orderValue(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int8:
		return int(val), true
	case int16:
		return int(val), true
	case int32:
		return int(val), true
	case int64:
		return int(val), true
	case uint:
		return int(val), true
	case uint8:
		return int(val), true
	case uint16:
		return int(val), true
	case uint32:
		return int(val), true
	case uint64:
		return int(val), true
	case float32:
		return int(val), isNumber(val)
	case float64:
		return int(val), isNumber(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i), true
		}
		if f, err := val.Float64(); err == nil {
			return int(f), true
		}
	}
	return 0, false
}
