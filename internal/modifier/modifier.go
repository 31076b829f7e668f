package modifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Target selects which accumulator a modifier is folded into.
type Target string

const (
	// TargetSubtotal folds the modifier into the subtotal accumulator.
	TargetSubtotal Target = "subtotal"
	// TargetTotal folds the modifier into the total accumulator only.
	TargetTotal Target = "total"
)

// Valid reports whether the target is one of the known accumulators.
func (t Target) Valid() bool {
	return t == TargetSubtotal || t == TargetTotal
}

// Operator describes whether a modifier adds to or subtracts from the running amount.
type Operator string

const (
	OperatorAdd      Operator = "add"
	OperatorSubtract Operator = "subtract"
)

// Kind identifies how a modifier value is interpreted.
type Kind uint8

const (
	// KindInvalid marks a value that could not be parsed. Evaluation skips it.
	KindInvalid Kind = iota
	// KindFlat is a fixed amount.
	KindFlat
	// KindPercent is a rate relative to the running amount.
	KindPercent
)

// Value is the parsed form of a modifier value such as "-10", "15", "5%" or "-5%".
// The raw string is kept so the value round-trips unchanged through storage.
type Value struct {
	raw       string
	kind      Kind
	magnitude decimal.Decimal
	negative  bool
}

// ParseValue interprets the string form of a modifier value. It never fails:
// unparseable input yields a Value of KindInvalid.
func ParseValue(raw string) Value {
	s := strings.TrimSpace(raw)
	v := Value{raw: raw, kind: KindInvalid}
	if s == "" {
		return v
	}
	v.negative = strings.HasPrefix(s, "-")
	percent := strings.Contains(s, "%")
	numeric := strings.Replace(s, "%", "", 1)
	numeric = strings.Replace(numeric, "+", "", 1)
	numeric = strings.Replace(numeric, "-", "", 1)
	d, err := decimal.NewFromString(numeric)
	if err != nil {
		return v
	}
	v.magnitude = d.Abs()
	if percent {
		v.kind = KindPercent
	} else {
		v.kind = KindFlat
	}
	return v
}

// String returns the original string form of the value.
func (v Value) String() string { return v.raw }

// Kind reports the value's interpretation.
func (v Value) Kind() Kind { return v.kind }

// IsPercent reports whether the value is a percentage. The check is on the
// string form, so an unparseable "abc%" still reports true.
func (v Value) IsPercent() bool { return strings.Contains(v.raw, "%") }

// IsFlat reports whether the value is a flat amount.
func (v Value) IsFlat() bool { return !v.IsPercent() }

// IsNegative reports whether the value subtracts from the running amount.
func (v Value) IsNegative() bool { return v.negative }

// Operator derives the operator from the value's sign.
func (v Value) Operator() Operator {
	if v.negative {
		return OperatorSubtract
	}
	return OperatorAdd
}

// Magnitude returns the absolute numeric part of the value.
func (v Value) Magnitude() decimal.Decimal { return v.magnitude }

// Parsed reports whether the value has a usable numeric part.
func (v Value) Parsed() bool { return v.kind != KindInvalid }

// IsZero reports whether the value carries no raw content.
func (v Value) IsZero() bool { return strings.TrimSpace(v.raw) == "" }

// MarshalJSON encodes the value as its original string form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}

// UnmarshalJSON accepts both the string form and a bare JSON number.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = ParseValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("modifier value: %w", err)
	}
	*v = ParseValue(valueString(n))
	return nil
}

// Modifier is a single pricing rule applied at item or cart scope.
type Modifier struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Value    Value          `json:"value"`
	Target   Target         `json:"target"`
	Order    *int           `json:"order,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OrderOrZero returns the explicit order or zero when none is set.
func (m Modifier) OrderOrZero() int {
	if m.Order == nil {
		return 0
	}
	return *m.Order
}

// Input converts a canonical modifier back into the raw input shape so it can
// be re-validated or re-normalized.
func (m Modifier) Input() Input {
	in := Input{
		Name:     m.Name,
		Type:     m.Type,
		Value:    m.Value.String(),
		Target:   string(m.Target),
		Metadata: m.Metadata,
	}
	if m.Order != nil {
		in.Order = *m.Order
	}
	return in
}

// Clone returns a deep-enough copy so mutating the copy's order or metadata map
// does not affect the original.
func (m Modifier) Clone() Modifier {
	out := m
	if m.Order != nil {
		o := *m.Order
		out.Order = &o
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Input is a raw modifier-like object as received from callers. Value may be a
// number or a string; Order may be any numeric type.
type Input struct {
	Name     string         `json:"name,omitempty"`
	Type     string         `json:"type"`
	Value    any            `json:"value"`
	Target   string         `json:"target,omitempty"`
	Order    any            `json:"order,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Patch carries a partial update for an existing modifier. Nil fields are left unchanged.
type Patch struct {
	Name     *string        `json:"name,omitempty"`
	Type     *string        `json:"type,omitempty"`
	Value    any            `json:"value,omitempty"`
	Target   *string        `json:"target,omitempty"`
	Order    any            `json:"order,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrInvalidModifier is returned when a modifier lacks its type or value.
var ErrInvalidModifier = errors.New(`invalid modifier: "type" and "value" are required`)
