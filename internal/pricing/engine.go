package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/cartino/internal/modifier"
)

var hundred = decimal.NewFromInt(100)

// Applied records the effect of one modifier on the amount it was folded into.
type Applied struct {
	ItemID            string            `json:"itemId,omitempty"`
	ItemName          string            `json:"itemName,omitempty"`
	Name              string            `json:"name"`
	Type              string            `json:"type"`
	Operator          modifier.Operator `json:"operator"`
	Value             string            `json:"value"`
	Amount            decimal.Decimal   `json:"amount"`
	DifferenceAmount  decimal.Decimal   `json:"differenceAmount"`
	DifferencePercent decimal.Decimal   `json:"differencePercent"`
	IsFlat            bool              `json:"isFlat"`
	IsPercent         bool              `json:"isPercent"`
	Target            modifier.Target   `json:"target"`
	Order             *int              `json:"order,omitempty"`
	Before            decimal.Decimal   `json:"before"`
	After             decimal.Decimal   `json:"after"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
}

// Result is the outcome of folding a modifier list over a base amount.
type Result struct {
	Subtotal          decimal.Decimal `json:"subtotal"`
	Total             decimal.Decimal `json:"total"`
	DifferenceAmount  decimal.Decimal `json:"differenceAmount"`
	DifferencePercent decimal.Decimal `json:"differencePercent"`
	Applied           []Applied       `json:"appliedModifiers"`
}

// Evaluate folds mods over base with a single running amount, ignoring targets.
// Every intermediate amount is rounded to two decimals before it is folded in,
// so compounding percentages work on already-rounded values.
func Evaluate(base decimal.Decimal, mods modifier.List) Result {
	running := base
	applied := make([]Applied, 0, len(mods))
	for _, m := range mods.Sorted() {
		signed, ok := effect(running, m)
		if !ok {
			continue
		}
		before := running
		running = round2(running.Add(signed))
		applied = append(applied, record(m, signed, base, before, running))
	}
	return finish(base, base, running, applied)
}

// EvaluateTargets folds mods over base with two accumulators. Subtotal-target
// modifiers read and step the subtotal, then reset the total to it, dropping
// any earlier total-target effect. Total-target modifiers read and step the
// total only.
func EvaluateTargets(base decimal.Decimal, mods modifier.List) Result {
	subtotal, total := base, base
	applied := make([]Applied, 0, len(mods))
	for _, m := range mods.Sorted() {
		if m.Target == modifier.TargetTotal {
			signed, ok := effect(total, m)
			if !ok {
				continue
			}
			before := total
			total = round2(total.Add(signed))
			applied = append(applied, record(m, signed, base, before, total))
			continue
		}
		signed, ok := effect(subtotal, m)
		if !ok {
			continue
		}
		before := subtotal
		subtotal = round2(subtotal.Add(signed))
		total = subtotal
		applied = append(applied, record(m, signed, base, before, subtotal))
	}
	return finish(base, subtotal, total, applied)
}

// effect returns the signed amount m contributes against acc. Values that do
// not parse are reported as not applicable.
func effect(acc decimal.Decimal, m modifier.Modifier) (decimal.Decimal, bool) {
	v := m.Value
	if !v.Parsed() {
		return decimal.Zero, false
	}
	amount := v.Magnitude()
	if v.Kind() == modifier.KindPercent {
		amount = acc.Mul(amount).Div(hundred)
	}
	amount = round2(amount)
	if v.Operator() == modifier.OperatorSubtract {
		return amount.Neg(), true
	}
	return amount, true
}

func record(m modifier.Modifier, signed, base, before, after decimal.Decimal) Applied {
	diff := round2(signed.Abs())
	a := Applied{
		Name:              m.Name,
		Type:              m.Type,
		Operator:          m.Value.Operator(),
		Value:             m.Value.String(),
		Amount:            signed,
		DifferenceAmount:  diff,
		DifferencePercent: percentOf(diff, base),
		IsFlat:            m.Value.IsFlat(),
		IsPercent:         m.Value.IsPercent(),
		Target:            targetOrDefault(m.Target),
		Before:            before,
		After:             after,
		Metadata:          m.Metadata,
	}
	if m.Order != nil {
		o := *m.Order
		a.Order = &o
	}
	return a
}

func finish(base, subtotal, total decimal.Decimal, applied []Applied) Result {
	diff := round2(base.Sub(total))
	return Result{
		Subtotal:          subtotal,
		Total:             total,
		DifferenceAmount:  diff,
		DifferencePercent: percentOf(diff, base),
		Applied:           applied,
	}
}

func targetOrDefault(t modifier.Target) modifier.Target {
	if t == "" {
		return modifier.TargetSubtotal
	}
	return t
}

// percentOf returns amount as a percentage of base, or zero when base is zero.
func percentOf(amount, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return round2(amount.Div(base).Mul(hundred))
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
