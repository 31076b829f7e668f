package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/cartino/internal/modifier"
)

// Line is the pricing view of a cart line item.
type Line struct {
	ItemID    string
	Name      string
	Price     decimal.Decimal
	Quantity  int
	Modifiers modifier.List
}

// Base returns price times quantity without rounding. Non-positive quantities price at zero.
func (l Line) Base() decimal.Decimal {
	if l.Quantity <= 0 {
		return decimal.Zero
	}
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineResult is the evaluated form of a single line.
type LineResult struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Result
}

// EvaluateLine applies the line's own modifiers to price times quantity.
func EvaluateLine(l Line) LineResult {
	return LineResult{
		ItemID:   l.ItemID,
		Name:     l.Name,
		Price:    l.Price,
		Quantity: l.Quantity,
		Result:   EvaluateTargets(l.Base(), l.Modifiers),
	}
}

// Stage tags where in the pipeline a timeline entry happened.
type Stage string

const (
	StageItem Stage = "item"
	StageCart Stage = "cart"
)

// TimelineEntry is one modifier application in chronological order.
type TimelineEntry struct {
	Stage Stage `json:"stage"`
	Applied
}

// Summary aggregates the headline numbers of a cart evaluation.
type Summary struct {
	OriginalSubtotal  decimal.Decimal `json:"originalSubtotal"`
	ModifiedSubtotal  decimal.Decimal `json:"modifiedSubtotal"`
	OriginalTotal     decimal.Decimal `json:"originalTotal"`
	FinalTotal        decimal.Decimal `json:"finalTotal"`
	DifferenceAmount  decimal.Decimal `json:"differenceAmount"`
	DifferencePercent decimal.Decimal `json:"differencePercent"`
	ItemCount         int             `json:"itemCount"`
	UniqueItemCount   int             `json:"uniqueItemCount"`
	ModifierCount     int             `json:"modifierCount"`
	IsDiscountApplied bool            `json:"isDiscountApplied"`
}

// Details is the full breakdown of a cart.
type Details struct {
	Items    []LineResult    `json:"items"`
	Cart     Result          `json:"cart"`
	Summary  Summary         `json:"summary"`
	Timeline []TimelineEntry `json:"timeline,omitempty"`
}

// Options tunes Breakdown.
type Options struct {
	Timeline bool
}

// Breakdown prices every line, seeds the cart accumulators with the sum of the
// line totals and then applies the cart-level modifiers.
func Breakdown(lines []Line, cartMods modifier.List, opts Options) Details {
	out := Details{Items: make([]LineResult, 0, len(lines))}
	raw := decimal.Zero
	aggregate := decimal.Zero
	var timeline []TimelineEntry
	discounted := false
	modCount := len(cartMods)

	for _, l := range lines {
		lr := EvaluateLine(l)
		for i := range lr.Applied {
			lr.Applied[i].ItemID = l.ItemID
			lr.Applied[i].ItemName = l.Name
			if lr.Applied[i].Operator == modifier.OperatorSubtract {
				discounted = true
			}
			if opts.Timeline {
				timeline = append(timeline, TimelineEntry{Stage: StageItem, Applied: lr.Applied[i]})
			}
		}
		out.Items = append(out.Items, lr)
		raw = raw.Add(l.Base())
		aggregate = aggregate.Add(lr.Total)
		out.Summary.ItemCount += max(l.Quantity, 0)
		modCount += len(l.Modifiers)
	}
	raw = round2(raw)
	aggregate = round2(aggregate)

	out.Cart = EvaluateTargets(aggregate, cartMods)
	for _, a := range out.Cart.Applied {
		if a.Operator == modifier.OperatorSubtract {
			discounted = true
		}
		if opts.Timeline {
			timeline = append(timeline, TimelineEntry{Stage: StageCart, Applied: a})
		}
	}

	diff := round2(raw.Sub(out.Cart.Total))
	out.Summary.OriginalSubtotal = raw
	out.Summary.ModifiedSubtotal = out.Cart.Subtotal
	out.Summary.OriginalTotal = aggregate
	out.Summary.FinalTotal = out.Cart.Total
	out.Summary.DifferenceAmount = diff
	out.Summary.DifferencePercent = percentOf(diff, raw)
	out.Summary.UniqueItemCount = len(lines)
	out.Summary.ModifierCount = modCount
	out.Summary.IsDiscountApplied = discounted
	out.Timeline = timeline
	return out
}

// RawSubtotal sums price times quantity across lines, rounded to two decimals.
func RawSubtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Base())
	}
	return round2(sum)
}
