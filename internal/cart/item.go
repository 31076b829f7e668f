package cart

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cartino/internal/events"
	"github.com/noah-isme/cartino/internal/modifier"
	"github.com/noah-isme/cartino/internal/obs"
	"github.com/noah-isme/cartino/internal/pricing"
)

// ItemHandle scopes operations to a single line of a document.
type ItemHandle struct {
	h      *Handle
	itemID string
}

// ID returns the selected item id.
func (ih *ItemHandle) ID() string { return ih.itemID }

func (ih *ItemHandle) check() error {
	if ih.itemID == "" {
		return fmt.Errorf("item id required: %w", ErrInvalidInput)
	}
	return nil
}

// mutateItem runs fn against the selected line.
func (ih *ItemHandle) mutateItem(ctx context.Context, m mutation, fn func(c *Cart, i int) error) (*Cart, error) {
	if err := ih.check(); err != nil {
		return nil, err
	}
	m.itemID = ih.itemID
	return ih.h.mutate(ctx, m, func(c *Cart) error {
		i := c.IndexOf(ih.itemID)
		if i < 0 {
			return notFound("item " + ih.itemID)
		}
		return fn(c, i)
	})
}

// Get returns the selected line.
func (ih *ItemHandle) Get(ctx context.Context) (Item, error) {
	if err := ih.check(); err != nil {
		return Item{}, err
	}
	c, err := ih.h.Get(ctx)
	if err != nil {
		return Item{}, err
	}
	i := c.IndexOf(ih.itemID)
	if i < 0 {
		return Item{}, notFound("item " + ih.itemID)
	}
	return c.Items[i], nil
}

// Remove deletes the selected line.
func (ih *ItemHandle) Remove(ctx context.Context) (*Cart, error) {
	if err := ih.check(); err != nil {
		return nil, err
	}
	return ih.h.Remove(ctx, ih.itemID)
}

// Update applies patch to the selected line.
func (ih *ItemHandle) Update(ctx context.Context, patch ItemPatch) (*Cart, error) {
	if err := ih.check(); err != nil {
		return nil, err
	}
	return ih.h.Update(ctx, ih.itemID, patch)
}

// QuantityUpdate sets the quantity, or shifts it when Relative is true.
type QuantityUpdate struct {
	Relative bool `json:"relative"`
	Quantity int  `json:"quantity"`
}

// UpdateQuantity changes the line quantity. A resulting quantity of zero or
// less removes the line.
func (ih *ItemHandle) UpdateQuantity(ctx context.Context, u QuantityUpdate) (*Cart, error) {
	return ih.mutateItem(ctx, mutation{op: "update_quantity", topic: events.TopicItemUpdated}, func(c *Cart, i int) error {
		qty := u.Quantity
		if u.Relative {
			qty = c.Items[i].Quantity + u.Quantity
		}
		if qty <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
		c.Items[i].Quantity = qty
		return nil
	})
}

// IncrementQuantity adds n to the line quantity. Zero means one.
func (ih *ItemHandle) IncrementQuantity(ctx context.Context, n int) (*Cart, error) {
	if n == 0 {
		n = 1
	}
	return ih.UpdateQuantity(ctx, QuantityUpdate{Relative: true, Quantity: n})
}

// DecrementQuantity subtracts n from the line quantity, removing the line at
// zero or below. Zero means one.
func (ih *ItemHandle) DecrementQuantity(ctx context.Context, n int) (*Cart, error) {
	if n == 0 {
		n = 1
	}
	return ih.UpdateQuantity(ctx, QuantityUpdate{Relative: true, Quantity: -n})
}

// MoveTo moves the selected line to the owner's document of another kind.
// The destination is written first, then the line is removed from the source.
// A line with the same item id and attributes at the destination absorbs the quantity.
func (ih *ItemHandle) MoveTo(ctx context.Context, target Kind) (*Cart, error) {
	if err := ih.check(); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, fmt.Errorf("unknown kind %q: %w", target, ErrInvalidInput)
	}
	src := ih.h
	if src.kind == target {
		return nil, fmt.Errorf("source and target are both %q: %w", target, ErrInvalidOperation)
	}
	svc := src.svc
	m := mutation{op: "move", topic: events.TopicItemMoved, itemID: ih.itemID, detail: map[string]any{"from": src.kind, "to": target}}

	var dest *Cart
	err := svc.withOwnerLock(ctx, src.owner, func(ctx context.Context) error {
		item, err := ih.Get(ctx)
		if err != nil {
			return err
		}
		dest, err = svc.apply(ctx, src.owner, target, mutation{op: "move", create: true}, func(c *Cart) error {
			for i := range c.Items {
				if c.Items[i].sameVariant(item.ItemID, item.Attributes) {
					c.Items[i].Quantity += item.Quantity
					return nil
				}
			}
			c.Items = append(c.Items, item.Clone())
			return nil
		})
		if err != nil {
			return err
		}
		_, err = svc.apply(ctx, src.owner, src.kind, m, func(c *Cart) error {
			kept := c.Items[:0]
			for _, it := range c.Items {
				if it.ItemID != ih.itemID {
					kept = append(kept, it)
				}
			}
			c.Items = kept
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return dest, nil
}

// ApplyModifier validates, normalizes and appends an item-level modifier.
// Without an explicit order the modifier is placed after the existing ones.
func (ih *ItemHandle) ApplyModifier(ctx context.Context, in modifier.Input) (*Cart, error) {
	m, err := prepare(in)
	if err != nil {
		return nil, err
	}
	return ih.mutateItem(ctx, modMutation("apply_item_modifier", events.TopicModifierApplied, ih.itemID, m.Name), func(c *Cart, i int) error {
		list, err := appendUnique(c.Items[i].Modifiers, m)
		if err != nil {
			return err
		}
		c.Items[i].Modifiers = list
		return nil
	})
}

// RemoveModifier drops the item-level modifier with the given name.
func (ih *ItemHandle) RemoveModifier(ctx context.Context, name string) (*Cart, error) {
	return ih.mutateItem(ctx, modMutation("remove_item_modifier", events.TopicModifierRemoved, ih.itemID, name), func(c *Cart, i int) error {
		list, err := removeNamed(c.Items[i].Modifiers, name)
		if err != nil {
			return err
		}
		c.Items[i].Modifiers = list
		return nil
	})
}

// ClearModifiers drops every item-level modifier.
func (ih *ItemHandle) ClearModifiers(ctx context.Context) (*Cart, error) {
	return ih.mutateItem(ctx, mutation{op: "clear_item_modifiers", topic: events.TopicModifiersCleared}, func(c *Cart, i int) error {
		if len(c.Items[i].Modifiers) == 0 {
			return notFound("item modifiers")
		}
		c.Items[i].Modifiers = nil
		return nil
	})
}

// ReorderModifiers moves the named item-level modifiers first and renumbers all orders.
func (ih *ItemHandle) ReorderModifiers(ctx context.Context, names []string) (*Cart, error) {
	return ih.mutateItem(ctx, mutation{op: "reorder_item_modifiers", topic: events.TopicModifiersReordered}, func(c *Cart, i int) error {
		c.Items[i].Modifiers = c.Items[i].Modifiers.Reorder(names)
		return nil
	})
}

// UpdateModifier patches the item-level modifier with the given name.
func (ih *ItemHandle) UpdateModifier(ctx context.Context, name string, patch modifier.Patch) (*Cart, error) {
	if res := modifier.ValidatePatch(patch); !res.Valid {
		return nil, invalidModifier(res)
	}
	return ih.mutateItem(ctx, modMutation("update_item_modifier", events.TopicModifierUpdated, ih.itemID, name), func(c *Cart, i int) error {
		list, err := patchNamed(c.Items[i].Modifiers, name, patch)
		if err != nil {
			return err
		}
		c.Items[i].Modifiers = list
		return nil
	})
}

// Modifiers returns the item-level modifiers in stored order.
func (ih *ItemHandle) Modifiers(ctx context.Context) (modifier.List, error) {
	it, err := ih.Get(ctx)
	if err != nil {
		return nil, err
	}
	return it.Modifiers, nil
}

// ModifierByName returns the item-level modifier with the given name.
func (ih *ItemHandle) ModifierByName(ctx context.Context, name string) (modifier.Modifier, error) {
	list, err := ih.Modifiers(ctx)
	if err != nil {
		return modifier.Modifier{}, err
	}
	return byName(list, name)
}

// ModifiersByNames returns the item-level modifiers whose names are listed.
func (ih *ItemHandle) ModifiersByNames(ctx context.Context, names []string) (modifier.List, error) {
	list, err := ih.Modifiers(ctx)
	if err != nil {
		return nil, err
	}
	return list.ByNames(names), nil
}

// ModifiersByType returns the item-level modifiers of the given types.
func (ih *ItemHandle) ModifiersByType(ctx context.Context, types ...string) (modifier.List, error) {
	list, err := ih.Modifiers(ctx)
	if err != nil {
		return nil, err
	}
	return list.ByTypes(types...), nil
}

// HasModifier reports whether an item-level modifier satisfies the filter.
func (ih *ItemHandle) HasModifier(ctx context.Context, f modifier.Filter) (bool, error) {
	list, err := ih.Modifiers(ctx)
	if err != nil {
		return false, err
	}
	return list.Has(f), nil
}

// Evaluate prices the line with its own modifiers.
func (ih *ItemHandle) Evaluate(ctx context.Context) (pricing.LineResult, error) {
	it, err := ih.Get(ctx)
	if err != nil {
		return pricing.LineResult{}, err
	}
	obs.RecordEvaluation(ctx, "item")
	return pricing.EvaluateLine(it.Line()), nil
}

// SubTotal returns the line's subtotal accumulator after its modifiers.
func (ih *ItemHandle) SubTotal(ctx context.Context) (decimal.Decimal, error) {
	res, err := ih.Evaluate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Subtotal, nil
}

// Total returns the line's total after its modifiers.
func (ih *ItemHandle) Total(ctx context.Context) (decimal.Decimal, error) {
	res, err := ih.Evaluate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Total, nil
}
