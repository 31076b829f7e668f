package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cartino/internal/events"
	"github.com/noah-isme/cartino/internal/modifier"
	"github.com/noah-isme/cartino/internal/obs"
	"github.com/noah-isme/cartino/internal/pricing"
)

// Handle scopes operations to one owner's document of one kind. It holds no
// cart state; every call reads the current document from the store.
type Handle struct {
	svc   *Service
	owner Owner
	kind  Kind
}

// Owner returns the handle's owner.
func (h *Handle) Owner() Owner { return h.owner }

// Kind returns the handle's collection kind.
func (h *Handle) Kind() Kind { return h.kind }

// Item selects a line for item-scoped operations.
func (h *Handle) Item(itemID string) *ItemHandle {
	return &ItemHandle{h: h, itemID: strings.TrimSpace(itemID)}
}

func (h *Handle) mutate(ctx context.Context, m mutation, fn func(*Cart) error) (*Cart, error) {
	return h.svc.mutate(ctx, h.owner, h.kind, m, fn)
}

// Get returns the document or ErrNotFound.
func (h *Handle) Get(ctx context.Context) (*Cart, error) {
	return h.svc.load(ctx, h.owner, h.kind)
}

// IsEmpty reports whether the document is missing or has no lines.
func (h *Handle) IsEmpty(ctx context.Context) (bool, error) {
	c, err := h.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(c.Items) == 0, nil
}

// CountItems returns the number of lines.
func (h *Handle) CountItems(ctx context.Context) (int, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return 0, err
	}
	return len(c.Items), nil
}

// CountTotalQuantity returns the sum of line quantities.
func (h *Handle) CountTotalQuantity(ctx context.Context) (int, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return 0, err
	}
	return c.TotalQuantity(), nil
}

// FindItem returns the first line with itemID. The boolean is false when no line matches.
func (h *Handle) FindItem(ctx context.Context, itemID string) (Item, bool, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return Item{}, false, err
	}
	if i := c.IndexOf(itemID); i >= 0 {
		return c.Items[i], true, nil
	}
	return Item{}, false, nil
}

// ItemQuantity returns the summed quantity of every line with itemID, zero when absent.
func (h *Handle) ItemQuantity(ctx context.Context, itemID string) (int, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return 0, err
	}
	qty := 0
	for _, it := range c.Items {
		if it.ItemID == itemID {
			qty += it.Quantity
		}
	}
	return qty, nil
}

// Content is the list view of a document.
type Content struct {
	Items    []Item          `json:"items"`
	PriceSum decimal.Decimal `json:"priceSum"`
}

// Content returns the lines together with the raw price times quantity sum.
func (h *Handle) Content(ctx context.Context) (Content, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return Content{}, err
	}
	return Content{Items: c.Items, PriceSum: pricing.RawSubtotal(c.Lines())}, nil
}

// AddInput describes a line to add.
type AddInput struct {
	ItemID          string           `json:"itemId" validate:"required"`
	Name            string           `json:"name"`
	Quantity        int              `json:"quantity" validate:"gte=1"`
	Price           decimal.Decimal  `json:"price"`
	Attributes      map[string]any   `json:"attributes,omitempty"`
	AssociatedModel *AssociatedModel `json:"associatedModel,omitempty"`
}

func (in AddInput) check() error {
	if strings.TrimSpace(in.ItemID) == "" {
		return fmt.Errorf("itemId is required: %w", ErrInvalidInput)
	}
	if in.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1: %w", ErrInvalidInput)
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("price must not be negative: %w", ErrInvalidInput)
	}
	return nil
}

// Add creates the document on first use. A line with the same item id and
// attributes has its quantity increased; otherwise a new line is appended
// with its price rounded to two decimals.
func (h *Handle) Add(ctx context.Context, in AddInput) (*Cart, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	itemID := strings.TrimSpace(in.ItemID)
	return h.mutate(ctx, mutation{op: "add", topic: events.TopicItemAdded, itemID: itemID, create: true}, func(c *Cart) error {
		for i := range c.Items {
			if c.Items[i].sameVariant(itemID, in.Attributes) {
				c.Items[i].Quantity += in.Quantity
				return nil
			}
		}
		c.Items = append(c.Items, Item{
			ItemID:          itemID,
			Name:            in.Name,
			Quantity:        in.Quantity,
			Price:           in.Price.Round(2),
			Attributes:      cloneMap(in.Attributes),
			AssociatedModel: in.AssociatedModel,
		})
		return nil
	})
}

// Remove deletes every line with itemID.
func (h *Handle) Remove(ctx context.Context, itemID string) (*Cart, error) {
	return h.mutate(ctx, mutation{op: "remove", topic: events.TopicItemRemoved, itemID: itemID}, func(c *Cart) error {
		kept := c.Items[:0]
		for _, it := range c.Items {
			if it.ItemID != itemID {
				kept = append(kept, it)
			}
		}
		if len(kept) == len(c.Items) {
			return notFound("item " + itemID)
		}
		c.Items = kept
		return nil
	})
}

// ItemPatch is a partial line update. Nil fields are left unchanged.
type ItemPatch struct {
	Name            *string          `json:"name,omitempty"`
	Quantity        *int             `json:"quantity,omitempty"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	Attributes      map[string]any   `json:"attributes,omitempty"`
	AssociatedModel *AssociatedModel `json:"associatedModel,omitempty"`
}

// Update applies patch to the line. A quantity of zero or less removes the line.
func (h *Handle) Update(ctx context.Context, itemID string, patch ItemPatch) (*Cart, error) {
	if patch.Price != nil && patch.Price.IsNegative() {
		return nil, fmt.Errorf("price must not be negative: %w", ErrInvalidInput)
	}
	return h.mutate(ctx, mutation{op: "update", topic: events.TopicItemUpdated, itemID: itemID}, func(c *Cart) error {
		i := c.IndexOf(itemID)
		if i < 0 {
			return notFound("item " + itemID)
		}
		if patch.Quantity != nil && *patch.Quantity <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
		it := &c.Items[i]
		if patch.Price != nil {
			it.Price = patch.Price.Round(2)
		}
		if patch.Quantity != nil {
			it.Quantity = *patch.Quantity
		}
		if patch.Name != nil {
			it.Name = *patch.Name
		}
		if patch.Attributes != nil {
			it.Attributes = cloneMap(patch.Attributes)
		}
		if patch.AssociatedModel != nil {
			it.AssociatedModel = patch.AssociatedModel
		}
		return nil
	})
}

// Clear removes every line and cart-level modifier.
func (h *Handle) Clear(ctx context.Context) (*Cart, error) {
	return h.mutate(ctx, mutation{op: "clear", topic: events.TopicCartCleared}, func(c *Cart) error {
		c.Items = []Item{}
		c.Modifiers = nil
		return nil
	})
}

// ApplyModifier validates, normalizes and appends a cart-level modifier.
func (h *Handle) ApplyModifier(ctx context.Context, in modifier.Input) (*Cart, error) {
	m, err := prepare(in)
	if err != nil {
		return nil, err
	}
	return h.mutate(ctx, modMutation("apply_modifier", events.TopicModifierApplied, "", m.Name), func(c *Cart) error {
		list, err := appendUnique(c.Modifiers, m)
		if err != nil {
			return err
		}
		c.Modifiers = list
		return nil
	})
}

// ApplyModifierToAllItems adds the modifier to every line that does not
// already carry one with the same name and type.
func (h *Handle) ApplyModifierToAllItems(ctx context.Context, in modifier.Input) (*Cart, error) {
	m, err := prepare(in)
	if err != nil {
		return nil, err
	}
	return h.mutate(ctx, modMutation("apply_modifier_all", events.TopicModifierApplied, "", m.Name), func(c *Cart) error {
		for i := range c.Items {
			if c.Items[i].Modifiers.Contains(m) {
				continue
			}
			c.Items[i].Modifiers = c.Items[i].Modifiers.Append(m.Clone())
		}
		return nil
	})
}

// RemoveModifier drops the cart-level modifier with the given name.
func (h *Handle) RemoveModifier(ctx context.Context, name string) (*Cart, error) {
	return h.mutate(ctx, modMutation("remove_modifier", events.TopicModifierRemoved, "", name), func(c *Cart) error {
		list, err := removeNamed(c.Modifiers, name)
		if err != nil {
			return err
		}
		c.Modifiers = list
		return nil
	})
}

// RemoveModifiersByType drops every cart-level modifier whose type is in types.
func (h *Handle) RemoveModifiersByType(ctx context.Context, types ...string) (*Cart, error) {
	m := mutation{op: "remove_modifiers_by_type", topic: events.TopicModifierRemoved, detail: map[string]any{"types": types}}
	return h.mutate(ctx, m, func(c *Cart) error {
		list, n := c.Modifiers.RemoveTypes(types...)
		if n == 0 {
			return notFound("modifiers of type " + strings.Join(types, ","))
		}
		c.Modifiers = list
		return nil
	})
}

// ClearModifiers drops every cart-level modifier.
func (h *Handle) ClearModifiers(ctx context.Context) (*Cart, error) {
	return h.mutate(ctx, mutation{op: "clear_modifiers", topic: events.TopicModifiersCleared}, func(c *Cart) error {
		if len(c.Modifiers) == 0 {
			return notFound("cart modifiers")
		}
		c.Modifiers = nil
		return nil
	})
}

// ReorderModifiers moves the named cart-level modifiers first and renumbers all orders.
func (h *Handle) ReorderModifiers(ctx context.Context, names []string) (*Cart, error) {
	return h.mutate(ctx, mutation{op: "reorder_modifiers", topic: events.TopicModifiersReordered}, func(c *Cart) error {
		c.Modifiers = c.Modifiers.Reorder(names)
		return nil
	})
}

// UpdateModifier patches the cart-level modifier with the given name.
func (h *Handle) UpdateModifier(ctx context.Context, name string, patch modifier.Patch) (*Cart, error) {
	if res := modifier.ValidatePatch(patch); !res.Valid {
		return nil, invalidModifier(res)
	}
	return h.mutate(ctx, modMutation("update_modifier", events.TopicModifierUpdated, "", name), func(c *Cart) error {
		list, err := patchNamed(c.Modifiers, name, patch)
		if err != nil {
			return err
		}
		c.Modifiers = list
		return nil
	})
}

// Modifiers returns the cart-level modifiers in stored order.
func (h *Handle) Modifiers(ctx context.Context) (modifier.List, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.Modifiers, nil
}

// ModifierByName returns the cart-level modifier with the given name.
func (h *Handle) ModifierByName(ctx context.Context, name string) (modifier.Modifier, error) {
	list, err := h.Modifiers(ctx)
	if err != nil {
		return modifier.Modifier{}, err
	}
	return byName(list, name)
}

// ModifiersByNames returns the cart-level modifiers whose names are listed.
func (h *Handle) ModifiersByNames(ctx context.Context, names []string) (modifier.List, error) {
	list, err := h.Modifiers(ctx)
	if err != nil {
		return nil, err
	}
	return list.ByNames(names), nil
}

// ModifiersByType returns the cart-level modifiers of the given types.
func (h *Handle) ModifiersByType(ctx context.Context, types ...string) (modifier.List, error) {
	list, err := h.Modifiers(ctx)
	if err != nil {
		return nil, err
	}
	return list.ByTypes(types...), nil
}

// HasModifier reports whether a cart-level modifier satisfies the filter.
func (h *Handle) HasModifier(ctx context.Context, f modifier.Filter) (bool, error) {
	list, err := h.Modifiers(ctx)
	if err != nil {
		return false, err
	}
	return list.Has(f), nil
}

// Details prices every line and the cart-level modifiers.
func (h *Handle) Details(ctx context.Context, opts pricing.Options) (pricing.Details, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return pricing.Details{}, err
	}
	obs.RecordEvaluation(ctx, "cart")
	return pricing.Breakdown(c.Lines(), c.Modifiers, opts), nil
}

// EvaluateModifiers returns the cart-level evaluation seeded with the sum of line totals.
func (h *Handle) EvaluateModifiers(ctx context.Context) (pricing.Result, error) {
	d, err := h.Details(ctx, pricing.Options{})
	if err != nil {
		return pricing.Result{}, err
	}
	return d.Cart, nil
}

// SubTotal returns the cart subtotal after item and cart-level subtotal modifiers.
func (h *Handle) SubTotal(ctx context.Context) (decimal.Decimal, error) {
	d, err := h.Details(ctx, pricing.Options{})
	if err != nil {
		return decimal.Zero, err
	}
	return d.Summary.ModifiedSubtotal, nil
}

// Total returns the final cart total.
func (h *Handle) Total(ctx context.Context) (decimal.Decimal, error) {
	d, err := h.Details(ctx, pricing.Options{})
	if err != nil {
		return decimal.Zero, err
	}
	return d.Summary.FinalTotal, nil
}
