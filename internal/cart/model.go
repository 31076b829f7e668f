package cart

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cartino/internal/modifier"
	"github.com/noah-isme/cartino/internal/pricing"
)

// Kind is the logical collection a cart document represents.
type Kind string

const (
	KindCart         Kind = "cart"
	KindWishlist     Kind = "wishlist"
	KindSaveForLater Kind = "save_for_later"
)

// Kinds lists every supported collection kind.
func Kinds() []Kind {
	return []Kind{KindCart, KindWishlist, KindSaveForLater}
}

// ParseKind resolves a kind name, accepting the legacy "saved_for_later" spelling.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cart":
		return KindCart, nil
	case "wishlist":
		return KindWishlist, nil
	case "save_for_later", "saved_for_later", "save-for-later", "saved-for-later":
		return KindSaveForLater, nil
	}
	return "", fmt.Errorf("unknown kind %q: %w", s, ErrInvalidInput)
}

// Valid reports whether k is one of the canonical kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCart, KindWishlist, KindSaveForLater:
		return true
	}
	return false
}

// UnmarshalJSON implements json.Unmarshaler and normalizes aliases.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*k = ""
		return nil
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Owner scopes a cart document to either an authenticated user or a guest session.
type Owner struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// UserOwner returns the owner for an authenticated user.
func UserOwner(userID string) Owner { return Owner{UserID: strings.TrimSpace(userID)} }

// GuestOwner returns the owner for a guest session.
func GuestOwner(sessionID string) Owner { return Owner{SessionID: strings.TrimSpace(sessionID)} }

// Validate ensures exactly one identity is set.
func (o Owner) Validate() error {
	switch {
	case o.UserID == "" && o.SessionID == "":
		return fmt.Errorf("owner identity required: %w", ErrInvalidInput)
	case o.UserID != "" && o.SessionID != "":
		return fmt.Errorf("owner must be a user or a session, not both: %w", ErrInvalidInput)
	}
	return nil
}

// IsGuest reports whether the owner is a guest session.
func (o Owner) IsGuest() bool { return o.UserID == "" }

// Key returns a stable identifier used for locking and indexing.
func (o Owner) Key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "session:" + o.SessionID
}

// Matches reports whether a document owned by other belongs to o. Guest
// lookups only match documents that have not been claimed by a user.
func (o Owner) Matches(other Owner) bool {
	if o.UserID != "" {
		return other.UserID == o.UserID
	}
	return other.UserID == "" && other.SessionID == o.SessionID
}

// AssociatedModel is an opaque reference to the catalog entity behind a line.
type AssociatedModel struct {
	ModelName string         `json:"modelName"`
	Data      map[string]any `json:"data,omitempty"`
}

// Item is a line in a cart document.
type Item struct {
	ItemID          string           `json:"itemId"`
	Name            string           `json:"name"`
	Quantity        int              `json:"quantity"`
	Price           decimal.Decimal  `json:"price"`
	Attributes      map[string]any   `json:"attributes,omitempty"`
	Modifiers       modifier.List    `json:"modifiers,omitempty"`
	AssociatedModel *AssociatedModel `json:"associatedModel,omitempty"`
}

// HasAttribute reports whether the attribute key is set on the item.
func (it Item) HasAttribute(key string) bool {
	_, ok := it.Attributes[key]
	return ok
}

// Attribute returns the attribute value or nil.
func (it Item) Attribute(key string) any {
	return it.Attributes[key]
}

// Line converts the item into its pricing view.
func (it Item) Line() pricing.Line {
	return pricing.Line{
		ItemID:    it.ItemID,
		Name:      it.Name,
		Price:     it.Price,
		Quantity:  it.Quantity,
		Modifiers: it.Modifiers,
	}
}

// Clone returns a copy that shares no mutable state with it.
func (it Item) Clone() Item {
	out := it
	out.Attributes = cloneMap(it.Attributes)
	out.Modifiers = it.Modifiers.Clone()
	if it.AssociatedModel != nil {
		am := *it.AssociatedModel
		am.Data = cloneMap(it.AssociatedModel.Data)
		out.AssociatedModel = &am
	}
	return out
}

// sameVariant matches lines by item id and attribute set.
func (it Item) sameVariant(itemID string, attrs map[string]any) bool {
	return it.ItemID == itemID && attributesEqual(it.Attributes, attrs)
}

func attributesEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ea) == string(eb)
}

// Cart is a collection document owned by a single user or guest session.
type Cart struct {
	ID string `json:"id"`
	Owner
	Kind      Kind           `json:"kind"`
	Items     []Item         `json:"items"`
	Modifiers modifier.List  `json:"modifiers,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// UnmarshalJSON accepts the legacy "instance" and "conditions" field names.
func (c *Cart) UnmarshalJSON(data []byte) error {
	type plain Cart
	var aux struct {
		plain
		Instance   Kind          `json:"instance"`
		Conditions modifier.List `json:"conditions"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Cart(aux.plain)
	if c.Kind == "" {
		c.Kind = aux.Instance
	}
	if len(c.Modifiers) == 0 && len(aux.Conditions) > 0 {
		c.Modifiers = aux.Conditions
	}
	return nil
}

// Lines returns the pricing view of every item.
func (c *Cart) Lines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, it.Line())
	}
	return lines
}

// IndexOf returns the position of the first line with itemID or -1.
func (c *Cart) IndexOf(itemID string) int {
	for i, it := range c.Items {
		if it.ItemID == itemID {
			return i
		}
	}
	return -1
}

// TotalQuantity sums the quantities of all lines.
func (c *Cart) TotalQuantity() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Clone returns a deep copy of the document.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]Item, len(c.Items))
	for i, it := range c.Items {
		out.Items[i] = it.Clone()
	}
	out.Modifiers = c.Modifiers.Clone()
	out.Metadata = cloneMap(c.Metadata)
	return &out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
