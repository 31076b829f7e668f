package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/cartino/internal/common"
	"github.com/noah-isme/cartino/internal/modifier"
	"github.com/noah-isme/cartino/internal/pricing"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Routes mounts the kind-scoped endpoints. The router is expected to carry a
// {kind} URL parameter.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Delete("/", h.Clear)
	r.Get("/count", h.Count)
	r.Get("/details", h.Details)

	r.Route("/items", func(items chi.Router) {
		items.Post("/", h.AddItem)
		items.Route("/{itemId}", func(item chi.Router) {
			item.Get("/", h.GetItem)
			item.Patch("/", h.UpdateItem)
			item.Delete("/", h.RemoveItem)
			item.Put("/quantity", h.UpdateQuantity)
			item.Post("/increment", h.IncrementQuantity)
			item.Post("/decrement", h.DecrementQuantity)
			item.Post("/move", h.MoveItem)
			item.Get("/pricing", h.ItemPricing)

			item.Get("/modifiers", h.ItemModifiers)
			item.Post("/modifiers", h.ApplyItemModifier)
			item.Delete("/modifiers", h.ClearItemModifiers)
			item.Put("/modifiers/order", h.ReorderItemModifiers)
			item.Post("/modifiers/match", h.MatchItemModifiers)
			item.Patch("/modifiers/{name}", h.UpdateItemModifier)
			item.Delete("/modifiers/{name}", h.RemoveItemModifier)
		})
	})

	r.Route("/modifiers", func(mods chi.Router) {
		mods.Get("/", h.CartModifiers)
		mods.Post("/", h.ApplyCartModifier)
		mods.Delete("/", h.ClearCartModifiers)
		mods.Post("/items", h.ApplyModifierToAllItems)
		mods.Put("/order", h.ReorderCartModifiers)
		mods.Post("/match", h.MatchCartModifiers)
		mods.Get("/evaluate", h.EvaluateCartModifiers)
		mods.Patch("/{name}", h.UpdateCartModifier)
		mods.Delete("/{name}", h.RemoveCartModifier)
	})
}

// handle resolves the owner from the request context and the kind from the URL.
func (h *Handler) handle(w http.ResponseWriter, r *http.Request) (*Handle, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return nil, false
	}
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "unknown collection", nil)
		return nil, false
	}
	owner, ok := RequestOwner(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "NO_SESSION", "user or guest session required", nil)
		return nil, false
	}
	return h.Svc.Owner(owner, kind), true
}

// RequestOwner prefers the authenticated user over the guest session.
func RequestOwner(r *http.Request) (Owner, bool) {
	ctx := r.Context()
	if userID, ok := common.UserID(ctx); ok && strings.TrimSpace(userID) != "" {
		return UserOwner(userID), true
	}
	if sessionID, ok := common.SessionID(ctx); ok {
		return GuestOwner(sessionID), true
	}
	return Owner{}, false
}

var errEmptyBody = errors.New("empty body")

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func badPayload(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
		return
	}
	common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
}

func (h *Handler) check(v any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}

func respond(w http.ResponseWriter, status int, data any) {
	common.Data(w, status, data)
}

// Get returns the owner's document of the requested kind.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	c, err := hd.Get(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	content, err := hd.Content(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"id":        c.ID,
		"kind":      c.Kind,
		"items":     content.Items,
		"modifiers": c.Modifiers,
		"priceSum":  content.PriceSum,
		"updatedAt": c.UpdatedAt,
	})
}

// Count returns the line count, the total quantity and the emptiness flag.
func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	empty, err := hd.IsEmpty(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := map[string]any{"isEmpty": empty, "items": 0, "quantity": 0}
	if !empty {
		c, err := hd.Get(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		out["items"] = len(c.Items)
		out["quantity"] = c.TotalQuantity()
	}
	respond(w, http.StatusOK, out)
}

// Details returns the full pricing breakdown. ?timeline=true adds the application trace.
func (h *Handler) Details(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	timeline, _ := strconv.ParseBool(r.URL.Query().Get("timeline"))
	d, err := hd.Details(r.Context(), pricing.Options{Timeline: timeline})
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond(w, http.StatusOK, d)
}

// Clear removes every line and cart-level modifier.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Clear(r.Context()))
}

// AddItem adds a line or increases the quantity of a matching one.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload AddInput
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	if err := h.check(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	h.writeCart(w, http.StatusCreated)(hd.Add(r.Context(), payload))
}

// GetItem returns a single line.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	item, err := hd.Item(chi.URLParam(r, "itemId")).Get(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond(w, http.StatusOK, item)
}

// UpdateItem applies a partial line update.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload ItemPatch
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Item(chi.URLParam(r, "itemId")).Update(r.Context(), payload))
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Item(chi.URLParam(r, "itemId")).Remove(r.Context()))
}

// UpdateQuantity sets or shifts the line quantity.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload QuantityUpdate
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Item(chi.URLParam(r, "itemId")).UpdateQuantity(r.Context(), payload))
}

type stepPayload struct {
	By int `json:"by" validate:"gte=0"`
}

func (h *Handler) step(r *http.Request) (int, error) {
	var payload stepPayload
	if err := decode(r, &payload); err != nil {
		if errors.Is(err, errEmptyBody) {
			return 0, nil
		}
		return 0, err
	}
	if err := h.check(payload); err != nil {
		return 0, err
	}
	if payload.By < 0 {
		return 0, errors.New("by must not be negative")
	}
	return payload.By, nil
}

// IncrementQuantity adds {"by": n} (default 1) to the line quantity.
func (h *Handler) IncrementQuantity(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	n, err := h.step(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Item(chi.URLParam(r, "itemId")).IncrementQuantity(r.Context(), n))
}

// DecrementQuantity subtracts {"by": n} (default 1), removing the line at zero.
func (h *Handler) DecrementQuantity(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	n, err := h.step(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Item(chi.URLParam(r, "itemId")).DecrementQuantity(r.Context(), n))
}

// MoveItem moves the line to another collection kind of the same owner.
func (h *Handler) MoveItem(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload struct {
		To string `json:"to" validate:"required"`
	}
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	target, err := ParseKind(payload.To)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Item(chi.URLParam(r, "itemId")).MoveTo(r.Context(), target))
}

// ItemPricing evaluates a single line.
func (h *Handler) ItemPricing(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	res, err := hd.Item(chi.URLParam(r, "itemId")).Evaluate(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// modifierQuerier is satisfied by both Handle and ItemHandle.
type modifierQuerier interface {
	Modifiers(ctx context.Context) (modifier.List, error)
	ModifierByName(ctx context.Context, name string) (modifier.Modifier, error)
	ModifiersByNames(ctx context.Context, names []string) (modifier.List, error)
	ModifiersByType(ctx context.Context, types ...string) (modifier.List, error)
	HasModifier(ctx context.Context, f modifier.Filter) (bool, error)
}

// listModifiers serves ?name=a&name=b, ?type=x or the full list.
func (h *Handler) listModifiers(w http.ResponseWriter, r *http.Request, q modifierQuerier) {
	query := r.URL.Query()
	var (
		data any
		err  error
	)
	switch names := query["name"]; {
	case len(names) == 1:
		data, err = q.ModifierByName(r.Context(), names[0])
	case len(names) > 1:
		data, err = q.ModifiersByNames(r.Context(), names)
	case len(query["type"]) > 0:
		data, err = q.ModifiersByType(r.Context(), query["type"]...)
	default:
		data, err = q.Modifiers(r.Context())
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond(w, http.StatusOK, data)
}

func (h *Handler) matchModifiers(w http.ResponseWriter, r *http.Request, q modifierQuerier) {
	var f modifier.Filter
	if err := decode(r, &f); err != nil {
		badPayload(w, err)
		return
	}
	matched, err := q.HasModifier(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"matched": matched})
}

func decodeNames(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var payload struct {
		Names []string `json:"names"`
	}
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return nil, false
	}
	return payload.Names, true
}

// ItemModifiers lists the line's modifiers, optionally filtered by name or type.
func (h *Handler) ItemModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	h.listModifiers(w, r, hd.Item(chi.URLParam(r, "itemId")))
}

// ApplyItemModifier validates and appends a modifier to the line.
func (h *Handler) ApplyItemModifier(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload modifier.Input
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	h.writeCart(w, http.StatusCreated)(hd.Item(chi.URLParam(r, "itemId")).ApplyModifier(r.Context(), payload))
}

// ClearItemModifiers drops every modifier on the line.
func (h *Handler) ClearItemModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Item(chi.URLParam(r, "itemId")).ClearModifiers(r.Context()))
}

// ReorderItemModifiers moves {"names": [...]} first and renumbers.
func (h *Handler) ReorderItemModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	names, ok := decodeNames(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK)(hd.Item(chi.URLParam(r, "itemId")).ReorderModifiers(r.Context(), names))
}

// MatchItemModifiers reports whether a line modifier satisfies the posted filter.
func (h *Handler) MatchItemModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	h.matchModifiers(w, r, hd.Item(chi.URLParam(r, "itemId")))
}

// UpdateItemModifier patches a line modifier by name.
func (h *Handler) UpdateItemModifier(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload modifier.Patch
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	item := hd.Item(chi.URLParam(r, "itemId"))
	h.writeCart(w, http.StatusOK)(item.UpdateModifier(r.Context(), chi.URLParam(r, "name"), payload))
}

// RemoveItemModifier drops a line modifier by name.
func (h *Handler) RemoveItemModifier(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	item := hd.Item(chi.URLParam(r, "itemId"))
	h.writeCart(w, http.StatusOK)(item.RemoveModifier(r.Context(), chi.URLParam(r, "name")))
}

// CartModifiers lists cart-level modifiers, optionally filtered by name or type.
func (h *Handler) CartModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	h.listModifiers(w, r, hd)
}

// ApplyCartModifier validates and appends a cart-level modifier.
func (h *Handler) ApplyCartModifier(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload modifier.Input
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	h.writeCart(w, http.StatusCreated)(hd.ApplyModifier(r.Context(), payload))
}

// ApplyModifierToAllItems adds a modifier to every line lacking it.
func (h *Handler) ApplyModifierToAllItems(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload modifier.Input
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	h.writeCart(w, http.StatusOK)(hd.ApplyModifierToAllItems(r.Context(), payload))
}

// ClearCartModifiers drops cart-level modifiers; ?type=x limits removal to those types.
func (h *Handler) ClearCartModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	if types := r.URL.Query()["type"]; len(types) > 0 {
		h.writeCart(w, http.StatusOK)(hd.RemoveModifiersByType(r.Context(), types...))
		return
	}
	h.writeCart(w, http.StatusOK)(hd.ClearModifiers(r.Context()))
}

// ReorderCartModifiers moves {"names": [...]} first and renumbers.
func (h *Handler) ReorderCartModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	names, ok := decodeNames(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK)(hd.ReorderModifiers(r.Context(), names))
}

// MatchCartModifiers reports whether a cart-level modifier satisfies the posted filter.
func (h *Handler) MatchCartModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	h.matchModifiers(w, r, hd)
}

// EvaluateCartModifiers returns the cart-level evaluation.
func (h *Handler) EvaluateCartModifiers(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	res, err := hd.EvaluateModifiers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// UpdateCartModifier patches a cart-level modifier by name.
func (h *Handler) UpdateCartModifier(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	var payload modifier.Patch
	if err := decode(r, &payload); err != nil {
		badPayload(w, err)
		return
	}
	h.writeCart(w, http.StatusOK)(hd.UpdateModifier(r.Context(), chi.URLParam(r, "name"), payload))
}

// RemoveCartModifier drops a cart-level modifier by name.
func (h *Handler) RemoveCartModifier(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handle(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK)(hd.RemoveModifier(r.Context(), chi.URLParam(r, "name")))
}

// Merge folds the current guest session's documents into the authenticated user's.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	sessionID, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "guest session required", nil)
		return
	}
	merged, err := h.Svc.Merge(r.Context(), sessionID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond(w, http.StatusOK, merged)
}

// writeCart returns a sink for the (cart, error) pair of a mutation.
func (h *Handler) writeCart(w http.ResponseWriter, status int) func(*Cart, error) {
	return func(c *Cart, err error) {
		if err != nil {
			h.writeError(w, err)
			return
		}
		respond(w, status, c)
	}
}

var errorMappings = []common.ErrorMapping{
	{Target: ErrInvalidInput, Status: http.StatusBadRequest, Code: "BAD_REQUEST"},
	{Target: ErrNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
	{Target: ErrDuplicateModifier, Status: http.StatusConflict, Code: "DUPLICATE_MODIFIER"},
	{Target: ErrInvalidOperation, Status: http.StatusUnprocessableEntity, Code: "INVALID_OPERATION"},
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, err, errorMappings...)
}
