package cart_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cartino/internal/cart"
	"github.com/noah-isme/cartino/internal/common"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func newRouter(t *testing.T) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t)
	h := &cart.Handler{Svc: f.svc, Validate: validator.New()}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			if sid := req.Header.Get("X-Session"); sid != "" {
				ctx = common.WithSessionID(ctx, sid)
			}
			if uid := req.Header.Get("X-User"); uid != "" {
				ctx = common.WithUserID(ctx, uid)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Post("/session/merge", h.Merge)
	r.Route("/{kind}", h.Routes)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func guest(sid string) []string { return []string{"X-Session", sid} }

func TestHandlerRequiresOwner(t *testing.T) {
	r, _ := newRouter(t)
	code, env := do(t, r, http.MethodGet, "/cart/", "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "NO_SESSION", env.Error.Code)

	code, env = do(t, r, http.MethodGet, "/basket/", "", guest("s1")...)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHandlerItemFlow(t *testing.T) {
	r, _ := newRouter(t)
	h := guest("s1")

	code, env := do(t, r, http.MethodGet, "/cart/", "", h...)
	require.Equal(t, http.StatusNotFound, code)

	code, env = do(t, r, http.MethodPost, "/cart/items", `{"itemId":"A","name":"Apple","quantity":2,"price":"10"}`, h...)
	require.Equal(t, http.StatusCreated, code)
	var c cart.Cart
	require.NoError(t, json.Unmarshal(env.Data, &c))
	require.Equal(t, cart.KindCart, c.Kind)
	require.Equal(t, "s1", c.SessionID)

	code, env = do(t, r, http.MethodPost, "/cart/items", `{"itemId":"","quantity":1,"price":1}`, h...)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/cart/items/A/increment", "", h...)
	require.Equal(t, http.StatusOK, code)
	code, env = do(t, r, http.MethodGet, "/cart/count", "", h...)
	require.Equal(t, http.StatusOK, code)
	var count map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &count))
	require.EqualValues(t, 3, count["quantity"])
	require.EqualValues(t, 1, count["items"])

	code, _ = do(t, r, http.MethodPut, "/cart/items/A/quantity", `{"quantity":5}`, h...)
	require.Equal(t, http.StatusOK, code)
	code, env = do(t, r, http.MethodGet, "/cart/items/A", "", h...)
	require.Equal(t, http.StatusOK, code)
	var item cart.Item
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.Equal(t, 5, item.Quantity)

	code, env = do(t, r, http.MethodPost, "/cart/items/A/move", `{"to":"cart"}`, h...)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "INVALID_OPERATION", env.Error.Code)

	code, env = do(t, r, http.MethodPost, "/cart/items/A/move", `{"to":"saved_for_later"}`, h...)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &c))
	require.Equal(t, cart.KindSaveForLater, c.Kind)

	code, env = do(t, r, http.MethodPost, "/save_for_later/items/A/decrement", `{"by":5}`, h...)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &c))
	require.Empty(t, c.Items)

	code, env = do(t, r, http.MethodDelete, "/cart/items/missing", "", h...)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHandlerModifiersAndDetails(t *testing.T) {
	r, _ := newRouter(t)
	h := guest("s1")
	do(t, r, http.MethodPost, "/cart/items", `{"itemId":"A","quantity":2,"price":10}`, h...)
	do(t, r, http.MethodPost, "/cart/items", `{"itemId":"B","quantity":1,"price":5}`, h...)

	code, _ := do(t, r, http.MethodPost, "/cart/items/A/modifiers", `{"name":"Promo","type":"discount","value":"-10%"}`, h...)
	require.Equal(t, http.StatusCreated, code)
	code, _ = do(t, r, http.MethodPost, "/cart/modifiers", `{"name":"Coupon","type":"discount","value":-5}`, h...)
	require.Equal(t, http.StatusCreated, code)
	code, _ = do(t, r, http.MethodPost, "/cart/modifiers", `{"name":"Tax","type":"tax","value":"10%","target":"total"}`, h...)
	require.Equal(t, http.StatusCreated, code)

	code, env := do(t, r, http.MethodPost, "/cart/modifiers", `{"name":"Tax","type":"tax","value":"12%"}`, h...)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "DUPLICATE_MODIFIER", env.Error.Code)

	code, env = do(t, r, http.MethodPost, "/cart/modifiers", `{"type":"tax","value":"abc"}`, h...)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, cart.CodeInvalidModifier, env.Error.Code)
	var details map[string]any
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	require.Contains(t, details, "value")
	require.Len(t, details, 1)

	code, env = do(t, r, http.MethodGet, "/cart/details?timeline=true", "", h...)
	require.Equal(t, http.StatusOK, code)
	var d struct {
		Summary struct {
			OriginalSubtotal  string `json:"originalSubtotal"`
			ModifiedSubtotal  string `json:"modifiedSubtotal"`
			FinalTotal        string `json:"finalTotal"`
			IsDiscountApplied bool   `json:"isDiscountApplied"`
		} `json:"summary"`
		Timeline []json.RawMessage `json:"timeline"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &d))
	require.Equal(t, "25", d.Summary.OriginalSubtotal)
	require.Equal(t, "18", d.Summary.ModifiedSubtotal)
	require.Equal(t, "19.8", d.Summary.FinalTotal)
	require.True(t, d.Summary.IsDiscountApplied)
	require.Len(t, d.Timeline, 3)

	code, env = do(t, r, http.MethodGet, "/cart/modifiers?type=tax", "", h...)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)

	code, env = do(t, r, http.MethodPost, "/cart/modifiers/match", `{"names":"Coupon","types":["tax"],"match":"all"}`, h...)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"matched":false}`, string(env.Data))

	code, _ = do(t, r, http.MethodPut, "/cart/modifiers/order", `{"names":["Tax"]}`, h...)
	require.Equal(t, http.StatusOK, code)
	code, env = do(t, r, http.MethodGet, "/cart/modifiers?name=Tax", "", h...)
	require.Equal(t, http.StatusOK, code)
	var tax map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &tax))
	require.EqualValues(t, 1, tax["order"])

	code, env = do(t, r, http.MethodPatch, "/cart/modifiers/Tax", `{"target":"grand"}`, h...)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, cart.CodeInvalidModifier, env.Error.Code)

	code, _ = do(t, r, http.MethodDelete, "/cart/modifiers?type=tax", "", h...)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodDelete, "/cart/modifiers/Coupon", "", h...)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodDelete, "/cart/modifiers", "", h...)
	require.Equal(t, http.StatusNotFound, code)

	code, env = do(t, r, http.MethodGet, "/cart/items/A/pricing", "", h...)
	require.Equal(t, http.StatusOK, code)
	var line struct {
		Total string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &line))
	require.Equal(t, "18", line.Total)
}

func TestHandlerMerge(t *testing.T) {
	r, _ := newRouter(t)
	do(t, r, http.MethodPost, "/cart/items", `{"itemId":"A","quantity":2,"price":1}`, guest("s1")...)
	do(t, r, http.MethodPost, "/cart/items", `{"itemId":"A","quantity":1,"price":1}`, "X-User", "u1")
	do(t, r, http.MethodPost, "/cart/items", `{"itemId":"B","quantity":3,"price":1}`, "X-User", "u1")

	code, env := do(t, r, http.MethodPost, "/session/merge", "", guest("s1")...)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	code, env = do(t, r, http.MethodPost, "/session/merge", "", "X-Session", "s1", "X-User", "u1")
	require.Equal(t, http.StatusOK, code)
	var merged map[string]cart.Cart
	require.NoError(t, json.Unmarshal(env.Data, &merged))
	got := quantities(&cart.Cart{Items: merged["cart"].Items})
	require.Equal(t, map[string]int{"A": 3, "B": 3}, got)

	code, _ = do(t, r, http.MethodGet, "/cart/", "", guest("s2")...)
	require.Equal(t, http.StatusNotFound, code)
}

func TestHandlerStoresExponentValuesCanonically(t *testing.T) {
	r, _ := newRouter(t)
	h := guest("s1")
	do(t, r, http.MethodPost, "/cart/items", `{"itemId":"A","quantity":1,"price":10}`, h...)

	code, env := do(t, r, http.MethodPost, "/cart/items/A/modifiers", `{"type":"fee","value":1e2}`, h...)
	require.Equal(t, http.StatusCreated, code)
	var c cart.Cart
	require.NoError(t, json.Unmarshal(env.Data, &c))
	require.Equal(t, "100", c.Items[0].Modifiers[0].Value.String())
	require.Equal(t, "fee (100)", c.Items[0].Modifiers[0].Name)
}
