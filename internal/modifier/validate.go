package modifier

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

var valuePattern = regexp.MustCompile(`^-?\d+(\.\d+)?%?$`)

const (
	tagType   = "modtype"
	tagValue  = "modvalue"
	tagTarget = "modtarget"
	tagOrder  = "modorder"
)

// Issue describes why a single modifier field failed validation.
type Issue struct {
	Reason  string `json:"reason"`
	Example string `json:"example"`
}

// Result is the outcome of a validation run. Details is keyed by field name
// and only populated when Valid is false.
type Result struct {
	Valid   bool             `json:"valid"`
	Details map[string]Issue `json:"details,omitempty"`
}

// Fields lists the failing field names in a stable order.
func (r Result) Fields() []string {
	out := make([]string, 0, len(r.Details))
	for k := range r.Details {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// String renders the failing fields as "field: reason" pairs.
func (r Result) String() string {
	if r.Valid {
		return "valid"
	}
	parts := make([]string, 0, len(r.Details))
	for _, field := range r.Fields() {
		parts = append(parts, fmt.Sprintf("%s: %s", field, r.Details[field].Reason))
	}
	return strings.Join(parts, "; ")
}

var issues = map[string]Issue{
	"type": {
		Reason:  "type must be a non-empty string",
		Example: `"discount", "tax", "shipping"`,
	},
	"value": {
		Reason:  `value must be a number or a string like "-10", "15", "5%" or "-5%"`,
		Example: `"-10%"`,
	},
	"target": {
		Reason:  `target must be "subtotal" or "total"`,
		Example: `"subtotal"`,
	},
	"order": {
		Reason:  "order must be numeric",
		Example: "1",
	},
}

// Validator runs the modifier field checks on top of go-playground/validator.
type Validator struct {
	v *validator.Validate
}

// NewValidator registers the modifier tags on a fresh validator instance.
func NewValidator() *Validator {
	v := validator.New()
	mustRegister(v, tagType, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})
	mustRegister(v, tagValue, func(fl validator.FieldLevel) bool {
		return validValue(fl.Field().Interface())
	})
	mustRegister(v, tagTarget, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && Target(s).Valid()
	})
	mustRegister(v, tagOrder, func(fl validator.FieldLevel) bool {
		return isNumber(fl.Field().Interface())
	})
	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Errorf("register %s: %w", tag, err))
	}
}

// Validate checks a complete modifier input. Type and value are required;
// target and order are checked only when present. All failing fields are reported.
func (mv *Validator) Validate(in Input) Result {
	c := mv.collector()
	c.check("type", in.Type, tagType)
	c.check("value", in.Value, tagValue)
	if in.Target != "" {
		c.check("target", in.Target, tagTarget)
	}
	if in.Order != nil {
		c.check("order", in.Order, tagOrder)
	}
	return c.result()
}

// ValidatePatch checks only the fields present in the patch.
func (mv *Validator) ValidatePatch(p Patch) Result {
	c := mv.collector()
	if p.Type != nil {
		c.check("type", *p.Type, tagType)
	}
	if p.Value != nil {
		c.check("value", p.Value, tagValue)
	}
	if p.Target != nil {
		c.check("target", *p.Target, tagTarget)
	}
	if p.Order != nil {
		c.check("order", p.Order, tagOrder)
	}
	return c.result()
}

func (mv *Validator) collector() *collector {
	return &collector{v: mv.v, details: map[string]Issue{}}
}

type collector struct {
	v       *validator.Validate
	details map[string]Issue
}

func (c *collector) check(field string, value any, tag string) {
	if value == nil {
		c.details[field] = issues[field]
		return
	}
	if err := c.v.Var(value, tag); err != nil {
		c.details[field] = issues[field]
	}
}

func (c *collector) result() Result {
	if len(c.details) == 0 {
		return Result{Valid: true}
	}
	return Result{Valid: false, Details: c.details}
}

func validValue(v any) bool {
	if isNumber(v) {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	if !valuePattern.MatchString(s) {
		return false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

var std = NewValidator()

// Validate checks a complete modifier input with the package validator.
func Validate(in Input) Result { return std.Validate(in) }

// ValidatePatch checks a partial modifier update with the package validator.
func ValidatePatch(p Patch) Result { return std.ValidatePatch(p) }

// ValidateModifier re-validates an already normalized modifier.
func ValidateModifier(m Modifier) Result { return std.Validate(m.Input()) }
