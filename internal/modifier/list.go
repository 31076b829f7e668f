package modifier

import (
	"encoding/json"
	"slices"
	"sort"
)

// StringList decodes from either a single JSON string or an array of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Match controls how a Filter combines its name and type criteria.
type Match string

const (
	// MatchAny is satisfied when either the name or the type matches.
	MatchAny Match = "any"
	// MatchAll requires the name and the type to match on the same modifier.
	MatchAll Match = "all"
)

// Filter selects modifiers by name and/or type.
type Filter struct {
	Names StringList `json:"name,omitempty"`
	Types StringList `json:"type,omitempty"`
	Match Match      `json:"match,omitempty"`
}

// List is an ordered collection of modifiers owned by an item or a cart.
type List []Modifier

// Contains reports whether a modifier with the same name and type is present.
func (l List) Contains(m Modifier) bool {
	for _, existing := range l {
		if existing.Type == m.Type && existing.Name == m.Name {
			return true
		}
	}
	return false
}

// NextOrder returns one more than the largest explicit order, treating missing orders as zero.
func (l List) NextOrder() int {
	maxOrder := 0
	for _, m := range l {
		if o := m.OrderOrZero(); o > maxOrder {
			maxOrder = o
		}
	}
	return maxOrder + 1
}

// Append adds m to the list, assigning the next order when m has none.
func (l List) Append(m Modifier) List {
	if m.Order == nil {
		next := l.NextOrder()
		m.Order = &next
	}
	return append(l, m)
}

// Index returns the position of the modifier with the given name or -1.
func (l List) Index(name string) int {
	for i, m := range l {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// ByName returns the first modifier with the given name.
func (l List) ByName(name string) (Modifier, bool) {
	if i := l.Index(name); i >= 0 {
		return l[i], true
	}
	return Modifier{}, false
}

// ByNames returns every modifier whose name is in names, in list order.
func (l List) ByNames(names []string) List {
	out := List{}
	for _, m := range l {
		if m.Name != "" && slices.Contains(names, m.Name) {
			out = append(out, m)
		}
	}
	return out
}

// ByTypes returns every modifier whose type is in types, in list order.
func (l List) ByTypes(types ...string) List {
	out := List{}
	for _, m := range l {
		if m.Type != "" && slices.Contains(types, m.Type) {
			out = append(out, m)
		}
	}
	return out
}

// Has reports whether at least one modifier satisfies the filter.
func (l List) Has(f Filter) bool {
	all := f.Match == MatchAll
	for _, m := range l {
		nameMatch := len(f.Names) > 0 && slices.Contains(f.Names, m.Name)
		typeMatch := len(f.Types) > 0 && slices.Contains(f.Types, m.Type)
		if all && nameMatch && typeMatch {
			return true
		}
		if !all && (nameMatch || typeMatch) {
			return true
		}
	}
	return false
}

// Remove drops every modifier with the given name and reports whether any was removed.
func (l List) Remove(name string) (List, bool) {
	out := make(List, 0, len(l))
	for _, m := range l {
		if m.Name != name {
			out = append(out, m)
		}
	}
	return out, len(out) != len(l)
}

// RemoveTypes drops every modifier whose type is in types and returns how many were removed.
func (l List) RemoveTypes(types ...string) (List, int) {
	out := make(List, 0, len(l))
	for _, m := range l {
		if !slices.Contains(types, m.Type) {
			out = append(out, m)
		}
	}
	return out, len(l) - len(out)
}

// Reorder moves the named modifiers to the front in the given sequence, keeps
// the rest in their current relative order, and renumbers orders from 1.
func (l List) Reorder(names []string) List {
	remaining := slices.Clone(l)
	ordered := make(List, 0, len(l))
	for _, name := range names {
		if i := remaining.Index(name); i >= 0 {
			ordered = append(ordered, remaining[i])
			remaining = slices.Delete(remaining, i, i+1)
		}
	}
	ordered = append(ordered, remaining...)
	for i := range ordered {
		order := i + 1
		ordered[i].Order = &order
	}
	return ordered
}

// Sorted returns a copy ordered by Order ascending, missing orders as zero.
// Equal orders keep their insertion sequence.
func (l List) Sorted() List {
	out := slices.Clone(l)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderOrZero() < out[j].OrderOrZero()
	})
	return out
}

// Clone copies the list and each modifier in it.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, m := range l {
		out[i] = m.Clone()
	}
	return out
}
