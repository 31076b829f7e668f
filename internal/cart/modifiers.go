package cart

import (
	"errors"
	"fmt"

	"github.com/noah-isme/cartino/internal/modifier"
)

// prepare validates raw input and normalizes it. Nothing is mutated when it fails.
func prepare(in modifier.Input) (modifier.Modifier, error) {
	if res := modifier.Validate(in); !res.Valid {
		return modifier.Modifier{}, invalidModifier(res)
	}
	m, err := modifier.Normalize(in)
	if err != nil {
		if errors.Is(err, modifier.ErrInvalidModifier) {
			return modifier.Modifier{}, fmt.Errorf("%w: %w", err, ErrInvalidInput)
		}
		return modifier.Modifier{}, err
	}
	return m, nil
}

func appendUnique(list modifier.List, m modifier.Modifier) (modifier.List, error) {
	if list.Contains(m) {
		return nil, fmt.Errorf("modifier %q: %w", m.Name, ErrDuplicateModifier)
	}
	return list.Append(m), nil
}

func removeNamed(list modifier.List, name string) (modifier.List, error) {
	if len(list) == 0 {
		return nil, notFound("modifiers")
	}
	out, ok := list.Remove(name)
	if !ok {
		return nil, notFound(fmt.Sprintf("modifier %q", name))
	}
	return out, nil
}

func patchNamed(list modifier.List, name string, p modifier.Patch) (modifier.List, error) {
	i := list.Index(name)
	if i < 0 {
		return nil, notFound(fmt.Sprintf("modifier %q", name))
	}
	updated := modifier.ApplyPatch(list[i], p)
	if res := modifier.ValidateModifier(updated); !res.Valid {
		return nil, invalidModifier(res)
	}
	for j, other := range list {
		if j != i && other.Name == updated.Name && other.Type == updated.Type {
			return nil, fmt.Errorf("modifier %q: %w", updated.Name, ErrDuplicateModifier)
		}
	}
	out := list.Clone()
	out[i] = updated
	return out, nil
}

func byName(list modifier.List, name string) (modifier.Modifier, error) {
	m, ok := list.ByName(name)
	if !ok {
		return modifier.Modifier{}, notFound(fmt.Sprintf("modifier %q", name))
	}
	return m, nil
}

func modMutation(op, topic, itemID, name string) mutation {
	return mutation{op: op, topic: topic, itemID: itemID, detail: map[string]any{"modifier": name}}
}
