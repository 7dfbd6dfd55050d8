package nbt

import (
	"errors"
	"fmt"
)

// ErrIncompatibleMerge is returned when two concretely different non-Any
// shapes meet. It indicates either an analyzer bug or a real incompatibility
// in the analyzed bytecode.
var ErrIncompatibleMerge = errors.New("incompatible schema merge")

// MergeStrategy selects how optionality combines when two entries for the
// same key meet.
type MergeStrategy int

const (
	// SameDataSet combines writes observed within one execution trace:
	// optionality XORs, so a key written on both arms of a branch ends up
	// required.
	SameDataSet MergeStrategy = iota

	// DifferentDataSet combines independent traces (multiple return paths,
	// list elements): optionality ORs.
	DifferentDataSet
)

// Merge folds two schemas that describe the same position. The result may
// alias and mutate a; callers that need isolation must Clone first.
func Merge(a, b Element, strat MergeStrategy) (Element, error) {
	if _, ok := a.(Any); ok {
		return b, nil
	}
	if _, ok := b.(Any); ok {
		return a, nil
	}

	switch av := a.(type) {
	case Primitive:
		if bv, ok := b.(Primitive); ok && av.Kind == bv.Kind {
			return a, nil
		}

	case *List:
		if bv, ok := b.(*List); ok {
			inner, err := Merge(av.Inner, bv.Inner, strat)
			if err != nil {
				return nil, err
			}
			av.Inner = inner
			return av, nil
		}

	case Either:
		if Equal(av.Left, b) || Equal(av.Right, b) {
			return av, nil
		}
		if bv, ok := b.(Either); ok {
			left, err := Merge(av.Left, bv.Left, strat)
			if err != nil {
				return nil, err
			}
			right, err := Merge(av.Right, bv.Right, strat)
			if err != nil {
				return nil, err
			}
			return Either{Left: left, Right: right}, nil
		}

	case AnyCompound:
		switch bv := b.(type) {
		case *Compound:
			// Structure is strictly more informative than an unknown-key
			// record.
			return bv, nil
		case AnyCompound:
			return AnyCompound{Value: Encompass(av.Value, bv.Value)}, nil
		}

	case *Compound:
		switch bv := b.(type) {
		case AnyCompound:
			return av, nil
		case *Compound:
			if err := av.mergeFrom(bv, strat); err != nil {
				return nil, err
			}
			return av, nil
		}

	case Boxed:
		if bv, ok := b.(Boxed); ok {
			if av.Name == bv.Name {
				return av, nil
			}
			return nil, fmt.Errorf("%w: Boxed(%s) with Boxed(%s)", ErrIncompatibleMerge, av.Name, bv.Name)
		}

	case NestedEntity:
		if _, ok := b.(NestedEntity); ok {
			return av, nil
		}

	case Named:
		if bv, ok := b.(Named); ok && av.Name == bv.Name {
			return av, nil
		}
	}

	return nil, fmt.Errorf("%w: %s with %s", ErrIncompatibleMerge, DebugString(a), DebugString(b))
}

// mergeFrom merges other's contents into c. Merging a compound with itself
// is the identity.
func (c *Compound) mergeFrom(other *Compound, strat MergeStrategy) error {
	if c == other {
		return nil
	}
	for _, key := range other.keys {
		if err := c.Put(key, other.entries[key], strat); err != nil {
			return err
		}
	}
	if other.UnknownKeys != nil {
		c.UnknownKeys = Encompass(c.UnknownKeys, other.UnknownKeys)
	}
	c.Flattened = append(c.Flattened, other.Flattened...)
	if c.Name == nil {
		c.Name = other.Name
	}
	return nil
}

// Encompass computes the least upper bound of two schemas. It is total and
// lossy: incompatible shapes widen to Any. Used for the unknown-keys
// channel, where key identities are already lost. A nil side means absent
// and yields the other side.
func Encompass(a, b Element) Element {
	if a == nil {
		if b == nil {
			return nil
		}
		return b
	}
	if b == nil {
		return a
	}
	if _, ok := a.(Any); ok {
		return b
	}
	if _, ok := b.(Any); ok {
		return a
	}

	switch av := a.(type) {
	case Primitive:
		if bv, ok := b.(Primitive); ok && av.Kind == bv.Kind {
			return a
		}

	case *List:
		if bv, ok := b.(*List); ok {
			return &List{Inner: Encompass(av.Inner, bv.Inner)}
		}

	case *Compound, AnyCompound:
		switch b.(type) {
		case *Compound, AnyCompound:
			return AnyCompound{Value: Encompass(foldCompound(a), foldCompound(b))}
		}

	default:
		if Equal(a, b) {
			return a
		}
	}

	return Any{}
}

// foldCompound collapses a compound-shaped element to the encompassment of
// everything it can hold.
func foldCompound(e Element) Element {
	switch v := e.(type) {
	case AnyCompound:
		return v.Value
	case *Compound:
		var acc Element
		for _, key := range v.keys {
			acc = Encompass(acc, v.entries[key].Value)
		}
		acc = Encompass(acc, v.UnknownKeys)
		for _, f := range v.Flattened {
			acc = Encompass(acc, foldCompound(f))
		}
		return acc
	default:
		return e
	}
}

// Clone performs a deep copy so schemas never share mutable cells across
// call boundaries.
func Clone(e Element) Element {
	switch v := e.(type) {
	case nil:
		return nil
	case *List:
		return &List{Inner: Clone(v.Inner)}
	case Either:
		return Either{Left: Clone(v.Left), Right: Clone(v.Right)}
	case AnyCompound:
		return AnyCompound{Value: Clone(v.Value)}
	case *Compound:
		out := NewCompound()
		out.keys = append([]string(nil), v.keys...)
		for key, entry := range v.entries {
			out.entries[key] = Entry{Value: Clone(entry.Value), Optional: entry.Optional}
		}
		out.Name = v.Name
		out.UnknownKeys = Clone(v.UnknownKeys)
		for _, f := range v.Flattened {
			out.Flattened = append(out.Flattened, Clone(f))
		}
		return out
	default:
		// Value types without interior mutability.
		return e
	}
}

// Equal reports structural equality. Naming handles are ignored: two
// compounds produced by different methods but describing the same shape
// compare equal, which is what lets the naming pass deduplicate them.
func Equal(a, b Element) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case Any:
		_, ok := b.(Any)
		return ok
	case Primitive:
		bv, ok := b.(Primitive)
		return ok && av.Kind == bv.Kind
	case *List:
		bv, ok := b.(*List)
		return ok && Equal(av.Inner, bv.Inner)
	case Either:
		bv, ok := b.(Either)
		return ok && Equal(av.Left, bv.Left) && Equal(av.Right, bv.Right)
	case AnyCompound:
		bv, ok := b.(AnyCompound)
		return ok && Equal(av.Value, bv.Value)
	case *Compound:
		bv, ok := b.(*Compound)
		if !ok || len(av.keys) != len(bv.keys) || len(av.Flattened) != len(bv.Flattened) {
			return false
		}
		for i, key := range av.keys {
			if bv.keys[i] != key {
				return false
			}
			ae, be := av.entries[key], bv.entries[key]
			if ae.Optional != be.Optional || !Equal(ae.Value, be.Value) {
				return false
			}
		}
		if !Equal(av.UnknownKeys, bv.UnknownKeys) {
			return false
		}
		for i := range av.Flattened {
			if !Equal(av.Flattened[i], bv.Flattened[i]) {
				return false
			}
		}
		return true
	case Boxed:
		bv, ok := b.(Boxed)
		return ok && av.Name == bv.Name
	case NestedEntity:
		_, ok := b.(NestedEntity)
		return ok
	case Named:
		bv, ok := b.(Named)
		return ok && av.Name == bv.Name
	default:
		return false
	}
}

// DebugString renders a short human-readable form for error messages.
func DebugString(e Element) string {
	switch v := e.(type) {
	case nil:
		return "nil"
	case Any:
		return "Any"
	case Primitive:
		return v.Kind.String()
	case *List:
		return "List(" + DebugString(v.Inner) + ")"
	case Either:
		return "Either(" + DebugString(v.Left) + ", " + DebugString(v.Right) + ")"
	case AnyCompound:
		return "AnyCompound(" + DebugString(v.Value) + ")"
	case *Compound:
		return fmt.Sprintf("Compound{%d entries}", len(v.keys))
	case Boxed:
		return "Boxed(" + v.Name + ")"
	case NestedEntity:
		return "NestedEntity"
	case Named:
		return "Named(" + v.Name + ")"
	default:
		return fmt.Sprintf("%T", e)
	}
}
