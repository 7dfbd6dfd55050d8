package interp

import (
	"fmt"

	"github.com/mabhi256/nbtspec/internal/nbt"
)

// Flatten resolves every compound's flattened list, bottom-up: members are
// inlined into their parent unless they are recursion-critical (their
// originating call was hit recursively), in which case they must survive as
// a separate compound for the back-references to land on. Boxed members are
// kept untouched.
func Flatten(root *nbt.Compound, boxedKeys map[string]bool) error {
	return flattenCompound(root, boxedKeys, make(map[*nbt.Compound]bool))
}

func flattenElement(e nbt.Element, boxedKeys map[string]bool, visited map[*nbt.Compound]bool) error {
	switch v := e.(type) {
	case *nbt.Compound:
		return flattenCompound(v, boxedKeys, visited)
	case *nbt.List:
		return flattenElement(v.Inner, boxedKeys, visited)
	case nbt.Either:
		if err := flattenElement(v.Left, boxedKeys, visited); err != nil {
			return err
		}
		return flattenElement(v.Right, boxedKeys, visited)
	case nbt.AnyCompound:
		return flattenElement(v.Value, boxedKeys, visited)
	case nil:
		return nil
	default:
		return nil
	}
}

func flattenCompound(c *nbt.Compound, boxedKeys map[string]bool, visited map[*nbt.Compound]bool) error {
	if visited[c] {
		return nil
	}
	visited[c] = true

	for _, key := range c.Keys() {
		entry, _ := c.Entry(key)
		if err := flattenElement(entry.Value, boxedKeys, visited); err != nil {
			return err
		}
	}
	if err := flattenElement(c.UnknownKeys, boxedKeys, visited); err != nil {
		return err
	}
	for _, f := range c.Flattened {
		if err := flattenElement(f, boxedKeys, visited); err != nil {
			return err
		}
	}

	pending := c.Flattened
	c.Flattened = nil
	for len(pending) > 0 {
		member := pending[0]
		pending = pending[1:]

		switch m := member.(type) {
		case nbt.Boxed:
			c.Flattened = append(c.Flattened, m)

		case *nbt.Compound:
			if m.Name != nil && boxedKeys[m.Name.Key] {
				c.Flattened = append(c.Flattened, m)
				continue
			}
			for _, key := range m.Keys() {
				entry, _ := m.Entry(key)
				if err := c.Put(key, entry, nbt.SameDataSet); err != nil {
					return err
				}
			}
			if m.UnknownKeys != nil {
				c.AddUnknown(m.UnknownKeys)
			}
			pending = append(pending, m.Flattened...)

		default:
			return fmt.Errorf("%w: %s in flattened list", ErrInvariant, nbt.DebugString(member))
		}
	}
	return nil
}

// NamingRegistry assigns stable structural names to anonymous compounds,
// deduplicates identical shapes, and rewrites in-tree compounds into Named
// references. It is shared across all analyzed entry points of a run, so
// identical compounds from different entities collapse to one definition.
type NamingRegistry struct {
	names  []string
	byName map[string]*nbt.Compound

	boxedKeys  map[string]bool
	boxedNames map[string]bool

	// replaced memoizes the rewrite of each compound, so a compound shared
	// between two positions of a tree is processed once.
	replaced map[*nbt.Compound]nbt.Element
}

func NewNamingRegistry(boxedKeys, boxedNames map[string]bool) *NamingRegistry {
	return &NamingRegistry{
		byName:     make(map[string]*nbt.Compound),
		boxedKeys:  boxedKeys,
		boxedNames: boxedNames,
		replaced:   make(map[*nbt.Compound]nbt.Element),
	}
}

// NamedCompound is one registered definition.
type NamedCompound struct {
	Name     string
	Compound *nbt.Compound
}

// All returns the registered definitions in registration order.
func (reg *NamingRegistry) All() []NamedCompound {
	out := make([]NamedCompound, len(reg.names))
	for i, name := range reg.names {
		out[i] = NamedCompound{Name: name, Compound: reg.byName[name]}
	}
	return out
}

// Lookup returns the registered compound for a name.
func (reg *NamingRegistry) Lookup(name string) (*nbt.Compound, bool) {
	c, ok := reg.byName[name]
	return c, ok
}

// NameChildren rewrites all compound positions below root (root itself is a
// class type and keeps its identity).
func (reg *NamingRegistry) NameChildren(root *nbt.Compound) error {
	for _, key := range root.Keys() {
		entry, _ := root.Entry(key)
		replaced, err := reg.rewrite(entry.Value)
		if err != nil {
			return err
		}
		entry.Value = replaced
		root.SetEntry(key, entry)
	}

	if root.UnknownKeys != nil {
		replaced, err := reg.rewrite(root.UnknownKeys)
		if err != nil {
			return err
		}
		root.UnknownKeys = replaced
	}

	for i, f := range root.Flattened {
		replaced, err := reg.rewrite(f)
		if err != nil {
			return err
		}
		root.Flattened[i] = replaced
	}
	return nil
}

func (reg *NamingRegistry) rewrite(e nbt.Element) (nbt.Element, error) {
	switch v := e.(type) {
	case *nbt.List:
		inner, err := reg.rewrite(v.Inner)
		if err != nil {
			return nil, err
		}
		v.Inner = inner
		return v, nil

	case nbt.Either:
		left, err := reg.rewrite(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := reg.rewrite(v.Right)
		if err != nil {
			return nil, err
		}
		return nbt.Either{Left: left, Right: right}, nil

	case nbt.AnyCompound:
		value, err := reg.rewrite(v.Value)
		if err != nil {
			return nil, err
		}
		return nbt.AnyCompound{Value: value}, nil

	case *nbt.Compound:
		if repl, ok := reg.replaced[v]; ok {
			return repl, nil
		}
		if err := reg.NameChildren(v); err != nil {
			return nil, err
		}

		// A compound that only forwards to one flattened member is that
		// member; one with no structure at all is an unknown-key record.
		if v.Len() == 0 && v.UnknownKeys == nil && len(v.Flattened) == 1 {
			reg.replaced[v] = v.Flattened[0]
			return v.Flattened[0], nil
		}
		if v.Len() == 0 && len(v.Flattened) == 0 {
			repl := nbt.AnyCompound{Value: v.UnknownKeys}
			if v.UnknownKeys == nil {
				repl = nbt.AnyCompound{Value: nbt.Any{}}
			}
			reg.replaced[v] = repl
			return repl, nil
		}

		name, err := reg.assign(v)
		if err != nil {
			return nil, err
		}
		reg.replaced[v] = nbt.Named{Name: name}
		return nbt.Named{Name: name}, nil

	case nbt.Named:
		// already rewritten through another alias of the same tree
		return v, nil

	case nil:
		return nil, nil

	default:
		return e, nil
	}
}

func (reg *NamingRegistry) assign(c *nbt.Compound) (string, error) {
	for _, name := range reg.names {
		if nbt.Equal(reg.byName[name], c) {
			return name, nil
		}
	}

	base := fmt.Sprintf("Compound%d", len(reg.names))
	critical := false
	if c.Name != nil {
		base = c.Name.Base
		critical = reg.boxedKeys[c.Name.Key]
	}

	if critical {
		// Boxed back-references already point at this exact name.
		if _, taken := reg.byName[base]; taken {
			return "", fmt.Errorf("%w: recursion-critical name %q already registered with a different shape", ErrInvariant, base)
		}
		reg.register(base, c)
		return base, nil
	}

	name := base
	for i := 2; ; i++ {
		_, taken := reg.byName[name]
		if !taken && !reg.boxedNames[name] {
			break
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
	reg.register(name, c)
	return name, nil
}

// EnsureBoxedTarget registers a root compound under the names of any boxed
// back-references it still carries. A save method that recurses on itself
// leaves a Boxed on the class type row, whose name would otherwise have no
// registry definition to resolve to.
func (reg *NamingRegistry) EnsureBoxedTarget(root *nbt.Compound) {
	for _, f := range root.Flattened {
		if b, ok := f.(nbt.Boxed); ok {
			if _, exists := reg.byName[b.Name]; !exists {
				reg.register(b.Name, root)
			}
		}
	}
}

func (reg *NamingRegistry) register(name string, c *nbt.Compound) {
	reg.names = append(reg.names, name)
	reg.byName[name] = c
}
