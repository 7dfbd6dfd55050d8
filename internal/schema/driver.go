package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mabhi256/nbtspec/internal/classfile"
	"github.com/mabhi256/nbtspec/internal/interp"
	"github.com/mabhi256/nbtspec/internal/jar"
	"github.com/mabhi256/nbtspec/internal/nbt"
)

// Mode selects which save-method family the driver analyzes.
type Mode int

const (
	ModeEntities Mode = iota
	ModeBlockEntities
)

// ArchiveSource adapts the jar loader to the interpreter's class source
// contract: a missing class is (nil, nil), not an error.
type ArchiveSource struct {
	Loader *jar.Loader
}

func (s ArchiveSource) Load(name string) (*classfile.ClassFile, error) {
	cf, err := s.Loader.Load(name)
	if errors.Is(err, jar.ErrClassNotFound) {
		return nil, nil
	}
	return cf, err
}

// Driver iterates the entity list, analyzes every class in each superclass
// chain exactly once, runs the post-processing passes and assembles the
// output document.
type Driver struct {
	Source interp.ClassSource
	Maps   *interp.Mappings
	Warnf  func(format string, args ...any)
}

func (d *Driver) Analyze(input *EntitiesInput, mode Mode) (*Document, error) {
	warnf := d.Warnf
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	mem := interp.NewMemoizer(d.Source, d.Maps, warnf)

	entities := append([]InputEntity(nil), input.Entities...)
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	doc := &Document{}
	analyzed := make(map[string]*nbt.Compound)
	parents := make(map[string]string)
	var order []string

	for _, entity := range entities {
		class := internalName(entity.Class)
		doc.Entities = append(doc.Entities, EntityRow{
			ID:           entity.ID,
			Type:         classfile.SimpleName(class),
			Experimental: entity.Experimental,
		})

		for c := class; c != ""; {
			if _, done := analyzed[c]; done {
				break
			}
			compound, err := d.analyzeClass(mem, c, mode, warnf)
			if err != nil {
				return nil, fmt.Errorf("analyzing %s: %w", c, err)
			}
			analyzed[c] = compound
			order = append(order, c)

			parent := d.parentOf(c, input, mode)
			parents[c] = parent
			c = parent
		}
	}

	// Post-processing runs once everything is analyzed, so the recursion
	// hits of later entities are visible to earlier trees.
	for _, c := range order {
		if err := interp.Flatten(analyzed[c], mem.BoxedKeys()); err != nil {
			return nil, fmt.Errorf("flattening %s: %w", c, err)
		}
	}
	registry := interp.NewNamingRegistry(mem.BoxedKeys(), mem.BoxedNames())
	for _, c := range order {
		if err := registry.NameChildren(analyzed[c]); err != nil {
			return nil, fmt.Errorf("naming %s: %w", c, err)
		}
	}
	for _, c := range order {
		registry.EnsureBoxedTarget(analyzed[c])
	}

	for _, c := range order {
		row := TypeRow{Name: classfile.SimpleName(c), Nbt: analyzed[c]}
		if parent := parents[c]; parent != "" {
			name := classfile.SimpleName(parent)
			row.Parent = &name
		}
		doc.Types = append(doc.Types, row)
	}
	for _, named := range registry.All() {
		doc.CompoundTypes = append(doc.CompoundTypes, CompoundTypeRow{
			Name:     named.Name,
			Compound: named.Compound,
		})
	}

	doc.Sort()
	return doc, nil
}

// analyzeClass runs the class's own save method. Classes without a body of
// their own (or absent from the archive) contribute an empty compound.
func (d *Driver) analyzeClass(mem *interp.Memoizer, class string, mode Mode,
	warnf func(format string, args ...any)) (*nbt.Compound, error) {

	cf, err := d.Source.Load(class)
	if err != nil {
		return nil, err
	}
	if cf == nil {
		warnf("class %s not found in archive", class)
		return nbt.NewCompound(), nil
	}

	method := cf.MethodNamed(d.entryMethodName(class, mode))
	if method == nil || method.Code == nil {
		return nbt.NewCompound(), nil
	}

	params, _, err := classfile.ParseMethodDescriptor(method.Descriptor)
	if err != nil {
		return nil, err
	}
	args := []interp.Value{interp.NewRef(class)}
	for _, p := range params {
		args = append(args, interp.ValueForDescriptor(p))
	}

	ptr := interp.MethodPointer{Class: class, Name: method.Name, Desc: method.Descriptor}
	res, err := mem.Call(ptr, args, false, true)
	if err != nil {
		return nil, err
	}
	for _, elem := range res.ArgsNbt {
		if c, ok := elem.(*nbt.Compound); ok {
			return c, nil
		}
	}
	return nbt.NewCompound(), nil
}

func (d *Driver) entryMethodName(class string, mode Mode) string {
	if mode == ModeBlockEntities {
		return d.Maps.BlockEntitySaveEntry
	}
	if class == d.Maps.EntityClass {
		return d.Maps.SaveWithoutId
	}
	return d.Maps.EntitySaveEntry
}

// parentOf follows the input's superclass map until the framework root. The
// root itself has no parent.
func (d *Driver) parentOf(class string, input *EntitiesInput, mode Mode) string {
	root := d.Maps.EntityClass
	if mode == ModeBlockEntities {
		root = d.Maps.BlockEntityClass
	}
	if class == root {
		return ""
	}
	return internalName(input.Classes[dottedName(class)])
}

func internalName(dotted string) string {
	return strings.ReplaceAll(dotted, ".", "/")
}

func dottedName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}
