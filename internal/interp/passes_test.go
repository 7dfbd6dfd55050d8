package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/nbtspec/internal/nbt"
)

func TestFlattenInlinesNonCritical(t *testing.T) {
	parent := nbt.NewCompound()
	parent.SetEntry("a", nbt.Entry{Value: nbt.Prim(nbt.Int)})

	child := nbt.NewCompound()
	child.SetEntry("b", nbt.Entry{Value: nbt.Prim(nbt.String), Optional: true})
	child.Name = &nbt.NameSource{Key: "k1", Base: "Child_save"}
	parent.Flattened = append(parent.Flattened, child)

	require.NoError(t, Flatten(parent, map[string]bool{}))

	assert.Equal(t, []string{"a", "b"}, parent.Keys())
	entry, _ := parent.Entry("b")
	assert.True(t, entry.Optional)
	assert.Empty(t, parent.Flattened)
}

func TestFlattenKeepsRecursionCritical(t *testing.T) {
	parent := nbt.NewCompound()
	child := nbt.NewCompound()
	child.SetEntry("b", nbt.Entry{Value: nbt.Prim(nbt.String)})
	child.Name = &nbt.NameSource{Key: "k1", Base: "Child_save"}
	parent.Flattened = append(parent.Flattened, child, nbt.Boxed{Name: "Child_save"})

	require.NoError(t, Flatten(parent, map[string]bool{"k1": true}))

	require.Len(t, parent.Flattened, 2)
	assert.Same(t, child, parent.Flattened[0])
	assert.True(t, nbt.Equal(parent.Flattened[1], nbt.Boxed{Name: "Child_save"}))
	assert.Equal(t, 0, parent.Len())
}

func TestFlattenTransitive(t *testing.T) {
	// grandchild flattened into child flattened into parent
	parent := nbt.NewCompound()
	child := nbt.NewCompound()
	grandchild := nbt.NewCompound()
	grandchild.SetEntry("deep", nbt.Entry{Value: nbt.Prim(nbt.Long)})
	child.Flattened = append(child.Flattened, grandchild)
	parent.Flattened = append(parent.Flattened, child)

	require.NoError(t, Flatten(parent, map[string]bool{}))

	entry, ok := parent.Entry("deep")
	require.True(t, ok)
	assert.True(t, nbt.Equal(entry.Value, nbt.Prim(nbt.Long)))
	assert.Empty(t, parent.Flattened)
}

func TestNamingReplacesChildCompounds(t *testing.T) {
	root := nbt.NewCompound()
	child := nbt.NewCompound()
	child.SetEntry("x", nbt.Entry{Value: nbt.Prim(nbt.Int)})
	child.Name = &nbt.NameSource{Key: "k1", Base: "Pos_save"}
	root.SetEntry("Pos", nbt.Entry{Value: child})

	reg := NewNamingRegistry(map[string]bool{}, map[string]bool{})
	require.NoError(t, reg.NameChildren(root))

	entry, _ := root.Entry("Pos")
	assert.True(t, nbt.Equal(entry.Value, nbt.Named{Name: "Pos_save"}))

	registered, ok := reg.Lookup("Pos_save")
	require.True(t, ok)
	assert.Same(t, child, registered)
}

func TestNamingDeduplicatesStructuralMatches(t *testing.T) {
	mk := func(base string) *nbt.Compound {
		c := nbt.NewCompound()
		c.SetEntry("x", nbt.Entry{Value: nbt.Prim(nbt.Int)})
		c.Name = &nbt.NameSource{Key: base, Base: base}
		return c
	}
	root := nbt.NewCompound()
	root.SetEntry("first", nbt.Entry{Value: mk("Vec_save")})
	root.SetEntry("second", nbt.Entry{Value: mk("Other_save")})

	reg := NewNamingRegistry(map[string]bool{}, map[string]bool{})
	require.NoError(t, reg.NameChildren(root))

	first, _ := root.Entry("first")
	second, _ := root.Entry("second")
	// identical shapes collapse onto the first registered name
	assert.True(t, nbt.Equal(first.Value, second.Value))
	assert.Len(t, reg.All(), 1)
}

func TestNamingSuffixesCollisions(t *testing.T) {
	mk := func(key string, kind nbt.PrimKind) *nbt.Compound {
		c := nbt.NewCompound()
		c.SetEntry(key, nbt.Entry{Value: nbt.Prim(kind)})
		c.Name = &nbt.NameSource{Key: key, Base: "Same_save"}
		return c
	}
	root := nbt.NewCompound()
	root.SetEntry("first", nbt.Entry{Value: mk("x", nbt.Int)})
	root.SetEntry("second", nbt.Entry{Value: mk("y", nbt.Long)})

	reg := NewNamingRegistry(map[string]bool{}, map[string]bool{})
	require.NoError(t, reg.NameChildren(root))

	first, _ := root.Entry("first")
	second, _ := root.Entry("second")
	assert.True(t, nbt.Equal(first.Value, nbt.Named{Name: "Same_save"}))
	assert.True(t, nbt.Equal(second.Value, nbt.Named{Name: "Same_save2"}))
}

func TestNamingCollapsesDegenerateCompounds(t *testing.T) {
	root := nbt.NewCompound()

	// a compound with nothing but unknown keys becomes AnyCompound
	unknownOnly := nbt.NewCompound()
	unknownOnly.UnknownKeys = nbt.Prim(nbt.Int)
	root.SetEntry("records", nbt.Entry{Value: unknownOnly})

	// a compound that just forwards one flattened member is that member
	forwarder := nbt.NewCompound()
	inner := nbt.NewCompound()
	inner.SetEntry("x", nbt.Entry{Value: nbt.Prim(nbt.Byte)})
	inner.Name = &nbt.NameSource{Key: "k", Base: "Inner_save"}
	forwarder.Flattened = append(forwarder.Flattened, inner)
	root.SetEntry("fwd", nbt.Entry{Value: forwarder})

	reg := NewNamingRegistry(map[string]bool{}, map[string]bool{})
	require.NoError(t, reg.NameChildren(root))

	records, _ := root.Entry("records")
	assert.True(t, nbt.Equal(records.Value, nbt.AnyCompound{Value: nbt.Prim(nbt.Int)}))

	fwd, _ := root.Entry("fwd")
	assert.True(t, nbt.Equal(fwd.Value, nbt.Named{Name: "Inner_save"}))
}

func TestNamingKeepsExactNameForRecursionCritical(t *testing.T) {
	root := nbt.NewCompound()
	rec := nbt.NewCompound()
	rec.SetEntry("x", nbt.Entry{Value: nbt.Prim(nbt.Int)})
	rec.Name = &nbt.NameSource{Key: "reckey", Base: "Rec_save"}
	rec.Flattened = append(rec.Flattened, nbt.Boxed{Name: "Rec_save"})
	root.SetEntry("r", nbt.Entry{Value: rec})

	reg := NewNamingRegistry(map[string]bool{"reckey": true}, map[string]bool{"Rec_save": true})
	require.NoError(t, reg.NameChildren(root))

	entry, _ := root.Entry("r")
	assert.True(t, nbt.Equal(entry.Value, nbt.Named{Name: "Rec_save"}))
	registered, ok := reg.Lookup("Rec_save")
	require.True(t, ok)
	// the boxed back-reference inside the definition points at itself
	assert.True(t, nbt.Equal(registered.Flattened[0], nbt.Boxed{Name: "Rec_save"}))
}

func TestApplyToForcesOptionalInsideBranchScope(t *testing.T) {
	delta := nbt.NewCompound()
	delta.SetEntry("a", nbt.Entry{Value: nbt.Prim(nbt.Int)})
	res := &CallResult{ArgsNbt: []nbt.Element{delta}}

	// caller still inside a branch scope: pc 5 < OptionalUntil 10
	live := &Tagged{Class: "net/minecraft/nbt/CompoundTag", Nbt: nbt.NewCompound(), OptionalUntil: 10}
	require.NoError(t, res.ApplyTo([]Value{live}, 5))

	flattened := live.Nbt.(*nbt.Compound).Flattened
	require.Len(t, flattened, 1)
	entry, _ := flattened[0].(*nbt.Compound).Entry("a")
	assert.True(t, entry.Optional)

	// outside the scope the delta applies verbatim, and is cloned
	live2 := &Tagged{Class: "net/minecraft/nbt/CompoundTag", Nbt: nbt.NewCompound()}
	require.NoError(t, res.ApplyTo([]Value{live2}, 50))
	flattened2 := live2.Nbt.(*nbt.Compound).Flattened
	require.Len(t, flattened2, 1)
	entry2, _ := flattened2[0].(*nbt.Compound).Entry("a")
	assert.False(t, entry2.Optional)
	assert.NotSame(t, delta, flattened2[0], "cached delta must not be shared")
}
