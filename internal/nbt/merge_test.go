package nbt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAnyAbsorbs(t *testing.T) {
	got, err := Merge(Any{}, Prim(Int), SameDataSet)
	require.NoError(t, err)
	assert.Equal(t, Prim(Int), got)

	got, err = Merge(Prim(Long), Any{}, SameDataSet)
	require.NoError(t, err)
	assert.Equal(t, Prim(Long), got)
}

func TestMergeSamePrimitive(t *testing.T) {
	got, err := Merge(Prim(Byte), Prim(Byte), SameDataSet)
	require.NoError(t, err)
	assert.Equal(t, Prim(Byte), got)
}

func TestMergeDifferentPrimitivesFails(t *testing.T) {
	_, err := Merge(Prim(Byte), Prim(Int), SameDataSet)
	assert.ErrorIs(t, err, ErrIncompatibleMerge)
}

func TestMergeLists(t *testing.T) {
	a := &List{Inner: Any{}}
	b := &List{Inner: Prim(String)}
	got, err := Merge(a, b, SameDataSet)
	require.NoError(t, err)
	list, ok := got.(*List)
	require.True(t, ok)
	assert.Equal(t, Prim(String), list.Inner)
}

func TestMergeAnyCompoundWithCompound(t *testing.T) {
	c := NewCompound()
	c.SetEntry("a", Entry{Value: Prim(Int)})

	// Structure wins in both argument orders.
	got, err := Merge(AnyCompound{Value: Prim(Int)}, c, SameDataSet)
	require.NoError(t, err)
	assert.Same(t, c, got)

	got, err = Merge(c, AnyCompound{Value: Prim(Int)}, SameDataSet)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestMergeCompoundsKeywise(t *testing.T) {
	a := NewCompound()
	a.SetEntry("x", Entry{Value: Prim(Int)})
	b := NewCompound()
	b.SetEntry("x", Entry{Value: Prim(Int), Optional: true})
	b.SetEntry("y", Entry{Value: Prim(String)})

	got, err := Merge(a, b, SameDataSet)
	require.NoError(t, err)
	merged := got.(*Compound)
	assert.Equal(t, []string{"x", "y"}, merged.Keys())

	x, _ := merged.Entry("x")
	assert.True(t, x.Optional, "required XOR optional should stay optional")
	y, _ := merged.Entry("y")
	assert.Equal(t, Prim(String), y.Value)
}

func TestMergeBoxedMismatchFails(t *testing.T) {
	_, err := Merge(Boxed{Name: "A"}, Boxed{Name: "B"}, SameDataSet)
	assert.ErrorIs(t, err, ErrIncompatibleMerge)

	got, err := Merge(Boxed{Name: "A"}, Boxed{Name: "A"}, SameDataSet)
	require.NoError(t, err)
	assert.Equal(t, Boxed{Name: "A"}, got)
}

func TestMergeEitherKeepsKnownSides(t *testing.T) {
	e := Either{Left: Prim(Int), Right: Prim(String)}
	got, err := Merge(e, Prim(String), SameDataSet)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = Merge(e, Prim(Long), SameDataSet)
	assert.ErrorIs(t, err, ErrIncompatibleMerge)
}

func TestPutOptionalityXOR(t *testing.T) {
	// if (c) put(k, x) else put(k, y): two optional writes in the same data
	// set cancel to a required entry.
	c := NewCompound()
	require.NoError(t, c.Put("k", Entry{Value: Prim(Int), Optional: true}, SameDataSet))
	require.NoError(t, c.Put("k", Entry{Value: Prim(Int), Optional: true}, SameDataSet))
	entry, ok := c.Entry("k")
	require.True(t, ok)
	assert.False(t, entry.Optional)
}

func TestPutOptionalityDifferentDataSet(t *testing.T) {
	c := NewCompound()
	require.NoError(t, c.Put("k", Entry{Value: Prim(Int), Optional: true}, DifferentDataSet))
	require.NoError(t, c.Put("k", Entry{Value: Prim(Int), Optional: true}, DifferentDataSet))
	entry, _ := c.Entry("k")
	assert.True(t, entry.Optional)
}

func TestMergeCommutativeModuloOptionality(t *testing.T) {
	mk := func() (*Compound, *Compound) {
		a := NewCompound()
		a.SetEntry("k", Entry{Value: Prim(Int)})
		a.SetEntry("a", Entry{Value: Prim(String)})
		b := NewCompound()
		b.SetEntry("k", Entry{Value: Prim(Int), Optional: true})
		b.SetEntry("b", Entry{Value: Prim(Long)})
		return a, b
	}

	a1, b1 := mk()
	ab, err := Merge(a1, b1, SameDataSet)
	require.NoError(t, err)
	a2, b2 := mk()
	ba, err := Merge(b2, a2, SameDataSet)
	require.NoError(t, err)

	abC, baC := ab.(*Compound), ba.(*Compound)
	assert.ElementsMatch(t, abC.Keys(), baC.Keys())
	for _, key := range abC.Keys() {
		left, _ := abC.Entry(key)
		right, _ := baC.Entry(key)
		assert.True(t, Equal(left.Value, right.Value), "value mismatch for %q", key)
		assert.Equal(t, left.Optional, right.Optional, "optionality mismatch for %q", key)
	}
}

func TestEncompassIdempotent(t *testing.T) {
	elems := []Element{
		Prim(Int),
		Prim(String),
		&List{Inner: Prim(Byte)},
		AnyCompound{Value: Prim(Int)},
		Boxed{Name: "X"},
		NestedEntity{},
	}
	for _, e := range elems {
		assert.True(t, Equal(Encompass(e, e), e), "encompass(%s, same) changed", DebugString(e))
	}
}

func TestEncompassWidens(t *testing.T) {
	assert.True(t, Equal(Encompass(Prim(Int), Prim(Long)), Any{}))
	assert.True(t, Equal(Encompass(nil, Prim(Int)), Prim(Int)))

	got := Encompass(&List{Inner: Prim(Int)}, &List{Inner: Prim(Int)})
	assert.True(t, Equal(got, &List{Inner: Prim(Int)}))
}

func TestEncompassCollapsesCompounds(t *testing.T) {
	c := NewCompound()
	c.SetEntry("a", Entry{Value: Prim(Int)})
	c.SetEntry("b", Entry{Value: Prim(Int)})

	got := Encompass(c, AnyCompound{Value: nil})
	ac, ok := got.(AnyCompound)
	require.True(t, ok)
	assert.True(t, Equal(ac.Value, Prim(Int)))
}

func TestCloneIsolation(t *testing.T) {
	c := NewCompound()
	c.SetEntry("a", Entry{Value: &List{Inner: Prim(Int)}})
	inner := NewCompound()
	inner.SetEntry("x", Entry{Value: Prim(Byte)})
	c.Flattened = append(c.Flattened, inner)

	cloned := Clone(c).(*Compound)
	assert.True(t, Equal(c, cloned))

	cloned.SetEntry("b", Entry{Value: Prim(String)})
	cloned.Flattened[0].(*Compound).SetEntry("y", Entry{Value: Prim(Int)})

	_, ok := c.Entry("b")
	assert.False(t, ok, "clone mutation leaked into original")
	assert.Equal(t, 1, c.Flattened[0].(*Compound).Len())
}
