package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/nbtspec/internal/cftest"
	"github.com/mabhi256/nbtspec/internal/classfile"
	"github.com/mabhi256/nbtspec/internal/nbt"
)

const (
	compoundTag  = "net/minecraft/nbt/CompoundTag"
	compoundDesc = "L" + compoundTag + ";"
	listTag      = "net/minecraft/nbt/ListTag"
)

// mapSource serves classes assembled by cftest.
type mapSource map[string][]byte

func (s mapSource) Load(name string) (*classfile.ClassFile, error) {
	data, ok := s[name]
	if !ok {
		return nil, nil
	}
	return classfile.Parse(data)
}

func newTestMemoizer(t *testing.T, source mapSource) *Memoizer {
	t.Helper()
	return NewMemoizer(source, DefaultMappings(), func(format string, args ...any) {
		t.Logf("warn: "+format, args...)
	})
}

// analyzeSave runs the save method of the given class with a receiver and
// one compound argument, returning the compound's schema after flattening.
func analyzeSave(t *testing.T, m *Memoizer, class, desc string, extraArgs ...Value) *nbt.Compound {
	t.Helper()
	ptr := MethodPointer{Class: class, Name: "save", Desc: desc}
	args := append([]Value{NewRef(class), NewRef(compoundTag)}, extraArgs...)

	res, err := m.Call(ptr, args, false, true)
	require.NoError(t, err)
	require.Equal(t, 0, m.ActiveDepth(), "call stack must drain")

	require.NotNil(t, res.ArgsNbt[1])
	compound, ok := res.ArgsNbt[1].(*nbt.Compound)
	require.True(t, ok, "expected compound schema, got %s", nbt.DebugString(res.ArgsNbt[1]))
	require.NoError(t, Flatten(compound, m.BoxedKeys()))
	return compound
}

func requireEntry(t *testing.T, c *nbt.Compound, key string, want nbt.Element, optional bool) {
	t.Helper()
	entry, ok := c.Entry(key)
	require.True(t, ok, "missing entry %q (have %v)", key, c.Keys())
	assert.True(t, nbt.Equal(entry.Value, want),
		"entry %q: want %s, got %s", key, nbt.DebugString(want), nbt.DebugString(entry.Value))
	assert.Equal(t, optional, entry.Optional, "entry %q optionality", key)
}

// Scenario: unconditional primitive puts.
func TestPrimitivePuts(t *testing.T) {
	b := cftest.NewClass("com/example/Foo", "java/lang/Object")
	keyA := b.StringConst("a")
	keyB := b.StringConst("b")
	valX := b.StringConst("x")
	putInt := b.Methodref(compoundTag, "putInt", "(Ljava/lang/String;I)V")
	putString := b.Methodref(compoundTag, "putString", "(Ljava/lang/String;Ljava/lang/String;)V")

	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+")V", &cftest.Code{
		MaxStack:  3,
		MaxLocals: 2,
		Bytecode: []byte{
			0x2B,                // aload_1
			0x12, byte(keyA),    // ldc "a"
			0x04,                // iconst_1
			0xB6, 0, byte(putInt), // invokevirtual putInt
			0x2B,                 // aload_1
			0x12, byte(keyB),     // ldc "b"
			0x12, byte(valX),     // ldc "x"
			0xB6, 0, byte(putString), // invokevirtual putString
			0xB1, // return
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Foo": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Foo", "("+compoundDesc+")V")

	assert.Equal(t, []string{"a", "b"}, c.Keys())
	requireEntry(t, c, "a", nbt.Prim(nbt.Int), false)
	requireEntry(t, c, "b", nbt.Prim(nbt.String), false)
	assert.Nil(t, c.UnknownKeys)
	assert.Empty(t, c.Flattened)
}

// Scenario: a put behind a conditional is optional.
func TestConditionalPut(t *testing.T) {
	b := cftest.NewClass("com/example/Cond", "java/lang/Object")
	keyC := b.StringConst("c")
	putByte := b.Methodref(compoundTag, "putByte", "(Ljava/lang/String;B)V")

	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+"Z)V", &cftest.Code{
		MaxStack:  3,
		MaxLocals: 3,
		Bytecode: []byte{
			0x1C,             // 0: iload_2
			0x99, 0, 10,      // 1: ifeq -> 11
			0x2B,             // 4: aload_1
			0x12, byte(keyC), // 5: ldc "c"
			0x03,             // 7: iconst_0
			0xB6, 0, byte(putByte), // 8: invokevirtual putByte
			0xB1, // 11: return
		},
		Frames: []classfile.StackMapFrame{
			{
				Offset: 11,
				Locals: []classfile.VerificationType{
					cftest.Object("com/example/Cond"),
					cftest.Object(compoundTag),
					cftest.IntType(),
				},
			},
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Cond": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Cond", "("+compoundDesc+"Z)V", NewPrimValue(KindInt))

	requireEntry(t, c, "c", nbt.Prim(nbt.Byte), true)
}

// Scenario: both branch arms writing the same key cancel to required.
func TestBranchBothSidesWriteSameKey(t *testing.T) {
	b := cftest.NewClass("com/example/Both", "java/lang/Object")
	keyK := b.StringConst("k")
	putInt := b.Methodref(compoundTag, "putInt", "(Ljava/lang/String;I)V")

	locals := []classfile.VerificationType{
		cftest.Object("com/example/Both"),
		cftest.Object(compoundTag),
		cftest.IntType(),
	}
	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+"Z)V", &cftest.Code{
		MaxStack:  3,
		MaxLocals: 3,
		Bytecode: []byte{
			0x1C,             // 0: iload_2
			0x99, 0, 13,      // 1: ifeq -> 14
			0x2B,             // 4: aload_1
			0x12, byte(keyK), // 5: ldc "k"
			0x04,             // 7: iconst_1
			0xB6, 0, byte(putInt), // 8: invokevirtual putInt
			0xA7, 0, 10,      // 11: goto -> 21
			0x2B,             // 14: aload_1
			0x12, byte(keyK), // 15: ldc "k"
			0x05,             // 17: iconst_2
			0xB6, 0, byte(putInt), // 18: invokevirtual putInt
			0xB1, // 21: return
		},
		Frames: []classfile.StackMapFrame{
			{Offset: 14, Locals: locals},
			{Offset: 21, Locals: locals},
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Both": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Both", "("+compoundDesc+"Z)V", NewPrimValue(KindInt))

	requireEntry(t, c, "k", nbt.Prim(nbt.Int), false)
}

// Scenario: a subcall writing into the same compound merges in via the
// flattened channel.
func TestSubcallWritesSameCompound(t *testing.T) {
	helper := cftest.NewClass("com/example/Helper", "java/lang/Object")
	keyID := helper.StringConst("id")
	longSeven := helper.Long(7)
	putLong := helper.Methodref(compoundTag, "putLong", "(Ljava/lang/String;J)V")
	helper.AddMethod(classfile.AccPublic|classfile.AccStatic, "bar", "("+compoundDesc+")V", &cftest.Code{
		MaxStack:  4,
		MaxLocals: 1,
		Bytecode: []byte{
			0x2A,                  // aload_0
			0x12, byte(keyID),     // ldc "id"
			0x14, 0, byte(longSeven), // ldc2_w 7L
			0xB6, 0, byte(putLong),   // invokevirtual putLong
			0xB1, // return
		},
	})

	outer := cftest.NewClass("com/example/Outer", "java/lang/Object")
	bar := outer.Methodref("com/example/Helper", "bar", "("+compoundDesc+")V")
	outer.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+")V", &cftest.Code{
		MaxStack:  1,
		MaxLocals: 2,
		Bytecode: []byte{
			0x2B,             // aload_1
			0xB8, 0, byte(bar), // invokestatic Helper.bar
			0xB1, // return
		},
	})

	m := newTestMemoizer(t, mapSource{
		"com/example/Helper": helper.Bytes(),
		"com/example/Outer":  outer.Bytes(),
	})
	c := analyzeSave(t, m, "com/example/Outer", "("+compoundDesc+")V")

	requireEntry(t, c, "id", nbt.Prim(nbt.Long), false)
	assert.Empty(t, c.Flattened, "non-recursive subcall compounds are inlined")
}

// Scenario: self-recursion is broken with a boxed back-reference.
func TestRecursionProducesBoxed(t *testing.T) {
	b := cftest.NewClass("com/example/Rec", "java/lang/Object")
	save := b.Methodref("com/example/Rec", "save", "("+compoundDesc+")V")
	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+")V", &cftest.Code{
		MaxStack:  2,
		MaxLocals: 2,
		Bytecode: []byte{
			0x2A,              // aload_0
			0x2B,              // aload_1
			0xB6, 0, byte(save), // invokevirtual Rec.save
			0xB1, // return
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Rec": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Rec", "("+compoundDesc+")V")

	assert.NotEmpty(t, m.BoxedKeys())
	assert.True(t, m.BoxedNames()["Rec_save"])
	require.Len(t, c.Flattened, 1)
	assert.True(t, nbt.Equal(c.Flattened[0], nbt.Boxed{Name: "Rec_save"}))
}

// Scenario: a lambda under Optional.ifPresent records optional writes.
func TestLambdaUnderIfPresent(t *testing.T) {
	b := cftest.NewClass("com/example/Lam", "java/lang/Object")
	keyS := b.StringConst("s")
	putString := b.Methodref(compoundTag, "putString", "(Ljava/lang/String;Ljava/lang/String;)V")

	// static synthetic lambda body: (tag, v) -> tag.putString("s", v)
	b.AddMethod(classfile.AccStatic|classfile.AccSynthetic, "lambda$save$0",
		"("+compoundDesc+"Ljava/lang/String;)V", &cftest.Code{
			MaxStack:  3,
			MaxLocals: 2,
			Bytecode: []byte{
				0x2A,             // aload_0
				0x12, byte(keyS), // ldc "s"
				0x2B,             // aload_1
				0xB6, 0, byte(putString), // invokevirtual putString
				0xB1, // return
			},
		})

	samType := b.MethodType("(Ljava/lang/Object;)V")
	impl := b.MethodHandle(classfile.RefInvokeStatic, "com/example/Lam",
		"lambda$save$0", "("+compoundDesc+"Ljava/lang/String;)V")
	instantiated := b.MethodType("(Ljava/lang/String;)V")
	bsm := b.AddBootstrapMethod(classfile.RefInvokeStatic,
		"java/lang/invoke/LambdaMetafactory", "metafactory",
		"(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;",
		samType, impl, instantiated)
	indy := b.InvokeDynamic(bsm, "accept", "("+compoundDesc+")Ljava/util/function/Consumer;")
	ifPresent := b.Methodref("java/util/Optional", "ifPresent", "(Ljava/util/function/Consumer;)V")

	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+"Ljava/util/Optional;)V", &cftest.Code{
		MaxStack:  2,
		MaxLocals: 3,
		Bytecode: []byte{
			0x2C,                    // aload_2 (optional)
			0x2B,                    // aload_1 (captured tag)
			0xBA, 0, byte(indy), 0, 0, // invokedynamic
			0xB6, 0, byte(ifPresent), // invokevirtual ifPresent
			0xB1, // return
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Lam": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Lam", "("+compoundDesc+"Ljava/util/Optional;)V",
		NewRef("java/util/Optional"))

	requireEntry(t, c, "s", nbt.Prim(nbt.String), true)
}

// A list add merges the element type into the list's inner schema.
func TestListAdd(t *testing.T) {
	b := cftest.NewClass("com/example/Lister", "java/lang/Object")
	keyItems := b.StringConst("Items")
	newList := b.Methodref(listTag, "<init>", "()V")
	listClass := b.Class(listTag)
	add := b.Methodref(listTag, "add", "(Ljava/lang/Object;)Z")
	newDouble := b.Methodref("net/minecraft/nbt/DoubleTag", "valueOf", "(D)Lnet/minecraft/nbt/DoubleTag;")
	put := b.Methodref(compoundTag, "put",
		"(Ljava/lang/String;Lnet/minecraft/nbt/Tag;)Lnet/minecraft/nbt/Tag;")

	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+")V", &cftest.Code{
		MaxStack:  4,
		MaxLocals: 3,
		Bytecode: []byte{
			0xBB, 0, byte(listClass), // new ListTag
			0x59,                   // dup
			0xB7, 0, byte(newList), // invokespecial <init>
			0x4D,                   // astore_2
			0x2C,                   // aload_2
			0x0F,                   // dconst_1
			0xB8, 0, byte(newDouble), // invokestatic DoubleTag.valueOf
			0xB6, 0, byte(add),     // invokevirtual ListTag.add
			0x57,                   // pop (boolean result)
			0x2B,                   // aload_1
			0x12, byte(keyItems),   // ldc "Items"
			0x2C,                   // aload_2
			0xB6, 0, byte(put),     // invokevirtual put
			0x57,                   // pop (returned Tag)
			0xB1,                   // return
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Lister": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Lister", "("+compoundDesc+")V")

	entry, ok := c.Entry("Items")
	require.True(t, ok)
	assert.False(t, entry.Optional)
	assert.True(t, nbt.Equal(entry.Value, &nbt.List{Inner: nbt.Prim(nbt.Double)}),
		"got %s", nbt.DebugString(entry.Value))
}

// Keys read out of a known string array fan out into one entry per slot:
// arr[0]="x"; arr[1]="y"; tag.putInt(arr[i], 5) with i unknown.
func TestStringArrayKeyFanOut(t *testing.T) {
	b := cftest.NewClass("com/example/Fan", "java/lang/Object")
	strClass := b.Class("java/lang/String")
	keyX := b.StringConst("x")
	keyY := b.StringConst("y")
	putInt := b.Methodref(compoundTag, "putInt", "(Ljava/lang/String;I)V")

	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+"I)V", &cftest.Code{
		MaxStack:  4,
		MaxLocals: 4,
		Bytecode: []byte{
			0x05,                    // iconst_2
			0xBD, 0, byte(strClass), // anewarray String
			0x4E,             // astore_3
			0x2D,             // aload_3
			0x03,             // iconst_0
			0x12, byte(keyX), // ldc "x"
			0x53,             // aastore
			0x2D,             // aload_3
			0x04,             // iconst_1
			0x12, byte(keyY), // ldc "y"
			0x53,             // aastore
			0x2B,             // aload_1
			0x2D,             // aload_3
			0x1C,             // iload_2 (unknown index)
			0x32,             // aaload
			0x08,             // iconst_5
			0xB6, 0, byte(putInt), // invokevirtual putInt
			0xB1, // return
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Fan": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Fan", "("+compoundDesc+"I)V", NewPrimValue(KindInt))

	requireEntry(t, c, "x", nbt.Prim(nbt.Int), false)
	requireEntry(t, c, "y", nbt.Prim(nbt.Int), false)
}

// Writes with statically unknown keys land in the unknown-keys channel.
func TestUnknownKeyGoesToUnknownKeys(t *testing.T) {
	b := cftest.NewClass("com/example/Unk", "java/lang/Object")
	putInt := b.Methodref(compoundTag, "putInt", "(Ljava/lang/String;I)V")

	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+"Ljava/lang/String;)V", &cftest.Code{
		MaxStack:  3,
		MaxLocals: 3,
		Bytecode: []byte{
			0x2B,                  // aload_1
			0x2C,                  // aload_2 (unknown key)
			0x04,                  // iconst_1
			0xB6, 0, byte(putInt), // invokevirtual putInt
			0xB1, // return
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Unk": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Unk", "("+compoundDesc+"Ljava/lang/String;)V",
		NewRef("java/lang/String"))

	assert.Equal(t, 0, c.Len())
	assert.True(t, nbt.Equal(c.UnknownKeys, nbt.Prim(nbt.Int)))
}

// Memo keys are invariant under attached NBT: two calls with differently
// tagged but identically shaped arguments hit the same cache entry.
func TestMemoKeyInvariantUnderTags(t *testing.T) {
	ptr := MethodPointer{Class: "a/B", Name: "m", Desc: "(" + compoundDesc + ")V"}

	tagged := &Tagged{Class: compoundTag, Nbt: nbt.NewCompound(), OptionalUntil: 17}
	plain := NewRef(compoundTag)

	withTag := &MethodCall{Ptr: ptr, Args: untypeAll([]Value{tagged})}
	withPlain := &MethodCall{Ptr: ptr, Args: untypeAll([]Value{plain})}
	assert.Equal(t, withTag.Key(), withPlain.Key())

	other := &MethodCall{Ptr: ptr, Args: untypeAll([]Value{plain}), OverrideOptional: true}
	assert.NotEqual(t, withPlain.Key(), other.Key())
}

func TestUnsafeReentryFails(t *testing.T) {
	maps := DefaultMappings()
	b := cftest.NewClass("com/example/Bad", "java/lang/Object")
	saveWithoutId := b.Methodref(maps.EntityClass, maps.SaveWithoutId,
		"("+compoundDesc+")"+compoundDesc)
	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+")V", &cftest.Code{
		MaxStack:  2,
		MaxLocals: 2,
		Bytecode: []byte{
			0x2A,                       // aload_0
			0x2B,                       // aload_1
			0xB6, 0, byte(saveWithoutId), // invokevirtual Entity.saveWithoutId
			0x57,                       // pop
			0xB1,                       // return
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Bad": b.Bytes()})
	ptr := MethodPointer{Class: "com/example/Bad", Name: "save", Desc: "(" + compoundDesc + ")V"}
	_, err := m.Call(ptr, []Value{NewRef("com/example/Bad"), NewRef(compoundTag)}, false, true)
	assert.ErrorIs(t, err, ErrUnsafeReentry)
}

// saveAsPassenger pins the nested entity back-reference.
func TestSaveAsPassenger(t *testing.T) {
	maps := DefaultMappings()
	b := cftest.NewClass("com/example/Veh", "java/lang/Object")
	keyP := b.StringConst("Passenger")
	compoundClass := b.Class(compoundTag)
	ctInit := b.Methodref(compoundTag, "<init>", "()V")
	saveAsPassenger := b.Methodref(maps.EntityClass, maps.SaveAsPassenger, "("+compoundDesc+")Z")
	put := b.Methodref(compoundTag, "put",
		"(Ljava/lang/String;Lnet/minecraft/nbt/Tag;)Lnet/minecraft/nbt/Tag;")

	b.AddMethod(classfile.AccPublic, "save", "("+compoundDesc+")V", &cftest.Code{
		MaxStack:  4,
		MaxLocals: 3,
		Bytecode: []byte{
			0xBB, 0, byte(compoundClass), // new CompoundTag
			0x59,                   // dup
			0xB7, 0, byte(ctInit),  // invokespecial <init>
			0x4D,                   // astore_2
			0x2A,                   // aload_0 (stand-in entity receiver)
			0x2C,                   // aload_2
			0xB6, 0, byte(saveAsPassenger), // invokevirtual saveAsPassenger
			0x57,                 // pop (boolean)
			0x2B,                 // aload_1
			0x12, byte(keyP),     // ldc "Passenger"
			0x2C,                 // aload_2
			0xB6, 0, byte(put),   // invokevirtual put
			0x57,                 // pop
			0xB1,                 // return
		},
	})

	m := newTestMemoizer(t, mapSource{"com/example/Veh": b.Bytes()})
	c := analyzeSave(t, m, "com/example/Veh", "("+compoundDesc+")V")

	requireEntry(t, c, "Passenger", nbt.NestedEntity{}, false)
}
