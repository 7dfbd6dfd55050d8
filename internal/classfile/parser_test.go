package classfile_test

import (
	"testing"

	"github.com/mabhi256/nbtspec/internal/cftest"
	"github.com/mabhi256/nbtspec/internal/classfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMinimalClass(t *testing.T) {
	b := cftest.NewClass("com/example/Foo", "java/lang/Object")
	b.AddInterface("java/io/Serializable")
	b.AddMethod(classfile.AccPublic, "answer", "()I", &cftest.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Bytecode: []byte{
			0x10, 42, // bipush 42
			0xAC, // ireturn
		},
	})

	cf, err := classfile.Parse(b.Bytes())
	require.NoError(t, err)

	assert.Equal(t, "com/example/Foo", cf.ThisClass)
	assert.Equal(t, "java/lang/Object", cf.SuperClass)
	assert.Equal(t, []string{"java/io/Serializable"}, cf.Interfaces)

	m := cf.Method("answer", "()I")
	require.NotNil(t, m)
	require.NotNil(t, m.Code)
	assert.Equal(t, 1, m.Code.MaxStack)
	assert.Equal(t, []byte{0x10, 42, 0xAC}, m.Code.Bytecode)
}

func TestParseBadMagic(t *testing.T) {
	_, err := classfile.Parse([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0})
	assert.Error(t, err)
}

func TestParseStackMapTable(t *testing.T) {
	b := cftest.NewClass("com/example/Branchy", "java/lang/Object")
	b.AddMethod(classfile.AccPublic, "pick", "(I)I", &cftest.Code{
		MaxStack:  1,
		MaxLocals: 2,
		Bytecode: []byte{
			0x1B,       // iload_1
			0x99, 0, 5, // ifeq +5 -> offset 6
			0x04, // iconst_1
			0xAC, // ireturn
			0x03, // offset 6: iconst_0
			0xAC, // ireturn
		},
		Frames: []classfile.StackMapFrame{
			{
				Offset: 6,
				Locals: []classfile.VerificationType{
					cftest.Object("com/example/Branchy"),
					cftest.IntType(),
				},
			},
		},
	})

	cf, err := classfile.Parse(b.Bytes())
	require.NoError(t, err)

	code := cf.Method("pick", "(I)I").Code
	require.Len(t, code.StackMap, 1)
	frame := code.FrameAt(6)
	require.NotNil(t, frame)
	require.Len(t, frame.Locals, 2)
	assert.Equal(t, classfile.VerificationTag(classfile.VTObject), frame.Locals[0].Tag)
	assert.Equal(t, "com/example/Branchy", frame.Locals[0].ClassName)
	assert.Equal(t, classfile.VerificationTag(classfile.VTInteger), frame.Locals[1].Tag)
}

func TestParseBootstrapMethods(t *testing.T) {
	b := cftest.NewClass("com/example/Lambdas", "java/lang/Object")
	implType := b.MethodType("(Ljava/lang/String;)V")
	impl := b.MethodHandle(classfile.RefInvokeStatic, "com/example/Lambdas", "lambda$0", "(Ljava/lang/String;)V")
	bsm := b.AddBootstrapMethod(classfile.RefInvokeStatic,
		"java/lang/invoke/LambdaMetafactory", "metafactory",
		"(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;",
		implType, impl, implType)
	b.InvokeDynamic(bsm, "accept", "()Ljava/util/function/Consumer;")

	cf, err := classfile.Parse(b.Bytes())
	require.NoError(t, err)

	require.Len(t, cf.BootstrapMethods, 1)
	row := cf.BootstrapMethods[0]
	assert.Equal(t, classfile.RefInvokeStatic, row.RefKind)
	assert.Equal(t, "java/lang/invoke/LambdaMetafactory", row.Class)
	assert.Equal(t, "metafactory", row.Name)
	require.Len(t, row.Arguments, 3)

	kind, class, name, desc, err := cf.ConstantPool.MethodHandle(row.Arguments[1])
	require.NoError(t, err)
	assert.Equal(t, classfile.RefInvokeStatic, kind)
	assert.Equal(t, "com/example/Lambdas", class)
	assert.Equal(t, "lambda$0", name)
	assert.Equal(t, "(Ljava/lang/String;)V", desc)
}

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc   string
		params []string
		ret    string
	}{
		{"()V", nil, "V"},
		{"(I)I", []string{"I"}, "I"},
		{"(IJLjava/lang/String;)V", []string{"I", "J", "Ljava/lang/String;"}, "V"},
		{"([[I[Ljava/lang/String;)Ljava/util/List;", []string{"[[I", "[Ljava/lang/String;"}, "Ljava/util/List;"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			params, ret, err := classfile.ParseMethodDescriptor(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.params, params)
			assert.Equal(t, tt.ret, ret)
		})
	}

	for _, bad := range []string{"", "I", "(I", "()"} {
		_, _, err := classfile.ParseMethodDescriptor(bad)
		assert.Error(t, err, "descriptor %q should not parse", bad)
	}
}

func TestSimpleName(t *testing.T) {
	assert.Equal(t, "Zombie", classfile.SimpleName("net/minecraft/world/entity/monster/Zombie"))
	assert.Equal(t, "OuterInner", classfile.SimpleName("a/b/Outer$Inner"))
	assert.Equal(t, "Plain", classfile.SimpleName("Plain"))
}
