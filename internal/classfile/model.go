package classfile

// Access flags (only the ones the analyzer consults)
const (
	AccPublic    = 0x0001
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccSynthetic = 0x1000
)

// ClassFile is a parsed class: constant pool, hierarchy, members and the
// class-level attributes the analyzer needs (bootstrap methods).
type ClassFile struct {
	ConstantPool *ConstantPool

	AccessFlags uint16
	ThisClass   string // internal name, a/b/C
	SuperClass  string // internal name, "" for java/lang/Object
	Interfaces  []string

	Fields  []Field
	Methods []Method

	BootstrapMethods []BootstrapMethod
}

func (cf *ClassFile) IsInterface() bool {
	return cf.AccessFlags&AccInterface != 0
}

func (cf *ClassFile) IsAbstract() bool {
	return cf.AccessFlags&AccAbstract != 0
}

// Method looks up a declared method by name and descriptor.
func (cf *ClassFile) Method(name, desc string) *Method {
	for i := range cf.Methods {
		m := &cf.Methods[i]
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// MethodNamed returns the first declared method with the given name,
// regardless of descriptor.
func (cf *ClassFile) MethodNamed(name string) *Method {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name {
			return &cf.Methods[i]
		}
	}
	return nil
}

type Field struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
}

type Method struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Code        *Code // nil for abstract and native methods
}

func (m *Method) IsStatic() bool {
	return m.AccessFlags&AccStatic != 0
}

func (m *Method) IsAbstract() bool {
	return m.AccessFlags&AccAbstract != 0
}

// Code is a method body: bytecode plus the stack map in absolute form.
type Code struct {
	MaxStack  int
	MaxLocals int
	Bytecode  []byte

	// StackMap holds the StackMapTable frames converted from diff form to
	// absolute offsets and full local/stack lists, in offset order.
	StackMap []StackMapFrame
}

// FrameAt returns the stack map frame declared at the given bytecode
// offset, or nil.
func (c *Code) FrameAt(offset int) *StackMapFrame {
	for i := range c.StackMap {
		if c.StackMap[i].Offset == offset {
			return &c.StackMap[i]
		}
	}
	return nil
}

type StackMapFrame struct {
	Offset int
	Locals []VerificationType
	Stack  []VerificationType
}

// Verification type tags (JVMS 4.7.4)
type VerificationTag byte

const (
	VTTop               VerificationTag = 0
	VTInteger                           = 1
	VTFloat                             = 2
	VTDouble                            = 3
	VTLong                              = 4
	VTNull                              = 5
	VTUninitializedThis                 = 6
	VTObject                            = 7
	VTUninitialized                     = 8
)

type VerificationType struct {
	Tag       VerificationTag
	ClassName string // for VTObject
	Offset    int    // for VTUninitialized: offset of the new instruction
}

// BootstrapMethod is one row of the BootstrapMethods attribute. The handle
// is stored resolved; arguments stay as raw pool indices since their
// interpretation depends on the bootstrap method.
type BootstrapMethod struct {
	RefKind    int
	Class      string
	Name       string
	Descriptor string
	Arguments  []uint16
}
