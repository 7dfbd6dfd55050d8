package classfile

import (
	"fmt"
	"math"
)

type ConstTag byte

const (
	ConstUtf8               ConstTag = 1
	ConstInteger                     = 3
	ConstFloat                       = 4
	ConstLong                        = 5
	ConstDouble                      = 6
	ConstClass                       = 7
	ConstString                      = 8
	ConstFieldref                    = 9
	ConstMethodref                   = 10
	ConstInterfaceMethodref          = 11
	ConstNameAndType                 = 12
	ConstMethodHandle                = 15
	ConstMethodType                  = 16
	ConstDynamic                     = 17
	ConstInvokeDynamic               = 18
	ConstModule                      = 19
	ConstPackage                     = 20
)

func (t ConstTag) String() string {
	switch t {
	case ConstUtf8:
		return "Utf8"
	case ConstInteger:
		return "Integer"
	case ConstFloat:
		return "Float"
	case ConstLong:
		return "Long"
	case ConstDouble:
		return "Double"
	case ConstClass:
		return "Class"
	case ConstString:
		return "String"
	case ConstFieldref:
		return "Fieldref"
	case ConstMethodref:
		return "Methodref"
	case ConstInterfaceMethodref:
		return "InterfaceMethodref"
	case ConstNameAndType:
		return "NameAndType"
	case ConstMethodHandle:
		return "MethodHandle"
	case ConstMethodType:
		return "MethodType"
	case ConstDynamic:
		return "Dynamic"
	case ConstInvokeDynamic:
		return "InvokeDynamic"
	case ConstModule:
		return "Module"
	case ConstPackage:
		return "Package"
	default:
		return fmt.Sprintf("ConstTag(%d)", byte(t))
	}
}

// Method handle reference kinds (JVMS table 5.4.3.5-A). Only invokeStatic is
// inspected by the lambda extraction.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

// constant is one pool slot. Long and Double occupy two slots; the second
// slot has tag 0 and is never referenced.
type constant struct {
	Tag ConstTag

	Str    string  // Utf8
	Int    int64   // Integer, Long; also ref kind for MethodHandle
	Float  float64 // Float, Double
	Index1 uint16  // Class→name, String→utf8, refs→class, NameAndType→name, MethodHandle→ref, dyns→bootstrap
	Index2 uint16  // refs→nameAndType, NameAndType→descriptor, dyns→nameAndType
}

// ConstantPool is the parsed constant pool, addressed with the class file's
// 1-based indices.
type ConstantPool struct {
	entries []constant
}

func (cp *ConstantPool) at(index uint16) (*constant, error) {
	if index == 0 || int(index) >= len(cp.entries) {
		return nil, fmt.Errorf("constant pool index %d out of range (size %d)", index, len(cp.entries))
	}
	return &cp.entries[index], nil
}

func (cp *ConstantPool) Tag(index uint16) ConstTag {
	if index == 0 || int(index) >= len(cp.entries) {
		return 0
	}
	return cp.entries[index].Tag
}

func (cp *ConstantPool) Utf8(index uint16) (string, error) {
	c, err := cp.at(index)
	if err != nil {
		return "", err
	}
	if c.Tag != ConstUtf8 {
		return "", fmt.Errorf("constant %d is %s, expected Utf8", index, c.Tag)
	}
	return c.Str, nil
}

// ClassName resolves a Class constant to its internal name (a/b/C).
func (cp *ConstantPool) ClassName(index uint16) (string, error) {
	c, err := cp.at(index)
	if err != nil {
		return "", err
	}
	if c.Tag != ConstClass {
		return "", fmt.Errorf("constant %d is %s, expected Class", index, c.Tag)
	}
	return cp.Utf8(c.Index1)
}

func (cp *ConstantPool) NameAndType(index uint16) (name, desc string, err error) {
	c, err := cp.at(index)
	if err != nil {
		return "", "", err
	}
	if c.Tag != ConstNameAndType {
		return "", "", fmt.Errorf("constant %d is %s, expected NameAndType", index, c.Tag)
	}
	if name, err = cp.Utf8(c.Index1); err != nil {
		return "", "", err
	}
	desc, err = cp.Utf8(c.Index2)
	return name, desc, err
}

// Ref resolves a Fieldref, Methodref or InterfaceMethodref.
func (cp *ConstantPool) Ref(index uint16) (class, name, desc string, err error) {
	c, err := cp.at(index)
	if err != nil {
		return "", "", "", err
	}
	switch c.Tag {
	case ConstFieldref, ConstMethodref, ConstInterfaceMethodref:
	default:
		return "", "", "", fmt.Errorf("constant %d is %s, expected a ref", index, c.Tag)
	}
	if class, err = cp.ClassName(c.Index1); err != nil {
		return "", "", "", err
	}
	name, desc, err = cp.NameAndType(c.Index2)
	return class, name, desc, err
}

func (cp *ConstantPool) StringAt(index uint16) (string, error) {
	c, err := cp.at(index)
	if err != nil {
		return "", err
	}
	if c.Tag != ConstString {
		return "", fmt.Errorf("constant %d is %s, expected String", index, c.Tag)
	}
	return cp.Utf8(c.Index1)
}

func (cp *ConstantPool) IntegerAt(index uint16) (int32, error) {
	c, err := cp.at(index)
	if err != nil {
		return 0, err
	}
	if c.Tag != ConstInteger {
		return 0, fmt.Errorf("constant %d is %s, expected Integer", index, c.Tag)
	}
	return int32(c.Int), nil
}

// MethodHandle returns the reference kind and the referenced member.
func (cp *ConstantPool) MethodHandle(index uint16) (refKind int, class, name, desc string, err error) {
	c, err := cp.at(index)
	if err != nil {
		return 0, "", "", "", err
	}
	if c.Tag != ConstMethodHandle {
		return 0, "", "", "", fmt.Errorf("constant %d is %s, expected MethodHandle", index, c.Tag)
	}
	class, name, desc, err = cp.Ref(c.Index1)
	return int(c.Int), class, name, desc, err
}

func (cp *ConstantPool) MethodTypeAt(index uint16) (string, error) {
	c, err := cp.at(index)
	if err != nil {
		return "", err
	}
	if c.Tag != ConstMethodType {
		return "", fmt.Errorf("constant %d is %s, expected MethodType", index, c.Tag)
	}
	return cp.Utf8(c.Index1)
}

// InvokeDynamic returns the bootstrap method index and the invoked
// name/descriptor.
func (cp *ConstantPool) InvokeDynamic(index uint16) (bootstrap uint16, name, desc string, err error) {
	c, err := cp.at(index)
	if err != nil {
		return 0, "", "", err
	}
	if c.Tag != ConstInvokeDynamic && c.Tag != ConstDynamic {
		return 0, "", "", fmt.Errorf("constant %d is %s, expected InvokeDynamic", index, c.Tag)
	}
	name, desc, err = cp.NameAndType(c.Index2)
	return c.Index1, name, desc, err
}

// parseConstantPool reads constant_pool_count and the pool itself.
func parseConstantPool(br *BinaryReader) (*ConstantPool, error) {
	count, err := br.ReadU2()
	if err != nil {
		return nil, fmt.Errorf("failed to read constant pool count: %w", err)
	}

	cp := &ConstantPool{entries: make([]constant, count)}
	for i := uint16(1); i < count; i++ {
		tag, err := br.ReadU1()
		if err != nil {
			return nil, fmt.Errorf("failed to read constant %d tag: %w", i, err)
		}

		c := &cp.entries[i]
		c.Tag = ConstTag(tag)
		switch c.Tag {
		case ConstUtf8:
			length, err := br.ReadU2()
			if err != nil {
				return nil, err
			}
			if c.Str, err = br.ReadUtf8String(int(length)); err != nil {
				return nil, fmt.Errorf("failed to read Utf8 constant %d: %w", i, err)
			}

		case ConstInteger:
			v, err := br.ReadU4()
			if err != nil {
				return nil, err
			}
			c.Int = int64(int32(v))

		case ConstFloat:
			v, err := br.ReadU4()
			if err != nil {
				return nil, err
			}
			c.Float = float64(math.Float32frombits(v))

		case ConstLong:
			v, err := br.ReadU8()
			if err != nil {
				return nil, err
			}
			c.Int = int64(v)
			i++ // occupies two slots

		case ConstDouble:
			v, err := br.ReadU8()
			if err != nil {
				return nil, err
			}
			c.Float = math.Float64frombits(v)
			i++

		case ConstClass, ConstString, ConstMethodType, ConstModule, ConstPackage:
			if c.Index1, err = br.ReadU2(); err != nil {
				return nil, err
			}

		case ConstFieldref, ConstMethodref, ConstInterfaceMethodref, ConstNameAndType,
			ConstDynamic, ConstInvokeDynamic:
			if c.Index1, err = br.ReadU2(); err != nil {
				return nil, err
			}
			if c.Index2, err = br.ReadU2(); err != nil {
				return nil, err
			}

		case ConstMethodHandle:
			kind, err := br.ReadU1()
			if err != nil {
				return nil, err
			}
			c.Int = int64(kind)
			if c.Index1, err = br.ReadU2(); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}
	return cp, nil
}
