// Package cftest builds minimal binary class files for tests. Fixtures go
// through the real parser, so every test also exercises the class-file
// layer.
package cftest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mabhi256/nbtspec/internal/classfile"
)

type poolKey struct {
	tag    classfile.ConstTag
	str    string
	num    int64
	index1 uint16
	index2 uint16
}

type poolEntry struct {
	key  poolKey
	wide bool
}

// ClassBuilder accumulates constant pool entries, methods and bootstrap
// methods and serializes them as a class file.
type ClassBuilder struct {
	thisClass  string
	superClass string
	accessFlag uint16
	interfaces []string

	entries []poolEntry
	lookup  map[poolKey]uint16

	methods   []methodEntry
	bootstrap []bootstrapEntry
}

type methodEntry struct {
	flags uint16
	name  string
	desc  string
	code  *Code
}

type bootstrapEntry struct {
	handle uint16
	args   []uint16
}

// Code describes a method body. Frames are absolute stack map frames; the
// writer re-encodes them as full_frame entries.
type Code struct {
	MaxStack  int
	MaxLocals int
	Bytecode  []byte
	Frames    []classfile.StackMapFrame
}

func NewClass(thisClass, superClass string) *ClassBuilder {
	b := &ClassBuilder{
		thisClass:  thisClass,
		superClass: superClass,
		accessFlag: classfile.AccPublic,
		lookup:     make(map[poolKey]uint16),
	}
	// slot 0 is unused in the class file format
	b.entries = append(b.entries, poolEntry{})
	return b
}

func (b *ClassBuilder) SetAccessFlags(flags uint16) *ClassBuilder {
	b.accessFlag = flags
	return b
}

func (b *ClassBuilder) AddInterface(name string) *ClassBuilder {
	b.interfaces = append(b.interfaces, name)
	return b
}

func (b *ClassBuilder) add(key poolKey, wide bool) uint16 {
	if index, ok := b.lookup[key]; ok {
		return index
	}
	index := uint16(len(b.entries))
	b.entries = append(b.entries, poolEntry{key: key, wide: wide})
	if wide {
		b.entries = append(b.entries, poolEntry{})
	}
	b.lookup[key] = index
	return index
}

func (b *ClassBuilder) Utf8(s string) uint16 {
	return b.add(poolKey{tag: classfile.ConstUtf8, str: s}, false)
}

func (b *ClassBuilder) Class(name string) uint16 {
	return b.add(poolKey{tag: classfile.ConstClass, index1: b.Utf8(name)}, false)
}

func (b *ClassBuilder) StringConst(s string) uint16 {
	return b.add(poolKey{tag: classfile.ConstString, index1: b.Utf8(s)}, false)
}

func (b *ClassBuilder) Integer(v int32) uint16 {
	return b.add(poolKey{tag: classfile.ConstInteger, num: int64(v)}, false)
}

func (b *ClassBuilder) Long(v int64) uint16 {
	return b.add(poolKey{tag: classfile.ConstLong, num: v}, true)
}

func (b *ClassBuilder) NameAndType(name, desc string) uint16 {
	return b.add(poolKey{
		tag:    classfile.ConstNameAndType,
		index1: b.Utf8(name),
		index2: b.Utf8(desc),
	}, false)
}

func (b *ClassBuilder) Methodref(class, name, desc string) uint16 {
	return b.add(poolKey{
		tag:    classfile.ConstMethodref,
		index1: b.Class(class),
		index2: b.NameAndType(name, desc),
	}, false)
}

func (b *ClassBuilder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.add(poolKey{
		tag:    classfile.ConstInterfaceMethodref,
		index1: b.Class(class),
		index2: b.NameAndType(name, desc),
	}, false)
}

func (b *ClassBuilder) Fieldref(class, name, desc string) uint16 {
	return b.add(poolKey{
		tag:    classfile.ConstFieldref,
		index1: b.Class(class),
		index2: b.NameAndType(name, desc),
	}, false)
}

func (b *ClassBuilder) MethodHandle(kind int, class, name, desc string) uint16 {
	return b.add(poolKey{
		tag:    classfile.ConstMethodHandle,
		num:    int64(kind),
		index1: b.Methodref(class, name, desc),
	}, false)
}

func (b *ClassBuilder) MethodType(desc string) uint16 {
	return b.add(poolKey{tag: classfile.ConstMethodType, index1: b.Utf8(desc)}, false)
}

// AddBootstrapMethod registers a bootstrap row and returns its index for
// use with InvokeDynamic. Arguments are raw pool indices.
func (b *ClassBuilder) AddBootstrapMethod(handleKind int, class, name, desc string, args ...uint16) uint16 {
	handle := b.MethodHandle(handleKind, class, name, desc)
	b.bootstrap = append(b.bootstrap, bootstrapEntry{handle: handle, args: args})
	return uint16(len(b.bootstrap) - 1)
}

func (b *ClassBuilder) InvokeDynamic(bootstrapIndex uint16, name, desc string) uint16 {
	return b.add(poolKey{
		tag:    classfile.ConstInvokeDynamic,
		index1: bootstrapIndex,
		index2: b.NameAndType(name, desc),
	}, false)
}

func (b *ClassBuilder) AddMethod(flags uint16, name, desc string, code *Code) *ClassBuilder {
	b.methods = append(b.methods, methodEntry{flags: flags, name: name, desc: desc, code: code})
	return b
}

// Bytes serializes the class file.
func (b *ClassBuilder) Bytes() []byte {
	// Interning happens lazily, so intern everything referenced by the
	// trailers before the pool is written.
	thisClass := b.Class(b.thisClass)
	superClass := uint16(0)
	if b.superClass != "" {
		superClass = b.Class(b.superClass)
	}
	var ifaceIndices []uint16
	for _, iface := range b.interfaces {
		ifaceIndices = append(ifaceIndices, b.Class(iface))
	}
	codeAttr := b.Utf8("Code")
	var stackMapAttr uint16
	for _, m := range b.methods {
		b.Utf8(m.name)
		b.Utf8(m.desc)
		if m.code != nil && len(m.code.Frames) > 0 {
			stackMapAttr = b.Utf8("StackMapTable")
			for _, f := range m.code.Frames {
				b.internFrameClasses(f)
			}
		}
	}
	var bootstrapAttr uint16
	if len(b.bootstrap) > 0 {
		bootstrapAttr = b.Utf8("BootstrapMethods")
	}

	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, binary.BigEndian, v) }

	w(uint32(0xCAFEBABE))
	w(uint16(0)) // minor
	w(uint16(52))

	w(uint16(len(b.entries)))
	for i := 1; i < len(b.entries); i++ {
		e := b.entries[i]
		if e.key.tag == 0 {
			continue // high half of a wide constant
		}
		buf.WriteByte(byte(e.key.tag))
		switch e.key.tag {
		case classfile.ConstUtf8:
			w(uint16(len(e.key.str)))
			buf.WriteString(e.key.str)
		case classfile.ConstInteger:
			w(uint32(e.key.num))
		case classfile.ConstLong:
			w(uint64(e.key.num))
		case classfile.ConstClass, classfile.ConstString, classfile.ConstMethodType:
			w(e.key.index1)
		case classfile.ConstMethodHandle:
			buf.WriteByte(byte(e.key.num))
			w(e.key.index1)
		default:
			w(e.key.index1)
			w(e.key.index2)
		}
	}

	w(b.accessFlag)
	w(thisClass)
	w(superClass)
	w(uint16(len(ifaceIndices)))
	for _, i := range ifaceIndices {
		w(i)
	}

	w(uint16(0)) // fields

	w(uint16(len(b.methods)))
	for _, m := range b.methods {
		w(m.flags)
		w(b.Utf8(m.name))
		w(b.Utf8(m.desc))
		if m.code == nil {
			w(uint16(0))
			continue
		}
		w(uint16(1))
		w(codeAttr)
		body := b.codeBody(m.code, stackMapAttr)
		w(uint32(len(body)))
		buf.Write(body)
	}

	if len(b.bootstrap) == 0 {
		w(uint16(0))
		return buf.Bytes()
	}
	w(uint16(1))
	w(bootstrapAttr)
	var bm bytes.Buffer
	wb := func(v any) { binary.Write(&bm, binary.BigEndian, v) }
	wb(uint16(len(b.bootstrap)))
	for _, row := range b.bootstrap {
		wb(row.handle)
		wb(uint16(len(row.args)))
		for _, a := range row.args {
			wb(a)
		}
	}
	w(uint32(bm.Len()))
	buf.Write(bm.Bytes())

	return buf.Bytes()
}

func (b *ClassBuilder) internFrameClasses(f classfile.StackMapFrame) {
	for _, vt := range f.Locals {
		if vt.Tag == classfile.VTObject {
			b.Class(vt.ClassName)
		}
	}
	for _, vt := range f.Stack {
		if vt.Tag == classfile.VTObject {
			b.Class(vt.ClassName)
		}
	}
}

func (b *ClassBuilder) codeBody(code *Code, stackMapAttr uint16) []byte {
	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, binary.BigEndian, v) }

	w(uint16(code.MaxStack))
	w(uint16(code.MaxLocals))
	w(uint32(len(code.Bytecode)))
	buf.Write(code.Bytecode)
	w(uint16(0)) // exception table

	if len(code.Frames) == 0 {
		w(uint16(0))
		return buf.Bytes()
	}

	w(uint16(1))
	w(stackMapAttr)
	table := b.stackMapBody(code.Frames)
	w(uint32(len(table)))
	buf.Write(table)
	return buf.Bytes()
}

// stackMapBody encodes every frame as full_frame, which is always legal.
func (b *ClassBuilder) stackMapBody(frames []classfile.StackMapFrame) []byte {
	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, binary.BigEndian, v) }

	w(uint16(len(frames)))
	prev := -1
	for _, f := range frames {
		delta := f.Offset
		if prev >= 0 {
			delta = f.Offset - prev - 1
		}
		if delta < 0 {
			panic(fmt.Sprintf("stack map frames out of order at offset %d", f.Offset))
		}
		prev = f.Offset

		buf.WriteByte(255)
		w(uint16(delta))
		w(uint16(len(f.Locals)))
		for _, vt := range f.Locals {
			b.writeVerificationType(&buf, vt)
		}
		w(uint16(len(f.Stack)))
		for _, vt := range f.Stack {
			b.writeVerificationType(&buf, vt)
		}
	}
	return buf.Bytes()
}

func (b *ClassBuilder) writeVerificationType(buf *bytes.Buffer, vt classfile.VerificationType) {
	buf.WriteByte(byte(vt.Tag))
	switch vt.Tag {
	case classfile.VTObject:
		binary.Write(buf, binary.BigEndian, b.Class(vt.ClassName))
	case classfile.VTUninitialized:
		binary.Write(buf, binary.BigEndian, uint16(vt.Offset))
	}
}

// Object is a convenience constructor for an Object verification type.
func Object(className string) classfile.VerificationType {
	return classfile.VerificationType{Tag: classfile.VTObject, ClassName: className}
}

// IntType is the Integer verification type.
func IntType() classfile.VerificationType {
	return classfile.VerificationType{Tag: classfile.VTInteger}
}
