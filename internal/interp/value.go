package interp

import (
	"fmt"
	"math"
	"strings"

	"github.com/mabhi256/nbtspec/internal/classfile"
	"github.com/mabhi256/nbtspec/internal/nbt"
)

// Kind is the frame-width type of a value. Boolean, byte, char and short
// collapse to KindInt, matching bytecode frame rules.
type Kind int

const (
	KindRef Kind = iota
	KindInt
	KindFloat
	KindLong
	KindDouble
	KindNull
	KindUninitialized
	KindTop // second slot of a wide value, or an unused local
)

// OptionalForever marks a tag whose writes are always recorded as
// optional, regardless of the current program counter.
const OptionalForever = math.MaxInt32

// Value is one cell of the symbolic frame. The enriched implementations
// carry extra static information through the interpreter.
type Value interface {
	Kind() Kind
	// ClassName is the internal class name for reference values
	// ("" for primitives).
	ClassName() string
}

// Plain is a value with no enrichment beyond its frame type.
type Plain struct {
	kind  Kind
	class string
}

func NewRef(class string) *Plain { return &Plain{kind: KindRef, class: class} }
func NewPrimValue(k Kind) *Plain { return &Plain{kind: k} }
func (p *Plain) Kind() Kind { return p.kind }
func (p *Plain) ClassName() string { return p.class }

// StringValue is a concrete constant string.
type StringValue struct {
	V string
}

func (*StringValue) Kind() Kind { return KindRef }
func (*StringValue) ClassName() string { return "java/lang/String" }

// IntValue is a concrete constant int, tracked for small-array indexing.
type IntValue struct {
	V int32
}

func (*IntValue) Kind() Kind { return KindInt }
func (*IntValue) ClassName() string { return "" }

// StringArray is a string array with some concretely known slots (nil for
// unknown).
type StringArray struct {
	Slots []*string
}

func (*StringArray) Kind() Kind { return KindRef }
func (*StringArray) ClassName() string { return "[Ljava/lang/String;" }

// StringFromArray is a string known to be one of a set of candidates,
// produced by reading a known string array at an unknown index.
type StringFromArray struct {
	Choices []string
}

func (*StringFromArray) Kind() Kind { return KindRef }
func (*StringFromArray) ClassName() string { return "java/lang/String" }

// Lambda is a functional-interface instance remembering its backing static
// synthetic method. Bound holds the captured values followed by
// placeholders for the runtime-supplied parameters.
type Lambda struct {
	Iface  string
	Target MethodPointer
	Bound  []Value
}

func (l *Lambda) Kind() Kind { return KindRef }
func (l *Lambda) ClassName() string { return l.Iface }

// Tagged is an NBT-typed value carrying its schema contribution. Writes
// recorded while pc < OptionalUntil are forced optional.
type Tagged struct {
	Class         string
	Nbt           nbt.Element
	OptionalUntil int
}

func (t *Tagged) Kind() Kind { return KindRef }
func (t *Tagged) ClassName() string { return t.Class }

// MethodPointer identifies a method.
type MethodPointer struct {
	Class string
	Name  string
	Desc  string
}

func (p MethodPointer) String() string {
	return p.Class + "." + p.Name + p.Desc
}

// MethodCall is the memoization and naming identity of an invocation: a
// method pointer plus its erased argument values and the branch-scope
// override flag.
type MethodCall struct {
	Ptr              MethodPointer
	Args             []Value
	OverrideOptional bool
}

// Key renders a canonical identity string. Arguments are assumed erased.
func (c *MethodCall) Key() string {
	var sb strings.Builder
	sb.WriteString(c.Ptr.String())
	if c.OverrideOptional {
		sb.WriteString("!opt")
	}
	for _, a := range c.Args {
		sb.WriteByte('|')
		sb.WriteString(valueKey(a))
	}
	return sb.String()
}

// BaseName derives the readable type-name seed, e.g. "Zombie_addAdditionalSaveData".
func (c *MethodCall) BaseName() string {
	return classfile.SimpleName(c.Ptr.Class) + "_" + c.Ptr.Name
}

func valueKey(v Value) string {
	switch t := v.(type) {
	case *Plain:
		if t.kind == KindRef {
			return t.class
		}
		return fmt.Sprintf("k%d", t.kind)
	case *StringValue:
		return "s:" + t.V
	case *IntValue:
		return fmt.Sprintf("i:%d", t.V)
	case *StringArray:
		var sb strings.Builder
		sb.WriteString("sa:")
		for i, s := range t.Slots {
			if i > 0 {
				sb.WriteByte(',')
			}
			if s != nil {
				sb.WriteString(*s)
			}
		}
		return sb.String()
	case *StringFromArray:
		return "sc:" + strings.Join(t.Choices, ",")
	case *Lambda:
		return "fn:" + t.Target.String()
	case *Tagged:
		// Tags are stripped before keying; keep this total anyway.
		return t.Class
	default:
		return fmt.Sprintf("%T", v)
	}
}

// untype strips attached NBT information, yielding a clean descriptor for
// memoization keys.
func untype(v Value) Value {
	if t, ok := v.(*Tagged); ok {
		return NewRef(t.Class)
	}
	return v
}

func untypeAll(values []Value) []Value {
	out := make([]Value, len(values))
	for i, v := range values {
		out[i] = untype(v)
	}
	return out
}

// ensureTyped wraps an untyped NBT reference in a fresh Tagged so that
// subsequent writes can be recorded. Non-NBT and already-tagged values pass
// through.
func ensureTyped(v Value, maps *Mappings) Value {
	if _, ok := v.(*Tagged); ok {
		return v
	}
	class := v.ClassName()
	if v.Kind() != KindRef || class == "" {
		return v
	}
	elem, ok := maps.ElementForClass(class)
	if !ok {
		return v
	}
	return &Tagged{Class: class, Nbt: elem}
}

// ValueForDescriptor converts a field descriptor to a frame value,
// collapsing sub-int primitives to int width.
func ValueForDescriptor(desc string) Value {
	switch desc {
	case "B", "C", "S", "Z", "I":
		return NewPrimValue(KindInt)
	case "F":
		return NewPrimValue(KindFloat)
	case "J":
		return NewPrimValue(KindLong)
	case "D":
		return NewPrimValue(KindDouble)
	}
	return NewRef(classfile.DescriptorClassName(desc))
}

// IsWideValue reports whether the value occupies two local slots.
func IsWideValue(v Value) bool {
	k := v.Kind()
	return k == KindLong || k == KindDouble
}

func valueForVerificationType(vt classfile.VerificationType) Value {
	switch vt.Tag {
	case classfile.VTInteger:
		return NewPrimValue(KindInt)
	case classfile.VTFloat:
		return NewPrimValue(KindFloat)
	case classfile.VTLong:
		return NewPrimValue(KindLong)
	case classfile.VTDouble:
		return NewPrimValue(KindDouble)
	case classfile.VTNull:
		return NewPrimValue(KindNull)
	case classfile.VTObject:
		return NewRef(vt.ClassName)
	case classfile.VTUninitializedThis, classfile.VTUninitialized:
		return NewPrimValue(KindUninitialized)
	default: // VTTop
		return NewPrimValue(KindTop)
	}
}

// matchesVerificationType reports whether a live value is compatible with a
// declared slot, which lets reconciliation keep the enriched value.
func matchesVerificationType(v Value, vt classfile.VerificationType) bool {
	switch vt.Tag {
	case classfile.VTInteger:
		return v.Kind() == KindInt
	case classfile.VTFloat:
		return v.Kind() == KindFloat
	case classfile.VTLong:
		return v.Kind() == KindLong
	case classfile.VTDouble:
		return v.Kind() == KindDouble
	case classfile.VTNull:
		return v.Kind() == KindNull || v.Kind() == KindRef
	case classfile.VTObject:
		return v.Kind() == KindRef && v.ClassName() == vt.ClassName
	case classfile.VTTop:
		return v.Kind() == KindTop
	case classfile.VTUninitializedThis, classfile.VTUninitialized:
		return v.Kind() == KindUninitialized
	default:
		return false
	}
}
