package nbt

import "fmt"

// Element is a single node of an inferred NBT schema. It is a closed sum:
// the concrete types below are the only implementations.
type Element interface {
	element()
}

// Any is the unknown/bottom schema. Merging Any with anything yields the
// other side.
type Any struct{}

// PrimKind enumerates the primitive leaf tags.
type PrimKind int

const (
	Byte PrimKind = iota
	Short
	Int
	Long
	Float
	Double
	String
	ByteArray
	IntArray
	LongArray
	Uuid    // serializes as IntArray
	Boolean // serializes as Byte
)

func (k PrimKind) String() string {
	switch k {
	case Byte:
		return "Byte"
	case Short:
		return "Short"
	case Int:
		return "Int"
	case Long:
		return "Long"
	case Float:
		return "Float"
	case Double:
		return "Double"
	case String:
		return "String"
	case ByteArray:
		return "ByteArray"
	case IntArray:
		return "IntArray"
	case LongArray:
		return "LongArray"
	case Uuid:
		return "Uuid"
	case Boolean:
		return "Boolean"
	default:
		return fmt.Sprintf("PrimKind(%d)", int(k))
	}
}

// Primitive is a primitive leaf tag.
type Primitive struct {
	Kind PrimKind
}

// List is a homogeneous list. Inner merges across adds; a freshly observed
// empty list has Inner == Any.
type List struct {
	Inner Element
}

// Either is a two-branch sum produced by value-level branching
// (e.g. Either.map with two statically distinct result shapes).
type Either struct {
	Left  Element
	Right Element
}

// AnyCompound is a compound whose keys are not statically known. All values
// share Value; a nil Value means the value type is unknown too.
type AnyCompound struct {
	Value Element
}

// Boxed is a back-reference to an enclosing compound by type name. It is
// inserted only where a compound recurses into itself.
type Boxed struct {
	Name string
}

// NestedEntity is the pinned back-reference to the polymorphic entity type,
// used only for the entity-as-passenger relation.
type NestedEntity struct{}

// Named points at a named compound definition in the registry. It appears
// only after the naming pass has run.
type Named struct {
	Name string
}

func (Any) element()          {}
func (Primitive) element()    {}
func (*List) element()        {}
func (Either) element()       {}
func (AnyCompound) element()  {}
func (*Compound) element()    {}
func (Boxed) element()        {}
func (NestedEntity) element() {}
func (Named) element()        {}

// Prim is shorthand for a primitive leaf.
func Prim(k PrimKind) Primitive {
	return Primitive{Kind: k}
}

// NewList returns a list with an unknown element type.
func NewList() *List {
	return &List{Inner: Any{}}
}
