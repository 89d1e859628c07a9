// Package value defines the tagged Value type and the heap object model
// shared by the chunk, native-bridge and vm packages.
package value

import "fmt"

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindEnum
	KindObject
)

// Value is the VM's tagged scalar. Every register, constant, global slot
// and container element holds one of these. Only one of the payload
// fields is meaningful, selected by Kind.
type Value struct {
	Kind        Kind
	Bool        bool
	Number      float64
	EnumType    int32
	EnumVariant int32
	Obj         Object
}

// Object is satisfied by every heap-allocated payload a Value.Obj can
// point at. Header returns the intrusive GC bookkeeping embedded in the
// concrete type; it is never exposed to script code.
type Object interface {
	Header() *ObjHeader
	TypeName() string
}

// ObjHeader is embedded by every heap object. Next threads the object
// into the VM's single allocation list so a sweep can walk every object
// ever allocated without a second index.
type ObjHeader struct {
	Marked bool
	Next   Object
}

func (h *ObjHeader) Header() *ObjHeader { return h }

func Null() Value                   { return Value{Kind: KindNull} }
func Bool(b bool) Value              { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value         { return Value{Kind: KindNumber, Number: n} }
func Enum(typeID, variant int32) Value {
	return Value{Kind: KindEnum, EnumType: typeID, EnumVariant: variant}
}
func FromObject(o Object) Value { return Value{Kind: KindObject, Obj: o} }

// Truthy implements the language's falsey set: null, false and +0.0 are
// falsey; everything else, including empty containers, is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number != 0
	default:
		return true
	}
}

// Equal implements the language's structural/pointer-identity equality.
// Numbers, bools and null compare structurally; strings compare by
// pointer (interning guarantees pointer equality iff byte equality);
// every other object compares by pointer identity. Enums of differing
// type-id are not comparable and report false rather than erroring here
// — callers that must surface a hard error (the EQ opcode family) check
// EnumType themselves before calling Equal.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Number == other.Number
	case KindEnum:
		return v.EnumType == other.EnumType && v.EnumVariant == other.EnumVariant
	case KindObject:
		if sa, ok := v.Obj.(*StringObj); ok {
			if sb, ok := other.Obj.(*StringObj); ok {
				return sa == sb // interning makes pointer identity sufficient
			}
			return false
		}
		return v.Obj == other.Obj
	default:
		return false
	}
}

// TypeName returns the fixed type-name string used by the typeof
// opcode and by TYPEOF-qualified parameters. It never dereferences a
// reference value — callers decide whether to deref before calling.
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindEnum:
		return "enum"
	case KindObject:
		if v.Obj == nil {
			return "null"
		}
		return v.Obj.TypeName()
	default:
		return "unknown"
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindEnum:
		return fmt.Sprintf("<enum %d:%d>", v.EnumType, v.EnumVariant)
	case KindObject:
		if v.Obj == nil {
			return "null"
		}
		if s, ok := v.Obj.(*StringObj); ok {
			return s.Chars
		}
		return fmt.Sprintf("<%s>", v.Obj.TypeName())
	default:
		return "?"
	}
}

// IsObject reports whether v carries a heap object of the given
// concrete pointer type, e.g. IsObject[*ListObj](v).
func IsObject[T Object](v Value) (T, bool) {
	var zero T
	if v.Kind != KindObject || v.Obj == nil {
		return zero, false
	}
	t, ok := v.Obj.(T)
	return t, ok
}
