package value

// RefKind selects which of the five reference flavors a Reference
// holds (plus the opaque native flavor the native bridge may create).
type RefKind uint8

const (
	RefLocalSlot RefKind = iota
	RefUpvalue
	RefGlobal
	RefIndex
	RefProperty
	RefNative
)

func (k RefKind) String() string {
	switch k {
	case RefLocalSlot:
		return "local-slot"
	case RefUpvalue:
		return "upvalue"
	case RefGlobal:
		return "global"
	case RefIndex:
		return "index"
	case RefProperty:
		return "property"
	case RefNative:
		return "native"
	default:
		return "?"
	}
}

// NativeRef is the contract an opaque native reference must satisfy.
// The core treats it as a black box: it knows only how to read and
// write through it, never what it actually addresses.
type NativeRef interface {
	ReadNative() (Value, error)
	WriteNative(Value) error
}

// Reference is the first-class handle behind MAKE_REF and friends. It
// can be stored in containers, passed as an argument, and returned
// from a function like any other Value — the vm package's reference
// system (read/write/slot-write/flatten) operates on it.
type Reference struct {
	ObjHeader
	Kind RefKind

	// RefLocalSlot: absolute index into the VM's shared value stack.
	Slot int

	// RefUpvalue.
	Upval *Upvalue

	// RefGlobal: the interned global name.
	Name string

	// RefIndex / RefProperty: the addressed container and its
	// index (number) or property key (string).
	Container Value
	Key       Value

	// RefNative: opaque native-bridge binding.
	Native NativeRef
}

func (r *Reference) TypeName() string { return "reference" }

func NewLocalSlotRef(slot int) *Reference { return &Reference{Kind: RefLocalSlot, Slot: slot} }
func NewUpvalueRef(u *Upvalue) *Reference { return &Reference{Kind: RefUpvalue, Upval: u} }
func NewGlobalRef(name string) *Reference { return &Reference{Kind: RefGlobal, Name: name} }
func NewIndexRef(container, key Value) *Reference {
	return &Reference{Kind: RefIndex, Container: container, Key: key}
}
func NewPropertyRef(container, key Value) *Reference {
	return &Reference{Kind: RefProperty, Container: container, Key: key}
}
func NewNativeRef(n NativeRef) *Reference { return &Reference{Kind: RefNative, Native: n} }
