package value

// StringObj is an immutable, interned byte string. Pointer equality
// between two *StringObj is guaranteed to match byte-content equality
// by the interning table the vm package maintains; nothing in this
// package interns on its own.
type StringObj struct {
	ObjHeader
	Chars string
}

func (s *StringObj) TypeName() string { return "string" }

// ListObj is a dynamic array of Value. Elements are owned by the list;
// cloning a list clones the slice header but shares element values
// one level deep (see Clone/DeepClone).
type ListObj struct {
	ObjHeader
	Elems []Value
}

func (l *ListObj) TypeName() string { return "list" }

// MapObj is a hash table keyed by interned string. Order is kept
// alongside Entries purely so iteration (e.g. MAP_SPREAD) is
// deterministic; it is not part of the language's
// equality or lookup semantics.
type MapObj struct {
	ObjHeader
	Entries map[string]Value
	Order   []string
}

func NewMap() *MapObj {
	return &MapObj{Entries: make(map[string]Value), Order: nil}
}

func (m *MapObj) TypeName() string { return "map" }

// Get returns the value bound to key and whether it was present.
func (m *MapObj) Get(key string) (Value, bool) {
	v, ok := m.Entries[key]
	return v, ok
}

// Set binds key to v, or deletes the binding when v is null — the
// language represents "delete this map key" as a null-valued SET.
func (m *MapObj) Set(key string, v Value) {
	if v.Kind == KindNull {
		m.Delete(key)
		return
	}
	if _, existed := m.Entries[key]; !existed {
		m.Order = append(m.Order, key)
	}
	m.Entries[key] = v
}

func (m *MapObj) Delete(key string) {
	if _, ok := m.Entries[key]; !ok {
		return
	}
	delete(m.Entries, key)
	for i, k := range m.Order {
		if k == key {
			m.Order = append(m.Order[:i], m.Order[i+1:]...)
			break
		}
	}
}

// Clone makes a one-level-deep independent copy of a container value.
// Scalars and strings are returned as-is (strings are shared, interned
// values). References clone by identity — they keep pointing at the
// same target, per the reference system's contract.
func Clone(v Value) Value {
	if v.Kind != KindObject || v.Obj == nil {
		return v
	}
	switch o := v.Obj.(type) {
	case *ListObj:
		elems := make([]Value, len(o.Elems))
		copy(elems, o.Elems)
		return FromObject(&ListObj{Elems: elems})
	case *MapObj:
		n := NewMap()
		for _, k := range o.Order {
			n.Set(k, o.Entries[k])
		}
		return FromObject(n)
	case *StructInstance:
		fields := make([]Value, len(o.Fields))
		copy(fields, o.Fields)
		return FromObject(&StructInstance{Schema: o.Schema, Fields: fields})
	default:
		return v
	}
}

// DeepClone recursively clones containers. Strings are never cloned
// (they stay shared and interned); references clone by identity, same
// as the shallow Clone.
func DeepClone(v Value) Value {
	if v.Kind != KindObject || v.Obj == nil {
		return v
	}
	switch o := v.Obj.(type) {
	case *ListObj:
		elems := make([]Value, len(o.Elems))
		for i, e := range o.Elems {
			elems[i] = DeepClone(e)
		}
		return FromObject(&ListObj{Elems: elems})
	case *MapObj:
		n := NewMap()
		for _, k := range o.Order {
			n.Set(k, DeepClone(o.Entries[k]))
		}
		return FromObject(n)
	case *StructInstance:
		fields := make([]Value, len(o.Fields))
		for i, f := range o.Fields {
			fields[i] = DeepClone(f)
		}
		return FromObject(&StructInstance{Schema: o.Schema, Fields: fields})
	default:
		return v
	}
}
