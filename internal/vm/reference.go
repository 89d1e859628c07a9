package vm

import "zymvm/internal/value"

// newLocalSlotRef, newUpvalueRef, etc. construct, register and return a
// Reference value; every heap allocation in this file goes through
// registerObject so the GC pacer sees it.
func (vm *VM) newLocalSlotRef(slot int) value.Value {
	r := value.NewLocalSlotRef(slot)
	vm.registerObject(r, 64)
	return value.FromObject(r)
}

func (vm *VM) newUpvalueRef(u *value.Upvalue) value.Value {
	r := value.NewUpvalueRef(u)
	vm.registerObject(r, 64)
	return value.FromObject(r)
}

func (vm *VM) newGlobalRef(name string) value.Value {
	r := value.NewGlobalRef(name)
	vm.registerObject(r, 64)
	return value.FromObject(r)
}

func (vm *VM) newIndexRef(container, key value.Value) value.Value {
	r := value.NewIndexRef(container, key)
	vm.registerObject(r, 64)
	return value.FromObject(r)
}

func (vm *VM) newPropertyRef(container, key value.Value) value.Value {
	r := value.NewPropertyRef(container, key)
	vm.registerObject(r, 64)
	return value.FromObject(r)
}

// flatten collapses one level of reference-to-reference, for Index and
// Property references only: when the element such a reference addresses
// is itself a reference, that inner reference is returned in its place.
// The inner reference is not chased further, and LocalSlot, Upvalue,
// Global and Native references are returned unchanged.
func (vm *VM) flatten(v value.Value) value.Value {
	r, ok := value.IsObject[*value.Reference](v)
	if !ok {
		return v
	}
	switch r.Kind {
	case value.RefIndex, value.RefProperty:
		elem, err := vm.readContainerSlot(r)
		if err == nil {
			if inner, ok := value.IsObject[*value.Reference](elem); ok {
				return value.FromObject(inner)
			}
		}
	}
	return v
}

// readContainerSlot fetches the raw (possibly reference-valued) element
// an Index/Property reference addresses, without chasing further.
func (vm *VM) readContainerSlot(r *value.Reference) (value.Value, *RuntimeError) {
	switch r.Kind {
	case value.RefIndex:
		return vm.indexGet(r.Container, r.Key)
	case value.RefProperty:
		return vm.propertyGet(r.Container, r.Key)
	default:
		return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "not an indexable reference")
	}
}

func (vm *VM) writeContainerSlot(r *value.Reference, v value.Value) *RuntimeError {
	switch r.Kind {
	case value.RefIndex:
		return vm.indexSet(r.Container, r.Key, v)
	case value.RefProperty:
		return vm.propertySet(r.Container, r.Key, v)
	default:
		return vm.runtimeErrorAt(ErrTypeMismatch, "not an indexable reference")
	}
}

// read chases a reference chain to its ultimate value, per §4.5's read
// policy: following a reference found inside a slot up to depth 64,
// failing with ReferenceCycle on overflow.
func (vm *VM) read(v value.Value) (value.Value, *RuntimeError) {
	cur := v
	for depth := 0; depth < ReferenceChaseDepth; depth++ {
		r, ok := value.IsObject[*value.Reference](cur)
		if !ok {
			return cur, nil
		}
		next, rerr := vm.readOnce(r)
		if rerr != nil {
			return value.Null(), rerr
		}
		cur = next
	}
	return value.Null(), vm.runtimeErrorAt(ErrReferenceCycle, "reference chain exceeds depth limit")
}

// readOnce resolves exactly one hop of a reference without further
// chasing — the caller's loop in read() supplies depth-limited chasing.
func (vm *VM) readOnce(r *value.Reference) (value.Value, *RuntimeError) {
	switch r.Kind {
	case value.RefLocalSlot:
		if r.Slot < 0 || r.Slot >= vm.stackTop {
			return value.Null(), vm.runtimeErrorAt(ErrDanglingRefStore, "local-slot reference targets a dead binding")
		}
		return vm.stack[r.Slot], nil
	case value.RefUpvalue:
		return vm.readUpvalue(r.Upval), nil
	case value.RefGlobal:
		g, ok := vm.globals[r.Name]
		if !ok {
			return value.Null(), vm.runtimeErrorAt(ErrUndefinedIdentifier, "undefined global %q", r.Name)
		}
		return g, nil
	case value.RefIndex:
		return vm.indexGet(r.Container, r.Key)
	case value.RefProperty:
		return vm.propertyGet(r.Container, r.Key)
	case value.RefNative:
		v, err := r.Native.ReadNative()
		if rerr := wrapNativeErr(err); rerr != nil {
			return value.Null(), rerr
		}
		return v, nil
	default:
		return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "unknown reference kind")
	}
}

// write stores v through r, per §4.5: if r's current target slot itself
// holds a reference and recursive is true, the store writes through that
// nested reference instead of overwriting the binding.
func (vm *VM) write(r *value.Reference, v value.Value, recursive bool) *RuntimeError {
	if recursive {
		if existing, err := vm.readOnce(r); err == nil {
			if nested, ok := value.IsObject[*value.Reference](existing); ok {
				return vm.write(nested, v, true)
			}
		}
	}
	return vm.slotWrite(r, v)
}

// slotWrite replaces r's underlying binding directly, ignoring whatever
// value (reference or not) currently occupies it.
func (vm *VM) slotWrite(r *value.Reference, v value.Value) *RuntimeError {
	switch r.Kind {
	case value.RefLocalSlot:
		if r.Slot < 0 || r.Slot >= vm.stackTop {
			return vm.runtimeErrorAt(ErrDanglingRefStore, "local-slot reference targets a dead binding")
		}
		vm.stack[r.Slot] = v
		return nil
	case value.RefUpvalue:
		vm.writeUpvalue(r.Upval, v)
		return nil
	case value.RefGlobal:
		vm.globals[r.Name] = v
		return nil
	case value.RefIndex:
		return vm.indexSet(r.Container, r.Key, v)
	case value.RefProperty:
		return vm.propertySet(r.Container, r.Key, v)
	case value.RefNative:
		return wrapNativeErr(r.Native.WriteNative(v))
	default:
		return vm.runtimeErrorAt(ErrTypeMismatch, "unknown reference kind")
	}
}

func wrapNativeErr(err error) *RuntimeError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RuntimeError); ok {
		return re
	}
	return &RuntimeError{Kind: ErrNativeReport, Message: err.Error()}
}

// wouldCycle reports whether dereferencing r transitively reaches the
// same binding identified by target — the check §4.5 requires before
// writing a reference into a variable.
func (vm *VM) wouldCycle(r *value.Reference, target *value.Reference) bool {
	cur := value.FromObject(r)
	for depth := 0; depth < ReferenceChaseDepth; depth++ {
		candidate, ok := value.IsObject[*value.Reference](cur)
		if !ok {
			return false
		}
		if sameBinding(candidate, target) {
			return true
		}
		next, err := vm.readOnce(candidate)
		if err != nil {
			return false
		}
		cur = next
	}
	return true
}

func sameBinding(a, b *value.Reference) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case value.RefLocalSlot:
		return a.Slot == b.Slot
	case value.RefUpvalue:
		return a.Upval == b.Upval
	case value.RefGlobal:
		return a.Name == b.Name
	default:
		return a == b
	}
}

// promoteLifetime implements §4.5's return-time rewrite: every LocalSlot
// reference inside v whose target slot lies at or above frameBase (i.e.
// belongs to the returning frame) is converted in place to an Upvalue
// reference by capturing that slot, recursively through list elements,
// map values and struct fields. Scalars, strings and non-LocalSlot
// references pass through unchanged.
func (vm *VM) promoteLifetime(v value.Value, frameBase int) value.Value {
	if v.Kind != value.KindObject || v.Obj == nil {
		return v
	}
	switch o := v.Obj.(type) {
	case *value.Reference:
		if o.Kind == value.RefLocalSlot && o.Slot >= frameBase {
			u := vm.captureUpvalue(o.Slot)
			return vm.newUpvalueRef(u)
		}
		return v
	case *value.ListObj:
		for i, e := range o.Elems {
			o.Elems[i] = vm.promoteLifetime(e, frameBase)
		}
		return v
	case *value.MapObj:
		for _, k := range o.Order {
			o.Entries[k] = vm.promoteLifetime(o.Entries[k], frameBase)
		}
		return v
	case *value.StructInstance:
		for i, f := range o.Fields {
			o.Fields[i] = vm.promoteLifetime(f, frameBase)
		}
		return v
	default:
		return v
	}
}
