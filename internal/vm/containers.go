package vm

import "zymvm/internal/value"

// indexGet/indexSet implement GET_SUBSCRIPT/SET_SUBSCRIPT's container
// half (lists indexed by number, maps indexed by any value whose string
// form is the key) once both operands have already been dereferenced by
// the caller — references are auto-dereferenced at use for subscript
// operands (§4.7), so nothing here ever sees a *value.Reference.
func (vm *VM) indexGet(container, key value.Value) (value.Value, *RuntimeError) {
	switch c := container.Obj.(type) {
	case *value.ListObj:
		i, rerr := vm.indexAsInt(key, len(c.Elems))
		if rerr != nil {
			return value.Null(), rerr
		}
		return c.Elems[i], nil
	case *value.MapObj:
		// Missing map keys read as null (§4.7); KeyMissing is reserved
		// for reference *creation* against a missing key (see
		// checkIndexExists/checkPropertyExists in interpreter.go).
		v, _ := c.Get(vm.mapKey(key))
		return v, nil
	default:
		return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "cannot subscript a %s", container.TypeName())
	}
}

func (vm *VM) indexSet(container, key, v value.Value) *RuntimeError {
	switch c := container.Obj.(type) {
	case *value.ListObj:
		i, rerr := vm.indexAsInt(key, len(c.Elems))
		if rerr != nil {
			return rerr
		}
		c.Elems[i] = v
		return nil
	case *value.MapObj:
		c.Set(vm.mapKey(key), v)
		return nil
	default:
		return vm.runtimeErrorAt(ErrTypeMismatch, "cannot subscript a %s", container.TypeName())
	}
}

func (vm *VM) indexAsInt(key value.Value, length int) (int, *RuntimeError) {
	if key.Kind != value.KindNumber {
		return 0, vm.runtimeErrorAt(ErrTypeMismatch, "list index must be a number")
	}
	i := int(key.Number)
	if i < 0 || i >= length {
		return 0, vm.runtimeErrorAt(ErrOutOfBounds, "list index %d out of bounds (len %d)", i, length)
	}
	return i, nil
}

// mapKey normalizes a subscript value to the string key MapObj uses
// internally. Strings use their own bytes; everything else uses its
// canonical rendering, matching how GET_MAP_PROPERTY keys work for
// identifier-like property names.
func (vm *VM) mapKey(key value.Value) string {
	if s, ok := value.IsObject[*value.StringObj](key); ok {
		return s.Chars
	}
	return key.String()
}

// propertyGet/propertySet implement GET_MAP_PROPERTY/GET_STRUCT_FIELD's
// merged dispatch: a map property is just a subscript by name, a struct
// field is resolved through the instance's schema.
func (vm *VM) propertyGet(container, key value.Value) (value.Value, *RuntimeError) {
	name := vm.mapKey(key)
	switch c := container.Obj.(type) {
	case *value.MapObj:
		v, _ := c.Get(name)
		return v, nil
	case *value.StructInstance:
		i, ok := c.FieldIndex(name)
		if !ok {
			return value.Null(), vm.runtimeErrorAt(ErrKeyMissing, "struct %s has no field %q", c.Schema.Name, name)
		}
		return c.Fields[i], nil
	default:
		return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "cannot access property on a %s", container.TypeName())
	}
}

func (vm *VM) propertySet(container, key, v value.Value) *RuntimeError {
	name := vm.mapKey(key)
	switch c := container.Obj.(type) {
	case *value.MapObj:
		c.Set(name, v)
		return nil
	case *value.StructInstance:
		i, ok := c.FieldIndex(name)
		if !ok {
			return vm.runtimeErrorAt(ErrKeyMissing, "struct %s has no field %q", c.Schema.Name, name)
		}
		c.Fields[i] = v
		return nil
	default:
		return vm.runtimeErrorAt(ErrTypeMismatch, "cannot access property on a %s", container.TypeName())
	}
}

// newList, newMap, newStructInstance allocate and register a fresh
// container, charging the GC pacer for its initial footprint.
func (vm *VM) newList(elems []value.Value) *value.ListObj {
	l := &value.ListObj{Elems: elems}
	vm.registerObject(l, 24+32*len(elems))
	return l
}

func (vm *VM) newMap() *value.MapObj {
	m := value.NewMap()
	vm.registerObject(m, 32)
	return m
}

func (vm *VM) newStructInstance(schema *value.StructSchema) *value.StructInstance {
	s := value.NewStructInstance(schema)
	vm.registerObject(s, 16+32*len(schema.FieldName))
	return s
}
