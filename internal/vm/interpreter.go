package vm

import (
	"math"

	"zymvm/internal/chunk"
	"zymvm/internal/value"
)

// run executes instructions until the call stack unwinds back below
// floor (the frame depth at which run was entered) or a yield/abort
// hands control back to the host. RESUME does not re-enter run():
// execResume pushes the captured frames and this same loop runs them.
func (vm *VM) run(floor int) (value.Value, *RuntimeError) {
	for {
		if vm.frameCount <= floor {
			return vm.peekOrNull(), nil
		}

		frame := &vm.frames[vm.frameCount-1]
		c := frame.chunk()
		if c == nil {
			return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "frame has no chunk")
		}

		if vm.Config.Preemption {
			vm.yieldBudget--
			if vm.yieldBudget <= 0 {
				vm.yieldBudget = vm.Config.DefaultTimeslice
				if vm.preemptRequested {
					return value.Null(), nil
				}
			}
		}

		instr := c.Code[frame.IP]
		frame.IP++
		op := instr.Op()
		base := frame.Slots

		reg := func(n byte) *value.Value { return &vm.stack[base+int(n)] }

		switch op {
		case chunk.OP_MOVE:
			*reg(instr.A()) = *reg(instr.B())

		case chunk.OP_LOAD_CONST:
			*reg(instr.A()) = c.Constants[instr.Bx()]
		case chunk.OP_LOAD_NULL:
			*reg(instr.A()) = value.Null()
		case chunk.OP_LOAD_TRUE:
			*reg(instr.A()) = value.Bool(true)
		case chunk.OP_LOAD_FALSE:
			*reg(instr.A()) = value.Bool(false)
		case chunk.OP_LOAD_INT:
			*reg(instr.A()) = value.Number(float64(instr.SignedBx()))

		case chunk.OP_ADD, chunk.OP_ADD_I, chunk.OP_ADD_L,
			chunk.OP_SUB, chunk.OP_SUB_I, chunk.OP_SUB_L,
			chunk.OP_MUL, chunk.OP_MUL_I, chunk.OP_MUL_L,
			chunk.OP_DIV, chunk.OP_DIV_I, chunk.OP_DIV_L,
			chunk.OP_MOD, chunk.OP_MOD_I, chunk.OP_MOD_L:
			if rerr := vm.execArith(frame, c, instr, op); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_BAND, chunk.OP_BAND_I, chunk.OP_BAND_L,
			chunk.OP_BOR, chunk.OP_BOR_I, chunk.OP_BOR_L,
			chunk.OP_BXOR, chunk.OP_BXOR_I, chunk.OP_BXOR_L,
			chunk.OP_SHL, chunk.OP_SHL_I, chunk.OP_SHL_L,
			chunk.OP_SHR, chunk.OP_SHR_I, chunk.OP_SHR_L:
			if rerr := vm.execBitwise(frame, c, instr, op); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_NEG:
			v, rerr := vm.derefNumber(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = value.Number(-v)
		case chunk.OP_NOT:
			v, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = value.Bool(!v.Truthy())
		case chunk.OP_BNOT:
			v, rerr := vm.derefNumber(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = value.Number(float64(^int32(v)))

		case chunk.OP_EQ, chunk.OP_EQ_I, chunk.OP_EQ_L,
			chunk.OP_NE, chunk.OP_NE_I, chunk.OP_NE_L,
			chunk.OP_LT, chunk.OP_LT_I, chunk.OP_LT_L,
			chunk.OP_LE, chunk.OP_LE_I, chunk.OP_LE_L,
			chunk.OP_GT, chunk.OP_GT_I, chunk.OP_GT_L,
			chunk.OP_GE, chunk.OP_GE_I, chunk.OP_GE_L:
			if rerr := vm.execCompare(frame, c, instr, op); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_JUMP:
			off := int16(c.Code[frame.IP])
			frame.IP += 1 + int(off)
		case chunk.OP_JUMP_IF_FALSE:
			v, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			off := int16(c.Code[frame.IP])
			frame.IP++
			if !v.Truthy() {
				frame.IP += int(off)
			}

		case chunk.OP_BRANCH_EQ_I, chunk.OP_BRANCH_NE_I, chunk.OP_BRANCH_LT_I,
			chunk.OP_BRANCH_LE_I, chunk.OP_BRANCH_GT_I, chunk.OP_BRANCH_GE_I,
			chunk.OP_BRANCH_EQ_L, chunk.OP_BRANCH_NE_L, chunk.OP_BRANCH_LT_L,
			chunk.OP_BRANCH_LE_L, chunk.OP_BRANCH_GT_L, chunk.OP_BRANCH_GE_L:
			if rerr := vm.execBranch(frame, c, instr, op); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_CALL:
			// A is both the callee register and the result destination;
			// arguments occupy A+1..A+argc (Lua-style call convention),
			// which is also why RET always lands its value at stack_base-1.
			funcReg := int(instr.A())
			callee, rerr := vm.read(vm.stack[base+funcReg])
			if rerr != nil {
				return value.Null(), rerr
			}
			argBase := base + funcReg + 1
			argc := int(instr.B())
			if rerr := vm.execCall(callee, argBase, argc, base+funcReg); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_CALL_SELF:
			funcReg := int(instr.A())
			argBase := base + funcReg + 1
			argc := int(instr.B())
			if rerr := vm.callSelf(argBase, argc); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_TAIL_CALL:
			callee, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			argBase := base + int(instr.B())
			cl, ok := value.IsObject[*value.Closure](callee)
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "tail call target is not a closure")
			}
			if rerr := vm.tailCall(cl, argBase, cl.Fn.Arity); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_TAIL_CALL_SELF:
			cur := vm.frames[vm.frameCount-1].Closure
			if rerr := vm.tailCall(cur, base+1, cur.Fn.Arity); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_SMART_TAIL_CALL:
			callee, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			argBase := base + int(instr.B())
			cl, ok := value.IsObject[*value.Closure](callee)
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "smart tail call target is not a closure")
			}
			if rerr := vm.smartTailCall(cl, argBase, cl.Fn.Arity); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_SMART_TAIL_CALL_SELF:
			cur := vm.frames[vm.frameCount-1].Closure
			if rerr := vm.smartTailCall(cur, base+1, cur.Fn.Arity); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_RET:
			rv, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			if rerr := vm.ret(rv); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_DEFINE_GLOBAL:
			name := vm.constString(c, instr.Bx())
			vm.globals[name] = *reg(instr.A())
		case chunk.OP_GET_GLOBAL:
			name := vm.constString(c, instr.Bx())
			v, ok := vm.globals[name]
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrUndefinedIdentifier, "undefined global %q", name)
			}
			*reg(instr.A()) = v
			switch v.Obj.(type) {
			case *value.NativeFunction, *value.NativeClosure:
			default:
				vm.cacheGlobal(c, frame.IP-1, name, instr.A())
			}
		case chunk.OP_GET_GLOBAL_CACHED:
			idx := instr.Bx()
			*reg(instr.A()) = vm.globalSlots[idx]
		case chunk.OP_SET_GLOBAL:
			name := vm.constString(c, instr.Bx())
			if rerr := vm.storeGlobal(name, *reg(instr.A())); rerr != nil {
				return value.Null(), rerr
			}
			switch reg(instr.A()).Obj.(type) {
			case *value.NativeFunction, *value.NativeClosure:
			default:
				vm.cacheGlobal(c, frame.IP-1, name, instr.A())
			}
		case chunk.OP_SET_GLOBAL_CACHED:
			idx := instr.Bx()
			vm.globalSlots[idx] = *reg(instr.A())
		case chunk.OP_SLOT_SET_GLOBAL:
			name := vm.constString(c, instr.Bx())
			vm.globals[name] = *reg(instr.A())

		case chunk.OP_CLOSURE:
			if rerr := vm.execClosure(frame, c, instr); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_GET_UPVALUE:
			u := frame.Closure.Upvalues[instr.B()]
			*reg(instr.A()) = vm.readUpvalue(u)
		case chunk.OP_SET_UPVALUE:
			u := frame.Closure.Upvalues[instr.B()]
			val, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			vm.writeUpvalue(u, val)
		case chunk.OP_SLOT_SET_UPVALUE:
			u := frame.Closure.Upvalues[instr.B()]
			vm.writeUpvalue(u, *reg(instr.A()))
		case chunk.OP_CLOSE_UPVALUE:
			vm.closeUpvalues(base + int(instr.A()))
		case chunk.OP_CLOSE_FRAME_UPVALUES:
			vm.closeUpvalues(base)

		case chunk.OP_NEW_LIST:
			n := int(instr.Bx())
			*reg(instr.A()) = value.FromObject(vm.newList(make([]value.Value, 0, n)))
		case chunk.OP_LIST_APPEND:
			lst, _ := value.IsObject[*value.ListObj](*reg(instr.A()))
			v, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			lst.Elems = append(lst.Elems, v)
		case chunk.OP_LIST_SPREAD:
			dst, _ := value.IsObject[*value.ListObj](*reg(instr.A()))
			src, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			srcLst, ok := value.IsObject[*value.ListObj](src)
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "cannot spread a %s into a list", src.TypeName())
			}
			dst.Elems = append(dst.Elems, srcLst.Elems...)

		case chunk.OP_NEW_MAP:
			*reg(instr.A()) = value.FromObject(vm.newMap())
		case chunk.OP_MAP_SET:
			m, _ := value.IsObject[*value.MapObj](*reg(instr.A()))
			key, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			val, rerr := vm.read(*reg(instr.C()))
			if rerr != nil {
				return value.Null(), rerr
			}
			m.Set(vm.mapKey(key), val)
		case chunk.OP_MAP_SPREAD:
			dst, _ := value.IsObject[*value.MapObj](*reg(instr.A()))
			src, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			srcMap, ok := value.IsObject[*value.MapObj](src)
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "cannot spread a %s into a map", src.TypeName())
			}
			for _, k := range srcMap.Order {
				dst.Set(k, srcMap.Entries[k])
			}

		case chunk.OP_GET_SUBSCRIPT:
			container, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			key, rerr := vm.read(*reg(instr.C()))
			if rerr != nil {
				return value.Null(), rerr
			}
			v, rerr := vm.indexGet(container, key)
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = v
		case chunk.OP_SET_SUBSCRIPT:
			container, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			key, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			val, rerr := vm.read(*reg(instr.C()))
			if rerr != nil {
				return value.Null(), rerr
			}
			if rerr := vm.indexSet(container, key, val); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_SLOT_SET_SUBSCRIPT:
			container := *reg(instr.A())
			key := *reg(instr.B())
			val := *reg(instr.C())
			if rerr := vm.indexSet(container, key, val); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_GET_MAP_PROPERTY:
			container, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			name := c.Constants[instr.Bx()]
			v, rerr := vm.propertyGet(container, name)
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = v
		case chunk.OP_SET_MAP_PROPERTY:
			container, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			val, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			nameIdx := uint16(c.Code[frame.IP])
			frame.IP++
			name := c.Constants[nameIdx]
			if rerr := vm.propertySet(container, name, val); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_SLOT_SET_MAP_PROPERTY:
			container := *reg(instr.A())
			val := *reg(instr.B())
			nameIdx := uint16(c.Code[frame.IP])
			frame.IP++
			name := c.Constants[nameIdx]
			if rerr := vm.propertySet(container, name, val); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_NEW_STRUCT:
			schemaVal := c.Constants[instr.Bx()]
			schema, ok := value.IsObject[*value.StructSchema](schemaVal)
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "NEW_STRUCT constant is not a schema")
			}
			*reg(instr.A()) = value.FromObject(vm.newStructInstance(schema))
		case chunk.OP_STRUCT_SPREAD:
			dst, _ := value.IsObject[*value.StructInstance](*reg(instr.A()))
			src, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			srcInst, ok := value.IsObject[*value.StructInstance](src)
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "cannot spread a %s into a struct", src.TypeName())
			}
			copy(dst.Fields, srcInst.Fields)
		case chunk.OP_GET_STRUCT_FIELD:
			inst, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			name := c.Constants[instr.Bx()]
			v, rerr := vm.propertyGet(inst, name)
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = v
		case chunk.OP_SET_STRUCT_FIELD:
			inst, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			val, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			nameIdx := uint16(c.Code[frame.IP])
			frame.IP++
			name := c.Constants[nameIdx]
			if rerr := vm.propertySet(inst, name, val); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_SLOT_SET_STRUCT_FIELD:
			inst := *reg(instr.A())
			val := *reg(instr.B())
			nameIdx := uint16(c.Code[frame.IP])
			frame.IP++
			name := c.Constants[nameIdx]
			if rerr := vm.propertySet(inst, name, val); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_NEW_DISPATCHER:
			name := vm.constString(c, instr.Bx())
			d := &value.Dispatcher{Name: name}
			vm.registerObject(d, 24)
			*reg(instr.A()) = value.FromObject(d)
		case chunk.OP_ADD_OVERLOAD:
			d, _ := value.IsObject[*value.Dispatcher](*reg(instr.A()))
			cl, ok := value.IsObject[*value.Closure](*reg(instr.B()))
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "ADD_OVERLOAD operand is not a closure")
			}
			d.Overloads = append(d.Overloads, cl)

		case chunk.OP_CLONE_VALUE:
			v, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = value.Clone(v)
		case chunk.OP_DEEP_CLONE_VALUE:
			v, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = value.DeepClone(v)

		case chunk.OP_MAKE_REF:
			*reg(instr.A()) = vm.flatten(vm.newLocalSlotRef(base + int(instr.B())))
		case chunk.OP_SLOT_MAKE_REF:
			*reg(instr.A()) = vm.newLocalSlotRef(base + int(instr.B()))
		case chunk.OP_MAKE_GLOBAL_REF:
			name := vm.constString(c, instr.Bx())
			*reg(instr.A()) = vm.flatten(vm.newGlobalRef(name))
		case chunk.OP_SLOT_MAKE_GLOBAL_REF:
			name := vm.constString(c, instr.Bx())
			*reg(instr.A()) = vm.newGlobalRef(name)
		case chunk.OP_MAKE_UPVALUE_REF:
			u := frame.Closure.Upvalues[instr.B()]
			*reg(instr.A()) = vm.flatten(vm.newUpvalueRef(u))
		case chunk.OP_MAKE_INDEX_REF:
			container, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			key, rerr := vm.read(*reg(instr.C()))
			if rerr != nil {
				return value.Null(), rerr
			}
			if rerr := vm.checkIndexExists(container, key); rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = vm.flatten(vm.newIndexRef(container, key))
		case chunk.OP_SLOT_MAKE_INDEX_REF:
			container, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			key, rerr := vm.read(*reg(instr.C()))
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = vm.newIndexRef(container, key)
		case chunk.OP_MAKE_PROPERTY_REF:
			container, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			name := c.Constants[instr.Bx()]
			if rerr := vm.checkPropertyExists(container, name); rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = vm.flatten(vm.newPropertyRef(container, name))
		case chunk.OP_SLOT_MAKE_PROPERTY_REF:
			container, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			name := c.Constants[instr.Bx()]
			*reg(instr.A()) = vm.newPropertyRef(container, name)

		case chunk.OP_DEREF_GET:
			v, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			*reg(instr.A()) = v
		case chunk.OP_DEREF_SET:
			r, ok := value.IsObject[*value.Reference](*reg(instr.A()))
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "DEREF_SET target is not a reference")
			}
			val, rerr := vm.read(*reg(instr.B()))
			if rerr != nil {
				return value.Null(), rerr
			}
			if rerr := vm.write(r, val, true); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_SLOT_DEREF_SET:
			r, ok := value.IsObject[*value.Reference](*reg(instr.A()))
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "SLOT_DEREF_SET target is not a reference")
			}
			if rerr := vm.slotWrite(r, *reg(instr.B())); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_PRE_INC, chunk.OP_POST_INC, chunk.OP_PRE_DEC, chunk.OP_POST_DEC:
			if rerr := vm.execIncDec(frame, c, instr, op); rerr != nil {
				return value.Null(), rerr
			}

		case chunk.OP_TYPEOF:
			*reg(instr.A()) = vm.newString(reg(instr.B()).TypeName())

		case chunk.OP_PUSH_PROMPT:
			tagVal, rerr := vm.read(*reg(instr.A()))
			if rerr != nil {
				return value.Null(), rerr
			}
			tag, ok := value.IsObject[*value.PromptTag](tagVal)
			if !ok {
				return value.Null(), vm.runtimeErrorAt(ErrContinuationMisuse, "PUSH_PROMPT operand is not a prompt tag")
			}
			if len(vm.promptStack) >= MaxPrompts {
				return value.Null(), vm.runtimeErrorAt(ErrContinuationMisuse, "prompt stack overflow")
			}
			vm.promptStack = append(vm.promptStack, promptEntry{Tag: tag, FrameIndex: vm.frameCount - 1, StackBase: base})
			vm.withPromptStack = append(vm.withPromptStack, withPromptEntry{FrameBoundary: vm.frameCount - 1})
		case chunk.OP_POP_PROMPT:
			if len(vm.promptStack) > 0 {
				vm.promptStack = vm.promptStack[:len(vm.promptStack)-1]
			}
			if len(vm.withPromptStack) > 0 {
				vm.withPromptStack = vm.withPromptStack[:len(vm.withPromptStack)-1]
			}
		case chunk.OP_CAPTURE:
			if rerr := vm.execCapture(frame, instr); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_RESUME:
			if rerr := vm.execResume(frame, instr); rerr != nil {
				return value.Null(), rerr
			}
		case chunk.OP_ABORT:
			if rerr := vm.execAbort(frame, instr); rerr != nil {
				return value.Null(), rerr
			}

		default:
			return value.Null(), vm.runtimeErrorAt(ErrTypeMismatch, "unimplemented opcode %s", op)
		}
	}
}

func (vm *VM) peekOrNull() value.Value {
	if vm.stackTop == 0 {
		return value.Null()
	}
	return vm.stack[vm.stackTop-1]
}

func (vm *VM) constString(c *chunk.Chunk, idx uint16) string {
	if s, ok := value.IsObject[*value.StringObj](c.Constants[idx]); ok {
		return s.Chars
	}
	return c.Constants[idx].String()
}

func (vm *VM) cacheGlobal(c *chunk.Chunk, ip int, name string, a byte) {
	idx, ok := vm.globalIndex[name]
	if !ok {
		idx = len(vm.globalSlots)
		vm.globalIndex[name] = idx
		vm.globalSlots = append(vm.globalSlots, vm.globals[name])
	} else {
		vm.globalSlots[idx] = vm.globals[name]
	}
	op := c.Code[ip].Op()
	cachedOp := chunk.OP_GET_GLOBAL_CACHED
	if op == chunk.OP_SET_GLOBAL {
		cachedOp = chunk.OP_SET_GLOBAL_CACHED
	}
	c.Code[ip] = chunk.EncodeABx(cachedOp, a, uint16(idx))
}

func (vm *VM) storeGlobal(name string, v value.Value) *RuntimeError {
	val, rerr := vm.read(v)
	if rerr != nil {
		return rerr
	}
	if r, ok := value.IsObject[*value.Reference](val); ok && r.Kind == value.RefLocalSlot {
		return vm.runtimeErrorAt(ErrDanglingRefStore, "cannot store a local-slot reference into a global")
	}
	vm.globals[name] = val
	return nil
}

func (vm *VM) derefNumber(v value.Value) (float64, *RuntimeError) {
	dv, err := vm.read(v)
	if err != nil {
		return 0, err
	}
	if dv.Kind != value.KindNumber {
		return 0, vm.runtimeErrorAt(ErrTypeMismatch, "expected a number, got %s", dv.TypeName())
	}
	return dv.Number, nil
}

func (vm *VM) checkIndexExists(container, key value.Value) *RuntimeError {
	switch c := container.Obj.(type) {
	case *value.ListObj:
		if key.Kind != value.KindNumber {
			return vm.runtimeErrorAt(ErrTypeMismatch, "list index must be a number")
		}
		i := int(key.Number)
		if i < 0 || i >= len(c.Elems) {
			return vm.runtimeErrorAt(ErrKeyMissing, "list index %d out of bounds", i)
		}
	case *value.MapObj:
		if _, ok := c.Get(vm.mapKey(key)); !ok {
			return vm.runtimeErrorAt(ErrKeyMissing, "key %q not present in map", vm.mapKey(key))
		}
	default:
		return vm.runtimeErrorAt(ErrTypeMismatch, "cannot reference-index a %s", container.TypeName())
	}
	return nil
}

func (vm *VM) checkPropertyExists(container, key value.Value) *RuntimeError {
	name := vm.mapKey(key)
	switch c := container.Obj.(type) {
	case *value.MapObj:
		if _, ok := c.Get(name); !ok {
			return vm.runtimeErrorAt(ErrKeyMissing, "key %q not present in map", name)
		}
	case *value.StructInstance:
		if _, ok := c.FieldIndex(name); !ok {
			return vm.runtimeErrorAt(ErrKeyMissing, "struct %s has no field %q", c.Schema.Name, name)
		}
	default:
		return vm.runtimeErrorAt(ErrTypeMismatch, "cannot reference-property a %s", container.TypeName())
	}
	return nil
}

// execCall implements the CALL opcode: validate the callee, apply the
// qualifier transform, and either transfer control into a closure frame
// or invoke a native function/closure synchronously.
func (vm *VM) execCall(callee value.Value, argBase, argc, retSlot int) *RuntimeError {
	cl, nf, nc, rerr := vm.resolveCallable(callee, argc)
	if rerr != nil {
		return rerr
	}
	if cl != nil {
		return vm.call(cl, argBase, argc)
	}
	var result value.Value
	if nf != nil {
		result, rerr = vm.callNative(nf, argBase, argc)
	} else {
		result, rerr = vm.callNativeClosure(nc, argBase, argc)
	}
	if rerr != nil {
		return rerr
	}
	if value.IsControlTransferSentinel(result) {
		return nil
	}
	vm.stack[retSlot] = result
	return nil
}

func (vm *VM) execClosure(frame *CallFrame, c *chunk.Chunk, instr chunk.Instruction) *RuntimeError {
	fnVal := c.Constants[instr.Bx()]
	fn, ok := value.IsObject[*value.Function](fnVal)
	if !ok {
		return vm.runtimeErrorAt(ErrTypeMismatch, "CLOSURE constant is not a function")
	}
	cl := &value.Closure{Fn: fn, Upvalues: make([]*value.Upvalue, len(fn.Upvalues))}
	for i, desc := range fn.Upvalues {
		w := c.Code[frame.IP]
		frame.IP++
		isLocal := byte(w) != 0
		idx := int(byte(w >> 8))
		_ = desc
		if isLocal {
			cl.Upvalues[i] = vm.captureUpvalue(frame.Slots + idx)
		} else {
			cl.Upvalues[i] = frame.Closure.Upvalues[idx]
		}
	}
	vm.registerObject(cl, 32+8*len(cl.Upvalues))
	vm.stack[frame.Slots+int(instr.A())] = value.FromObject(cl)
	return nil
}

func (vm *VM) execIncDec(frame *CallFrame, c *chunk.Chunk, instr chunk.Instruction, op chunk.OpCode) *RuntimeError {
	base := frame.Slots
	aIdx := base + int(instr.A())
	orig := vm.stack[aIdx]

	cur, rerr := vm.read(orig)
	if rerr != nil {
		return rerr
	}
	if cur.Kind != value.KindNumber {
		return vm.runtimeErrorAt(ErrTypeMismatch, "increment/decrement requires a number, got %s", cur.TypeName())
	}

	var next float64
	switch op {
	case chunk.OP_PRE_INC, chunk.OP_POST_INC:
		next = cur.Number + 1
	default:
		next = cur.Number - 1
	}
	nv := value.Number(next)

	if r, ok := value.IsObject[*value.Reference](orig); ok {
		if rerr := vm.write(r, nv, true); rerr != nil {
			return rerr
		}
	} else {
		vm.stack[aIdx] = nv
	}

	switch op {
	case chunk.OP_PRE_INC, chunk.OP_PRE_DEC:
		vm.stack[base+int(instr.A())] = nv
	case chunk.OP_POST_INC, chunk.OP_POST_DEC:
		vm.stack[base+int(instr.B())] = cur
	}
	return nil
}

func (vm *VM) execArith(frame *CallFrame, c *chunk.Chunk, instr chunk.Instruction, op chunk.OpCode) *RuntimeError {
	base := frame.Slots
	var left, right float64
	var leftVal value.Value
	var rerr *RuntimeError
	var aDest byte

	switch {
	case isImmForm(op):
		aDest = instr.A()
		leftVal, rerr = vm.read(vm.stack[base+int(aDest)])
		if rerr != nil {
			return rerr
		}
		right = float64(instr.SignedBx())
	case isLitForm(op):
		aDest = instr.A()
		leftVal, rerr = vm.read(vm.stack[base+int(aDest)])
		if rerr != nil {
			return rerr
		}
		right = chunk.DecodeLit64(c.Code[frame.IP], c.Code[frame.IP+1])
		frame.IP += 2
	default:
		aDest = instr.A()
		lv, rerr1 := vm.read(vm.stack[base+int(instr.B())])
		if rerr1 != nil {
			return rerr1
		}
		rv, rerr2 := vm.read(vm.stack[base+int(instr.C())])
		if rerr2 != nil {
			return rerr2
		}
		leftVal = lv
		if rv.Kind != value.KindNumber {
			if op == chunk.OP_ADD {
				return vm.execStringConcat(frame, instr, lv, rv)
			}
			return vm.runtimeErrorAt(ErrTypeMismatch, "arithmetic requires numbers, got %s and %s", lv.TypeName(), rv.TypeName())
		}
		right = rv.Number
	}

	if leftVal.Kind != value.KindNumber {
		// String + string is only reachable through the reg-reg path
		// above; _I/_L immediate forms never apply to strings.
		return vm.runtimeErrorAt(ErrTypeMismatch, "arithmetic requires a number, got %s", leftVal.TypeName())
	}
	left = leftVal.Number

	result, rerr3 := arithResult(op, left, right)
	if rerr3 != nil {
		return vm.runtimeErrorAt(ErrDivByZero, "%s", rerr3.Error())
	}
	vm.stack[base+int(aDest)] = value.Number(result)
	return nil
}

func (vm *VM) execStringConcat(frame *CallFrame, instr chunk.Instruction, lv, rv value.Value) *RuntimeError {
	ls, lok := value.IsObject[*value.StringObj](lv)
	rs, rok := value.IsObject[*value.StringObj](rv)
	if !lok || !rok {
		return vm.runtimeErrorAt(ErrTypeMismatch, "+ requires two numbers or two strings")
	}
	vm.pushTempRoot(ls)
	vm.pushTempRoot(rs)
	result := vm.newString(ls.Chars + rs.Chars)
	vm.popTempRoot()
	vm.popTempRoot()
	vm.stack[frame.Slots+int(instr.A())] = result
	return nil
}

func arithResult(op chunk.OpCode, l, r float64) (float64, error) {
	switch baseOp(op) {
	case chunk.OP_ADD:
		return l + r, nil
	case chunk.OP_SUB:
		return l - r, nil
	case chunk.OP_MUL:
		return l * r, nil
	case chunk.OP_DIV:
		return l / r, nil
	case chunk.OP_MOD:
		if r == 0 {
			return 0, errDivByZero
		}
		return math.Mod(l, r), nil
	default:
		return 0, errDivByZero
	}
}

var errDivByZero = divByZeroErr{}

type divByZeroErr struct{}

func (divByZeroErr) Error() string { return "division or modulo by zero" }

func baseOp(op chunk.OpCode) chunk.OpCode {
	switch op {
	case chunk.OP_ADD_I, chunk.OP_ADD_L:
		return chunk.OP_ADD
	case chunk.OP_SUB_I, chunk.OP_SUB_L:
		return chunk.OP_SUB
	case chunk.OP_MUL_I, chunk.OP_MUL_L:
		return chunk.OP_MUL
	case chunk.OP_DIV_I, chunk.OP_DIV_L:
		return chunk.OP_DIV
	case chunk.OP_MOD_I, chunk.OP_MOD_L:
		return chunk.OP_MOD
	default:
		return op
	}
}

func isImmForm(op chunk.OpCode) bool {
	return op.Form() == chunk.FormAImm16
}

func isLitForm(op chunk.OpCode) bool {
	return op.Form() == chunk.FormALit64
}

func (vm *VM) execBitwise(frame *CallFrame, c *chunk.Chunk, instr chunk.Instruction, op chunk.OpCode) *RuntimeError {
	base := frame.Slots
	var left int32
	var right float64
	aDest := instr.A()
	leftReg := aDest
	if !isImmForm(op) && !isLitForm(op) {
		leftReg = instr.B()
	}

	lv, rerr := vm.read(vm.stack[base+int(leftReg)])
	if rerr != nil {
		return rerr
	}
	if lv.Kind != value.KindNumber {
		return vm.runtimeErrorAt(ErrTypeMismatch, "bitwise op requires a number, got %s", lv.TypeName())
	}
	left = int32(int64(lv.Number))

	switch {
	case isImmForm(op):
		right = float64(instr.SignedBx())
	case isLitForm(op):
		right = chunk.DecodeLit64(c.Code[frame.IP], c.Code[frame.IP+1])
		frame.IP += 2
	default:
		rv, rerr2 := vm.read(vm.stack[base+int(instr.C())])
		if rerr2 != nil {
			return rerr2
		}
		if rv.Kind != value.KindNumber {
			return vm.runtimeErrorAt(ErrTypeMismatch, "bitwise op requires a number, got %s", rv.TypeName())
		}
		right = rv.Number
	}
	rightI := int32(int64(right))

	var result int32
	switch baseOp2(op) {
	case chunk.OP_BAND:
		result = left & rightI
	case chunk.OP_BOR:
		result = left | rightI
	case chunk.OP_BXOR:
		result = left ^ rightI
	case chunk.OP_SHL:
		result = left << (uint32(rightI) & 0x1F)
	case chunk.OP_SHR:
		result = left >> (uint32(rightI) & 0x1F)
	}
	vm.stack[base+int(aDest)] = value.Number(float64(result))
	return nil
}

func baseOp2(op chunk.OpCode) chunk.OpCode {
	switch op {
	case chunk.OP_BAND_I, chunk.OP_BAND_L:
		return chunk.OP_BAND
	case chunk.OP_BOR_I, chunk.OP_BOR_L:
		return chunk.OP_BOR
	case chunk.OP_BXOR_I, chunk.OP_BXOR_L:
		return chunk.OP_BXOR
	case chunk.OP_SHL_I, chunk.OP_SHL_L:
		return chunk.OP_SHL
	case chunk.OP_SHR_I, chunk.OP_SHR_L:
		return chunk.OP_SHR
	default:
		return op
	}
}

func (vm *VM) execCompare(frame *CallFrame, c *chunk.Chunk, instr chunk.Instruction, op chunk.OpCode) *RuntimeError {
	base := frame.Slots
	aDest := instr.A()
	leftReg := aDest
	if !isImmForm(op) && !isLitForm(op) {
		leftReg = instr.B()
	}
	lv, rerr := vm.read(vm.stack[base+int(leftReg)])
	if rerr != nil {
		return rerr
	}

	var rv value.Value
	switch {
	case isImmForm(op):
		rv = value.Number(float64(instr.SignedBx()))
	case isLitForm(op):
		rv = value.Number(chunk.DecodeLit64(c.Code[frame.IP], c.Code[frame.IP+1]))
		frame.IP += 2
	default:
		v, rerr2 := vm.read(vm.stack[base+int(instr.C())])
		if rerr2 != nil {
			return rerr2
		}
		rv = v
	}

	result, rerr3 := compareResult(baseCompareOp(op), lv, rv)
	if rerr3 != nil {
		return rerr3
	}
	vm.stack[base+int(aDest)] = value.Bool(result)
	return nil
}

func baseCompareOp(op chunk.OpCode) chunk.OpCode {
	switch op {
	case chunk.OP_EQ_I, chunk.OP_EQ_L:
		return chunk.OP_EQ
	case chunk.OP_NE_I, chunk.OP_NE_L:
		return chunk.OP_NE
	case chunk.OP_LT_I, chunk.OP_LT_L:
		return chunk.OP_LT
	case chunk.OP_LE_I, chunk.OP_LE_L:
		return chunk.OP_LE
	case chunk.OP_GT_I, chunk.OP_GT_L:
		return chunk.OP_GT
	case chunk.OP_GE_I, chunk.OP_GE_L:
		return chunk.OP_GE
	default:
		return op
	}
}

func compareResult(op chunk.OpCode, l, r value.Value) (bool, *RuntimeError) {
	switch op {
	case chunk.OP_EQ, chunk.OP_NE:
		if l.Kind == value.KindEnum && r.Kind == value.KindEnum && l.EnumType != r.EnumType {
			return false, &RuntimeError{Kind: ErrTypeMismatch, Message: "cannot compare enums of different types"}
		}
		if op == chunk.OP_EQ {
			return l.Equal(r), nil
		}
		return !l.Equal(r), nil
	default:
		if l.Kind != value.KindNumber || r.Kind != value.KindNumber {
			return false, &RuntimeError{Kind: ErrTypeMismatch, Message: "ordering comparison requires two numbers"}
		}
		switch op {
		case chunk.OP_LT:
			return l.Number < r.Number, nil
		case chunk.OP_LE:
			return l.Number <= r.Number, nil
		case chunk.OP_GT:
			return l.Number > r.Number, nil
		case chunk.OP_GE:
			return l.Number >= r.Number, nil
		}
		return false, &RuntimeError{Kind: ErrTypeMismatch, Message: "unknown comparison"}
	}
}

func (vm *VM) execBranch(frame *CallFrame, c *chunk.Chunk, instr chunk.Instruction, op chunk.OpCode) *RuntimeError {
	base := frame.Slots
	lv, rerr := vm.read(vm.stack[base+int(instr.A())])
	if rerr != nil {
		return rerr
	}

	var rv value.Value
	var off int16
	if isBranchImmForm(op) {
		rv = value.Number(float64(instr.SignedBx()))
		off = int16(c.Code[frame.IP])
		frame.IP++
	} else {
		rv = value.Number(chunk.DecodeLit64(c.Code[frame.IP], c.Code[frame.IP+1]))
		off = int16(c.Code[frame.IP+2])
		frame.IP += 3
	}

	cmpOp := baseBranchCompareOp(op)
	result, rerr2 := compareResult(cmpOp, lv, rv)
	if rerr2 != nil {
		return rerr2
	}
	if result {
		frame.IP += int(off)
	}
	return nil
}

func isBranchImmForm(op chunk.OpCode) bool { return op.Form() == chunk.FormBranchImm16 }

func baseBranchCompareOp(op chunk.OpCode) chunk.OpCode {
	switch op {
	case chunk.OP_BRANCH_EQ_I, chunk.OP_BRANCH_EQ_L:
		return chunk.OP_EQ
	case chunk.OP_BRANCH_NE_I, chunk.OP_BRANCH_NE_L:
		return chunk.OP_NE
	case chunk.OP_BRANCH_LT_I, chunk.OP_BRANCH_LT_L:
		return chunk.OP_LT
	case chunk.OP_BRANCH_LE_I, chunk.OP_BRANCH_LE_L:
		return chunk.OP_LE
	case chunk.OP_BRANCH_GT_I, chunk.OP_BRANCH_GT_L:
		return chunk.OP_GT
	case chunk.OP_BRANCH_GE_I, chunk.OP_BRANCH_GE_L:
		return chunk.OP_GE
	default:
		return op
	}
}
