package vm

import "zymvm/internal/value"

// applyQualifiers runs the parameter-qualifier transform (§4.6) over
// argc argument slots starting at argBase, in place. qualifiers and sig
// come from the callee Function being entered. REF-qualified,
// non-reference arguments need a temporary stack slot: when deferRef is
// false applyQualifiers materializes them itself; when deferRef is true
// it returns their slots instead, so the caller can materialize them
// after the frame has been reused (see tailCall).
func (vm *VM) applyQualifiers(argBase, argc int, qualifiers []value.ParamQualifier, sig value.QualifierSig, deferRef bool) ([]int, *RuntimeError) {
	if sig == value.SigAllNormalNoRefs {
		return nil, nil
	}

	var deferredRefSlots []int

	for i := 0; i < argc; i++ {
		slot := argBase + i
		arg := vm.stack[slot]
		var q value.ParamQualifier = value.QualNormal
		if i < len(qualifiers) {
			q = qualifiers[i]
		}

		isRef, refObj := asReference(arg)

		switch q {
		case value.QualNormal:
			if isRef {
				v, err := vm.read(arg)
				if err != nil {
					return nil, err
				}
				vm.stack[slot] = v
			}
		case value.QualVal:
			if isRef {
				v, err := vm.read(arg)
				if err != nil {
					return nil, err
				}
				vm.stack[slot] = value.Clone(v)
			} else {
				vm.stack[slot] = value.Clone(arg)
			}
		case value.QualClone:
			if isRef {
				v, err := vm.read(arg)
				if err != nil {
					return nil, err
				}
				vm.stack[slot] = value.DeepClone(v)
			}
			// non-reference: compiler already emitted the deep clone.
		case value.QualRef:
			if isRef {
				vm.stack[slot] = vm.flatten(value.FromObject(refObj))
			} else if deferRef {
				deferredRefSlots = append(deferredRefSlots, slot)
			} else {
				vm.stack[slot] = vm.materializeTempRef(slot)
			}
		case value.QualSlot:
			// keep as-is
		case value.QualTypeof:
			vm.stack[slot] = vm.newString(arg.TypeName())
		}
	}

	return deferredRefSlots, nil
}

func asReference(v value.Value) (bool, *value.Reference) {
	r, ok := value.IsObject[*value.Reference](v)
	return ok, r
}

// materializeTempRef implements the REF-with-non-reference-argument
// rule: reserve a new stack slot, copy the value into it, and return a
// LocalSlot reference to that slot.
func (vm *VM) materializeTempRef(sourceSlot int) value.Value {
	v := vm.stack[sourceSlot]
	newSlot := vm.stackTop
	_ = vm.push(v)
	return vm.newLocalSlotRef(newSlot)
}

// finishDeferredRefs materializes REF temp slots after a tail call has
// already shuffled arguments into the reused frame, so the reservation
// doesn't point into a slot that shuffling was about to overwrite.
func (vm *VM) finishDeferredRefs(slots []int) {
	for _, slot := range slots {
		vm.stack[slot] = vm.materializeTempRef(slot)
	}
}

// resolveCallable validates a callee value against CALL's contract: it
// must be a closure, a dispatcher (resolved by argc), a native function
// or a native closure.
func (vm *VM) resolveCallable(callee value.Value, argc int) (*value.Closure, *value.NativeFunction, *value.NativeClosure, *RuntimeError) {
	switch c := callee.Obj.(type) {
	case *value.Closure:
		return c, nil, nil, nil
	case *value.Dispatcher:
		overload, ok := c.Resolve(argc)
		if !ok {
			return nil, nil, nil, vm.runtimeErrorAt(ErrArityMismatch, "no overload of %q accepts %d argument(s)", c.Name, argc)
		}
		return overload, nil, nil, nil
	case *value.NativeFunction:
		return nil, c, nil, nil
	case *value.NativeClosure:
		return nil, nil, c, nil
	default:
		return nil, nil, nil, vm.runtimeErrorAt(ErrTypeMismatch, "value of type %s is not callable", callee.TypeName())
	}
}

// call pushes a new frame for cl, validating arity, growing the stack to
// stack_base + max_regs, and transferring control. argBase is the
// absolute stack slot of argument 0 (the slot right after the callee).
func (vm *VM) call(cl *value.Closure, argBase, argc int) *RuntimeError {
	if argc != cl.Fn.Arity {
		return vm.runtimeErrorAt(ErrArityMismatch, "%s expects %d argument(s), got %d", cl.Fn.Name, cl.Fn.Arity, argc)
	}
	if vm.frameCount >= FramesMax {
		return vm.runtimeErrorAt(ErrStackOverflow, "call stack overflow")
	}

	deferred, err := vm.applyQualifiers(argBase, argc, cl.Fn.Qualifiers, cl.Fn.QualifierSig, false)
	if err != nil {
		return err
	}
	_ = deferred // non-tail path materializes REF inline, nothing deferred

	if rerr := vm.reserveTo(argBase + cl.Fn.MaxRegs); rerr != nil {
		return rerr
	}

	var callerChunk = vm.currentChunk()

	vm.frames[vm.frameCount] = CallFrame{
		Closure:     cl,
		IP:          0,
		Slots:       argBase,
		CallerChunk: callerChunk,
	}
	vm.frameCount++
	return nil
}

// callSelf re-enters the current closure with freshly supplied
// arguments, used by CALL_SELF (a direct-recursion fast path that skips
// the callee lookup).
func (vm *VM) callSelf(argBase, argc int) *RuntimeError {
	cur := vm.frames[vm.frameCount-1].Closure
	return vm.call(cur, argBase, argc)
}

// tailCall reuses the current frame's slots for a new callee, per
// §4.6's TAIL_CALL: arguments are moved down to stack_base+1..+argc,
// REF materialization deferred until after the move, then the frame's
// closure is rewritten and IP reset.
func (vm *VM) tailCall(cl *value.Closure, argBase, argc int) *RuntimeError {
	if argc != cl.Fn.Arity {
		return vm.runtimeErrorAt(ErrArityMismatch, "%s expects %d argument(s), got %d", cl.Fn.Name, cl.Fn.Arity, argc)
	}
	frame := &vm.frames[vm.frameCount-1]
	base := frame.Slots

	for i := 0; i < argc; i++ {
		vm.stack[base+1+i] = vm.stack[argBase+i]
	}
	newArgBase := base + 1

	deferred, err := vm.applyQualifiers(newArgBase, argc, cl.Fn.Qualifiers, cl.Fn.QualifierSig, true)
	if err != nil {
		return err
	}
	vm.finishDeferredRefs(deferred)

	if rerr := vm.reserveTo(base + cl.Fn.MaxRegs); rerr != nil {
		return rerr
	}

	frame.Closure = cl
	frame.IP = 0
	return nil
}

// smartTailCall implements SMART_TAIL_CALL: a true tail call if the
// callee closure captures no upvalues (nothing aliases the frame being
// discarded), otherwise an ordinary push-frame call.
func (vm *VM) smartTailCall(cl *value.Closure, argBase, argc int) *RuntimeError {
	if len(cl.Upvalues) == 0 {
		return vm.tailCall(cl, argBase, argc)
	}
	return vm.call(cl, argBase, argc)
}

// callNative invokes a fixed-arity native function with its arguments
// dereferenced (any VAL/CLONE/TYPEOF transform runs inside the wrapper
// qualifyNative installed), then interprets the sentinel results §4.6
// and §4.10 describe.
func (vm *VM) callNative(fn *value.NativeFunction, argBase, argc int) (value.Value, *RuntimeError) {
	if argc != fn.Arity {
		return value.Null(), vm.runtimeErrorAt(ErrArityMismatch, "%s expects %d argument(s), got %d", fn.Name, fn.Arity, argc)
	}
	args := make([]value.Value, argc)
	for i := 0; i < argc; i++ {
		v, err := vm.read(vm.stack[argBase+i])
		if err != nil {
			return value.Null(), err
		}
		args[i] = v
	}
	result := fn.Fn(args)
	return vm.interpretNativeResult(result)
}

func (vm *VM) callNativeClosure(nc *value.NativeClosure, argBase, argc int) (value.Value, *RuntimeError) {
	if argc != nc.Arity {
		return value.Null(), vm.runtimeErrorAt(ErrArityMismatch, "%s expects %d argument(s), got %d", nc.Name, nc.Arity, argc)
	}
	args := make([]value.Value, argc)
	for i := 0; i < argc; i++ {
		v, err := vm.read(vm.stack[argBase+i])
		if err != nil {
			return value.Null(), err
		}
		args[i] = v
	}
	result := nc.Fn(nc.Context, args)
	return vm.interpretNativeResult(result)
}

func (vm *VM) interpretNativeResult(result value.Value) (value.Value, *RuntimeError) {
	if msg, ok := value.IsErrorSentinel(result); ok {
		return value.Null(), vm.runtimeErrorAt(ErrNativeReport, "%s", msg)
	}
	if value.IsControlTransferSentinel(result) {
		return result, nil
	}
	return result, nil
}

// ret implements §4.6's RET: promote LocalSlot references inside the
// return value, close upvalues at the returning frame's base, pop it,
// and route the value to wherever control resumes next — the caller's
// callee slot, a pending with-prompt boundary, or a pending resume's
// result slot.
func (vm *VM) ret(retVal value.Value) *RuntimeError {
	frame := &vm.frames[vm.frameCount-1]
	base := frame.Slots

	retVal = vm.promoteLifetime(retVal, base)
	vm.closeUpvalues(base)

	vm.frameCount--
	vm.stackTop = base

	if n := len(vm.withPromptStack); n > 0 && vm.withPromptStack[n-1].FrameBoundary == vm.frameCount {
		vm.withPromptStack = vm.withPromptStack[:n-1]
		if len(vm.promptStack) > 0 {
			vm.promptStack = vm.promptStack[:len(vm.promptStack)-1]
		}
	}

	if n := len(vm.resumeStack); n > 0 && vm.resumeStack[n-1].FrameBoundary == vm.frameCount {
		r := vm.resumeStack[n-1]
		vm.resumeStack = vm.resumeStack[:n-1]
		if r.ResultSlot >= 0 && r.ResultSlot < len(vm.stack) {
			vm.stack[r.ResultSlot] = retVal
		}
		return nil
	}

	if frame.IsTrampoline {
		_ = vm.push(retVal)
		return nil
	}

	vm.stack[base-1] = retVal
	return nil
}
