package vm

import (
	"fmt"

	"zymvm/internal/chunk"
	"zymvm/internal/value"
)

// trampolineChunk is a one-instruction chunk encoding a RET, used as
// the synthetic caller frame's chunk for execute() (§4.9): when the
// prepared closure's RET pops back into this frame, the trampoline's
// own RET runs next and pops it, so run() sees frameCount drop to the
// floor it was called with and returns control to the host.
func newTrampolineChunk() *chunk.Chunk {
	c := chunk.New("<trampoline>")
	c.Write(chunk.Encode(chunk.OP_RET, 0, 0, 0), 0)
	return c
}

// LoadModule runs a freshly compiled chunk's top level once, as an
// implicit zero-arity closure, so its DEFINE_GLOBAL/CLOSURE
// instructions populate the globals table before any name can be
// prepare()'d. This is the one entry point a front end (compiler) uses
// to hand a finished Chunk to the VM; everything after it is driven
// through the embedding API below.
func (vm *VM) LoadModule(c *chunk.Chunk) Status {
	maxRegs := c.MaxRegs
	if maxRegs == 0 {
		maxRegs = 256
	}
	fn := &value.Function{Name: "<module>", Module: c.ModuleName, Arity: 0, MaxRegs: maxRegs, Chunk: c}
	vm.registerObject(fn, 96)
	cl := &value.Closure{Fn: fn}
	vm.registerObject(cl, 32)

	return vm.invoke(cl, nil)
}

// Prepare name-mangles name@arity, looks up the closure in globals, and
// resets the API-stack pointer so push* calls start fresh (§4.9).
func (vm *VM) Prepare(name string, arity int) bool {
	mangled := fmt.Sprintf("%s@%d", name, arity)
	g, ok := vm.globals[mangled]
	if !ok {
		return false
	}
	if _, ok := value.IsObject[*value.Closure](g); !ok {
		return false
	}
	vm.preparedName = mangled
	vm.apiStack = vm.apiStack[:0]
	return true
}

func (vm *VM) PushNumber(n float64) { vm.apiStack = append(vm.apiStack, value.Number(n)) }
func (vm *VM) PushString(s string)  { vm.apiStack = append(vm.apiStack, vm.newString(s)) }
func (vm *VM) PushNull()            { vm.apiStack = append(vm.apiStack, value.Null()) }
func (vm *VM) PushBool(b bool)      { vm.apiStack = append(vm.apiStack, value.Bool(b)) }

// Execute enters the prepared closure with argc values taken off the
// API stack, via a synthetic trampoline caller frame, and runs the
// interpreter to completion or to the first runtime error.
func (vm *VM) Execute(argc int) Status {
	g, ok := vm.globals[vm.preparedName]
	if !ok {
		vm.lastError = &RuntimeError{Kind: ErrUndefinedIdentifier, Message: "no closure prepared"}
		return StatusRuntimeError
	}
	cl, ok := value.IsObject[*value.Closure](g)
	if !ok {
		vm.lastError = &RuntimeError{Kind: ErrTypeMismatch, Message: "prepared global is not a closure"}
		return StatusRuntimeError
	}
	args := vm.apiStack
	if argc < len(args) {
		args = args[:argc]
	}
	return vm.invoke(cl, args)
}

// GetResult reads the top of the API stack, the convention execute()
// leaves a single returned value under (§4.9 getResult).
func (vm *VM) GetResult() value.Value {
	if len(vm.apiStack) == 0 {
		return value.Null()
	}
	return vm.apiStack[len(vm.apiStack)-1]
}

// LastError returns the formatted §6 error report for the most recent
// StatusRuntimeError/StatusCompileError result, or "" if the last
// operation succeeded.
func (vm *VM) LastError() string {
	if vm.lastError == nil {
		return ""
	}
	return vm.lastError.Error()
}

// invoke is the shared machinery behind LoadModule and Execute: push a
// synthetic trampoline frame, push cl as a real frame above it, copy
// args onto the stack, and run() until the trampoline frame's RET
// drops frameCount back to the floor — at which point the returned
// value sits at the top of the stack.
func (vm *VM) invoke(cl *value.Closure, args []value.Value) Status {
	trampolineChunk := newTrampolineChunk()
	trampolineFn := &value.Function{Name: "<trampoline>", Arity: 0, MaxRegs: 1, Chunk: trampolineChunk}
	trampolineCl := &value.Closure{Fn: trampolineFn}
	floor := vm.frameCount

	vm.frames[vm.frameCount] = CallFrame{Closure: trampolineCl, IP: 0, Slots: vm.stackTop, CallerChunk: trampolineChunk, IsTrampoline: true}
	vm.frameCount++

	calleeReg := vm.stackTop
	_ = vm.push(value.FromObject(cl))
	for _, a := range args {
		_ = vm.push(a)
	}

	if len(args) != cl.Fn.Arity {
		vm.frameCount = floor
		vm.stackTop = calleeReg
		vm.lastError = vm.runtimeErrorAt(ErrArityMismatch, "%s expects %d argument(s), got %d", cl.Fn.Name, cl.Fn.Arity, len(args))
		return StatusRuntimeError
	}

	if rerr := vm.call(cl, calleeReg+1, len(args)); rerr != nil {
		vm.frameCount = floor
		vm.stackTop = calleeReg
		vm.lastError = rerr
		return StatusRuntimeError
	}

	result, rerr := vm.run(floor)
	if rerr != nil {
		vm.lastError = rerr
		return StatusRuntimeError
	}
	vm.apiStack = append(vm.apiStack[:0], result)
	vm.stackTop = calleeReg
	vm.frameCount = floor
	return StatusOK
}
