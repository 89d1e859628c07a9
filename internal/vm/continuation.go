package vm

import (
	"zymvm/internal/chunk"
	"zymvm/internal/value"
)

// findPrompt locates the nearest (topmost) entry in promptStack tagged
// with tag, per §4.8's CAPTURE/ABORT lookup.
func (vm *VM) findPrompt(tag *value.PromptTag) (int, bool) {
	for i := len(vm.promptStack) - 1; i >= 0; i-- {
		if vm.promptStack[i].Tag.Equal(tag) {
			return i, true
		}
	}
	return 0, false
}

// execCapture implements CAPTURE Ra, Rb: snapshot every frame and stack
// slot above the matching prompt into a one-shot Continuation, unwind
// to the prompt, and push the continuation as the with-prompt region's
// result.
func (vm *VM) execCapture(frame *CallFrame, instr chunk.Instruction) *RuntimeError {
	base := frame.Slots
	tagVal, rerr := vm.read(vm.stack[base+int(instr.A())])
	if rerr != nil {
		return rerr
	}
	tag, ok := value.IsObject[*value.PromptTag](tagVal)
	if !ok {
		return vm.runtimeErrorAt(ErrTypeMismatch, "CAPTURE operand is not a prompt tag")
	}
	pIdx, found := vm.findPrompt(tag)
	if !found {
		return vm.runtimeErrorAt(ErrTagNotFound, "no enclosing prompt for this tag")
	}
	prompt := vm.promptStack[pIdx]

	savedFrames := make([]value.SavedFrame, 0, vm.frameCount-prompt.FrameIndex)
	for i := prompt.FrameIndex; i < vm.frameCount; i++ {
		f := &vm.frames[i]
		savedFrames = append(savedFrames, value.SavedFrame{
			Closure:     f.Closure,
			IP:          f.IP,
			StackBase:   f.Slots - prompt.StackBase,
			CallerChunk: f.CallerChunk,
		})
	}
	savedStack := make([]value.Value, vm.stackTop-prompt.StackBase)
	copy(savedStack, vm.stack[prompt.StackBase:vm.stackTop])

	resultSlot := (base + int(instr.B())) - prompt.StackBase

	cont := &value.Continuation{
		Tag:        tag,
		Frames:     savedFrames,
		Stack:      savedStack,
		ResultSlot: resultSlot,
	}
	vm.registerObject(cont, 64+32*len(savedStack)+24*len(savedFrames))

	vm.unwindToPrompt(pIdx)
	return vm.push(value.FromObject(cont))
}

// unwindToPrompt discards every frame and stack slot above prompt index
// pIdx (inclusive of the frame that pushed it) and pops that prompt and
// its matching with-prompt entry.
func (vm *VM) unwindToPrompt(pIdx int) {
	prompt := vm.promptStack[pIdx]
	vm.frameCount = prompt.FrameIndex
	vm.stackTop = prompt.StackBase
	vm.promptStack = vm.promptStack[:pIdx]
	for len(vm.withPromptStack) > 0 && vm.withPromptStack[len(vm.withPromptStack)-1].FrameBoundary >= vm.frameCount {
		vm.withPromptStack = vm.withPromptStack[:len(vm.withPromptStack)-1]
	}
}

// execResume implements RESUME Ra, Rb, Rc: restore a captured
// continuation's frames and stack slice on top of the current stack,
// deliver R[B] at its original capture-time destination, and register a
// ResumeContext so the eventual RET through the restored frames routes
// its value to R[C].
func (vm *VM) execResume(frame *CallFrame, instr chunk.Instruction) *RuntimeError {
	base := frame.Slots
	contVal, rerr := vm.read(vm.stack[base+int(instr.A())])
	if rerr != nil {
		return rerr
	}
	cont, ok := value.IsObject[*value.Continuation](contVal)
	if !ok {
		return vm.runtimeErrorAt(ErrTypeMismatch, "RESUME operand is not a continuation")
	}
	if cont.Used {
		return vm.runtimeErrorAt(ErrContinuationMisuse, "continuation already resumed")
	}
	cont.Used = true

	deliverVal, rerr := vm.read(vm.stack[base+int(instr.B())])
	if rerr != nil {
		return rerr
	}
	resultSlot := base + int(instr.C())

	if len(vm.resumeStack) >= MaxResumeDepth {
		return vm.runtimeErrorAt(ErrStackOverflow, "resume nesting exceeds limit")
	}

	restoreBase := vm.stackTop
	if rerr := vm.reserveTo(restoreBase + len(cont.Stack)); rerr != nil {
		return rerr
	}
	copy(vm.stack[restoreBase:], cont.Stack)

	frameBoundary := vm.frameCount
	for _, sf := range cont.Frames {
		if vm.frameCount >= FramesMax {
			return vm.runtimeErrorAt(ErrStackOverflow, "call stack overflow resuming continuation")
		}
		callerChunk, _ := sf.CallerChunk.(*chunk.Chunk)
		vm.frames[vm.frameCount] = CallFrame{
			Closure:     sf.Closure,
			IP:          sf.IP,
			Slots:       restoreBase + sf.StackBase,
			CallerChunk: callerChunk,
		}
		vm.frameCount++
	}

	vm.stack[restoreBase+cont.ResultSlot] = deliverVal

	vm.resumeStack = append(vm.resumeStack, resumeEntry{FrameBoundary: frameBoundary, ResultSlot: resultSlot})
	return nil
}

// execAbort implements ABORT Ra, Rb: unwind to the tagged prompt like
// CAPTURE, but without building a continuation — R[B] is simply
// delivered as the with-prompt region's result.
func (vm *VM) execAbort(frame *CallFrame, instr chunk.Instruction) *RuntimeError {
	base := frame.Slots
	tagVal, rerr := vm.read(vm.stack[base+int(instr.A())])
	if rerr != nil {
		return rerr
	}
	tag, ok := value.IsObject[*value.PromptTag](tagVal)
	if !ok {
		return vm.runtimeErrorAt(ErrTypeMismatch, "ABORT operand is not a prompt tag")
	}
	pIdx, found := vm.findPrompt(tag)
	if !found {
		return vm.runtimeErrorAt(ErrTagNotFound, "no enclosing prompt for this tag")
	}
	resultVal, rerr := vm.read(vm.stack[base+int(instr.B())])
	if rerr != nil {
		return rerr
	}
	vm.unwindToPrompt(pIdx)
	return vm.push(resultVal)
}
