package vm

import (
	"github.com/dustin/go-humanize"

	"zymvm/internal/chunk"
	"zymvm/internal/value"
)

// registerObject links a freshly allocated object into the VM's
// single allocation list and charges its estimated size against the
// heap-growth pacer, triggering a collection if the threshold is
// crossed (§4.3: "triggered when bytes_allocated > next_gc").
//
// Every allocation helper in this package that constructs an object
// and then allocates further objects before the first is reachable
// from any other root MUST bracket the second allocation with
// pushTempRoot/popTempRoot — see execStringConcat in interpreter.go
// for the call site this protects.
func (vm *VM) registerObject(obj value.Object, size int) {
	obj.Header().Next = vm.objects
	vm.objects = obj
	vm.bytesAlloc += int64(size)
	if vm.bytesAlloc > vm.nextGC {
		vm.collectGarbage()
	}
}

func (vm *VM) pushTempRoot(obj value.Object) {
	vm.tempRoots = append(vm.tempRoots, obj)
}

func (vm *VM) popTempRoot() {
	vm.tempRoots = vm.tempRoots[:len(vm.tempRoots)-1]
}

// collectGarbage runs one full non-incremental mark-sweep cycle.
func (vm *VM) collectGarbage() {
	before := vm.bytesAlloc
	vm.markRoots()
	vm.traceReferences()
	vm.sweep()
	vm.nextGC = vm.bytesAlloc * GCHeapGrowFactor
	if vm.nextGC == 0 {
		vm.nextGC = initialNextGC
	}
	if vm.Config.TraceGC {
		vm.diag("gc: collected %s -> %s, next at %s\n",
			humanize.Bytes(uint64(before)), humanize.Bytes(uint64(vm.bytesAlloc)), humanize.Bytes(uint64(vm.nextGC)))
	}
}

func (vm *VM) markValue(v value.Value) {
	if v.Kind == value.KindObject && v.Obj != nil {
		vm.markObject(v.Obj)
	}
}

func (vm *VM) markObject(o value.Object) {
	if o == nil {
		return
	}
	h := o.Header()
	if h.Marked {
		return
	}
	h.Marked = true
	vm.grayStack = append(vm.grayStack, o)
}

// markRoots marks every root enumerated in §4.3: the live stack slice,
// open upvalues, each frame's closure and caller chunk's constants,
// the globals table, the temp-root stack, the host API stack, and the
// objects referenced by the prompt/resume bookkeeping. The interned-
// string table is deliberately NOT marked here — it is a weak root,
// reclaimed in sweep() when nothing else still references a string.
func (vm *VM) markRoots() {
	for i := 0; i < vm.stackTop; i++ {
		vm.markValue(vm.stack[i])
	}
	for u := vm.openUpvalues; u != nil; u = u.Next {
		vm.markObject(u)
	}
	for i := 0; i < vm.frameCount; i++ {
		f := &vm.frames[i]
		if f.Closure != nil {
			vm.markObject(f.Closure)
		}
		if c := f.chunk(); c != nil {
			vm.markChunkConstants(c)
		}
		if f.CallerChunk != nil {
			vm.markChunkConstants(f.CallerChunk)
		}
	}
	for _, v := range vm.globals {
		vm.markValue(v)
	}
	for _, v := range vm.globalSlots {
		vm.markValue(v)
	}
	for _, o := range vm.tempRoots {
		vm.markObject(o)
	}
	for _, v := range vm.apiStack {
		vm.markValue(v)
	}
	for _, p := range vm.promptStack {
		vm.markObject(p.Tag)
	}
}

func (vm *VM) markChunkConstants(c *chunk.Chunk) {
	for _, k := range c.Constants {
		vm.markValue(k)
	}
}

// traceReferences drains the gray stack, blackening each object by
// marking everything it points to, until nothing gray remains.
func (vm *VM) traceReferences() {
	for len(vm.grayStack) > 0 {
		n := len(vm.grayStack) - 1
		obj := vm.grayStack[n]
		vm.grayStack = vm.grayStack[:n]
		vm.blacken(obj)
	}
}

func (vm *VM) blacken(o value.Object) {
	switch v := o.(type) {
	case *value.StringObj:
		// no references
	case *value.ListObj:
		for _, e := range v.Elems {
			vm.markValue(e)
		}
	case *value.MapObj:
		for _, k := range v.Order {
			vm.markValue(v.Entries[k])
		}
	case *value.StructSchema:
		// no Value references
	case *value.StructInstance:
		vm.markObject(v.Schema)
		for _, fld := range v.Fields {
			vm.markValue(fld)
		}
	case *value.Function:
		if c, ok := v.Chunk.(*chunk.Chunk); ok {
			vm.markChunkConstants(c)
		}
	case *value.Closure:
		vm.markObject(v.Fn)
		for _, u := range v.Upvalues {
			vm.markObject(u)
		}
	case *value.Upvalue:
		if v.Open {
			if v.Slot >= 0 && v.Slot < len(vm.stack) {
				vm.markValue(vm.stack[v.Slot])
			}
		} else {
			vm.markValue(v.Closed)
		}
	case *value.Reference:
		switch v.Kind {
		case value.RefUpvalue:
			vm.markObject(v.Upval)
		case value.RefIndex, value.RefProperty:
			vm.markValue(v.Container)
			vm.markValue(v.Key)
		}
	case *value.Dispatcher:
		for _, c := range v.Overloads {
			vm.markObject(c)
		}
	case *value.PromptTag:
		// no references
	case *value.Continuation:
		for _, f := range v.Frames {
			vm.markObject(f.Closure)
		}
		for _, sv := range v.Stack {
			vm.markValue(sv)
		}
	case *value.NativeFunction:
		// no references
	case *value.NativeClosure:
		vm.markValue(v.Context)
	case *value.ErrorSentinel, *value.ControlTransferSentinel:
		// no references
	}
}

// sweep walks the intrusive allocation list once, freeing every
// object the mark phase did not reach (and, for strings, removing it
// from the interning table so a later identical literal re-interns
// cleanly) and clearing the mark bit on every survivor.
func (vm *VM) sweep() {
	var prev value.Object
	obj := vm.objects
	for obj != nil {
		h := obj.Header()
		next := h.Next
		if h.Marked {
			h.Marked = false
			prev = obj
		} else {
			if prev != nil {
				prev.Header().Next = next
			} else {
				vm.objects = next
			}
			vm.bytesAlloc -= int64(sizeOf(obj))
			if vm.bytesAlloc < 0 {
				vm.bytesAlloc = 0
			}
			if s, ok := obj.(*value.StringObj); ok {
				delete(vm.strings, s.Chars)
			}
		}
		obj = next
	}
}

// sizeOf estimates an object's heap footprint for GC pacing purposes.
// These are deliberately approximate (this module relies on Go's own
// allocator and collector for the actual memory, per the spec's note
// that a Gc<T>-style host collector need not reproduce byte-accurate
// accounting) — they only need to be large enough, and responsive
// enough to an object's actual size, to pace next_gc sensibly.
func sizeOf(o value.Object) int {
	switch v := o.(type) {
	case *value.StringObj:
		return 16 + len(v.Chars)
	case *value.ListObj:
		return 24 + 32*len(v.Elems)
	case *value.MapObj:
		return 32 + 48*len(v.Entries)
	case *value.StructInstance:
		return 16 + 32*len(v.Fields)
	case *value.StructSchema:
		return 32 + 16*len(v.FieldName)
	case *value.Function:
		return 96
	case *value.Closure:
		return 32 + 8*len(v.Upvalues)
	case *value.Upvalue:
		return 40
	case *value.Reference:
		return 64
	case *value.Dispatcher:
		return 24 + 8*len(v.Overloads)
	case *value.PromptTag:
		return 24
	case *value.Continuation:
		return 64 + 32*len(v.Stack) + 24*len(v.Frames)
	case *value.NativeFunction, *value.NativeClosure:
		return 32
	default:
		return 16
	}
}
