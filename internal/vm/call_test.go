package vm

import (
	"testing"

	"zymvm/internal/value"
)

func plainFunction(name string, arity, maxRegs int) *value.Function {
	return &value.Function{Name: name, Module: "<test>", Arity: arity, MaxRegs: maxRegs, QualifierSig: value.SigAllNormalNoRefs}
}

func TestResolveCallableClosure(t *testing.T) {
	m := New()
	cl := &value.Closure{Fn: plainFunction("f", 1, 4)}

	resolved, nf, nc, rerr := m.resolveCallable(value.FromObject(cl), 1)
	if rerr != nil || resolved != cl || nf != nil || nc != nil {
		t.Fatalf("resolveCallable(closure) = %v, %v, %v, %v", resolved, nf, nc, rerr)
	}
}

func TestResolveCallableDispatcherArity(t *testing.T) {
	m := New()
	one := &value.Closure{Fn: plainFunction("f", 1, 4)}
	two := &value.Closure{Fn: plainFunction("f", 2, 4)}
	d := &value.Dispatcher{Name: "f", Overloads: []*value.Closure{one, two}}

	resolved, _, _, rerr := m.resolveCallable(value.FromObject(d), 2)
	if rerr != nil || resolved != two {
		t.Fatalf("resolveCallable(dispatcher, 2) should resolve the 2-arity overload, got %v, %v", resolved, rerr)
	}

	_, _, _, rerr = m.resolveCallable(value.FromObject(d), 5)
	if rerr == nil || rerr.Kind != ErrArityMismatch {
		t.Fatalf("expected ErrArityMismatch for an unresolvable arity, got %v", rerr)
	}
}

func TestResolveCallableRejectsNonCallable(t *testing.T) {
	m := New()
	if _, _, _, rerr := m.resolveCallable(value.Number(3), 0); rerr == nil || rerr.Kind != ErrTypeMismatch {
		t.Fatalf("expected ErrTypeMismatch calling a number, got %v", rerr)
	}
}

func TestCallPushesFrameAndValidatesArity(t *testing.T) {
	m := New()
	m.stackTop = 3
	cl := &value.Closure{Fn: plainFunction("f", 2, 8)}

	if rerr := m.call(cl, 1, 2); rerr != nil {
		t.Fatalf("call: %v", rerr)
	}
	if m.frameCount != 1 {
		t.Fatalf("frameCount = %d, want 1", m.frameCount)
	}
	frame := m.frames[0]
	if frame.Slots != 1 || frame.Closure != cl {
		t.Fatalf("frame = %+v, want Slots=1 Closure=cl", frame)
	}
}

func TestCallArityMismatchIsRuntimeError(t *testing.T) {
	m := New()
	m.stackTop = 3
	cl := &value.Closure{Fn: plainFunction("f", 2, 8)}

	if rerr := m.call(cl, 1, 1); rerr == nil || rerr.Kind != ErrArityMismatch {
		t.Fatalf("expected ErrArityMismatch, got %v", rerr)
	}
}

func TestCallStackOverflowAtFramesMax(t *testing.T) {
	m := New()
	m.stackTop = 3
	filler := &value.Closure{Fn: plainFunction("filler", 0, 1)}
	for i := 0; i < FramesMax; i++ {
		m.frames[i] = CallFrame{Closure: filler, Slots: 0}
	}
	m.frameCount = FramesMax
	cl := &value.Closure{Fn: plainFunction("f", 0, 8)}

	if rerr := m.call(cl, 1, 0); rerr == nil || rerr.Kind != ErrStackOverflow {
		t.Fatalf("expected ErrStackOverflow at FramesMax frames, got %v", rerr)
	}
}

func TestApplyQualifiersValDereferencesAndShallowClones(t *testing.T) {
	m := New()
	m.stackTop = 10
	m.stack[0] = value.Number(5)
	ref := m.newLocalSlotRef(0)
	m.stack[2] = ref

	fn := plainFunction("f", 1, 4)
	fn.Qualifiers = []value.ParamQualifier{value.QualVal}
	fn.QualifierSig = value.SigHasQualifiers

	if _, rerr := m.applyQualifiers(2, 1, fn.Qualifiers, fn.QualifierSig, false); rerr != nil {
		t.Fatalf("applyQualifiers: %v", rerr)
	}
	if m.stack[2].Kind != value.KindNumber || m.stack[2].Number != 5 {
		t.Fatalf("VAL qualifier should dereference and clone, got %v", m.stack[2])
	}
}

func TestApplyQualifiersRefMaterializesNonReferenceArg(t *testing.T) {
	m := New()
	m.stackTop = 3
	m.stack[1] = value.Number(7)

	fn := plainFunction("f", 1, 4)
	fn.Qualifiers = []value.ParamQualifier{value.QualRef}
	fn.QualifierSig = value.SigHasQualifiers

	deferred, rerr := m.applyQualifiers(1, 1, fn.Qualifiers, fn.QualifierSig, false)
	if rerr != nil {
		t.Fatalf("applyQualifiers: %v", rerr)
	}
	if len(deferred) != 0 {
		t.Fatalf("non-deferred REF materialization should not be deferred, got %v", deferred)
	}
	r, ok := value.IsObject[*value.Reference](m.stack[1])
	if !ok || r.Kind != value.RefLocalSlot {
		t.Fatalf("REF qualifier on a plain value should materialize a LocalSlot reference, got %v", m.stack[1])
	}
}

func TestApplyQualifiersRefDefersMaterializationInTailCall(t *testing.T) {
	m := New()
	m.stackTop = 3
	m.stack[1] = value.Number(7)

	fn := plainFunction("f", 1, 4)
	fn.Qualifiers = []value.ParamQualifier{value.QualRef}
	fn.QualifierSig = value.SigHasQualifiers

	deferred, rerr := m.applyQualifiers(1, 1, fn.Qualifiers, fn.QualifierSig, true)
	if rerr != nil {
		t.Fatalf("applyQualifiers: %v", rerr)
	}
	if len(deferred) != 1 || deferred[0] != 1 {
		t.Fatalf("deferred slots = %v, want [1]", deferred)
	}
	if _, ok := value.IsObject[*value.Reference](m.stack[1]); ok {
		t.Fatal("deferred REF materialization should not have touched the slot yet")
	}
}

func TestApplyQualifiersTypeof(t *testing.T) {
	m := New()
	m.stackTop = 3
	m.stack[1] = value.Number(1)

	fn := plainFunction("f", 1, 4)
	fn.Qualifiers = []value.ParamQualifier{value.QualTypeof}
	fn.QualifierSig = value.SigHasQualifiers

	if _, rerr := m.applyQualifiers(1, 1, fn.Qualifiers, fn.QualifierSig, false); rerr != nil {
		t.Fatalf("applyQualifiers: %v", rerr)
	}
	s, ok := value.IsObject[*value.StringObj](m.stack[1])
	if !ok || s.Chars != "number" {
		t.Fatalf("TYPEOF qualifier should replace the arg with its type name, got %v", m.stack[1])
	}
}

func TestTailCallReusesFrame(t *testing.T) {
	m := New()
	m.stackTop = 10
	outer := &value.Closure{Fn: plainFunction("outer", 0, 4)}
	m.frames[0] = CallFrame{Closure: outer, Slots: 0}
	m.frameCount = 1

	inner := &value.Closure{Fn: plainFunction("inner", 1, 6)}
	m.stack[3] = value.Number(42) // staged argument at some unrelated argBase

	if rerr := m.tailCall(inner, 3, 1); rerr != nil {
		t.Fatalf("tailCall: %v", rerr)
	}
	if m.frameCount != 1 {
		t.Fatalf("tailCall must not grow frameCount, got %d", m.frameCount)
	}
	if m.frames[0].Closure != inner {
		t.Fatal("tailCall should rewrite the current frame's closure")
	}
	if m.stack[1].Number != 42 {
		t.Fatalf("tailCall should move the argument down to base+1, got %v", m.stack[1])
	}
}

func TestSmartTailCallFallsBackWhenUpvaluesCaptured(t *testing.T) {
	m := New()
	m.stackTop = 10
	outer := &value.Closure{Fn: plainFunction("outer", 0, 4)}
	m.frames[0] = CallFrame{Closure: outer, Slots: 0}
	m.frameCount = 1

	u := &value.Upvalue{Open: true, Slot: 0}
	capturing := &value.Closure{Fn: plainFunction("capturing", 0, 4), Upvalues: []*value.Upvalue{u}}

	if rerr := m.smartTailCall(capturing, 1, 0); rerr != nil {
		t.Fatalf("smartTailCall: %v", rerr)
	}
	if m.frameCount != 2 {
		t.Fatalf("smartTailCall on a closure with upvalues should push a new frame, got frameCount=%d", m.frameCount)
	}
}

func TestSmartTailCallReusesFrameWhenNoUpvalues(t *testing.T) {
	m := New()
	m.stackTop = 10
	outer := &value.Closure{Fn: plainFunction("outer", 0, 4)}
	m.frames[0] = CallFrame{Closure: outer, Slots: 0}
	m.frameCount = 1

	plain := &value.Closure{Fn: plainFunction("plain", 0, 4)}

	if rerr := m.smartTailCall(plain, 1, 0); rerr != nil {
		t.Fatalf("smartTailCall: %v", rerr)
	}
	if m.frameCount != 1 {
		t.Fatalf("smartTailCall on a closure with no upvalues should reuse the frame, got frameCount=%d", m.frameCount)
	}
}

func TestCallNativeAutoDereferencesArgs(t *testing.T) {
	m := New()
	m.stackTop = 3
	m.stack[0] = value.Number(4)
	ref := m.newLocalSlotRef(0)
	m.stack[1] = ref

	var seen value.Value
	nf := &value.NativeFunction{Name: "probe", Arity: 1, Fn: func(args []value.Value) value.Value {
		seen = args[0]
		return value.Null()
	}}

	if _, rerr := m.callNative(nf, 1, 1); rerr != nil {
		t.Fatalf("callNative: %v", rerr)
	}
	if seen.Kind != value.KindNumber || seen.Number != 4 {
		t.Fatalf("native should observe the dereferenced value, got %v", seen)
	}
}

func TestCallNativeArityMismatch(t *testing.T) {
	m := New()
	m.stackTop = 2
	nf := &value.NativeFunction{Name: "probe", Arity: 2, Fn: func(args []value.Value) value.Value { return value.Null() }}

	if _, rerr := m.callNative(nf, 0, 1); rerr == nil || rerr.Kind != ErrArityMismatch {
		t.Fatalf("expected ErrArityMismatch, got %v", rerr)
	}
}

func TestCallNativeErrorSentinelBecomesRuntimeError(t *testing.T) {
	m := New()
	m.stackTop = 1
	nf := &value.NativeFunction{Name: "fails", Arity: 0, Fn: func(args []value.Value) value.Value {
		return value.NewErrorSentinel("boom")
	}}

	if _, rerr := m.callNative(nf, 0, 0); rerr == nil || rerr.Kind != ErrNativeReport {
		t.Fatalf("expected ErrNativeReport surfaced from an error sentinel, got %v", rerr)
	}
}

func TestCallNativeClosureThreadsContext(t *testing.T) {
	m := New()
	m.stackTop = 1
	ctx := value.Number(100)
	var seenCtx value.Value
	nc := &value.NativeClosure{Name: "withctx", Arity: 0, Context: ctx, Fn: func(c value.Value, args []value.Value) value.Value {
		seenCtx = c
		return value.Null()
	}}

	if _, rerr := m.callNativeClosure(nc, 0, 0); rerr != nil {
		t.Fatalf("callNativeClosure: %v", rerr)
	}
	if seenCtx.Number != 100 {
		t.Fatalf("native closure should receive its bound context, got %v", seenCtx)
	}
}

func TestRetWritesResultBelowFrameBase(t *testing.T) {
	m := New()
	m.stackTop = 6
	cl := &value.Closure{Fn: plainFunction("f", 0, 4)}
	m.frames[0] = CallFrame{Closure: cl, Slots: 2}
	m.frameCount = 1

	if rerr := m.ret(value.Number(9)); rerr != nil {
		t.Fatalf("ret: %v", rerr)
	}
	if m.frameCount != 0 {
		t.Fatalf("ret should pop the frame, frameCount = %d", m.frameCount)
	}
	if m.stackTop != 2 {
		t.Fatalf("ret should reset stackTop to the frame base, got %d", m.stackTop)
	}
	if m.stack[1].Number != 9 {
		t.Fatalf("ret should write the result into base-1, got %v", m.stack[1])
	}
}

func TestRetPushesOntoStackForTrampolineFrame(t *testing.T) {
	m := New()
	m.stackTop = 4
	cl := &value.Closure{Fn: plainFunction("f", 0, 4)}
	m.frames[0] = CallFrame{Closure: cl, Slots: 1, IsTrampoline: true}
	m.frameCount = 1

	if rerr := m.ret(value.Number(3)); rerr != nil {
		t.Fatalf("ret: %v", rerr)
	}
	if m.stackTop != 2 || m.stack[1].Number != 3 {
		t.Fatalf("trampoline ret should push the result back onto the value stack, got stackTop=%d stack[1]=%v", m.stackTop, m.stack[1])
	}
}

func TestRetDeliversToPendingResumeResultSlot(t *testing.T) {
	m := New()
	m.stackTop = 6
	cl := &value.Closure{Fn: plainFunction("f", 0, 4)}
	m.frames[0] = CallFrame{Closure: cl, Slots: 2}
	m.frameCount = 1
	m.resumeStack = append(m.resumeStack, resumeEntry{FrameBoundary: 0, ResultSlot: 0})

	if rerr := m.ret(value.Number(5)); rerr != nil {
		t.Fatalf("ret: %v", rerr)
	}
	if len(m.resumeStack) != 0 {
		t.Fatal("ret should pop the matching resumeStack entry")
	}
	if m.stack[0].Number != 5 {
		t.Fatalf("ret should deliver the result to the pending resume's result slot, got %v", m.stack[0])
	}
}
