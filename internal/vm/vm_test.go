package vm

import (
	"testing"

	"zymvm/internal/asmchunk"
	"zymvm/internal/chunk"
	"zymvm/internal/value"
)

// buildFn assembles a function whose chunk is supplied by the build
// callback, wired up with the given arity and with MaxRegs taken from
// the builder's register high-water mark — the hand-assembled equivalent of a compiled
// function constant, since this module carries no front end.
func buildFn(name string, arity int, build func(b *asmchunk.Builder)) *value.Function {
	b := asmchunk.New("<test>/" + name)
	build(b)
	c := b.Chunk()
	return &value.Function{Name: name, Module: "<test>", Arity: arity, MaxRegs: c.MaxRegs, Chunk: c}
}

func defineGlobalModule(fn *value.Function, mangled string) *chunk.Chunk {
	mod := asmchunk.New("<test>")
	fnConst := mod.Constant(value.FromObject(fn))
	mod.EmitClosure(0, fnConst, nil)
	nameConst := mod.Constant(value.FromObject(&value.StringObj{Chars: mangled}))
	mod.EmitABx(chunk.OP_DEFINE_GLOBAL, 0, nameConst)
	mod.EmitA(chunk.OP_RET, 0)
	return mod.Chunk()
}

// run prepares and executes mangled@arity with args, returning the
// result or failing the test on any non-OK status.
func run(t *testing.T, m *VM, mangled string, arity int, args ...float64) value.Value {
	t.Helper()
	name := mangled
	if !m.Prepare(name, arity) {
		t.Fatalf("prepare(%s@%d) failed", name, arity)
	}
	for _, a := range args {
		m.PushNumber(a)
	}
	if status := m.Execute(arity); status != StatusOK {
		t.Fatalf("execute failed: %s: %s", status, m.LastError())
	}
	return m.GetResult()
}

func TestArithmeticAdd(t *testing.T) {
	fn := buildFn("add", 2, func(b *asmchunk.Builder) {
		b.EmitABC(chunk.OP_ADD, 2, 0, 1)
		b.EmitA(chunk.OP_RET, 2)
	})
	mod := defineGlobalModule(fn, "add@2")

	m := New()
	if status := m.LoadModule(mod); status != StatusOK {
		t.Fatalf("load failed: %s: %s", status, m.LastError())
	}

	result := run(t, m, "add", 2, 3, 4)
	if result.Kind != value.KindNumber || result.Number != 7 {
		t.Fatalf("add(3,4) = %v, want 7", result)
	}
}

func TestArithmeticImmediateForm(t *testing.T) {
	fn := buildFn("incr", 1, func(b *asmchunk.Builder) {
		b.EmitAImm16(chunk.OP_ADD_I, 0, 10)
		b.EmitA(chunk.OP_RET, 0)
	})
	mod := defineGlobalModule(fn, "incr@1")

	m := New()
	if status := m.LoadModule(mod); status != StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}

	result := run(t, m, "incr", 1, 5)
	if result.Number != 15 {
		t.Fatalf("incr(5) = %v, want 15", result)
	}
}

func TestModuloByZeroIsRuntimeError(t *testing.T) {
	fn := buildFn("modz", 2, func(b *asmchunk.Builder) {
		b.EmitABC(chunk.OP_MOD, 2, 0, 1)
		b.EmitA(chunk.OP_RET, 2)
	})
	mod := defineGlobalModule(fn, "modz@2")

	m := New()
	if status := m.LoadModule(mod); status != StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}

	m.Prepare("modz", 2)
	m.PushNumber(1)
	m.PushNumber(0)
	if status := m.Execute(2); status != StatusRuntimeError {
		t.Fatalf("expected RUNTIME_ERROR for modulo by zero, got %s", status)
	}
}

func TestArityMismatchIsRuntimeError(t *testing.T) {
	fn := buildFn("two", 2, func(b *asmchunk.Builder) {
		b.EmitABC(chunk.OP_ADD, 2, 0, 1)
		b.EmitA(chunk.OP_RET, 2)
	})
	mod := defineGlobalModule(fn, "two@2")

	m := New()
	if status := m.LoadModule(mod); status != StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}

	m.Prepare("two", 2)
	m.PushNumber(1)
	if status := m.Execute(1); status != StatusRuntimeError {
		t.Fatalf("expected RUNTIME_ERROR on arity mismatch, got %s", status)
	}
}

func TestBranchFusedCompare(t *testing.T) {
	// if R0 < 10 jump to "small" branch (fused BRANCH_LT_I), else fall
	// through to the "big" path.
	fn := buildFn("classify", 1, func(b *asmchunk.Builder) {
		patch := b.EmitBranchImm16(chunk.OP_BRANCH_LT_I, 0, 10)
		b.EmitAImm16(chunk.OP_ADD_I, 0, 1000) // "big" path: R0 += 1000
		b.EmitA(chunk.OP_RET, 0)
		b.Patch(patch)
		b.EmitAImm16(chunk.OP_ADD_I, 0, 1) // "small" path: R0 += 1
		b.EmitA(chunk.OP_RET, 0)
	})
	mod := defineGlobalModule(fn, "classify@1")

	m := New()
	if status := m.LoadModule(mod); status != StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}

	small := run(t, m, "classify", 1, 2)
	if small.Number != 3 {
		t.Fatalf("classify(2) = %v, want 3", small)
	}

	m2 := New()
	m2.LoadModule(defineGlobalModule(fn, "classify@1"))
	big := run(t, m2, "classify", 1, 20)
	if big.Number != 1020 {
		t.Fatalf("classify(20) = %v, want 1020", big)
	}
}

func TestStringConcatenation(t *testing.T) {
	fn := buildFn("greet", 0, func(b *asmchunk.Builder) {
		c1 := b.Constant(FromTestString("hello "))
		c2 := b.Constant(FromTestString("world"))
		b.EmitABx(chunk.OP_LOAD_CONST, 0, c1)
		b.EmitABx(chunk.OP_LOAD_CONST, 1, c2)
		b.EmitABC(chunk.OP_ADD, 2, 0, 1)
		b.EmitA(chunk.OP_RET, 2)
	})
	mod := defineGlobalModule(fn, "greet@0")

	m := New()
	if status := m.LoadModule(mod); status != StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}

	result := run(t, m, "greet", 0)
	s, ok := value.IsObject[*value.StringObj](result)
	if !ok || s.Chars != "hello world" {
		t.Fatalf("greet() = %v, want %q", result, "hello world")
	}
}

// FromTestString builds a constant-pool string value the same way a
// front end would — an uninterned *value.StringObj is fine in a
// constant pool; interning only matters for values the running
// program compares by identity, and LOAD_CONST never does that itself.
func FromTestString(s string) value.Value {
	return value.FromObject(&value.StringObj{Chars: s})
}

func TestEqualEnumsOfSameTypeCompareByVariant(t *testing.T) {
	fn := buildFn("sameEnum", 0, func(b *asmchunk.Builder) {
		b.EmitABx(chunk.OP_LOAD_CONST, 0, b.Constant(value.Enum(1, 2)))
		b.EmitABx(chunk.OP_LOAD_CONST, 1, b.Constant(value.Enum(1, 2)))
		b.EmitABC(chunk.OP_EQ, 0, 0, 1)
		b.EmitA(chunk.OP_RET, 0)
	})
	mod := defineGlobalModule(fn, "sameEnum@0")

	m := New()
	if status := m.LoadModule(mod); status != StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}
	result := run(t, m, "sameEnum", 0)
	if result.Kind != value.KindBool || !result.Bool {
		t.Fatalf("sameEnum() = %v, want true", result)
	}
}

// TestCompareEnumsOfDifferentTypesIsRuntimeError covers §3/§8's
// testable property that enum-typed values only compare equal to
// another enum of the same type-id — comparing across type-ids must
// be a hard error, not a silent false.
func TestCompareEnumsOfDifferentTypesIsRuntimeError(t *testing.T) {
	fn := buildFn("crossEnum", 0, func(b *asmchunk.Builder) {
		b.EmitABx(chunk.OP_LOAD_CONST, 0, b.Constant(value.Enum(1, 0)))
		b.EmitABx(chunk.OP_LOAD_CONST, 1, b.Constant(value.Enum(2, 0)))
		b.EmitABC(chunk.OP_EQ, 0, 0, 1)
		b.EmitA(chunk.OP_RET, 0)
	})
	mod := defineGlobalModule(fn, "crossEnum@0")

	m := New()
	if status := m.LoadModule(mod); status != StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}
	m.Prepare("crossEnum", 0)
	if status := m.Execute(0); status != StatusRuntimeError {
		t.Fatalf("expected RUNTIME_ERROR comparing enums of different types, got %s", status)
	}
}
