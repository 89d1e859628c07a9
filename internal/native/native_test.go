package native

import (
	"testing"

	"zymvm/internal/asmchunk"
	"zymvm/internal/chunk"
	"zymvm/internal/value"
	"zymvm/internal/vm"
)

// buildCaller assembles a tiny function that loads mangled from the
// globals table into R0, each of args as a constant into
// R1..R1+len(args)-1, calls it and returns the result — the hand-assembled equivalent of
// `return mangled(args...)`.
func buildCaller(mangled string, args []value.Value) *chunk.Chunk {
	b := asmchunk.New("<test>/caller")
	b.EmitABx(chunk.OP_GET_GLOBAL, 0, b.Constant(value.FromObject(&value.StringObj{Chars: mangled})))
	for i, a := range args {
		b.EmitABx(chunk.OP_LOAD_CONST, byte(1+i), b.Constant(a))
	}
	b.EmitABC(chunk.OP_CALL, 0, byte(len(args)), 0)
	b.EmitA(chunk.OP_RET, 0)
	fn := &value.Function{Name: "caller", Module: "<test>", Arity: 0}
	b2 := b.Chunk()
	fn.MaxRegs = b2.MaxRegs
	fn.Chunk = b2
	return defineGlobalModule(fn, "caller@0")
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

func callNative(t *testing.T, m *vm.VM, mangled string, args ...value.Value) value.Value {
	t.Helper()
	mod := buildCaller(mangled, args)
	if status := m.LoadModule(mod); status != vm.StatusOK {
		t.Fatalf("load failed: %s: %s", status, m.LastError())
	}
	if !m.Prepare("caller", 0) {
		t.Fatal("prepare(caller@0) failed")
	}
	if status := m.Execute(0); status != vm.StatusOK {
		t.Fatalf("execute failed: %s: %s", status, m.LastError())
	}
	return m.GetResult()
}

func newTestString(m *vm.VM, s string) value.Value { return m.NewString(s) }

// TestInstallBindsEveryNative checks each signature actually claimed its
// mangled global: re-registering the same signature after Install must
// be refused, since DefineNative never clobbers an existing binding.
func TestInstallBindsEveryNative(t *testing.T) {
	m := vm.New()
	Install(m)

	signatures := []string{
		"print(value)", "typeof(v)", "len(v)", "to_str(v)",
		"to_int(v)", "to_float(v)", "assert(cond, message)", "bytes(n)",
	}
	for _, sig := range signatures {
		if m.DefineNative(sig, func(args []value.Value) value.Value { return value.Null() }) {
			t.Fatalf("DefineNative(%q) should have been refused: Install already bound it", sig)
		}
	}
}

func TestNativeTypeof(t *testing.T) {
	m := vm.New()
	Install(m)
	result := callNative(t, m, "typeof@1", value.Number(1))
	s, ok := value.IsObject[*value.StringObj](result)
	if !ok || s.Chars != "number" {
		t.Fatalf("typeof(1) = %v, want \"number\"", result)
	}
}

func TestNativeLenOnString(t *testing.T) {
	m := vm.New()
	Install(m)
	result := callNative(t, m, "len@1", newTestString(m, "hello"))
	if result.Number != 5 {
		t.Fatalf("len(\"hello\") = %v, want 5", result)
	}
}

func TestNativeLenOnUnsupportedTypeIsRuntimeError(t *testing.T) {
	m := vm.New()
	Install(m)
	mod := buildCaller("len@1", []value.Value{value.Number(1)})
	if status := m.LoadModule(mod); status != vm.StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}
	m.Prepare("caller", 0)
	if status := m.Execute(0); status != vm.StatusRuntimeError {
		t.Fatalf("expected a runtime error for len(1), got %s", status)
	}
}

func TestNativeToStr(t *testing.T) {
	m := vm.New()
	Install(m)
	result := callNative(t, m, "to_str@1", value.Number(42))
	s, ok := value.IsObject[*value.StringObj](result)
	if !ok || s.Chars != "42" {
		t.Fatalf("to_str(42) = %v, want \"42\"", result)
	}
}

func TestNativeToIntFromString(t *testing.T) {
	m := vm.New()
	Install(m)
	result := callNative(t, m, "to_int@1", newTestString(m, "  7  "))
	if result.Number != 7 {
		t.Fatalf("to_int(\"  7  \") = %v, want 7", result)
	}
}

func TestNativeToIntTruncatesFloat(t *testing.T) {
	m := vm.New()
	Install(m)
	result := callNative(t, m, "to_int@1", value.Number(3.9))
	if result.Number != 3 {
		t.Fatalf("to_int(3.9) = %v, want 3", result)
	}
}

func TestNativeToFloatFromString(t *testing.T) {
	m := vm.New()
	Install(m)
	result := callNative(t, m, "to_float@1", newTestString(m, "3.25"))
	if result.Number != 3.25 {
		t.Fatalf("to_float(\"3.25\") = %v, want 3.25", result)
	}
}

func TestNativeAssertPassesOnTruthyCondition(t *testing.T) {
	m := vm.New()
	Install(m)
	result := callNative(t, m, "assert@2", value.Bool(true), newTestString(m, "unreachable"))
	if result.Kind != value.KindNull {
		t.Fatalf("assert(true, ...) = %v, want null", result)
	}
}

func TestNativeAssertFailsOnFalsyCondition(t *testing.T) {
	m := vm.New()
	Install(m)
	mod := buildCaller("assert@2", []value.Value{value.Bool(false), newTestString(m, "boom")})
	if status := m.LoadModule(mod); status != vm.StatusOK {
		t.Fatalf("load failed: %s", m.LastError())
	}
	m.Prepare("caller", 0)
	if status := m.Execute(0); status != vm.StatusRuntimeError {
		t.Fatalf("expected a runtime error for a failed assert, got %s", status)
	}
}

func TestNativeBytesFormatsHumanReadableSize(t *testing.T) {
	m := vm.New()
	Install(m)
	result := callNative(t, m, "bytes@1", value.Number(2048))
	s, ok := value.IsObject[*value.StringObj](result)
	if !ok || s.Chars == "" {
		t.Fatalf("bytes(2048) = %v, want a non-empty humanized size", result)
	}
}
