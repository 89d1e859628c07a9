package vm

import "zymvm/internal/value"

// internString returns the canonical *value.StringObj for s, creating
// and registering one if this is the first time s has been seen. The
// invariant "string pointer equality iff byte equality" (§3) depends
// entirely on every string ever exposed to script code passing through
// here exactly once.
func (vm *VM) internString(s string) *value.StringObj {
	if existing, ok := vm.strings[s]; ok {
		return existing
	}
	obj := &value.StringObj{Chars: s}
	vm.strings[s] = obj
	vm.registerObject(obj, len(s))
	return obj
}

// newString interns s and wraps it as a Value. This is the "copy"
// half of §4.1's copy/take string constructors — the caller's string
// is never mutated afterward (Go strings are immutable), so copy and
// take collapse to the same operation here.
func (vm *VM) newString(s string) value.Value {
	return value.FromObject(vm.internString(s))
}

// NewString is the exported form of newString, for callers outside the
// package (the native bridge) that must mint script-visible strings
// through the same interning table the interpreter uses, preserving
// the "string pointer equality iff byte equality" invariant (§3).
func (vm *VM) NewString(s string) value.Value {
	return vm.newString(s)
}
