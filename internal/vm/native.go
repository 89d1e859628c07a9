package vm

import (
	"fmt"
	"strings"

	"zymvm/internal/value"
)

// parseSignature parses a native-bridge signature string "name(p1, p2,
// ...)" into a mangled global name and the per-parameter qualifier list
// §4.10 describes. Each parameter may carry a leading qualifier
// keyword (ref/val/slot/clone/typeof); a bare parameter name is
// NORMAL. Parameter names themselves are documentation only — only
// their count and qualifiers matter to the dispatcher.
func parseSignature(sig string) (name string, qualifiers []value.ParamQualifier, err error) {
	open := strings.IndexByte(sig, '(')
	if open < 0 || !strings.HasSuffix(sig, ")") {
		return "", nil, fmt.Errorf("native: malformed signature %q", sig)
	}
	name = strings.TrimSpace(sig[:open])
	if name == "" {
		return "", nil, fmt.Errorf("native: signature %q has no name", sig)
	}
	body := strings.TrimSpace(sig[open+1 : len(sig)-1])
	if body == "" {
		return name, nil, nil
	}
	parts := strings.Split(body, ",")
	qualifiers = make([]value.ParamQualifier, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(strings.TrimSpace(p))
		if len(fields) == 0 {
			return "", nil, fmt.Errorf("native: signature %q has an empty parameter", sig)
		}
		q := value.QualNormal
		if len(fields) > 1 {
			switch fields[0] {
			case "ref":
				q = value.QualRef
			case "val":
				q = value.QualVal
			case "slot":
				q = value.QualSlot
			case "clone":
				q = value.QualClone
			case "typeof":
				q = value.QualTypeof
			default:
				return "", nil, fmt.Errorf("native: unknown qualifier %q in signature %q", fields[0], sig)
			}
		}
		qualifiers = append(qualifiers, q)
	}
	if len(qualifiers) > MaxNativeArity {
		return "", nil, fmt.Errorf("native: signature %q exceeds max native arity %d", sig, MaxNativeArity)
	}
	return name, qualifiers, nil
}

// mangleNative builds the arity-qualified global name a native of this
// arity is bound under, matching the mangling DEFINE_GLOBAL/CLOSURE
// constants use for dispatcher overloads and prepare()'d entry points.
func mangleNative(name string, arity int) string {
	return fmt.Sprintf("%s@%d", name, arity)
}

// DefineNative implements the host API's defineNative(signature, fn)
// →bool (§4.9): parse the signature, wrap fn as a NativeFunction
// carrying its own qualifier list, and bind it under the mangled
// global name. Returns false if the signature is malformed or the name
// is already bound — natives never overwrite an existing global, the
// same non-clobbering rule the teacher's DefineNative applies.
func (vm *VM) DefineNative(signature string, fn value.NativeFunc) bool {
	name, qualifiers, err := parseSignature(signature)
	if err != nil {
		return false
	}
	mangled := mangleNative(name, len(qualifiers))
	if _, ok := vm.globals[mangled]; ok {
		return false
	}
	nf := &value.NativeFunction{Name: name, Arity: len(qualifiers), Fn: vm.qualifyNative(qualifiers, fn)}
	vm.registerObject(nf, 48)
	vm.globals[mangled] = value.FromObject(nf)
	return true
}

// DefineNativeClosure binds a context-carrying native (§4.10's "closure
// native"): the same signature contract, plus an opaque context value
// threaded through every call.
func (vm *VM) DefineNativeClosure(signature string, ctx value.Value, fn func(ctx value.Value, args []value.Value) value.Value) bool {
	name, qualifiers, err := parseSignature(signature)
	if err != nil {
		return false
	}
	mangled := mangleNative(name, len(qualifiers))
	if _, ok := vm.globals[mangled]; ok {
		return false
	}
	nc := &value.NativeClosure{Name: name, Arity: len(qualifiers), Context: ctx, Fn: fn}
	vm.registerObject(nc, 56)
	vm.globals[mangled] = value.FromObject(nc)
	return true
}

// qualifyNative wraps a raw NativeFunc so the VAL/CLONE/TYPEOF
// qualifier transform from the signature runs over its arguments
// before fn ever sees them. callNative (call.go) already derefs every
// argument through vm.read before invoking Fn, so REF/SLOT have no
// further effect here — a native always sees plain values, never a raw
// Reference; REF/SLOT qualifiers on a native signature are accepted for
// symmetry with closure signatures but behave as NORMAL.
func (vm *VM) qualifyNative(qualifiers []value.ParamQualifier, fn value.NativeFunc) value.NativeFunc {
	allPlain := true
	for _, q := range qualifiers {
		if q == value.QualVal || q == value.QualClone || q == value.QualTypeof {
			allPlain = false
			break
		}
	}
	if allPlain {
		return fn
	}
	return func(args []value.Value) value.Value {
		out := make([]value.Value, len(args))
		copy(out, args)
		for i, q := range qualifiers {
			if i >= len(out) {
				break
			}
			switch q {
			case value.QualVal:
				out[i] = value.Clone(out[i])
			case value.QualClone:
				out[i] = value.DeepClone(out[i])
			case value.QualTypeof:
				out[i] = vm.newString(out[i].TypeName())
			}
		}
		return fn(out)
	}
}
