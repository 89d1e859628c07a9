// Package native is a small illustrative standard library built on
// top of the vm package's native-bridge contract (§4.10). It is
// deliberately thin — concrete native libraries (math, string, list,
// map, I/O, ...) are out of scope for this module; this package exists
// to exercise defineNative end-to-end and give the host something to
// prepare() and call in tests and the CLI.
package native

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"zymvm/internal/value"
	"zymvm/internal/vm"
)

// Install registers this package's natives into m, mirroring the
// reference codebase's constructor-time DefineNative calls. Install is
// idempotent: each signature is only ever bound once per VM (defineNative
// refuses to clobber an existing global), so calling it twice on the
// same VM is harmless.
func Install(m *vm.VM) {
	m.DefineNative("print(value)", natPrint)
	m.DefineNative("typeof(v)", natTypeof(m))
	m.DefineNative("len(v)", natLen)
	m.DefineNative("to_str(v)", natToStr(m))
	m.DefineNative("to_int(v)", natToInt)
	m.DefineNative("to_float(v)", natToFloat)
	m.DefineNative("assert(cond, message)", natAssert(m))
	m.DefineNative("bytes(n)", natBytes(m))
}

func natPrint(args []value.Value) value.Value {
	if len(args) != 1 {
		return value.NewErrorSentinel("print expects 1 argument")
	}
	fmt.Println(args[0].String())
	return value.Null()
}

func natTypeof(m *vm.VM) value.NativeFunc {
	return func(args []value.Value) value.Value {
		if len(args) != 1 {
			return value.NewErrorSentinel("typeof expects 1 argument")
		}
		return m.NewString(args[0].TypeName())
	}
}

func natLen(args []value.Value) value.Value {
	if len(args) != 1 {
		return value.NewErrorSentinel("len expects 1 argument")
	}
	switch o := args[0].Obj.(type) {
	case *value.StringObj:
		return value.Number(float64(len(o.Chars)))
	case *value.ListObj:
		return value.Number(float64(len(o.Elems)))
	case *value.MapObj:
		return value.Number(float64(len(o.Order)))
	default:
		return value.NewErrorSentinel("len: unsupported type " + args[0].TypeName())
	}
}

func natToStr(m *vm.VM) value.NativeFunc {
	return func(args []value.Value) value.Value {
		if len(args) != 1 {
			return value.NewErrorSentinel("to_str expects 1 argument")
		}
		return m.NewString(args[0].String())
	}
}

func natToInt(args []value.Value) value.Value {
	if len(args) != 1 {
		return value.NewErrorSentinel("to_int expects 1 argument")
	}
	v := args[0]
	if v.Kind == value.KindNumber {
		return value.Number(float64(int64(v.Number)))
	}
	if s, ok := value.IsObject[*value.StringObj](v); ok {
		trimmed := strings.TrimSpace(s.Chars)
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return value.Number(float64(i))
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return value.Number(float64(int64(f)))
		}
	}
	return value.NewErrorSentinel("to_int: cannot convert " + v.TypeName())
}

func natToFloat(args []value.Value) value.Value {
	if len(args) != 1 {
		return value.NewErrorSentinel("to_float expects 1 argument")
	}
	v := args[0]
	if v.Kind == value.KindNumber {
		return value.Number(v.Number)
	}
	if s, ok := value.IsObject[*value.StringObj](v); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s.Chars), 64); err == nil {
			return value.Number(f)
		}
	}
	return value.NewErrorSentinel("to_float: cannot convert " + v.TypeName())
}

func natAssert(m *vm.VM) value.NativeFunc {
	return func(args []value.Value) value.Value {
		if len(args) != 2 {
			return value.NewErrorSentinel("assert expects 2 arguments")
		}
		if !args[0].Truthy() {
			return value.NewErrorSentinel(args[1].String())
		}
		return value.Null()
	}
}

// natBytes exercises humanize.Bytes from the native side of the bridge
// (the vm package already uses it for GC tracing) — formats a byte
// count the way the reference codebase formats file sizes.
func natBytes(m *vm.VM) value.NativeFunc {
	return func(args []value.Value) value.Value {
		if len(args) != 1 || args[0].Kind != value.KindNumber {
			return value.NewErrorSentinel("bytes expects 1 numeric argument")
		}
		return m.NewString(humanize.Bytes(uint64(args[0].Number)))
	}
}
