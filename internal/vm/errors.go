package vm

import (
	"fmt"
	"strings"
)

// ErrorKind enumerates the runtime error taxonomy from §7.
type ErrorKind int

const (
	ErrTypeMismatch ErrorKind = iota
	ErrArityMismatch
	ErrOutOfBounds
	ErrKeyMissing
	ErrDivByZero
	ErrReferenceCycle
	ErrDanglingRefStore
	ErrStackOverflow
	ErrUndefinedIdentifier
	ErrNativeReport
	ErrContinuationMisuse
	ErrTagNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTypeMismatch:
		return "TypeMismatch"
	case ErrArityMismatch:
		return "ArityMismatch"
	case ErrOutOfBounds:
		return "OutOfBounds"
	case ErrKeyMissing:
		return "KeyMissing"
	case ErrDivByZero:
		return "DivByZero"
	case ErrReferenceCycle:
		return "ReferenceCycle"
	case ErrDanglingRefStore:
		return "DanglingRefStore"
	case ErrStackOverflow:
		return "StackOverflow"
	case ErrUndefinedIdentifier:
		return "UndefinedIdentifier"
	case ErrNativeReport:
		return "NativeReport"
	case ErrContinuationMisuse:
		return "ContinuationMisuse"
	case ErrTagNotFound:
		return "TagNotFound"
	default:
		return "UnknownError"
	}
}

// traceLine is one "at ... (called from ...)" entry in a RuntimeError.
type traceLine struct {
	Module string
	Line   int
	Callee string
	Caller string
}

// RuntimeError is the typed error the interpreter loop raises. It
// carries the full frame trace captured at the moment the error fired
// so the host can render §6's format regardless of how far unwinding
// has since progressed.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Trace   []traceLine
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, t := range e.Trace {
		b.WriteByte('\n')
		b.WriteString("[")
		b.WriteString(t.Module)
		b.WriteString("] line ")
		b.WriteString(itoa(t.Line))
		b.WriteString("\n    at ")
		b.WriteString(t.Callee)
		if t.Caller != "" {
			b.WriteString(" (called from ")
			b.WriteString(t.Caller)
			b.WriteString(")")
		}
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// runtimeErrorAt builds a RuntimeError from the current frame stack,
// one traceLine per live frame from the faulting frame down to the
// outermost caller, matching §6's "called from" chaining.
func (vm *VM) runtimeErrorAt(kind ErrorKind, format string, args ...interface{}) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	err := &RuntimeError{Kind: kind, Message: msg}

	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		c := f.chunk()
		module := "?"
		line := 0
		if c != nil {
			module = c.ModuleName
			line = c.LineFor(f.IP - 1)
		}
		callee := "<script>"
		if f.Closure != nil && f.Closure.Fn.Name != "" {
			callee = f.Closure.Fn.Name
		}
		caller := ""
		if i > 0 {
			cf := &vm.frames[i-1]
			if cf.Closure != nil && cf.Closure.Fn.Name != "" {
				caller = cf.Closure.Fn.Name
			}
		}
		err.Trace = append(err.Trace, traceLine{Module: module, Line: line, Callee: callee, Caller: caller})
	}

	vm.lastError = err
	return err
}
