// Package vm implements the register-based bytecode interpreter: the
// value/object heap, the tracing GC, the upvalue manager, the
// reference system, the call protocol, the dispatch loop and the
// delimited-continuation substrate. Everything that produces a Chunk
// — lexer, parser, compiler — is out of scope; this package only
// consumes chunks built by a front end or by internal/asmchunk.
package vm

import (
	"fmt"
	"io"
	"os"

	"zymvm/internal/chunk"
	"zymvm/internal/value"
)

// Runtime limits, fixed at compile time per the embedding contract —
// never exposed through VMConfig.
const (
	FramesMax            = 64
	StackInitial         = 256
	StackMax             = 65536
	MaxPrompts           = 32
	MaxResumeDepth       = 16
	MaxWithPromptDepth   = 16
	DefaultTimeslice     = 10000
	MaxNativeArity       = 26
	GCHeapGrowFactor     = 2
	ReferenceChaseDepth  = 64
	initialNextGC        = 1 << 20 // 1 MiB before the first collection
)

// CallFrame is one activation record. Slots is where the frame's
// registers begin in the VM's shared value stack; the closure's
// Function.MaxRegs bounds how far above Slots the frame may index.
type CallFrame struct {
	Closure      *value.Closure
	IP           int
	Slots        int
	CallerChunk  *chunk.Chunk
	IsTrampoline bool // synthetic host-API frame (§4.9); RET here hands control back to invoke()
}

func (f *CallFrame) chunk() *chunk.Chunk {
	c, _ := f.Closure.Fn.Chunk.(*chunk.Chunk)
	return c
}

// currentChunk returns the chunk the currently executing frame runs,
// or nil if the call stack is empty (used to stamp a new frame's
// CallerChunk before it is pushed).
func (vm *VM) currentChunk() *chunk.Chunk {
	if vm.frameCount == 0 {
		return nil
	}
	return vm.frames[vm.frameCount-1].chunk()
}

// VMConfig carries the ambient, host-chosen knobs the spec leaves open
// (§5 AMBIENT STACK): where diagnostics go, whether GC tracing is on,
// and the cooperative-preemption timeslice. Runtime capacity limits
// are deliberately not here — they are compile-time consts per §6.
type VMConfig struct {
	RootPath        string
	Diagnostics     io.Writer
	TraceGC         bool
	Preemption      bool
	DefaultTimeslice int
}

// VM is a single interpreter instance. It is not safe for concurrent
// use from multiple goroutines — the spec's concurrency model is
// single-threaded cooperative (§8).
type VM struct {
	Config VMConfig

	frames     [FramesMax]CallFrame
	frameCount int

	stack    []value.Value
	stackTop int

	globals      map[string]value.Value
	globalSlots  []value.Value // indexed storage backing inline-cached globals
	globalIndex  map[string]int

	strings map[string]*value.StringObj // interning table

	objects      value.Object // head of the intrusive allocation list
	bytesAlloc   int64
	nextGC       int64
	grayStack    []value.Object
	tempRoots    []value.Object

	openUpvalues *value.Upvalue

	promptStack     []promptEntry
	resumeStack     []resumeEntry
	withPromptStack []withPromptEntry

	yieldBudget     int
	preemptRequested bool

	apiStack     []value.Value // the host-embedding push*/getResult scratch area
	preparedName string

	lastError *RuntimeError
}

type promptEntry struct {
	Tag        *value.PromptTag
	FrameIndex int
	StackBase  int
}

type resumeEntry struct {
	FrameBoundary int
	ResultSlot    int // absolute stack slot
}

type withPromptEntry struct {
	FrameBoundary int
}

func New() *VM { return NewWithConfig(VMConfig{}) }

func NewWithConfig(cfg VMConfig) *VM {
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = os.Stderr
	}
	if cfg.DefaultTimeslice == 0 {
		cfg.DefaultTimeslice = DefaultTimeslice
	}
	vm := &VM{
		Config:      cfg,
		stack:       make([]value.Value, StackInitial),
		globals:     make(map[string]value.Value),
		globalIndex: make(map[string]int),
		strings:     make(map[string]*value.StringObj),
		nextGC:      initialNextGC,
		yieldBudget: cfg.DefaultTimeslice,
	}
	return vm
}

// Status is the embedding API's top-level result (§6, §9).
type Status int

const (
	StatusOK Status = iota
	StatusCompileError
	StatusRuntimeError
	StatusYield
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCompileError:
		return "COMPILE_ERROR"
	case StatusRuntimeError:
		return "RUNTIME_ERROR"
	case StatusYield:
		return "YIELD"
	default:
		return "?"
	}
}

func (vm *VM) diag(format string, args ...interface{}) {
	fmt.Fprintf(vm.Config.Diagnostics, format, args...)
}
