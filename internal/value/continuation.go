package value

import "github.com/google/uuid"

// PromptTag identifies a delimited-continuation boundary. Tags are
// compared by value (their ID), not by pointer, so a tag value can be
// copied, stored in a global, or handed across the host API as an
// opaque identifier and still compare equal to itself.
type PromptTag struct {
	ObjHeader
	ID uuid.UUID
}

func NewPromptTag() *PromptTag { return &PromptTag{ID: uuid.New()} }

func (t *PromptTag) TypeName() string { return "prompt" }

func (t *PromptTag) Equal(other *PromptTag) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.ID == other.ID
}

// SavedFrame is one call frame captured by CAPTURE, enough to resume
// execution at exactly the instruction after the capturing opcode.
type SavedFrame struct {
	Closure    *Closure
	IP         int
	StackBase  int // offset into the Continuation's own Stack slice
	CallerChunk interface{}
}

// Continuation is a one-shot delimited continuation: a snapshot of
// every frame and stack slot above the prompt it was captured at, plus
// where the eventual resumed value should land.
type Continuation struct {
	ObjHeader
	ID         uuid.UUID
	Tag        *PromptTag
	Used       bool
	Frames     []SavedFrame
	Stack      []Value
	ResultSlot int
}

func (c *Continuation) TypeName() string { return "continuation" }
