// Package asmchunk is a minimal hand-assembler for internal/chunk.Chunk
// values. There is no lexer/parser/compiler in this module (§1's
// excluded collaborators) — front ends are expected to build chunks of
// their own accord — so this package exists purely to give tests and
// cmd/zymvm a way to construct fixture chunks without one, mirroring
// the reference codebase's own Compiler.emitByte/emitJump/patchJump
// helpers but word-oriented to match this VM's 32-bit instruction
// encoding instead of a byte-stream one.
package asmchunk

import (
	"fmt"

	"zymvm/internal/chunk"
	"zymvm/internal/value"
)

// Builder accumulates instructions, a constant pool and a line table
// into a *chunk.Chunk, tracking the high-water register mark so the
// finished chunk's MaxRegs is set correctly for the call protocol's
// stack-growth check (§4.6 "grow stack to stack_base + max_regs").
type Builder struct {
	c        *chunk.Chunk
	line     int
	maxRegs  int
}

func New(moduleName string) *Builder {
	return &Builder{c: chunk.New(moduleName), line: 1}
}

// Line sets the source line subsequent emits are attributed to.
func (b *Builder) Line(n int) *Builder {
	b.line = n
	return b
}

// UseReg records that register r is live in this chunk's frame,
// widening MaxRegs if necessary. Every Emit* helper below calls this
// for every register operand it takes, so callers rarely need it
// directly except to reserve scratch slots beyond the last operand.
func (b *Builder) UseReg(r byte) *Builder {
	if int(r)+1 > b.maxRegs {
		b.maxRegs = int(r) + 1
	}
	return b
}

func (b *Builder) Constant(v value.Value) uint16 {
	return b.c.AddConstant(v)
}

// Chunk finalizes and returns the assembled chunk. MaxRegs is set to
// the high-water register mark observed across every Emit* call,
// unless the caller already set a larger value with SetMaxRegs.
func (b *Builder) Chunk() *chunk.Chunk {
	if b.c.MaxRegs < b.maxRegs {
		b.c.MaxRegs = b.maxRegs
	}
	return b.c
}

// SetMaxRegs raises the tracked high-water mark to n (it never lowers
// it), for chunks whose
// frame is wider than any register operand reveals (e.g. to leave room
// for CALL's argument window).
func (b *Builder) SetMaxRegs(n int) *Builder {
	if n > b.maxRegs {
		b.maxRegs = n
	}
	return b
}

func (b *Builder) emit(instr chunk.Instruction) int {
	return b.c.Write(instr, b.line)
}

func (b *Builder) emitRaw(word chunk.Instruction) int {
	return b.c.WriteRaw(word, b.line)
}

// EmitABC assembles a FormABC instruction: R[A] = R[B] <op> R[C].
func (b *Builder) EmitABC(op chunk.OpCode, a, bb, c byte) int {
	b.UseReg(a).UseReg(bb).UseReg(c)
	return b.emit(chunk.Encode(op, a, bb, c))
}

// EmitAB assembles a FormAB instruction (two register operands).
func (b *Builder) EmitAB(op chunk.OpCode, a, bb byte) int {
	b.UseReg(a).UseReg(bb)
	return b.emit(chunk.Encode(op, a, bb, 0))
}

// EmitA assembles a FormA instruction (one register operand).
func (b *Builder) EmitA(op chunk.OpCode, a byte) int {
	b.UseReg(a)
	return b.emit(chunk.Encode(op, a, 0, 0))
}

// EmitNone assembles a FormNone instruction (no register operands).
func (b *Builder) EmitNone(op chunk.OpCode) int {
	return b.emit(chunk.Encode(op, 0, 0, 0))
}

// EmitABx assembles a FormABx instruction: A is a register, bx a
// 16-bit constant/slot index.
func (b *Builder) EmitABx(op chunk.OpCode, a byte, bx uint16) int {
	b.UseReg(a)
	return b.emit(chunk.EncodeABx(op, a, bx))
}

// EmitAImm16 assembles a FormAImm16 instruction: A is destination and
// left operand in place, imm the signed 16-bit right operand.
func (b *Builder) EmitAImm16(op chunk.OpCode, a byte, imm int16) int {
	b.UseReg(a)
	return b.emit(chunk.EncodeABx(op, a, uint16(imm)))
}

// EmitALit64 assembles a FormALit64 instruction: A in place, followed
// by the two trailing words of a 64-bit float literal.
func (b *Builder) EmitALit64(op chunk.OpCode, a byte, lit float64) int {
	b.UseReg(a)
	pos := b.emit(chunk.Encode(op, a, 0, 0))
	low, high := chunk.EncodeLit64(lit)
	b.emitRaw(low)
	b.emitRaw(high)
	return pos
}

// EmitABVal assembles a FormABVal instruction: R[A] is the container,
// R[B] the value to store, followed by a trailing word holding the
// constant-pool index of the property/field name — the SET_MAP_PROPERTY
// / SET_STRUCT_FIELD family.
func (b *Builder) EmitABVal(op chunk.OpCode, a, bb byte, nameConst uint16) int {
	b.UseReg(a).UseReg(bb)
	pos := b.emit(chunk.Encode(op, a, bb, 0))
	b.emitRaw(chunk.Instruction(uint32(nameConst)))
	return pos
}

// jumpPlaceholder is written as a branch offset before it is known;
// EmitJump/EmitBranch* family functions return the index of this word
// so Patch can overwrite it once the jump target is assembled.
const jumpPlaceholder = chunk.Instruction(0)

// EmitJump assembles OP_JUMP or OP_JUMP_IF_FALSE (a is meaningful only
// for JUMP_IF_FALSE, the register holding the branch condition) with a
// placeholder offset word, returning the offset word's index for a
// later Patch call.
func (b *Builder) EmitJump(op chunk.OpCode, a byte) int {
	b.UseReg(a)
	b.emit(chunk.Encode(op, a, 0, 0))
	return b.emitRaw(jumpPlaceholder)
}

// Patch backpatches the placeholder offset word at wordPos (as
// returned by EmitJump or EmitBranch*) so the jump lands at the chunk's
// current end — the same "patch to here" convention as the reference
// codebase's Compiler.patchJump, adjusted for this VM's "offset is
// relative to the word right after the offset word" convention (see
// run()'s OP_JUMP handling).
func (b *Builder) Patch(wordPos int) {
	target := len(b.c.Code)
	off := target - (wordPos + 1)
	if off < -(1<<15) || off > (1<<15)-1 {
		panic(fmt.Sprintf("asmchunk: jump offset %d out of signed-16-bit range", off))
	}
	b.c.Code[wordPos] = chunk.Instruction(uint16(int16(off)))
}

// EmitLoop assembles a backward OP_JUMP to loopStart, computed
// immediately (no patch needed since the target is already known).
func (b *Builder) EmitLoop(loopStart int) {
	offsetWord := b.emitJumpUnconditional()
	off := loopStart - (offsetWord + 1)
	if off < -(1<<15) || off > (1<<15)-1 {
		panic(fmt.Sprintf("asmchunk: loop offset %d out of signed-16-bit range", off))
	}
	b.c.Code[offsetWord] = chunk.Instruction(uint16(int16(off)))
}

func (b *Builder) emitJumpUnconditional() int {
	b.emit(chunk.Encode(chunk.OP_JUMP, 0, 0, 0))
	return b.emitRaw(jumpPlaceholder)
}

// EmitBranchImm16 assembles a fused BRANCH_*_I instruction with a
// placeholder trailing offset word, returning its index for Patch.
func (b *Builder) EmitBranchImm16(op chunk.OpCode, a byte, imm int16) int {
	b.UseReg(a)
	b.emit(chunk.EncodeABx(op, a, uint16(imm)))
	return b.emitRaw(jumpPlaceholder)
}

// EmitBranchLit64 assembles a fused BRANCH_*_L instruction: A in
// place, two trailing literal words, then a placeholder offset word
// returned for Patch.
func (b *Builder) EmitBranchLit64(op chunk.OpCode, a byte, lit float64) int {
	b.UseReg(a)
	b.emit(chunk.Encode(op, a, 0, 0))
	low, high := chunk.EncodeLit64(lit)
	b.emitRaw(low)
	b.emitRaw(high)
	return b.emitRaw(jumpPlaceholder)
}

// EmitClosure assembles OP_CLOSURE for the function constant at index
// fnConst. ups must have exactly as many entries, in the same order,
// as the constant *value.Function's own Upvalues recipe — execClosure
// reads one trailing descriptor word per entry of that recipe (is_local
// in the low byte, source index in the next byte), not per any count
// carried in the instruction itself.
func (b *Builder) EmitClosure(a byte, fnConst uint16, ups []value.UpvalueDesc) int {
	b.UseReg(a)
	pos := b.emit(chunk.EncodeABx(chunk.OP_CLOSURE, a, fnConst))
	for _, u := range ups {
		isLocal := byte(0)
		if u.IsLocal {
			isLocal = 1
		}
		b.emitRaw(chunk.Instruction(uint32(isLocal) | uint32(u.Index)<<8))
	}
	return pos
}
