package main

import (
	"zymvm/internal/asmchunk"
	"zymvm/internal/chunk"
	"zymvm/internal/value"
)

// buildDemoModule hand-assembles a tiny module chunk in place of the
// front end this repo doesn't carry (§1's excluded collaborators): a
// global function add(a, b) that prints its own sum via the native
// bridge before returning it. There is no lexer/parser/compiler to
// generate this from source, so every instruction is built directly
// through asmchunk — the same role internal/compiler plays in the
// reference codebase, just operating on 32-bit words instead of bytes.
func buildDemoModule() *chunk.Chunk {
	addFn := buildAddFunction()

	mod := asmchunk.New("<demo>")
	fnConst := mod.Constant(value.FromObject(addFn))
	mod.EmitClosure(0, fnConst, nil)

	nameConst := mod.Constant(value.FromObject(&value.StringObj{Chars: "add@2"}))
	mod.EmitABx(chunk.OP_DEFINE_GLOBAL, 0, nameConst)
	mod.EmitA(chunk.OP_RET, 0)

	return mod.Chunk()
}

// buildAddFunction assembles add(a, b): R2 = R0 + R1, print(R2), RET R2.
func buildAddFunction() *value.Function {
	b := asmchunk.New("<demo>/add")

	b.EmitABC(chunk.OP_ADD, 2, 0, 1) // R2 = R0 + R1

	printConst := b.Constant(value.FromObject(&value.StringObj{Chars: "print@1"}))
	b.EmitABx(chunk.OP_GET_GLOBAL, 3, printConst) // R3 = print native
	b.EmitAB(chunk.OP_MOVE, 4, 2)                 // R4 = R2 (argument)
	b.EmitABC(chunk.OP_CALL, 3, 1, 0)             // R3(R4), argc=1

	b.EmitA(chunk.OP_RET, 2)

	c := b.Chunk()
	return &value.Function{
		Name:    "add",
		Module:  "<demo>",
		Arity:   2,
		MaxRegs: c.MaxRegs,
		Chunk:   c,
	}
}
