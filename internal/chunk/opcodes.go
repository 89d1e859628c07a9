package chunk

import "fmt"

// OpCode is the 8-bit operation selector occupying bits 0-7 of an
// instruction word.
type OpCode uint8

// Form describes how the remaining 24 bits of an instruction word (and
// any trailing words) are interpreted. See chunk.go's Instruction
// helpers for the exact bit layout of each form.
type Form uint8

const (
	// FormABC: A, B, C are independent register indices.
	// R[A] = R[B] <op> R[C].
	FormABC Form = iota
	// FormAB: A, B are register indices, C unused.
	FormAB
	// FormA: only A is meaningful (B, C unused or opcode-specific flags).
	FormA
	// FormNone: no register operands (A/B/C unused).
	FormNone
	// FormABx: A is a register, Bx (B | C<<8, 16-bit unsigned) is a
	// constant-pool index or global-cache slot index.
	FormABx
	// FormAImm16: A is both destination and left operand (in place);
	// Bx (16-bit, sign-extended) is the immediate right operand. This
	// is the "reg-imm16" arithmetic/comparison form.
	FormAImm16
	// FormALit64: A is both destination and left operand (in place);
	// the following two words hold a 64-bit IEEE-754 double (low word,
	// high word) as the literal right operand. This is the
	// "reg-lit64" arithmetic/comparison form.
	FormALit64
	// FormBranch: A is a register read for the branch test; the next
	// word holds a signed 16-bit jump offset (low 16 bits of the
	// word, sign-extended).
	FormBranch
	// FormBranchImm16: like FormAImm16, but followed by one more word
	// holding the signed 16-bit branch offset — the fused
	// "BRANCH_*_I" compare-and-jump form.
	FormBranchImm16
	// FormBranchLit64: like FormALit64, followed by one more word
	// holding the signed 16-bit branch offset — the fused
	// "BRANCH_*_L" compare-and-jump form.
	FormBranchLit64
	// FormClosure: A is a register, Bx a function constant index;
	// followed by one word per upvalue (is_local in the low byte,
	// index in the next byte).
	FormClosure
	// FormABVal: A is the container register, B is the register
	// holding the value to store; the following word holds a 16-bit
	// constant-pool index for the property/field name being
	// assigned. Used by the property/field SET family, which needs
	// container + value + name in a single instruction (unlike the
	// matching GET, whose result overwrites the container register in
	// place and so fits in a plain FormABx).
	FormABVal
)

//go:generate true
const (
	OP_MOVE OpCode = iota
	OP_LOAD_CONST
	OP_LOAD_NULL
	OP_LOAD_TRUE
	OP_LOAD_FALSE
	OP_LOAD_INT // A = dest, Bx = signed 16-bit immediate int, widened to number

	// Arithmetic: reg-reg / reg-imm16 / reg-lit64 triples.
	OP_ADD
	OP_ADD_I
	OP_ADD_L
	OP_SUB
	OP_SUB_I
	OP_SUB_L
	OP_MUL
	OP_MUL_I
	OP_MUL_L
	OP_DIV
	OP_DIV_I
	OP_DIV_L
	OP_MOD
	OP_MOD_I
	OP_MOD_L

	// Bitwise: same three forms.
	OP_BAND
	OP_BAND_I
	OP_BAND_L
	OP_BOR
	OP_BOR_I
	OP_BOR_L
	OP_BXOR
	OP_BXOR_I
	OP_BXOR_L
	OP_SHL
	OP_SHL_I
	OP_SHL_L
	OP_SHR
	OP_SHR_I
	OP_SHR_L

	OP_NEG
	OP_NOT
	OP_BNOT

	// Comparisons: reg-reg / reg-imm16 / reg-lit64.
	OP_EQ
	OP_EQ_I
	OP_EQ_L
	OP_NE
	OP_NE_I
	OP_NE_L
	OP_LT
	OP_LT_I
	OP_LT_L
	OP_LE
	OP_LE_I
	OP_LE_L
	OP_GT
	OP_GT_I
	OP_GT_L
	OP_GE
	OP_GE_I
	OP_GE_L

	OP_JUMP
	OP_JUMP_IF_FALSE

	// Fused compare-and-branch.
	OP_BRANCH_EQ_I
	OP_BRANCH_EQ_L
	OP_BRANCH_NE_I
	OP_BRANCH_NE_L
	OP_BRANCH_LT_I
	OP_BRANCH_LT_L
	OP_BRANCH_LE_I
	OP_BRANCH_LE_L
	OP_BRANCH_GT_I
	OP_BRANCH_GT_L
	OP_BRANCH_GE_I
	OP_BRANCH_GE_L

	OP_CALL
	OP_CALL_SELF
	OP_TAIL_CALL
	OP_TAIL_CALL_SELF
	OP_SMART_TAIL_CALL
	OP_SMART_TAIL_CALL_SELF
	OP_RET

	OP_DEFINE_GLOBAL
	OP_GET_GLOBAL
	OP_SET_GLOBAL
	OP_GET_GLOBAL_CACHED
	OP_SET_GLOBAL_CACHED
	OP_SLOT_SET_GLOBAL

	OP_CLOSURE
	OP_GET_UPVALUE
	OP_SET_UPVALUE
	OP_SLOT_SET_UPVALUE
	OP_CLOSE_UPVALUE
	OP_CLOSE_FRAME_UPVALUES

	OP_NEW_LIST
	OP_LIST_APPEND
	OP_LIST_SPREAD
	OP_NEW_MAP
	OP_MAP_SET
	OP_MAP_SPREAD
	OP_GET_SUBSCRIPT
	OP_SET_SUBSCRIPT
	OP_SLOT_SET_SUBSCRIPT
	OP_GET_MAP_PROPERTY
	OP_SET_MAP_PROPERTY
	OP_SLOT_SET_MAP_PROPERTY
	OP_NEW_STRUCT
	OP_STRUCT_SPREAD
	OP_GET_STRUCT_FIELD
	OP_SET_STRUCT_FIELD
	OP_SLOT_SET_STRUCT_FIELD

	OP_NEW_DISPATCHER
	OP_ADD_OVERLOAD

	OP_CLONE_VALUE
	OP_DEEP_CLONE_VALUE

	OP_MAKE_REF
	OP_SLOT_MAKE_REF
	OP_MAKE_GLOBAL_REF
	OP_SLOT_MAKE_GLOBAL_REF
	OP_MAKE_UPVALUE_REF
	OP_MAKE_INDEX_REF
	OP_SLOT_MAKE_INDEX_REF
	OP_MAKE_PROPERTY_REF
	OP_SLOT_MAKE_PROPERTY_REF
	OP_DEREF_GET
	OP_DEREF_SET
	OP_SLOT_DEREF_SET

	OP_PRE_INC
	OP_POST_INC
	OP_PRE_DEC
	OP_POST_DEC

	OP_TYPEOF

	OP_PUSH_PROMPT
	OP_POP_PROMPT
	OP_CAPTURE
	OP_RESUME
	OP_ABORT

	opCodeCount
)

var names = [opCodeCount]string{
	OP_MOVE: "MOVE", OP_LOAD_CONST: "LOAD_CONST", OP_LOAD_NULL: "LOAD_NULL",
	OP_LOAD_TRUE: "LOAD_TRUE", OP_LOAD_FALSE: "LOAD_FALSE", OP_LOAD_INT: "LOAD_INT",
	OP_ADD: "ADD", OP_ADD_I: "ADD_I", OP_ADD_L: "ADD_L",
	OP_SUB: "SUB", OP_SUB_I: "SUB_I", OP_SUB_L: "SUB_L",
	OP_MUL: "MUL", OP_MUL_I: "MUL_I", OP_MUL_L: "MUL_L",
	OP_DIV: "DIV", OP_DIV_I: "DIV_I", OP_DIV_L: "DIV_L",
	OP_MOD: "MOD", OP_MOD_I: "MOD_I", OP_MOD_L: "MOD_L",
	OP_BAND: "BAND", OP_BAND_I: "BAND_I", OP_BAND_L: "BAND_L",
	OP_BOR: "BOR", OP_BOR_I: "BOR_I", OP_BOR_L: "BOR_L",
	OP_BXOR: "BXOR", OP_BXOR_I: "BXOR_I", OP_BXOR_L: "BXOR_L",
	OP_SHL: "SHL", OP_SHL_I: "SHL_I", OP_SHL_L: "SHL_L",
	OP_SHR: "SHR", OP_SHR_I: "SHR_I", OP_SHR_L: "SHR_L",
	OP_NEG: "NEG", OP_NOT: "NOT", OP_BNOT: "BNOT",
	OP_EQ: "EQ", OP_EQ_I: "EQ_I", OP_EQ_L: "EQ_L",
	OP_NE: "NE", OP_NE_I: "NE_I", OP_NE_L: "NE_L",
	OP_LT: "LT", OP_LT_I: "LT_I", OP_LT_L: "LT_L",
	OP_LE: "LE", OP_LE_I: "LE_I", OP_LE_L: "LE_L",
	OP_GT: "GT", OP_GT_I: "GT_I", OP_GT_L: "GT_L",
	OP_GE: "GE", OP_GE_I: "GE_I", OP_GE_L: "GE_L",
	OP_JUMP: "JUMP", OP_JUMP_IF_FALSE: "JUMP_IF_FALSE",
	OP_BRANCH_EQ_I: "BRANCH_EQ_I", OP_BRANCH_EQ_L: "BRANCH_EQ_L",
	OP_BRANCH_NE_I: "BRANCH_NE_I", OP_BRANCH_NE_L: "BRANCH_NE_L",
	OP_BRANCH_LT_I: "BRANCH_LT_I", OP_BRANCH_LT_L: "BRANCH_LT_L",
	OP_BRANCH_LE_I: "BRANCH_LE_I", OP_BRANCH_LE_L: "BRANCH_LE_L",
	OP_BRANCH_GT_I: "BRANCH_GT_I", OP_BRANCH_GT_L: "BRANCH_GT_L",
	OP_BRANCH_GE_I: "BRANCH_GE_I", OP_BRANCH_GE_L: "BRANCH_GE_L",
	OP_CALL: "CALL", OP_CALL_SELF: "CALL_SELF",
	OP_TAIL_CALL: "TAIL_CALL", OP_TAIL_CALL_SELF: "TAIL_CALL_SELF",
	OP_SMART_TAIL_CALL: "SMART_TAIL_CALL", OP_SMART_TAIL_CALL_SELF: "SMART_TAIL_CALL_SELF",
	OP_RET: "RET",
	OP_DEFINE_GLOBAL: "DEFINE_GLOBAL", OP_GET_GLOBAL: "GET_GLOBAL", OP_SET_GLOBAL: "SET_GLOBAL",
	OP_GET_GLOBAL_CACHED: "GET_GLOBAL_CACHED", OP_SET_GLOBAL_CACHED: "SET_GLOBAL_CACHED",
	OP_SLOT_SET_GLOBAL: "SLOT_SET_GLOBAL",
	OP_CLOSURE:          "CLOSURE", OP_GET_UPVALUE: "GET_UPVALUE", OP_SET_UPVALUE: "SET_UPVALUE",
	OP_SLOT_SET_UPVALUE: "SLOT_SET_UPVALUE", OP_CLOSE_UPVALUE: "CLOSE_UPVALUE",
	OP_CLOSE_FRAME_UPVALUES: "CLOSE_FRAME_UPVALUES",
	OP_NEW_LIST:             "NEW_LIST", OP_LIST_APPEND: "LIST_APPEND", OP_LIST_SPREAD: "LIST_SPREAD",
	OP_NEW_MAP: "NEW_MAP", OP_MAP_SET: "MAP_SET", OP_MAP_SPREAD: "MAP_SPREAD",
	OP_GET_SUBSCRIPT: "GET_SUBSCRIPT", OP_SET_SUBSCRIPT: "SET_SUBSCRIPT",
	OP_SLOT_SET_SUBSCRIPT: "SLOT_SET_SUBSCRIPT",
	OP_GET_MAP_PROPERTY:   "GET_MAP_PROPERTY", OP_SET_MAP_PROPERTY: "SET_MAP_PROPERTY",
	OP_SLOT_SET_MAP_PROPERTY: "SLOT_SET_MAP_PROPERTY",
	OP_NEW_STRUCT:            "NEW_STRUCT", OP_STRUCT_SPREAD: "STRUCT_SPREAD",
	OP_GET_STRUCT_FIELD: "GET_STRUCT_FIELD", OP_SET_STRUCT_FIELD: "SET_STRUCT_FIELD",
	OP_SLOT_SET_STRUCT_FIELD: "SLOT_SET_STRUCT_FIELD",
	OP_NEW_DISPATCHER:        "NEW_DISPATCHER", OP_ADD_OVERLOAD: "ADD_OVERLOAD",
	OP_CLONE_VALUE: "CLONE_VALUE", OP_DEEP_CLONE_VALUE: "DEEP_CLONE_VALUE",
	OP_MAKE_REF: "MAKE_REF", OP_SLOT_MAKE_REF: "SLOT_MAKE_REF",
	OP_MAKE_GLOBAL_REF: "MAKE_GLOBAL_REF", OP_SLOT_MAKE_GLOBAL_REF: "SLOT_MAKE_GLOBAL_REF",
	OP_MAKE_UPVALUE_REF: "MAKE_UPVALUE_REF",
	OP_MAKE_INDEX_REF:   "MAKE_INDEX_REF", OP_SLOT_MAKE_INDEX_REF: "SLOT_MAKE_INDEX_REF",
	OP_MAKE_PROPERTY_REF: "MAKE_PROPERTY_REF", OP_SLOT_MAKE_PROPERTY_REF: "SLOT_MAKE_PROPERTY_REF",
	OP_DEREF_GET: "DEREF_GET", OP_DEREF_SET: "DEREF_SET", OP_SLOT_DEREF_SET: "SLOT_DEREF_SET",
	OP_PRE_INC: "PRE_INC", OP_POST_INC: "POST_INC", OP_PRE_DEC: "PRE_DEC", OP_POST_DEC: "POST_DEC",
	OP_TYPEOF:      "TYPEOF",
	OP_PUSH_PROMPT: "PUSH_PROMPT", OP_POP_PROMPT: "POP_PROMPT",
	OP_CAPTURE: "CAPTURE", OP_RESUME: "RESUME", OP_ABORT: "ABORT",
}

func (op OpCode) String() string {
	if int(op) < len(names) && names[op] != "" {
		return names[op]
	}
	return fmt.Sprintf("OP_%d", op)
}

// forms maps every opcode to the operand Form the encoder/decoder and
// disassembler must use. Grouped by family so the _I/_L triples and
// the BRANCH_* fused family don't need one line per opcode.
var forms = buildForms()

func buildForms() [opCodeCount]Form {
	var f [opCodeCount]Form

	f[OP_MOVE] = FormAB
	f[OP_LOAD_CONST] = FormABx
	f[OP_LOAD_NULL] = FormA
	f[OP_LOAD_TRUE] = FormA
	f[OP_LOAD_FALSE] = FormA
	f[OP_LOAD_INT] = FormABx

	regregFamily := []OpCode{OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_MOD,
		OP_BAND, OP_BOR, OP_BXOR, OP_SHL, OP_SHR,
		OP_EQ, OP_NE, OP_LT, OP_LE, OP_GT, OP_GE}
	for _, op := range regregFamily {
		f[op] = FormABC
	}
	immFamily := []OpCode{OP_ADD_I, OP_SUB_I, OP_MUL_I, OP_DIV_I, OP_MOD_I,
		OP_BAND_I, OP_BOR_I, OP_BXOR_I, OP_SHL_I, OP_SHR_I,
		OP_EQ_I, OP_NE_I, OP_LT_I, OP_LE_I, OP_GT_I, OP_GE_I}
	for _, op := range immFamily {
		f[op] = FormAImm16
	}
	litFamily := []OpCode{OP_ADD_L, OP_SUB_L, OP_MUL_L, OP_DIV_L, OP_MOD_L,
		OP_BAND_L, OP_BOR_L, OP_BXOR_L, OP_SHL_L, OP_SHR_L,
		OP_EQ_L, OP_NE_L, OP_LT_L, OP_LE_L, OP_GT_L, OP_GE_L}
	for _, op := range litFamily {
		f[op] = FormALit64
	}

	f[OP_NEG] = FormAB
	f[OP_NOT] = FormAB
	f[OP_BNOT] = FormAB

	f[OP_JUMP] = FormBranch // offset is the next word; A is unused
	f[OP_JUMP_IF_FALSE] = FormBranch

	branchImmFamily := []OpCode{OP_BRANCH_EQ_I, OP_BRANCH_NE_I, OP_BRANCH_LT_I,
		OP_BRANCH_LE_I, OP_BRANCH_GT_I, OP_BRANCH_GE_I}
	for _, op := range branchImmFamily {
		f[op] = FormBranchImm16
	}
	branchLitFamily := []OpCode{OP_BRANCH_EQ_L, OP_BRANCH_NE_L, OP_BRANCH_LT_L,
		OP_BRANCH_LE_L, OP_BRANCH_GT_L, OP_BRANCH_GE_L}
	for _, op := range branchLitFamily {
		f[op] = FormBranchLit64
	}

	f[OP_CALL] = FormABC
	f[OP_CALL_SELF] = FormAB
	f[OP_TAIL_CALL] = FormAB
	f[OP_TAIL_CALL_SELF] = FormA
	f[OP_SMART_TAIL_CALL] = FormAB
	f[OP_SMART_TAIL_CALL_SELF] = FormA
	f[OP_RET] = FormA

	f[OP_DEFINE_GLOBAL] = FormABx
	f[OP_GET_GLOBAL] = FormABx
	f[OP_SET_GLOBAL] = FormABx
	f[OP_GET_GLOBAL_CACHED] = FormABx
	f[OP_SET_GLOBAL_CACHED] = FormABx
	f[OP_SLOT_SET_GLOBAL] = FormABx

	f[OP_CLOSURE] = FormClosure
	f[OP_GET_UPVALUE] = FormAB
	f[OP_SET_UPVALUE] = FormAB
	f[OP_SLOT_SET_UPVALUE] = FormAB
	f[OP_CLOSE_UPVALUE] = FormA
	f[OP_CLOSE_FRAME_UPVALUES] = FormA

	f[OP_NEW_LIST] = FormABx
	f[OP_LIST_APPEND] = FormAB
	f[OP_LIST_SPREAD] = FormAB
	f[OP_NEW_MAP] = FormABx
	f[OP_MAP_SET] = FormABC
	f[OP_MAP_SPREAD] = FormAB
	f[OP_GET_SUBSCRIPT] = FormABC
	f[OP_SET_SUBSCRIPT] = FormABC
	f[OP_SLOT_SET_SUBSCRIPT] = FormABC
	f[OP_GET_MAP_PROPERTY] = FormABx
	f[OP_SET_MAP_PROPERTY] = FormABVal
	f[OP_SLOT_SET_MAP_PROPERTY] = FormABVal
	f[OP_NEW_STRUCT] = FormABx
	f[OP_STRUCT_SPREAD] = FormAB
	f[OP_GET_STRUCT_FIELD] = FormABx
	f[OP_SET_STRUCT_FIELD] = FormABVal
	f[OP_SLOT_SET_STRUCT_FIELD] = FormABVal

	f[OP_NEW_DISPATCHER] = FormABx
	f[OP_ADD_OVERLOAD] = FormAB

	f[OP_CLONE_VALUE] = FormAB
	f[OP_DEEP_CLONE_VALUE] = FormAB

	f[OP_MAKE_REF] = FormAB
	f[OP_SLOT_MAKE_REF] = FormAB
	f[OP_MAKE_GLOBAL_REF] = FormABx
	f[OP_SLOT_MAKE_GLOBAL_REF] = FormABx
	f[OP_MAKE_UPVALUE_REF] = FormAB
	f[OP_MAKE_INDEX_REF] = FormABC
	f[OP_SLOT_MAKE_INDEX_REF] = FormABC
	f[OP_MAKE_PROPERTY_REF] = FormABx
	f[OP_SLOT_MAKE_PROPERTY_REF] = FormABx
	f[OP_DEREF_GET] = FormAB
	f[OP_DEREF_SET] = FormAB
	f[OP_SLOT_DEREF_SET] = FormAB

	f[OP_PRE_INC] = FormA
	f[OP_POST_INC] = FormAB
	f[OP_PRE_DEC] = FormA
	f[OP_POST_DEC] = FormAB

	f[OP_TYPEOF] = FormAB

	f[OP_PUSH_PROMPT] = FormA
	f[OP_POP_PROMPT] = FormNone
	f[OP_CAPTURE] = FormAB
	f[OP_RESUME] = FormABC
	f[OP_ABORT] = FormAB

	return f
}

func (op OpCode) Form() Form { return forms[op] }

// TrailingWords reports how many extra 32-bit words follow an
// instruction's lead word, before accounting for FormClosure's
// variable-length upvalue recipe (handled separately by the caller).
func (op OpCode) TrailingWords() int {
	switch op.Form() {
	case FormALit64:
		return 2
	case FormBranch:
		return 1
	case FormBranchImm16:
		return 1
	case FormBranchLit64:
		return 3
	case FormABVal:
		return 1
	default:
		return 0
	}
}
