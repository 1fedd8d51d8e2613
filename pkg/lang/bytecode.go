package lang

// OpCode identifies a bytecode instruction. Encoding widths for each
// opcode's immediate operands are fixed and documented alongside the
// constant, per spec.md §3's "variable-length instructions" data model.
type OpCode byte

const (
	// Constants — no operand (PushNil) or a fixed-width immediate.
	OpPushInt      OpCode = iota // i64 immediate
	OpPushFloat                  // f64 immediate (IEEE-754 bits)
	OpPushBool                   // 1-byte immediate, 0 or 1
	OpPushNil                    // no operand
	OpLoadConstStr               // u32 data-section index

	// Variables — all take a u32 index into the data section naming the
	// variable (spec.md §4.4: "Names appear as 32-bit indices into the
	// data section").
	OpLoad
	OpStore
	OpStoreConst
	OpDelete

	// Arithmetic and comparison — operate on the top of stack, no operand.
	// Short-circuit and/or are lowered to DUP/JUMP_IF/POP sequences at
	// the emitter level rather than given their own opcodes.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNot

	// Control flow — u32 absolute code offset.
	OpJump
	OpJumpIfFalse
	OpJumpIfTrue

	// Calls.
	OpCall     // u32 builtin id, 1-byte argc
	OpCallUser // u32 absolute address, 1-byte argc
	OpReturn   // no operand; always pops exactly one value to return

	// Exceptions.
	OpPushHandler // u32 absolute catch address
	OpPopHandler  // no operand
	OpThrow       // no operand, pops the thrown value

	// Arrays.
	OpNewArray // no operand; pops a size (int), pushes a new Array of nils
	OpIndexGet // no operand; pops index, array; pushes element
	OpIndexSet // no operand; pops value, index, array; mutates in place

	// Utility.
	OpPrint // no operand; pops and prints one value
	OpPop
	OpDup
	OpHalt
)

var opcodeNames = map[OpCode]string{
	OpPushInt: "PUSH_INT", OpPushFloat: "PUSH_FLOAT", OpPushBool: "PUSH_BOOL",
	OpPushNil: "PUSH_NIL", OpLoadConstStr: "LOAD_CONST_STR",
	OpLoad: "LOAD", OpStore: "STORE", OpStoreConst: "STORE_CONST", OpDelete: "DELETE",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpMod: "MOD", OpNeg: "NEG",
	OpEq: "EQ", OpNe: "NE", OpLt: "LT", OpLe: "LE", OpGt: "GT", OpGe: "GE",
	OpNot: "NOT",
	OpJump: "JUMP", OpJumpIfFalse: "JUMP_IF_FALSE", OpJumpIfTrue: "JUMP_IF_TRUE",
	OpCall: "CALL", OpCallUser: "CALL_USER", OpReturn: "RETURN",
	OpPushHandler: "PUSH_HANDLER", OpPopHandler: "POP_HANDLER", OpThrow: "THROW",
	OpNewArray: "NEW_ARRAY", OpIndexGet: "INDEX_GET", OpIndexSet: "INDEX_SET",
	OpPrint: "PRINT", OpPop: "POP", OpDup: "DUP", OpHalt: "HALT",
}

func (op OpCode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}
