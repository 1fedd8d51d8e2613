package lang

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/oakscript/oak/pkg/logger"
)

// vmDebugLog feeds the VM's per-instruction execution into the
// AreaVM-gated logger, independently of whatever Trace callback the
// caller installed. Enabling `log_vm` in configuration yields an
// on-disk instruction trace even for runs that never set VM.Trace.
func vmDebugLog(pc int, op OpCode, stackDepth int) {
	logger.VMTrace(pc, op.String(), stackDepth)
}

const (
	defaultMaxStackDepth = 1024
	defaultMaxCallDepth  = 256
)

// Host is the set of side-effecting operations the VM's file-access
// builtins delegate to. A nil Host makes those builtins fail at
// runtime rather than panic, so a program that never touches the
// filesystem can run without one configured.
type Host interface {
	ReadFile(name string) (string, error)
	WriteFile(name, content string) error
	AppendFile(name, content string) error
	Exists(name string) bool
	Now() time.Time
}

// TraceEvent is emitted to an optional sink before every instruction
// executes, for a live debugger or trace log to consume.
type TraceEvent struct {
	PC    int
	Op    OpCode
	Stack int
}

type callFrame struct {
	returnAddr        int
	entryStackDepth   int
	entryHandlerDepth int
	locals            map[string]Value
}

type handlerFrame struct {
	catchAddr  int
	stackDepth int
	callDepth  int
}

// VM executes a compiled Program: a stack machine with a flat global
// variable table, a per-call local frame pushed on user function
// calls, and a handler-frame stack for try/catch/finally unwinding.
type VM struct {
	code []byte
	data [][]byte

	stack      []Value
	callFrames []callFrame
	handlers   []handlerFrame

	globals map[string]Value
	consts  map[string]bool

	pc int

	MaxStackDepth int
	MaxCallDepth  int

	Host  Host
	Print func(string)
	Trace func(TraceEvent)

	aborted int32
}

// NewVM builds a VM ready to execute p from its first instruction.
func NewVM(p *Program) *VM {
	return &VM{
		code:          p.Code,
		data:          p.Data,
		globals:       make(map[string]Value),
		consts:        make(map[string]bool),
		MaxStackDepth: defaultMaxStackDepth,
		MaxCallDepth:  defaultMaxCallDepth,
		Print:         func(string) {},
	}
}

// Abort requests cooperative cancellation; the running Run loop
// observes it between instructions, matching the atomic-flag pattern
// used for hot-path checks elsewhere in this codebase's ambient stack.
func (vm *VM) Abort() { atomic.StoreInt32(&vm.aborted, 1) }

var errHalt = &RuntimeError{Kind: KindAbort, Message: "halt"}

// Run executes from the current pc until OpHalt, an uncaught runtime
// error, or context cancellation.
func (vm *VM) Run(ctx context.Context) error {
	for {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return newRuntimeError(KindAbort, 0, "execution aborted: %v", err)
			}
		}
		if atomic.LoadInt32(&vm.aborted) != 0 {
			return newRuntimeError(KindAbort, 0, "execution aborted")
		}
		if vm.pc < 0 || vm.pc >= len(vm.code) {
			return newRuntimeError(KindEmit, 0, "program counter ran off the end of code")
		}

		op := OpCode(vm.code[vm.pc])
		vm.pc++

		handler := dispatchTable[op]
		if handler == nil {
			return newRuntimeError(KindEmit, 0, "unknown opcode %d", op)
		}

		vmDebugLog(vm.pc-1, op, len(vm.stack))
		if vm.Trace != nil {
			vm.Trace(TraceEvent{PC: vm.pc - 1, Op: op, Stack: len(vm.stack)})
		}

		err := handler(vm)
		if err == nil {
			continue
		}
		if err == errHalt {
			return nil
		}

		rerr, ok := err.(*RuntimeError)
		if !ok {
			return err
		}
		if !rerr.Kind.Catchable() || len(vm.handlers) == 0 {
			return rerr
		}

		hf := vm.handlers[len(vm.handlers)-1]
		vm.handlers = vm.handlers[:len(vm.handlers)-1]
		vm.stack = vm.stack[:hf.stackDepth]
		vm.callFrames = vm.callFrames[:hf.callDepth]

		var errVal Value
		if rerr.Kind == KindUserThrown {
			errVal = rerr.Value
		} else {
			errVal = StringValue(rerr.Error())
		}
		vm.stack = append(vm.stack, errVal)
		vm.pc = hf.catchAddr
	}
}

// --- operand stack ---

func (vm *VM) push(v Value) error {
	if len(vm.stack) >= vm.stackLimit() {
		return newRuntimeError(KindStackOverflow, 0, "operand stack exceeded %d entries", vm.stackLimit())
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) stackLimit() int {
	if vm.MaxStackDepth <= 0 {
		return defaultMaxStackDepth
	}
	return vm.MaxStackDepth
}

func (vm *VM) callLimit() int {
	if vm.MaxCallDepth <= 0 {
		return defaultMaxCallDepth
	}
	return vm.MaxCallDepth
}

func (vm *VM) pop() (Value, error) {
	if len(vm.stack) == 0 {
		return Value{}, newRuntimeError(KindType, 0, "operand stack underflow")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) top() (Value, error) {
	if len(vm.stack) == 0 {
		return Value{}, newRuntimeError(KindType, 0, "operand stack underflow")
	}
	return vm.stack[len(vm.stack)-1], nil
}

// --- operand decoding ---

func (vm *VM) readByte() byte {
	b := vm.code[vm.pc]
	vm.pc++
	return b
}

func (vm *VM) readU32() uint32 {
	v := binary.LittleEndian.Uint32(vm.code[vm.pc : vm.pc+4])
	vm.pc += 4
	return v
}

func (vm *VM) readI64() int64 {
	v := binary.LittleEndian.Uint64(vm.code[vm.pc : vm.pc+8])
	vm.pc += 8
	return int64(v)
}

func (vm *VM) readF64() float64 {
	bits := binary.LittleEndian.Uint64(vm.code[vm.pc : vm.pc+8])
	vm.pc += 8
	return math.Float64frombits(bits)
}

func (vm *VM) nameAt(idx uint32) string {
	if int(idx) >= len(vm.data) {
		return ""
	}
	return string(vm.data[idx])
}

// --- variable table ---

func (vm *VM) loadVar(name string) (Value, error) {
	if n := len(vm.callFrames); n > 0 {
		if v, ok := vm.callFrames[n-1].locals[name]; ok {
			return v, nil
		}
	}
	if v, ok := vm.globals[name]; ok {
		return v, nil
	}
	return Value{}, newRuntimeError(KindName, 0, "undefined variable %q", name)
}

func (vm *VM) storeVar(name string, v Value, declaringConst bool) error {
	if !declaringConst && vm.consts[name] {
		return newRuntimeError(KindName, 0, "cannot assign to const %q", name)
	}
	if declaringConst {
		vm.consts[name] = true
	}
	if n := len(vm.callFrames); n > 0 {
		vm.callFrames[n-1].locals[name] = v
		return nil
	}
	vm.globals[name] = v
	return nil
}

func (vm *VM) deleteVar(name string) error {
	if vm.consts[name] {
		return newRuntimeError(KindName, 0, "cannot delete const %q", name)
	}
	if n := len(vm.callFrames); n > 0 {
		if _, ok := vm.callFrames[n-1].locals[name]; ok {
			delete(vm.callFrames[n-1].locals, name)
			return nil
		}
	}
	if _, ok := vm.globals[name]; !ok {
		return newRuntimeError(KindName, 0, "undefined variable %q", name)
	}
	delete(vm.globals, name)
	return nil
}

// --- dispatch table ---

type instrHandler func(vm *VM) error

var dispatchTable [256]instrHandler

func init() {
	dispatchTable[OpPushInt] = opPushInt
	dispatchTable[OpPushFloat] = opPushFloat
	dispatchTable[OpPushBool] = opPushBool
	dispatchTable[OpPushNil] = opPushNil
	dispatchTable[OpLoadConstStr] = opLoadConstStr

	dispatchTable[OpLoad] = opLoad
	dispatchTable[OpStore] = opStore
	dispatchTable[OpStoreConst] = opStoreConst
	dispatchTable[OpDelete] = opDelete

	dispatchTable[OpAdd] = opAdd
	dispatchTable[OpSub] = opSub
	dispatchTable[OpMul] = opMul
	dispatchTable[OpDiv] = opDiv
	dispatchTable[OpMod] = opMod
	dispatchTable[OpNeg] = opNeg
	dispatchTable[OpEq] = opEq
	dispatchTable[OpNe] = opNe
	dispatchTable[OpLt] = opLt
	dispatchTable[OpLe] = opLe
	dispatchTable[OpGt] = opGt
	dispatchTable[OpGe] = opGe
	dispatchTable[OpNot] = opNot

	dispatchTable[OpJump] = opJump
	dispatchTable[OpJumpIfFalse] = opJumpIfFalse
	dispatchTable[OpJumpIfTrue] = opJumpIfTrue

	dispatchTable[OpCall] = opCall
	dispatchTable[OpCallUser] = opCallUser
	dispatchTable[OpReturn] = opReturn

	dispatchTable[OpPushHandler] = opPushHandler
	dispatchTable[OpPopHandler] = opPopHandler
	dispatchTable[OpThrow] = opThrow

	dispatchTable[OpNewArray] = opNewArray
	dispatchTable[OpIndexGet] = opIndexGet
	dispatchTable[OpIndexSet] = opIndexSet

	dispatchTable[OpPrint] = opPrint
	dispatchTable[OpPop] = opPop
	dispatchTable[OpDup] = opDup
	dispatchTable[OpHalt] = opHaltHandler
}

func opPushInt(vm *VM) error {
	v := vm.readI64()
	return vm.push(IntValue(v))
}

func opPushFloat(vm *VM) error {
	v := vm.readF64()
	return vm.push(FloatValue(v))
}

func opPushBool(vm *VM) error {
	b := vm.readByte()
	return vm.push(BoolValue(b != 0))
}

func opPushNil(vm *VM) error { return vm.push(NilValue()) }

func opLoadConstStr(vm *VM) error {
	idx := vm.readU32()
	return vm.push(StringValue(vm.nameAt(idx)))
}

func opLoad(vm *VM) error {
	idx := vm.readU32()
	v, err := vm.loadVar(vm.nameAt(idx))
	if err != nil {
		return err
	}
	return vm.push(v)
}

func opStore(vm *VM) error {
	idx := vm.readU32()
	v, err := vm.pop()
	if err != nil {
		return err
	}
	return vm.storeVar(vm.nameAt(idx), v, false)
}

func opStoreConst(vm *VM) error {
	idx := vm.readU32()
	v, err := vm.pop()
	if err != nil {
		return err
	}
	return vm.storeVar(vm.nameAt(idx), v, true)
}

func opDelete(vm *VM) error {
	idx := vm.readU32()
	return vm.deleteVar(vm.nameAt(idx))
}

// numericBinOp pops two values, requires both numeric, and applies
// intFn when neither operand is a Float or floatFn otherwise — the
// Int-promotes-to-Float coercion rule applies uniformly here.
func numericBinOp(vm *VM, intFn func(a, b int64) (Value, error), floatFn func(a, b float64) (Value, error)) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return newRuntimeError(KindType, 0, "arithmetic requires numeric operands, got %s and %s", a.TypeName(), b.TypeName())
	}
	var result Value
	if a.Kind == KindFloat || b.Kind == KindFloat {
		result, err = floatFn(a.AsFloat(), b.AsFloat())
	} else {
		result, err = intFn(a.I, b.I)
	}
	if err != nil {
		return err
	}
	return vm.push(result)
}

func opAdd(vm *VM) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	if a.Kind == KindString || b.Kind == KindString {
		return vm.push(StringValue(a.Print() + b.Print()))
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return newRuntimeError(KindType, 0, "+ requires two numbers or a string operand, got %s and %s", a.TypeName(), b.TypeName())
	}
	if a.Kind == KindFloat || b.Kind == KindFloat {
		return vm.push(FloatValue(a.AsFloat() + b.AsFloat()))
	}
	return vm.push(IntValue(a.I + b.I))
}

func opSub(vm *VM) error {
	return numericBinOp(vm,
		func(a, b int64) (Value, error) { return IntValue(a - b), nil },
		func(a, b float64) (Value, error) { return FloatValue(a - b), nil },
	)
}

func opMul(vm *VM) error {
	return numericBinOp(vm,
		func(a, b int64) (Value, error) { return IntValue(a * b), nil },
		func(a, b float64) (Value, error) { return FloatValue(a * b), nil },
	)
}

func opDiv(vm *VM) error {
	return numericBinOp(vm,
		func(a, b int64) (Value, error) {
			if b == 0 {
				return Value{}, newRuntimeError(KindDivisionByZero, 0, "division by zero")
			}
			return IntValue(a / b), nil
		},
		func(a, b float64) (Value, error) {
			if b == 0 {
				return Value{}, newRuntimeError(KindDivisionByZero, 0, "division by zero")
			}
			return FloatValue(a / b), nil
		},
	)
}

func opMod(vm *VM) error {
	return numericBinOp(vm,
		func(a, b int64) (Value, error) {
			if b == 0 {
				return Value{}, newRuntimeError(KindDivisionByZero, 0, "division by zero")
			}
			return IntValue(a % b), nil
		},
		func(a, b float64) (Value, error) {
			if b == 0 {
				return Value{}, newRuntimeError(KindDivisionByZero, 0, "division by zero")
			}
			return FloatValue(math.Mod(a, b)), nil
		},
	)
}

func opNeg(vm *VM) error {
	a, err := vm.pop()
	if err != nil {
		return err
	}
	if !a.IsNumeric() {
		return newRuntimeError(KindType, 0, "unary - requires a number, got %s", a.TypeName())
	}
	if a.Kind == KindFloat {
		return vm.push(FloatValue(-a.F))
	}
	return vm.push(IntValue(-a.I))
}

func relationalOp(vm *VM, cmp func(a, b float64) bool) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return newRuntimeError(KindType, 0, "comparison requires numeric operands, got %s and %s", a.TypeName(), b.TypeName())
	}
	return vm.push(BoolValue(cmp(a.AsFloat(), b.AsFloat())))
}

func opEq(vm *VM) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	return vm.push(BoolValue(Equal(a, b)))
}

func opNe(vm *VM) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	return vm.push(BoolValue(!Equal(a, b)))
}

func opLt(vm *VM) error { return relationalOp(vm, func(a, b float64) bool { return a < b }) }
func opLe(vm *VM) error { return relationalOp(vm, func(a, b float64) bool { return a <= b }) }
func opGt(vm *VM) error { return relationalOp(vm, func(a, b float64) bool { return a > b }) }
func opGe(vm *VM) error { return relationalOp(vm, func(a, b float64) bool { return a >= b }) }

func opNot(vm *VM) error {
	a, err := vm.pop()
	if err != nil {
		return err
	}
	return vm.push(BoolValue(!a.Truthy()))
}

func opJump(vm *VM) error {
	target := vm.readU32()
	vm.pc = int(target)
	return nil
}

func opJumpIfFalse(vm *VM) error {
	target := vm.readU32()
	v, err := vm.pop()
	if err != nil {
		return err
	}
	if !v.Truthy() {
		vm.pc = int(target)
	}
	return nil
}

func opJumpIfTrue(vm *VM) error {
	target := vm.readU32()
	v, err := vm.pop()
	if err != nil {
		return err
	}
	if v.Truthy() {
		vm.pc = int(target)
	}
	return nil
}

func opCall(vm *VM) error {
	id := vm.readU32()
	argc := int(vm.readByte())
	b := builtinByIDOrPanic(int(id))
	args := make([]Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}
	result, err := b.Fn(vm, args)
	if err != nil {
		return err
	}
	return vm.push(result)
}

func opCallUser(vm *VM) error {
	addr := vm.readU32()
	argc := int(vm.readByte())
	if len(vm.callFrames) >= vm.callLimit() {
		return newRuntimeError(KindCallStackOverflow, 0, "call stack exceeded %d frames", vm.callLimit())
	}
	entryDepth := len(vm.stack) - argc
	if entryDepth < 0 {
		return newRuntimeError(KindType, 0, "operand stack underflow at call")
	}
	vm.callFrames = append(vm.callFrames, callFrame{
		returnAddr:        vm.pc,
		entryStackDepth:   entryDepth,
		entryHandlerDepth: len(vm.handlers),
		locals:            make(map[string]Value, argc),
	})
	vm.pc = int(addr)
	return nil
}

// opReturn unwinds to the caller, discarding any handler frames pushed
// by a try inside the returning call — a return from within a try body
// never reaches the matching OpPopHandler, so the handler stack is
// truncated back to its depth at call entry instead.
func opReturn(vm *VM) error {
	retVal, err := vm.pop()
	if err != nil {
		return err
	}
	if len(vm.callFrames) == 0 {
		return newRuntimeError(KindEmit, 0, "return with no active call frame")
	}
	frame := vm.callFrames[len(vm.callFrames)-1]
	vm.callFrames = vm.callFrames[:len(vm.callFrames)-1]
	vm.stack = vm.stack[:frame.entryStackDepth]
	vm.handlers = vm.handlers[:frame.entryHandlerDepth]
	vm.pc = frame.returnAddr
	return vm.push(retVal)
}

func opPushHandler(vm *VM) error {
	addr := vm.readU32()
	vm.handlers = append(vm.handlers, handlerFrame{
		catchAddr:  int(addr),
		stackDepth: len(vm.stack),
		callDepth:  len(vm.callFrames),
	})
	return nil
}

func opPopHandler(vm *VM) error {
	if len(vm.handlers) == 0 {
		return newRuntimeError(KindEmit, 0, "pop-handler with no active handler")
	}
	vm.handlers = vm.handlers[:len(vm.handlers)-1]
	return nil
}

func opThrow(vm *VM) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	return &RuntimeError{Kind: KindUserThrown, Message: v.Print(), Value: v}
}

func opNewArray(vm *VM) error {
	size, err := vm.pop()
	if err != nil {
		return err
	}
	if size.Kind != KindInt || size.I < 0 {
		return newRuntimeError(KindType, 0, "dim: size must be a non-negative integer")
	}
	items := make([]Value, size.I)
	for i := range items {
		items[i] = NilValue()
	}
	return vm.push(ArrayValue(&Array{Items: items}))
}

func opIndexGet(vm *VM) error {
	idx, err := vm.pop()
	if err != nil {
		return err
	}
	arr, err := vm.pop()
	if err != nil {
		return err
	}
	elem, err := indexInto(arr, idx)
	if err != nil {
		return err
	}
	return vm.push(elem)
}

func opIndexSet(vm *VM) error {
	val, err := vm.pop()
	if err != nil {
		return err
	}
	idx, err := vm.pop()
	if err != nil {
		return err
	}
	arr, err := vm.pop()
	if err != nil {
		return err
	}
	if arr.Kind != KindArray || arr.Arr == nil {
		return newRuntimeError(KindType, 0, "index assignment target is not an array, got %s", arr.TypeName())
	}
	if idx.Kind != KindInt {
		return newRuntimeError(KindType, 0, "array index must be an integer, got %s", idx.TypeName())
	}
	if idx.I < 0 || int(idx.I) >= len(arr.Arr.Items) {
		return newRuntimeError(KindIndex, 0, "array index %d out of range [0,%d)", idx.I, len(arr.Arr.Items))
	}
	arr.Arr.Items[idx.I] = val
	return nil
}

func indexInto(arr, idx Value) (Value, error) {
	if arr.Kind != KindArray || arr.Arr == nil {
		return Value{}, newRuntimeError(KindType, 0, "cannot index a %s", arr.TypeName())
	}
	if idx.Kind != KindInt {
		return Value{}, newRuntimeError(KindType, 0, "array index must be an integer, got %s", idx.TypeName())
	}
	if idx.I < 0 || int(idx.I) >= len(arr.Arr.Items) {
		return Value{}, newRuntimeError(KindIndex, 0, "array index %d out of range [0,%d)", idx.I, len(arr.Arr.Items))
	}
	return arr.Arr.Items[idx.I], nil
}

func opPrint(vm *VM) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	if vm.Print != nil {
		vm.Print(v.Print())
	}
	return nil
}

func opPop(vm *VM) error {
	_, err := vm.pop()
	return err
}

func opDup(vm *VM) error {
	v, err := vm.top()
	if err != nil {
		return err
	}
	return vm.push(v)
}

func opHaltHandler(vm *VM) error { return errHalt }
