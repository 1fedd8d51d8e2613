package lang

import (
	"encoding/binary"
	"math"
)

// Emitter owns the growable code buffer, the growable string-data buffer,
// and the label/patch table used for forward jumps during compilation.
// All three are discarded once compilation finishes and the result is
// handed to a Container.
type Emitter struct {
	code []byte
	data [][]byte

	stringIndex map[string]int

	labels      map[int]int   // label id -> bound absolute offset
	patches     map[int][]int // label id -> code offsets awaiting the label's offset
	nextLabelID int

	funcs map[string]*funcSymbol
}

// funcSymbol is the compile-time symbol table entry for a user-defined
// function: the label bound to its entry address, and its declared
// arity, used to validate call sites.
type funcSymbol struct {
	label    int
	arity    int
	resolved bool
}

func NewEmitter() *Emitter {
	return &Emitter{
		stringIndex: make(map[string]int),
		labels:      make(map[int]int),
		patches:     make(map[int][]int),
		funcs:       make(map[string]*funcSymbol),
	}
}

// Offset returns the current end of the code buffer — the address the
// next emitted instruction will occupy.
func (e *Emitter) Offset() int { return len(e.code) }

func (e *Emitter) EmitOp(op OpCode) { e.code = append(e.code, byte(op)) }

func (e *Emitter) EmitByte(b byte) { e.code = append(e.code, b) }

func (e *Emitter) EmitU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.code = append(e.code, buf[:]...)
}

func (e *Emitter) EmitI64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	e.code = append(e.code, buf[:]...)
}

func (e *Emitter) EmitF64(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	e.code = append(e.code, buf[:]...)
}

// patchU32 overwrites a previously-emitted placeholder 4-byte slot.
func (e *Emitter) patchU32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(e.code[offset:offset+4], v)
}

// NewLabel allocates a fresh, as-yet-unbound label id.
func (e *Emitter) NewLabel() int {
	id := e.nextLabelID
	e.nextLabelID++
	return id
}

// BindLabel marks the current code offset as the label's resolved
// address and drains every patch site waiting on it.
func (e *Emitter) BindLabel(id int) {
	e.labels[id] = e.Offset()
	for _, site := range e.patches[id] {
		e.patchU32(site, uint32(e.Offset()))
	}
	delete(e.patches, id)
}

// EmitJump emits a jump-family opcode targeting label id. If the label
// is already bound, the absolute offset is written directly; otherwise
// a placeholder is emitted and the site is recorded in the patch table
// for BindLabel to fill in later.
func (e *Emitter) EmitJump(op OpCode, label int) {
	e.EmitOp(op)
	site := e.Offset()
	if off, bound := e.labels[label]; bound {
		e.EmitU32(uint32(off))
		return
	}
	e.EmitU32(0)
	e.patches[label] = append(e.patches[label], site)
}

// unresolvedLabels returns the ids of any label with a patch site still
// waiting — a compile-time bug (every grammar-reachable label must be
// bound by the time the top-level compile finishes), surfaced as an
// EmitError rather than panicking so a caller can report it cleanly.
func (e *Emitter) unresolvedLabels() []int {
	ids := make([]int, 0, len(e.patches))
	for id, sites := range e.patches {
		if len(sites) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// InternString adds s to the data section if not already present and
// returns its 32-bit index. Identical strings — including variable
// names, which are interned the same way per spec.md §4.4 — share one
// record.
func (e *Emitter) InternString(s string) uint32 {
	if idx, ok := e.stringIndex[s]; ok {
		return uint32(idx)
	}
	idx := len(e.data)
	e.data = append(e.data, []byte(s))
	e.stringIndex[s] = idx
	return uint32(idx)
}

func (e *Emitter) Code() []byte   { return e.code }
func (e *Emitter) Data() [][]byte { return e.data }
