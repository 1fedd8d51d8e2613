package lang

import (
	"fmt"
	"strconv"
)

// ValueKind tags the variant carried by a Value.
type ValueKind byte

const (
	KindNil ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindArray
)

// Value is OakScript's tagged-union runtime value. Arithmetic is
// implemented by the VM's per-opcode handlers (opAdd, numericBinOp and
// relationalOp in vm.go), never as virtual methods on this type.
type Value struct {
	Kind ValueKind
	I    int64
	F    float64
	B    bool
	S    string
	Arr  *Array
}

// Array is a fixed-size, zero-indexed mutable sequence of Values. It is
// heap-allocated and referenced, so assigning an array copies the
// reference, matching the semantics of every other host-provided
// compound built-in.
type Array struct {
	Items []Value
}

func NilValue() Value              { return Value{Kind: KindNil} }
func IntValue(i int64) Value       { return Value{Kind: KindInt, I: i} }
func FloatValue(f float64) Value   { return Value{Kind: KindFloat, F: f} }
func BoolValue(b bool) Value       { return Value{Kind: KindBool, B: b} }
func StringValue(s string) Value   { return Value{Kind: KindString, S: s} }
func ArrayValue(a *Array) Value    { return Value{Kind: KindArray, Arr: a} }

func (v Value) IsNumeric() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// AsFloat promotes an Int to Float; callers must only use this after
// confirming IsNumeric.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.I)
	}
	return v.F
}

// Truthy implements the language's single source of "is this value true
// in a boolean context" logic: bools are themselves, numbers are
// nonzero, strings are nonempty, nil is false, arrays are non-nil.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindFloat:
		return v.F != 0
	case KindString:
		return v.S != ""
	case KindArray:
		return v.Arr != nil
	default:
		return false
	}
}

// Print renders a value the way PRINT and string coercion do.
func (v Value) Print() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindBool:
		if v.B {
			return "true"
		}
		return "false"
	case KindString:
		return v.S
	case KindArray:
		s := "["
		for i, item := range v.Arr.Items {
			if i > 0 {
				s += ", "
			}
			s += item.Print()
		}
		return s + "]"
	default:
		return fmt.Sprintf("<?%d>", v.Kind)
	}
}

// TypeName names a value's kind for TypeError messages.
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Equal implements structural equality: same kind and same payload, with
// one numeric-coercion exception — int(1) and float(1.0) compare equal
// here because both are numeric and == promotes Int to Float before
// comparing, same as the relational operators.
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return a.AsFloat() == b.AsFloat()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindBool:
		return a.B == b.B
	case KindString:
		return a.S == b.S
	case KindArray:
		return a.Arr == b.Arr
	default:
		return false
	}
}
