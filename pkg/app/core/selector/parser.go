package selector

import "errors"

// LogicOp is a logic opcode in a filter stack. Values above logicMax are the
// boolean result sentinels the reducer works with; they never appear in a
// user-supplied stack.
type LogicOp uint8

const (
	LogicAnd LogicOp = iota
	LogicOr
	LogicXor // parsed but rejected at push time
	logicMax
	tokTrue
	tokFalse
)

var (
	ErrUnsupportedOperator         = errors.New("selector: xor is not supported")
	ErrInvalidOperator             = errors.New("selector: invalid logic operator")
	ErrMalformedStack              = errors.New("selector: malformed stack, logic operator expected")
	ErrCannotReduceToSingleElement = errors.New("selector: cannot reduce stack to a single element")
	ErrCannotReduceToBoolean       = errors.New("selector: cannot reduce stack to a boolean")
)

func (op LogicOp) isBool() bool { return op == tokTrue || op == tokFalse }

// reducer is the logic-reduction stack machine. Operands are pushed as
// boolean sentinels; whenever the top two entries are both booleans the
// operator beneath them is applied, collapsing three entries into one.
// Validation and evaluation share this core and differ only in where the
// operand truth values come from.
type reducer struct {
	s []LogicOp
}

func (r *reducer) pushOperator(op LogicOp) error {
	if op >= logicMax {
		return ErrInvalidOperator
	}
	if op == LogicXor {
		return ErrUnsupportedOperator
	}
	r.s = append(r.s, op)
	return nil
}

func (r *reducer) pushOperand(v bool) error {
	if v {
		r.s = append(r.s, tokTrue)
	} else {
		r.s = append(r.s, tokFalse)
	}
	return r.reduce()
}

func (r *reducer) reduce() error {
	for {
		n := len(r.s)
		if n < 3 {
			return nil
		}
		top1, top2 := r.s[n-1], r.s[n-2]
		if !top1.isBool() || !top2.isBool() {
			return nil
		}
		op := r.s[n-3]
		if op >= logicMax {
			return ErrMalformedStack
		}

		out := tokFalse
		switch op {
		case LogicAnd:
			if top1 == tokTrue && top2 == tokTrue {
				out = tokTrue
			}
		case LogicOr:
			if top1 == tokTrue || top2 == tokTrue {
				out = tokTrue
			}
		case LogicXor:
			// unreachable: xor is rejected at push time
			if (top1 == tokTrue) != (top2 == tokTrue) {
				out = tokTrue
			}
		}
		r.s = r.s[:n-3]
		r.s = append(r.s, out)
	}
}

// finish pops the final value. The stack must hold exactly one boolean.
func (r *reducer) finish() (bool, error) {
	if len(r.s) != 1 {
		return false, ErrCannotReduceToSingleElement
	}
	top := r.s[0]
	if !top.isBool() {
		return false, ErrCannotReduceToBoolean
	}
	r.s = r.s[:0]
	return top == tokTrue, nil
}
