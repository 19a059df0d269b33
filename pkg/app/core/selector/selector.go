package selector

import (
	"encoding/json"
	"errors"
	"fmt"

	core "github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/attr"
)

// maxStackLen bounds filter stack length; stacks must stay strictly below it.
const maxStackLen = 20

var (
	ErrTooManyFilters    = errors.New("selector: filter stack too long")
	ErrZeroMaxCount      = errors.New("selector: max count must be positive")
	ErrInvalidComparison = errors.New("selector: invalid comparison opcode")
	ErrEmptyIDSet        = errors.New("selector: id set cannot be empty")
)

// Item is one entry of a filter stack: either a logic operator or a boolean
// expression operand.
type Item interface{ filterItem() }

// Op is a logic-operator stack item.
type Op LogicOp

// Cond is a boolean-expression stack item.
type Cond Expression

func (Op) filterItem()   {}
func (Cond) filterItem() {}

// Stack is a postfix-encoded boolean formula over token attributes.
type Stack []Item

var logicNames = map[LogicOp]string{LogicAnd: "and", LogicOr: "or", LogicXor: "xor"}

type itemJSON struct {
	Logic string      `json:"logic,omitempty"`
	Expr  *Expression `json:"expr,omitempty"`
}

func (st Stack) MarshalJSON() ([]byte, error) {
	out := make([]itemJSON, 0, len(st))
	for _, it := range st {
		switch v := it.(type) {
		case Op:
			name, ok := logicNames[LogicOp(v)]
			if !ok {
				name = fmt.Sprintf("logic(%d)", uint8(v))
			}
			out = append(out, itemJSON{Logic: name})
		case Cond:
			e := Expression(v)
			out = append(out, itemJSON{Expr: &e})
		}
	}
	return json.Marshal(out)
}

func (st *Stack) UnmarshalJSON(data []byte) error {
	var raw []itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Stack, 0, len(raw))
	for _, it := range raw {
		switch {
		case it.Expr != nil:
			out = append(out, Cond(*it.Expr))
		case it.Logic != "":
			found := false
			for op, name := range logicNames {
				if name == it.Logic {
					out = append(out, Op(op))
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("selector: unknown logic operator %q", it.Logic)
			}
		default:
			return fmt.Errorf("selector: stack item is neither logic nor expr")
		}
	}
	*st = out
	return nil
}

// AttrSelector binds up to MaxCount tokens whose attributes satisfy the
// formula. An empty stack matches every token.
type AttrSelector struct {
	MaxCount uint32 `json:"max_count"`
	Stack    Stack  `json:"stack"`
}

// Validate checks structural well-formedness of the postfix formula by
// replaying it through the reducer with every operand forced to true.
// Structural validity is independent of operand truth values, so no
// attribute lookups happen here.
func (s AttrSelector) Validate() error {
	if len(s.Stack) >= maxStackLen {
		return ErrTooManyFilters
	}
	if len(s.Stack) == 0 {
		return nil
	}
	if s.MaxCount == 0 {
		return ErrZeroMaxCount
	}
	var r reducer
	for _, it := range s.Stack {
		switch v := it.(type) {
		case Op:
			if err := r.pushOperator(LogicOp(v)); err != nil {
				return err
			}
		case Cond:
			if v.Op >= cmpMax {
				return ErrInvalidComparison
			}
			if err := r.pushOperand(true); err != nil {
				return err
			}
		default:
			return ErrMalformedStack
		}
	}
	_, err := r.finish()
	return err
}

// Match evaluates the formula against one token's attributes. Any machine
// error is a non-match: structural validity was already checked when the
// order was created.
func (s AttrSelector) Match(attrs attr.Map) bool {
	if len(s.Stack) == 0 {
		return true
	}
	var r reducer
	for _, it := range s.Stack {
		switch v := it.(type) {
		case Op:
			if err := r.pushOperator(LogicOp(v)); err != nil {
				return false
			}
		case Cond:
			if err := r.pushOperand(Expression(v).Match(attrs)); err != nil {
				return false
			}
		default:
			return false
		}
	}
	ok, err := r.finish()
	if err != nil {
		return false
	}
	return ok
}

// IDSelector binds an explicit token-id set. Duplicates are permitted but
// redundant.
type IDSelector struct {
	IDs []core.TokenID `json:"ids"`
}

func (s IDSelector) Validate() error {
	if len(s.IDs) == 0 {
		return ErrEmptyIDSet
	}
	return nil
}

func (s IDSelector) Contains(token core.TokenID) bool {
	for _, id := range s.IDs {
		if id == token {
			return true
		}
	}
	return false
}

// Selector is the tagged union of the two selection modes.
type Selector interface {
	// TokenCount caps how many tokens one order instance may ever bind.
	TokenCount() uint32
	Validate() error
	selectorType()
}

func (s IDSelector) TokenCount() uint32   { return uint32(len(s.IDs)) }
func (s AttrSelector) TokenCount() uint32 { return s.MaxCount }

func (IDSelector) selectorType()   {}
func (AttrSelector) selectorType() {}

// TokenSelector pairs a selector with the collection it draws from. The
// collection constrains attribute selection only; id selection is already
// pinned to explicit tokens.
type TokenSelector struct {
	Selector   Selector
	Collection core.CollectionID
}

func (ts TokenSelector) TokenCount() uint32 { return ts.Selector.TokenCount() }
func (ts TokenSelector) Validate() error    { return ts.Selector.Validate() }

// ByIDSet reports whether the selector is an explicit id set.
func (ts TokenSelector) ByIDSet() bool {
	_, ok := ts.Selector.(IDSelector)
	return ok
}

type tokenSelectorJSON struct {
	Kind       string            `json:"kind"`
	Collection core.CollectionID `json:"collection"`
	IDs        *IDSelector       `json:"ids,omitempty"`
	Attrs      *AttrSelector     `json:"attrs,omitempty"`
}

func (ts TokenSelector) MarshalJSON() ([]byte, error) {
	out := tokenSelectorJSON{Collection: ts.Collection}
	switch v := ts.Selector.(type) {
	case IDSelector:
		out.Kind = "ids"
		out.IDs = &v
	case AttrSelector:
		out.Kind = "attrs"
		out.Attrs = &v
	default:
		return nil, fmt.Errorf("selector: unknown selector variant %T", ts.Selector)
	}
	return json.Marshal(out)
}

func (ts *TokenSelector) UnmarshalJSON(data []byte) error {
	var raw tokenSelectorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts.Collection = raw.Collection
	switch raw.Kind {
	case "ids":
		if raw.IDs == nil {
			return fmt.Errorf("selector: id selector missing payload")
		}
		ts.Selector = *raw.IDs
	case "attrs":
		if raw.Attrs == nil {
			return fmt.Errorf("selector: attr selector missing payload")
		}
		ts.Selector = *raw.Attrs
	default:
		return fmt.Errorf("selector: unknown selector kind %q", raw.Kind)
	}
	return nil
}

// DigestBytes is a stable byte encoding of the selector for order-id
// hashing. JSON is already deterministic here: struct fields marshal in
// declaration order and the id list preserves its stored sequence.
func (ts TokenSelector) DigestBytes() []byte {
	b, err := json.Marshal(ts)
	if err != nil {
		// Marshal only fails on an unknown variant, which Validate rejects.
		return []byte{}
	}
	return b
}
