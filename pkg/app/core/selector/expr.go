// Package selector implements attribute-based token selection: boolean
// comparison expressions over token attributes, a logic-reduction stack
// machine for postfix formulas, and the selector types orders carry.
package selector

import (
	"encoding/json"
	"fmt"

	"github.com/openloot/openloot/pkg/app/core/attr"
)

// CompareOp is a comparison opcode in a boolean expression.
type CompareOp uint8

const (
	CmpEq CompareOp = iota
	CmpGt
	CmpLt
	CmpGe
	CmpLe
	CmpNe
	cmpMax // sentinel, not a valid opcode
)

var cmpNames = map[CompareOp]string{
	CmpEq: "eq", CmpGt: "gt", CmpLt: "lt", CmpGe: "ge", CmpLe: "le", CmpNe: "ne",
}

func (op CompareOp) String() string {
	if s, ok := cmpNames[op]; ok {
		return s
	}
	return fmt.Sprintf("cmp(%d)", uint8(op))
}

func (op CompareOp) MarshalJSON() ([]byte, error) {
	if s, ok := cmpNames[op]; ok {
		return json.Marshal(s)
	}
	return json.Marshal(uint8(op))
}

func (op *CompareOp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, v := range cmpNames {
		if v == s {
			*op = k
			return nil
		}
	}
	return fmt.Errorf("selector: unknown comparison opcode %q", s)
}

// Expression is one attribute comparison: key <op> value.
type Expression struct {
	Op    CompareOp  `json:"op"`
	Key   string     `json:"key"`
	Value attr.Value `json:"value"`
}

// Match evaluates the expression against one token's attributes. A missing
// key or a type-tag mismatch is a non-match, never an error.
func (e Expression) Match(attrs attr.Map) bool {
	stored, ok := attrs[e.Key]
	if !ok {
		return false
	}
	if stored.Kind() != e.Value.Kind() {
		return false
	}
	if n1, ok := stored.AsUint64(); ok {
		n2, _ := e.Value.AsUint64()
		return compare(e.Op, n1, n2)
	}
	s1, _ := stored.AsString()
	s2, _ := e.Value.AsString()
	return compare(e.Op, s1, s2)
}

// compare applies op under the natural ordering of E. Unrecognized opcodes
// never match.
func compare[E string | uint64](op CompareOp, v1, v2 E) bool {
	switch op {
	case CmpEq:
		return v1 == v2
	case CmpGt:
		return v1 > v2
	case CmpLt:
		return v1 < v2
	case CmpGe:
		return v1 >= v2
	case CmpLe:
		return v1 <= v2
	case CmpNe:
		return v1 != v2
	default:
		return false
	}
}
