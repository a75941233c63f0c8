package sandbox

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ErrorKind classifies sandbox failures. All of them are reported back to
// the tier selector exactly like a mutation rejection.
type ErrorKind string

const (
	DisallowedOperation ErrorKind = "disallowed_operation"
	ResourceLimit       ErrorKind = "resource_limit"
	Crash               ErrorKind = "crash"
)

// Error is a sandbox rejection or execution failure.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox: %s: %s", e.Kind, e.Detail)
}

// Is matches sandbox errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// maxExpressionDepth bounds expression nesting; anything deeper is almost
// certainly degenerate mutation output.
const maxExpressionDepth = 12

var channelNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// disallowedTokens are scanned for in textual expression sources (for
// example LLM-supplied immigrant bodies). Any hit rejects the body
// outright; nothing is sanitized or stripped.
var disallowedTokens = []string{
	"import", "exec", "eval", "open(", "os.", "sys.",
	"socket", "subprocess", "http", "urllib", "net/",
	"syscall", "unsafe", "__",
}

// ValidateExpression runs the security and structure pass over an
// expression tree. Only validated expressions may be registered in the
// arena and receive a handle.
func ValidateExpression(n *Node) error {
	if n == nil {
		return &Error{Kind: DisallowedOperation, Detail: "empty expression"}
	}
	return validateNode(n, 1)
}

func validateNode(n *Node, depth int) error {
	if depth > maxExpressionDepth {
		return &Error{Kind: DisallowedOperation, Detail: fmt.Sprintf("expression deeper than %d levels", maxExpressionDepth)}
	}

	switch n.Kind {
	case NodeCompare:
		if !channelNamePattern.MatchString(n.Channel) {
			return &Error{Kind: DisallowedOperation, Detail: fmt.Sprintf("illegal channel name %q", n.Channel)}
		}
		if !validOp(n.Op) {
			return &Error{Kind: DisallowedOperation, Detail: fmt.Sprintf("illegal comparison operator %q", n.Op)}
		}
		if math.IsNaN(n.Threshold) || math.IsInf(n.Threshold, 0) {
			return &Error{Kind: DisallowedOperation, Detail: "non-finite threshold"}
		}
		if len(n.Children) > 0 {
			return &Error{Kind: DisallowedOperation, Detail: "compare node must be a leaf"}
		}

	case NodeAnd, NodeOr:
		if len(n.Children) < 2 {
			return &Error{Kind: DisallowedOperation, Detail: string(n.Kind) + " node needs at least two children"}
		}

	case NodeWeighted:
		if len(n.Children) < 2 {
			return &Error{Kind: DisallowedOperation, Detail: "weighted node needs at least two children"}
		}
		if len(n.Weights) != len(n.Children) {
			return &Error{Kind: DisallowedOperation, Detail: "weighted node weight/child count mismatch"}
		}
		for _, w := range n.Weights {
			if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
				return &Error{Kind: DisallowedOperation, Detail: "weights must be finite and non-negative"}
			}
		}

	default:
		return &Error{Kind: DisallowedOperation, Detail: fmt.Sprintf("unknown node kind %q", n.Kind)}
	}

	for _, child := range n.Children {
		if err := validateNode(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func validOp(op CompareOp) bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE:
		return true
	}
	return false
}

// ValidateSource scans a textual expression body for disallowed
// constructs: file I/O, network access, dynamic code evaluation. Any such
// attempt is rejected outright, never sanitized.
func ValidateSource(src string) error {
	lowered := strings.ToLower(src)
	for _, token := range disallowedTokens {
		if strings.Contains(lowered, token) {
			return &Error{Kind: DisallowedOperation, Detail: fmt.Sprintf("disallowed token %q", token)}
		}
	}
	return nil
}
