// Package sandbox holds the code-level representation behind Tier-3
// mutation: signal expressions compiled into an arena of validated handles.
// Expressions are never executed from unvalidated input; registration runs
// a security pass first and execution is bounded by resource limits.
package sandbox

import (
	"fmt"
	"math"
)

// NodeKind enumerates the closed set of expression node types.
type NodeKind string

const (
	NodeCompare  NodeKind = "compare"
	NodeAnd      NodeKind = "and"
	NodeOr       NodeKind = "or"
	NodeWeighted NodeKind = "weighted"
)

// CompareOp enumerates the comparison operators a compare node may use.
type CompareOp string

const (
	OpGT  CompareOp = ">"
	OpGTE CompareOp = ">="
	OpLT  CompareOp = "<"
	OpLTE CompareOp = "<="
)

// CompareOps returns all operators in a stable order.
func CompareOps() []CompareOp {
	return []CompareOp{OpGT, OpGTE, OpLT, OpLTE}
}

// adaptiveWindow is the lookback used when a compare node's threshold
// adapts to recent channel volatility.
const adaptiveWindow = 20

// Node is one node of a signal expression. Compare nodes test a channel
// against a threshold; and/or/weighted nodes combine child signals.
type Node struct {
	Kind      NodeKind  `json:"kind" msgpack:"kind"`
	Channel   string    `json:"channel,omitempty" msgpack:"channel"`
	Op        CompareOp `json:"op,omitempty" msgpack:"op"`
	Threshold float64   `json:"threshold,omitempty" msgpack:"threshold"`
	Adaptive  bool      `json:"adaptive,omitempty" msgpack:"adaptive"`
	Children  []*Node   `json:"children,omitempty" msgpack:"children"`
	Weights   []float64 `json:"weights,omitempty" msgpack:"weights"`
}

// Compare builds a compare leaf.
func Compare(channel string, op CompareOp, threshold float64) *Node {
	return &Node{Kind: NodeCompare, Channel: channel, Op: op, Threshold: threshold}
}

// And combines child signals, firing only when all fire.
func And(children ...*Node) *Node { return &Node{Kind: NodeAnd, Children: children} }

// Or combines child signals, firing when any fires.
func Or(children ...*Node) *Node { return &Node{Kind: NodeOr, Children: children} }

// Weighted blends child signals; the blend fires above 0.5.
func Weighted(weights []float64, children ...*Node) *Node {
	return &Node{Kind: NodeWeighted, Children: children, Weights: weights}
}

// Clone returns a deep copy of the expression.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := &Node{
		Kind:      n.Kind,
		Channel:   n.Channel,
		Op:        n.Op,
		Threshold: n.Threshold,
		Adaptive:  n.Adaptive,
		Weights:   append([]float64(nil), n.Weights...),
	}
	for _, child := range n.Children {
		clone.Children = append(clone.Children, child.Clone())
	}
	return clone
}

// Channels returns the distinct input channel names the expression reads,
// in first-seen order.
func (n *Node) Channels() []string {
	seen := map[string]bool{}
	var channels []string
	n.walk(func(node *Node) {
		if node.Kind == NodeCompare && !seen[node.Channel] {
			seen[node.Channel] = true
			channels = append(channels, node.Channel)
		}
	})
	return channels
}

// Size returns the number of nodes in the expression.
func (n *Node) Size() int {
	count := 0
	n.walk(func(*Node) { count++ })
	return count
}

func (n *Node) walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.walk(fn)
	}
}

// Nodes returns every node in pre-order, for mutation to pick targets.
func (n *Node) Nodes() []*Node {
	var nodes []*Node
	n.walk(func(node *Node) { nodes = append(nodes, node) })
	return nodes
}

// eval computes the expression's signal series over the input channels.
// All compare results are in {0, 1}; combinators keep values in [0, 1] and
// the final signal is thresholded at 0.5 into {0, 1}.
func (n *Node) eval(inputs map[string][]float64, bars int) ([]float64, error) {
	raw, err := n.evalRaw(inputs, bars)
	if err != nil {
		return nil, err
	}
	signal := make([]float64, bars)
	for i, v := range raw {
		if v > 0.5 {
			signal[i] = 1
		}
	}
	return signal, nil
}

func (n *Node) evalRaw(inputs map[string][]float64, bars int) ([]float64, error) {
	switch n.Kind {
	case NodeCompare:
		series, ok := inputs[n.Channel]
		if !ok {
			return nil, fmt.Errorf("expression references unavailable channel %q", n.Channel)
		}
		thresholds := n.thresholds(series)
		out := make([]float64, bars)
		for i := 0; i < bars; i++ {
			if compare(n.Op, series[i], thresholds[i]) {
				out[i] = 1
			}
		}
		return out, nil

	case NodeAnd, NodeOr:
		out, err := n.Children[0].evalRaw(inputs, bars)
		if err != nil {
			return nil, err
		}
		out = append([]float64(nil), out...)
		for _, child := range n.Children[1:] {
			next, err := child.evalRaw(inputs, bars)
			if err != nil {
				return nil, err
			}
			for i := range out {
				if n.Kind == NodeAnd {
					out[i] = math.Min(out[i], next[i])
				} else {
					out[i] = math.Max(out[i], next[i])
				}
			}
		}
		return out, nil

	case NodeWeighted:
		total := 0.0
		for _, w := range n.Weights {
			total += w
		}
		if total == 0 {
			return nil, fmt.Errorf("weighted expression has zero total weight")
		}
		out := make([]float64, bars)
		for c, child := range n.Children {
			next, err := child.evalRaw(inputs, bars)
			if err != nil {
				return nil, err
			}
			for i := range out {
				out[i] += n.Weights[c] / total * next[i]
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown expression node kind %q", n.Kind)
	}
}

// thresholds returns the per-bar effective threshold. Adaptive compare
// nodes scale with the channel's rolling standard deviation so thresholds
// track regime volatility instead of staying fixed.
func (n *Node) thresholds(series []float64) []float64 {
	out := make([]float64, len(series))
	if !n.Adaptive {
		for i := range out {
			out[i] = n.Threshold
		}
		return out
	}
	for i := range series {
		start := i - adaptiveWindow + 1
		if start < 0 {
			start = 0
		}
		std := stddev(series[start : i+1])
		if std > 0 {
			out[i] = n.Threshold * std
		} else {
			out[i] = n.Threshold
		}
	}
	return out
}

func compare(op CompareOp, value, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	}
	return false
}

func stddev(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))
	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(window) - 1)
	return math.Sqrt(variance)
}
