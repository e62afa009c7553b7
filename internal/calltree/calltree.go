package calltree

import (
	"fmt"
	"math"
	"sort"

	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/method"
)

// NodeID addresses a node inside the arena of its Tree.
type NodeID int32

// NoNode is the null node, used as the parent of a root and as an inactive
// cursor.
const NoNode NodeID = -1

// DefaultEpsilonMs is the threshold under which a node's recorded total time
// is treated as missing and recomputed from its children.
const DefaultEpsilonMs = 0.00001

var (
	errDataIntegrityRootExists = fmt.Errorf("calltree: %w: tree already has a root", errorutil.ErrDataIntegrity)
	errNoRoot                  = fmt.Errorf("calltree: %w: tree has no root", errorutil.ErrNotFound)
)

type (
	// Node aggregates every call made to one method from one call path.
	Node struct {
		MethodID        method.ID
		InvocationCount uint64
		TotalTimeMs     float64

		parent   NodeID
		children map[method.ID]NodeID
		startNS  int64
	}

	// Tree is the call tree of a single thread. Nodes are never removed, the
	// whole tree is dropped as a unit.
	Tree struct {
		nodes   []*Node
		root    NodeID
		epsilon float64
	}
)

func NewTree() *Tree {
	return &Tree{
		root:    NoNode,
		epsilon: DefaultEpsilonMs,
	}
}

func (t *Tree) SetEpsilon(epsilon float64) {
	t.epsilon = epsilon
}

func (t *Tree) Epsilon() float64 {
	return t.epsilon
}

func (t *Tree) Root() NodeID {
	return t.root
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) Empty() bool {
	return t.root == NoNode
}

// AddRoot creates the root node. A tree has at most one root.
func (t *Tree) AddRoot(id method.ID) (NodeID, error) {
	if t.root != NoNode {
		return NoNode, errDataIntegrityRootExists
	}
	t.root = t.newNode(id, NoNode)
	return t.root, nil
}

// FindOrAddChild returns the child of parent for method id, creating it on
// first use so that repeated calls collapse into a single node.
func (t *Tree) FindOrAddChild(parent NodeID, id method.ID) NodeID {
	p := t.nodes[parent]
	if c, exists := p.children[id]; exists {
		return c
	}
	c := t.newNode(id, parent)
	if p.children == nil {
		p.children = make(map[method.ID]NodeID)
	}
	p.children[id] = c
	return c
}

func (t *Tree) newNode(id method.ID, parent NodeID) NodeID {
	t.nodes = append(t.nodes, &Node{
		MethodID: id,
		parent:   parent,
	})
	return NodeID(len(t.nodes) - 1)
}

func (t *Tree) Node(n NodeID) *Node {
	return t.nodes[n]
}

func (t *Tree) Parent(n NodeID) NodeID {
	return t.nodes[n].parent
}

// Child returns the child of n for method id, if any.
func (t *Tree) Child(n NodeID, id method.ID) (NodeID, bool) {
	c, exists := t.nodes[n].children[id]
	return c, exists
}

// Children returns the children of n ordered by method id.
func (t *Tree) Children(n NodeID) []NodeID {
	node := t.nodes[n]
	children := make([]NodeID, 0, len(node.children))
	for _, c := range node.children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool {
		return t.nodes[children[i]].MethodID < t.nodes[children[j]].MethodID
	})
	return children
}

func (t *Tree) HasChildren(n NodeID) bool {
	return len(t.nodes[n].children) > 0
}

// Begin records the start of one invocation of n.
func (t *Tree) Begin(n NodeID, nowNS int64) {
	node := t.nodes[n]
	node.InvocationCount++
	node.startNS = nowNS
}

// End adds the time elapsed since the matching Begin and returns the parent
// of n. A clock going backwards adds nothing.
func (t *Tree) End(n NodeID, nowNS int64) NodeID {
	node := t.nodes[n]
	if elapsed := nowNS - node.startNS; elapsed > 0 {
		node.TotalTimeMs += float64(elapsed) / 1e6
	}
	return node.parent
}

// RawTotalTime returns the recorded inclusive time of n in milliseconds.
func (t *Tree) RawTotalTime(n NodeID) float64 {
	return t.nodes[n].TotalTimeMs
}

// TotalTime returns the inclusive time of n. When nothing was recorded for n,
// typically because it never returned, the recorded times of its children
// are summed instead.
func (t *Tree) TotalTime(n NodeID) float64 {
	node := t.nodes[n]
	if math.Abs(node.TotalTimeMs) >= t.epsilon {
		return node.TotalTimeMs
	}
	return t.childrenTime(n)
}

func (t *Tree) childrenTime(n NodeID) float64 {
	var sum float64
	for _, c := range t.nodes[n].children {
		sum += t.nodes[c].TotalTimeMs
	}
	return sum
}

// OwnTime returns the time spent in n itself, excluding its children.
func (t *Tree) OwnTime(n NodeID) float64 {
	return t.TotalTime(n) - t.childrenTime(n)
}

// OwnTimeAverage returns the own time per invocation.
func (t *Tree) OwnTimeAverage(n NodeID) float64 {
	own := t.OwnTime(n)
	if count := t.nodes[n].InvocationCount; count > 0 {
		return own / float64(count)
	}
	return own
}

// PercentageOfParent returns the share of the parent's inclusive time spent
// in n, between 0 and 100.
func (t *Tree) PercentageOfParent(n NodeID) float64 {
	p := t.nodes[n].parent
	if p == NoNode {
		return 100
	}
	parentTime := t.TotalTime(p)
	if parentTime == 0 {
		return 0
	}
	return 100 * t.TotalTime(n) / parentTime
}

// Depth returns the number of ancestors of n.
func (t *Tree) Depth(n NodeID) int {
	depth := 0
	for p := t.nodes[n].parent; p != NoNode; p = t.nodes[p].parent {
		depth++
	}
	return depth
}

// PathFromRoot returns the method ids from the root down to n, both included.
func (t *Tree) PathFromRoot(n NodeID) []method.ID {
	path := make([]method.ID, t.Depth(n)+1)
	for i := len(path) - 1; n != NoNode; i-- {
		path[i] = t.nodes[n].MethodID
		n = t.nodes[n].parent
	}
	return path
}

// LookupByPath walks the tree along path, which starts with the root's
// method id.
func (t *Tree) LookupByPath(path []method.ID) (NodeID, error) {
	if t.root == NoNode {
		return NoNode, errNoRoot
	}
	if len(path) == 0 || t.nodes[t.root].MethodID != path[0] {
		return NoNode, fmt.Errorf("calltree: %w: path %v doesn't start at the root", errorutil.ErrNotFound, path)
	}
	n := t.root
	for i, id := range path[1:] {
		c, exists := t.nodes[n].children[id]
		if !exists {
			return NoNode, fmt.Errorf(
				"calltree: %w: no call to method %d at depth %d",
				errorutil.ErrNotFound,
				id,
				i+1,
			)
		}
		n = c
	}
	return n, nil
}

// Walk visits start and its descendants depth-first, parents before
// children and siblings ordered by method id. depth is relative to start.
func (t *Tree) Walk(start NodeID, fn func(n NodeID, depth int)) {
	if start == NoNode {
		return
	}
	t.walk(start, 0, fn)
}

func (t *Tree) walk(n NodeID, depth int, fn func(NodeID, int)) {
	fn(n, depth)
	for _, c := range t.Children(n) {
		t.walk(c, depth+1, fn)
	}
}

// MaxDepth returns the depth of the deepest descendant of start, 0 for a leaf.
func (t *Tree) MaxDepth(start NodeID) int {
	deepest := 0
	t.Walk(start, func(_ NodeID, depth int) {
		if depth > deepest {
			deepest = depth
		}
	})
	return deepest
}

// Clone returns a deep copy of the tree, in-flight start stamps included.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:   make([]*Node, 0, len(t.nodes)),
		root:    t.root,
		epsilon: t.epsilon,
	}
	for _, n := range t.nodes {
		clone := *n
		if n.children != nil {
			clone.children = make(map[method.ID]NodeID, len(n.children))
			for k, v := range n.children {
				clone.children[k] = v
			}
		}
		c.nodes = append(c.nodes, &clone)
	}
	return c
}
