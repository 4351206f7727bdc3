// Package interval implements a balanced interval tree over closed
// uint64 ranges.
//
// The tree is an AVL tree keyed by (Start, End) where each node also
// records the largest End in its subtree so that overlap queries can
// skip subtrees which end before the query starts.  Nodes are
// allocated by the caller and keep their identity while in the tree,
// so callers may hang their own state off Node.Value.
//
// A Tree is not safe for concurrent use.
package interval

import (
	"fmt"
	"math"
)

// EOF is the largest offset an extent can reach
const EOF = math.MaxUint64

// Extent is a closed range [Start, End]
type Extent struct {
	Start uint64
	End   uint64
}

// Valid returns true if Start <= End
func (e Extent) Valid() bool {
	return e.Start <= e.End
}

// Overlaps returns true if e and o share at least one offset
func (e Extent) Overlaps(o Extent) bool {
	return e.End >= o.Start && e.Start <= o.End
}

// Contains returns true if o lies entirely inside e
func (e Extent) Contains(o Extent) bool {
	return e.Start <= o.Start && o.End <= e.End
}

// String turns an Extent into a string
func (e Extent) String() string {
	if e.End == EOF {
		return fmt.Sprintf("[%d,EOF]", e.Start)
	}
	return fmt.Sprintf("[%d,%d]", e.Start, e.End)
}

// compare orders extents by Start then End
func compare(a, b Extent) int {
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	case a.End < b.End:
		return -1
	case a.End > b.End:
		return 1
	}
	return 0
}

// Node is one extent in a Tree
type Node struct {
	Extent
	Value interface{}

	left   *Node
	right  *Node
	max    uint64 // largest End in this subtree
	height int
	inTree bool
}

// NewNode makes a node for [start, end] carrying value
func NewNode(start, end uint64, value interface{}) *Node {
	return &Node{
		Extent: Extent{Start: start, End: end},
		Value:  value,
	}
}

// InTree returns true if the node is currently linked into a tree
func (n *Node) InTree() bool {
	return n.inTree
}

// Tree is an interval tree
type Tree struct {
	root *Node
	size int
}

// Len returns the number of nodes in the tree
func (t *Tree) Len() int {
	return t.size
}

// Empty returns true if the tree has no nodes
func (t *Tree) Empty() bool {
	return t.root == nil
}

func height(n *Node) int {
	if n == nil {
		return 0
	}
	return n.height
}

// update recomputes the height and max of n from its children
func update(n *Node) {
	n.height = height(n.left)
	if h := height(n.right); h > n.height {
		n.height = h
	}
	n.height++
	n.max = n.End
	if n.left != nil && n.left.max > n.max {
		n.max = n.left.max
	}
	if n.right != nil && n.right.max > n.max {
		n.max = n.right.max
	}
}

func rotateRight(n *Node) *Node {
	l := n.left
	n.left = l.right
	l.right = n
	update(n)
	update(l)
	return l
}

func rotateLeft(n *Node) *Node {
	r := n.right
	n.right = r.left
	r.left = n
	update(n)
	update(r)
	return r
}

// rebalance restores the AVL property at n and returns the new
// subtree root
func rebalance(n *Node) *Node {
	update(n)
	balance := height(n.left) - height(n.right)
	if balance > 1 {
		if height(n.left.left) < height(n.left.right) {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	} else if balance < -1 {
		if height(n.right.right) < height(n.right.left) {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

// Insert adds n to the tree.
//
// If a node with exactly the same extent is already present then n
// is not inserted and the existing node is returned, otherwise Insert
// returns nil.
func (t *Tree) Insert(n *Node) *Node {
	if n.inTree {
		panic(fmt.Sprintf("interval: node %v inserted twice", n.Extent))
	}
	var existing *Node
	t.root = t.insert(t.root, n, &existing)
	if existing != nil {
		return existing
	}
	n.inTree = true
	t.size++
	return nil
}

func (t *Tree) insert(root, n *Node, existing **Node) *Node {
	if root == nil {
		n.left, n.right = nil, nil
		update(n)
		return n
	}
	switch c := compare(n.Extent, root.Extent); {
	case c < 0:
		root.left = t.insert(root.left, n, existing)
	case c > 0:
		root.right = t.insert(root.right, n, existing)
	default:
		*existing = root
		return root
	}
	return rebalance(root)
}

// Erase removes n from the tree.  It does nothing if n isn't in the
// tree.
func (t *Tree) Erase(n *Node) {
	if !n.inTree {
		return
	}
	t.root = t.erase(t.root, n)
	n.inTree = false
	n.left, n.right = nil, nil
	t.size--
}

func (t *Tree) erase(root, n *Node) *Node {
	if root == nil {
		panic(fmt.Sprintf("interval: node %v not found in tree", n.Extent))
	}
	switch c := compare(n.Extent, root.Extent); {
	case c < 0:
		root.left = t.erase(root.left, n)
	case c > 0:
		root.right = t.erase(root.right, n)
	default:
		if root != n {
			panic(fmt.Sprintf("interval: node %v is not the one in the tree", n.Extent))
		}
		if root.left == nil {
			return root.right
		}
		if root.right == nil {
			return root.left
		}
		// splice the in order successor into n's place so that no
		// node changes identity
		var succ *Node
		right := detachMin(root.right, &succ)
		succ.left = root.left
		succ.right = right
		root = succ
	}
	return rebalance(root)
}

// detachMin removes the leftmost node of the subtree at n, storing it
// in out, and returns the new subtree root
func detachMin(n *Node, out **Node) *Node {
	if n.left == nil {
		*out = n
		return n.right
	}
	n.left = detachMin(n.left, out)
	return rebalance(n)
}

// First returns the node with the lowest extent or nil if empty
func (t *Tree) First() *Node {
	n := t.root
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n
}

// Root returns the node at the root of the tree or nil if empty
func (t *Tree) Root() *Node {
	return t.root
}

// Search calls fn for every node overlapping q in ascending order.
// If fn returns false the search stops.
func (t *Tree) Search(q Extent, fn func(n *Node) bool) {
	search(t.root, q, fn)
}

func search(n *Node, q Extent, fn func(n *Node) bool) bool {
	if n == nil || n.max < q.Start {
		return true
	}
	if !search(n.left, q, fn) {
		return false
	}
	if n.Start > q.End {
		// n and everything to its right starts after q
		return true
	}
	if n.Overlaps(q) && !fn(n) {
		return false
	}
	return search(n.right, q, fn)
}

// IsOverlapped returns true if any node overlaps q
func (t *Tree) IsOverlapped(q Extent) bool {
	found := false
	t.Search(q, func(*Node) bool {
		found = true
		return false
	})
	return found
}

// Overlapping returns every node overlapping q in ascending order
func (t *Tree) Overlapping(q Extent) (nodes []*Node) {
	t.Search(q, func(n *Node) bool {
		nodes = append(nodes, n)
		return true
	})
	return nodes
}

// Walk calls fn for every node in ascending order.  If fn returns
// false the walk stops.
func (t *Tree) Walk(fn func(n *Node) bool) {
	walk(t.root, fn)
}

func walk(n *Node, fn func(n *Node) bool) bool {
	if n == nil {
		return true
	}
	return walk(n.left, fn) && fn(n) && walk(n.right, fn)
}
