package interval

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// check the AVL and max invariants of the subtree at n returning its
// height
func check(t *testing.T, n *Node) int {
	if n == nil {
		return 0
	}
	lh := check(t, n.left)
	rh := check(t, n.right)
	require.True(t, lh-rh <= 1 && rh-lh <= 1, "unbalanced at %v", n.Extent)
	h := lh
	if rh > h {
		h = rh
	}
	h++
	require.Equal(t, h, n.height, "height at %v", n.Extent)
	max := n.End
	if n.left != nil {
		require.Equal(t, -1, compare(n.left.Extent, n.Extent))
		if n.left.max > max {
			max = n.left.max
		}
	}
	if n.right != nil {
		require.Equal(t, 1, compare(n.right.Extent, n.Extent))
		if n.right.max > max {
			max = n.right.max
		}
	}
	require.Equal(t, max, n.max, "max at %v", n.Extent)
	return h
}

func extents(nodes []*Node) (out []Extent) {
	for _, n := range nodes {
		out = append(out, n.Extent)
	}
	return out
}

func TestOverlapTouching(t *testing.T) {
	var tree Tree
	assert.Nil(t, tree.Insert(NewNode(5, 10, nil)))
	assert.Nil(t, tree.Insert(NewNode(10, 15, nil)))
	assert.Equal(t, 2, tree.Len())

	assert.Equal(t, []Extent{{5, 10}, {10, 15}}, extents(tree.Overlapping(Extent{10, 10})))
	assert.Equal(t, []Extent{{5, 10}}, extents(tree.Overlapping(Extent{0, 5})))
	assert.Equal(t, []Extent{{10, 15}}, extents(tree.Overlapping(Extent{15, EOF})))
	assert.False(t, tree.IsOverlapped(Extent{16, 20}))
	assert.False(t, tree.IsOverlapped(Extent{0, 4}))
	assert.True(t, tree.IsOverlapped(Extent{0, EOF}))
}

func TestInsertDuplicate(t *testing.T) {
	var tree Tree
	a := NewNode(0, 100, "a")
	b := NewNode(0, 100, "b")
	assert.Nil(t, tree.Insert(a))
	assert.Equal(t, a, tree.Insert(b))
	assert.Equal(t, 1, tree.Len())
	assert.False(t, b.InTree())
	assert.Panics(t, func() { tree.Insert(a) })
}

func TestEraseNotInTree(t *testing.T) {
	var tree Tree
	a := NewNode(0, 1, nil)
	tree.Erase(a)
	assert.Equal(t, 0, tree.Len())
	tree.Insert(a)
	tree.Erase(a)
	tree.Erase(a)
	assert.Equal(t, 0, tree.Len())
	assert.True(t, tree.Empty())
	assert.Nil(t, tree.First())
}

func TestEraseKeepsIdentity(t *testing.T) {
	var tree Tree
	var nodes []*Node
	for i := uint64(0); i < 15; i++ {
		n := NewNode(i*10, i*10+5, i)
		nodes = append(nodes, n)
		tree.Insert(n)
	}
	check(t, tree.root)

	// the root has two children so its successor is spliced in
	root := tree.Root()
	require.NotNil(t, root.left)
	require.NotNil(t, root.right)
	tree.Erase(root)
	check(t, tree.root)
	assert.Equal(t, 14, tree.Len())

	tree.Walk(func(n *Node) bool {
		i := n.Value.(uint64)
		assert.Equal(t, nodes[i], n)
		assert.Equal(t, Extent{i * 10, i*10 + 5}, n.Extent)
		return true
	})
}

func TestWalkOrderAndStop(t *testing.T) {
	var tree Tree
	for _, e := range []Extent{{30, 40}, {0, 5}, {10, 20}, {10, 12}, {50, EOF}} {
		tree.Insert(NewNode(e.Start, e.End, nil))
	}
	var got []Extent
	tree.Walk(func(n *Node) bool {
		got = append(got, n.Extent)
		return true
	})
	assert.Equal(t, []Extent{{0, 5}, {10, 12}, {10, 20}, {30, 40}, {50, EOF}}, got)
	assert.Equal(t, Extent{0, 5}, tree.First().Extent)

	got = nil
	tree.Walk(func(n *Node) bool {
		got = append(got, n.Extent)
		return len(got) < 2
	})
	assert.Equal(t, 2, len(got))

	got = nil
	tree.Search(Extent{0, EOF}, func(n *Node) bool {
		got = append(got, n.Extent)
		return len(got) < 3
	})
	assert.Equal(t, []Extent{{0, 5}, {10, 12}, {10, 20}}, got)
}

func TestExtent(t *testing.T) {
	assert.True(t, Extent{1, 1}.Valid())
	assert.False(t, Extent{2, 1}.Valid())
	assert.True(t, Extent{0, 10}.Contains(Extent{2, 10}))
	assert.False(t, Extent{0, 10}.Contains(Extent{2, 11}))
	assert.Equal(t, "[1,2]", Extent{1, 2}.String())
	assert.Equal(t, "[7,EOF]", Extent{7, EOF}.String())
}

func TestRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var tree Tree
	live := map[Extent]*Node{}
	for i := 0; i < 2000; i++ {
		start := uint64(rng.Intn(1000))
		e := Extent{start, start + uint64(rng.Intn(50))}
		if n, ok := live[e]; ok && rng.Intn(2) == 0 {
			tree.Erase(n)
			delete(live, e)
		} else if !ok {
			n := NewNode(e.Start, e.End, nil)
			require.Nil(t, tree.Insert(n))
			live[e] = n
		}
		if i%100 == 0 {
			check(t, tree.root)
		}
	}
	check(t, tree.root)
	assert.Equal(t, len(live), tree.Len())

	for i := 0; i < 200; i++ {
		start := uint64(rng.Intn(1100))
		q := Extent{start, start + uint64(rng.Intn(30))}
		want := 0
		for e := range live {
			if e.Overlaps(q) {
				want++
			}
		}
		assert.Equal(t, want, len(tree.Overlapping(q)), "query %v", q)
		assert.Equal(t, want > 0, tree.IsOverlapped(q), "query %v", q)
	}
}
