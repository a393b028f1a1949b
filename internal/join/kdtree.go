package join

import (
	"math"
	"sort"
)

// kdTree is a static k-d tree over a fixed point set. It is built once
// per join and never mutated, matching the batch pipeline model.
type kdTree struct {
	points [][]float64 // indexed by node position
	ids    []string    // node IDs, for deterministic tie-breaking
	root   *kdNode
	dims   int
}

type kdNode struct {
	idx         int // index into points
	axis        int
	left, right *kdNode
}

// newKDTree builds a balanced tree by median splitting.
func newKDTree(points [][]float64, ids []string) *kdTree {
	t := &kdTree{points: points, ids: ids}
	if len(points) == 0 {
		return t
	}
	t.dims = len(points[0])

	idxs := make([]int, len(points))
	for i := range idxs {
		idxs[i] = i
	}
	t.root = t.build(idxs, 0)
	return t
}

func (t *kdTree) build(idxs []int, depth int) *kdNode {
	if len(idxs) == 0 {
		return nil
	}
	axis := depth % t.dims

	sort.Slice(idxs, func(a, b int) bool {
		pa, pb := t.points[idxs[a]], t.points[idxs[b]]
		if pa[axis] != pb[axis] {
			return pa[axis] < pb[axis]
		}
		return t.ids[idxs[a]] < t.ids[idxs[b]]
	})

	mid := len(idxs) / 2
	n := &kdNode{idx: idxs[mid], axis: axis}
	n.left = t.build(idxs[:mid], depth+1)
	n.right = t.build(idxs[mid+1:], depth+1)
	return n
}

// nearest returns the index of the point closest to q under squared
// Euclidean distance in index space. Ties go to the lowest node ID.
func (t *kdTree) nearest(q []float64) int {
	best := -1
	bestDist := math.Inf(1)

	var walk func(n *kdNode)
	walk = func(n *kdNode) {
		if n == nil {
			return
		}

		d := sqDist(t.points[n.idx], q)
		if d < bestDist || (d == bestDist && best >= 0 && t.ids[n.idx] < t.ids[best]) {
			best = n.idx
			bestDist = d
		}

		diff := q[n.axis] - t.points[n.idx][n.axis]
		near, far := n.left, n.right
		if diff > 0 {
			near, far = n.right, n.left
		}

		walk(near)
		// The far subtree can hold a closer point (or an equal-distance
		// point with a lower ID) only if the splitting plane is within
		// the current best radius.
		if diff*diff <= bestDist {
			walk(far)
		}
	}
	walk(t.root)
	return best
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
