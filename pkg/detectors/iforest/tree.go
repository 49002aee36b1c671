package iforest

import (
	"errors"
	"math/rand"
)

// leaf marks a node without children.
const leaf = -1

// Tree is a single isolation tree stored as a flat node array; Nodes[0] is
// the root.
type Tree struct {
	Nodes []Node
}

// Node is a split (Left/Right >= 0) or a leaf (Left == Right == -1).
type Node struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	// Size is the number of training samples that reached a leaf.
	Size int
}

func (n *Node) isLeaf() bool {
	return n.Left == leaf
}

// pathLength returns the depth at which sample lands, plus the expected
// remaining depth c(size) for the samples sharing its leaf.
func (t *Tree) pathLength(sample []float64) float64 {
	idx, depth := 0, 0
	for {
		n := &t.Nodes[idx]
		if n.isLeaf() {
			return float64(depth) + averagePathLength(n.Size)
		}
		if sample[n.Feature] < n.Threshold {
			idx = int(n.Left)
		} else {
			idx = int(n.Right)
		}
		depth++
	}
}

func (t *Tree) validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.isLeaf() {
			if n.Right != leaf {
				return errors.New("malformed leaf")
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return errors.New("split feature out of range")
		}
		// Children always follow their parent, which also rules out cycles.
		if int(n.Left) <= i || int(n.Right) <= i ||
			int(n.Left) >= len(t.Nodes) || int(n.Right) >= len(t.Nodes) {
			return errors.New("child index out of range")
		}
	}
	return nil
}

// builder grows one tree from its own random source.
type builder struct {
	rng      *rand.Rand
	maxDepth int
	nodes    []Node
}

func newBuilder(seed int64, maxDepth int) *builder {
	return &builder{
		rng:      rand.New(rand.NewSource(seed)),
		maxDepth: maxDepth,
	}
}

// build draws sampleSize rows without replacement and partitions them.
func (b *builder) build(rows [][]float64, sampleSize, nFeatures int) Tree {
	perm := b.rng.Perm(len(rows))[:sampleSize]
	sample := make([][]float64, sampleSize)
	for i, idx := range perm {
		sample[i] = rows[idx]
	}

	b.nodes = make([]Node, 0, 2*sampleSize)
	b.grow(sample, nFeatures, 0)
	return Tree{Nodes: b.nodes}
}

func (b *builder) grow(data [][]float64, nFeatures, depth int) int32 {
	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Left: leaf, Right: leaf, Size: len(data)})

	if depth >= b.maxDepth || len(data) <= 1 {
		return idx
	}

	feature, lo, hi, ok := b.pickFeature(data, nFeatures)
	if !ok {
		return idx
	}

	threshold := lo + b.rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	l := b.grow(left, nFeatures, depth+1)
	r := b.grow(right, nFeatures, depth+1)
	b.nodes[idx] = Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      l,
		Right:     r,
	}
	return idx
}

// pickFeature draws features uniformly at random, skipping those that are
// constant within data. ok is false when every feature is constant.
func (b *builder) pickFeature(data [][]float64, nFeatures int) (feature int, lo, hi float64, ok bool) {
	candidates := b.rng.Perm(nFeatures)
	for _, feature = range candidates {
		lo, hi = data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			v := row[feature]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// treeSeed derives an independent seed for tree i from the master seed
// (splitmix64 finalizer).
func treeSeed(seed int64, i int) int64 {
	z := uint64(seed) + uint64(i+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}
