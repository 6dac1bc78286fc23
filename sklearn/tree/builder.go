package tree

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Node is one node of a fitted tree, stored in a flat slice so that the
// whole tree gob-encodes without pointers. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Depth     int
	NSamples  int
	Impurity  float64
	// Value はクラス確率（分類）または予測値（回帰, 長さ1）
	Value []float64
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// criterion accumulates per-node statistics and scores their impurity.
type criterion interface {
	width() int
	add(acc []float64, i int, sign float64)
	count(acc []float64) float64
	impurity(acc []float64) float64
	value(acc []float64) []float64
}

type classCriterion struct {
	y        []int
	nClasses int
	entropy  bool
}

func (c *classCriterion) width() int { return c.nClasses }

func (c *classCriterion) add(acc []float64, i int, sign float64) { acc[c.y[i]] += sign }

func (c *classCriterion) count(acc []float64) float64 {
	var n float64
	for _, v := range acc {
		n += v
	}
	return n
}

func (c *classCriterion) impurity(acc []float64) float64 {
	n := c.count(acc)
	if n == 0 {
		return 0
	}
	var imp float64
	if c.entropy {
		for _, v := range acc {
			if v > 0 {
				p := v / n
				imp -= p * math.Log2(p)
			}
		}
		return imp
	}
	imp = 1
	for _, v := range acc {
		p := v / n
		imp -= p * p
	}
	return imp
}

func (c *classCriterion) value(acc []float64) []float64 {
	n := c.count(acc)
	out := make([]float64, len(acc))
	for k, v := range acc {
		out[k] = v / n
	}
	return out
}

// mseCriterion keeps [n, sum, sum of squares].
type mseCriterion struct {
	y []float64
}

func (c *mseCriterion) width() int { return 3 }

func (c *mseCriterion) add(acc []float64, i int, sign float64) {
	acc[0] += sign
	acc[1] += sign * c.y[i]
	acc[2] += sign * c.y[i] * c.y[i]
}

func (c *mseCriterion) count(acc []float64) float64 { return acc[0] }

func (c *mseCriterion) impurity(acc []float64) float64 {
	if acc[0] == 0 {
		return 0
	}
	mean := acc[1] / acc[0]
	return math.Max(acc[2]/acc[0]-mean*mean, 0)
}

func (c *mseCriterion) value(acc []float64) []float64 {
	return []float64{acc[1] / acc[0]}
}

// growParams are the stopping rules shared by every tree.
type growParams struct {
	maxDepth        int // <0 は無制限
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 は全特徴量
}

type builder struct {
	cols        [][]float64 // column-major copy of X
	crit        criterion
	params      growParams
	rng         *rand.Rand
	nodes       []Node
	importances []float64
	nTotal      float64
}

func columns(X mat.Matrix) [][]float64 {
	r, c := X.Dims()
	cols := make([][]float64, c)
	for j := range cols {
		cols[j] = make([]float64, r)
		for i := 0; i < r; i++ {
			cols[j][i] = X.At(i, j)
		}
	}
	return cols
}

// build grows a tree over the given sample indices. Indices may repeat
// (bootstrap samples) and then count once per occurrence.
func build(X mat.Matrix, indices []int, crit criterion, params growParams, rng *rand.Rand) ([]Node, []float64) {
	b := &builder{
		cols:   columns(X),
		crit:   crit,
		params: params,
		rng:    rng,
	}
	b.importances = make([]float64, len(b.cols))
	b.nTotal = float64(len(indices))
	b.grow(indices, 0)

	var total float64
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}
	return b.nodes, b.importances
}

func (b *builder) stats(indices []int) []float64 {
	acc := make([]float64, b.crit.width())
	for _, i := range indices {
		b.crit.add(acc, i, 1)
	}
	return acc
}

func (b *builder) grow(indices []int, depth int) int {
	acc := b.stats(indices)
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:  -1,
		Depth:    depth,
		NSamples: len(indices),
		Impurity: b.crit.impurity(acc),
		Value:    b.crit.value(acc),
	})

	n := len(indices)
	if b.nodes[id].Impurity <= 1e-12 ||
		n < b.params.minSamplesSplit ||
		n < 2*b.params.minSamplesLeaf ||
		(b.params.maxDepth >= 0 && depth >= b.params.maxDepth) {
		return id
	}

	feature, threshold, gain, ok := b.bestSplit(indices, acc)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range indices {
		if b.cols[feature][i] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.importances[feature] += gain * float64(n) / b.nTotal

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// featureOrder returns the candidate features for one split.
func (b *builder) featureOrder() []int {
	nFeatures := len(b.cols)
	if b.params.maxFeatures <= 0 || b.params.maxFeatures >= nFeatures {
		order := make([]int, nFeatures)
		for j := range order {
			order[j] = j
		}
		return order
	}
	return b.rng.Perm(nFeatures)[:b.params.maxFeatures]
}

// bestSplit scans every midpoint between distinct sorted values of each
// candidate feature. gain is the impurity decrease per sample of the node.
func (b *builder) bestSplit(indices []int, parent []float64) (feature int, threshold, gain float64, ok bool) {
	n := float64(len(indices))
	parentImp := b.crit.impurity(parent)
	bestGain := math.Inf(-1)
	minLeaf := b.params.minSamplesLeaf

	sorted := make([]int, len(indices))
	left := make([]float64, b.crit.width())
	right := make([]float64, b.crit.width())

	for _, j := range b.featureOrder() {
		col := b.cols[j]
		copy(sorted, indices)
		sort.SliceStable(sorted, func(a, c int) bool { return col[sorted[a]] < col[sorted[c]] })

		for k := range left {
			left[k] = 0
		}
		copy(right, parent)

		for pos := 0; pos < len(sorted)-1; pos++ {
			i := sorted[pos]
			b.crit.add(left, i, 1)
			b.crit.add(right, i, -1)

			nl := pos + 1
			if col[i] == col[sorted[pos+1]] || nl < minLeaf || len(sorted)-nl < minLeaf {
				continue
			}
			wl, wr := b.crit.count(left), b.crit.count(right)
			g := parentImp - (wl*b.crit.impurity(left)+wr*b.crit.impurity(right))/n
			if g > bestGain+1e-12 {
				bestGain = g
				feature = j
				threshold = (col[i] + col[sorted[pos+1]]) / 2
				ok = true
			}
		}
	}
	return feature, threshold, math.Max(bestGain, 0), ok
}

// leafFor walks the tree for one row.
func leafFor(nodes []Node, row func(j int) float64) int {
	id := 0
	for !nodes[id].IsLeaf() {
		if row(nodes[id].Feature) <= nodes[id].Threshold {
			id = nodes[id].Left
		} else {
			id = nodes[id].Right
		}
	}
	return id
}

func depthOf(nodes []Node) int {
	d := 0
	for i := range nodes {
		if nodes[i].Depth > d {
			d = nodes[i].Depth
		}
	}
	return d
}

func leavesOf(nodes []Node) int {
	n := 0
	for i := range nodes {
		if nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}
