package anomaly

import (
	"fmt"
	"math"
	"math/rand"
)

// isoNode is one node of an isolation tree. Leaves record the size of the
// partition that reached them.
type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
	leaf    bool
}

// IsolationForest isolates observations by recursive random partitioning;
// anomalies isolate in fewer splits, giving shorter average path lengths.
type IsolationForest struct {
	trees       int
	subsample   int
	heightLimit int
	refSize     int
	roots       []*isoNode
	rng         *rand.Rand
}

// NewIsolationForest creates an unfitted forest. The seed fixes the random
// partitioning so runs are reproducible.
func NewIsolationForest(trees, subsample int, seed int64) *IsolationForest {
	return &IsolationForest{
		trees:     trees,
		subsample: subsample,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Fit grows the forest over the reference matrix.
func (f *IsolationForest) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("isolation forest: empty fit matrix")
	}

	psi := f.subsample
	if psi > len(x) {
		psi = len(x)
	}
	f.refSize = psi
	f.heightLimit = int(math.Ceil(math.Log2(float64(psi))))
	if f.heightLimit < 1 {
		f.heightLimit = 1
	}

	f.roots = make([]*isoNode, f.trees)
	for t := 0; t < f.trees; t++ {
		sample := f.sample(x, psi)
		f.roots[t] = f.grow(sample, 0)
	}
	return nil
}

// ScoreSamples returns the anomaly score s(x) = 2^(-E[h(x)]/c(psi)) per
// observation. Scores approach 1 for anomalies and 0.5 or below for
// inliers; higher always means more anomalous.
func (f *IsolationForest) ScoreSamples(x [][]float64) []float64 {
	scores := make([]float64, len(x))
	cn := averagePathLength(f.refSize)
	if cn <= 0 {
		// Degenerate single-row fit; keep scores finite.
		cn = 1
	}
	for i, row := range x {
		total := 0.0
		for _, root := range f.roots {
			total += f.pathLength(root, row, 0)
		}
		mean := total / float64(len(f.roots))
		scores[i] = math.Pow(2, -mean/cn)
	}
	return scores
}

// sample draws psi rows without replacement.
func (f *IsolationForest) sample(x [][]float64, psi int) [][]float64 {
	idx := f.rng.Perm(len(x))[:psi]
	out := make([][]float64, psi)
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func (f *IsolationForest) grow(x [][]float64, depth int) *isoNode {
	if depth >= f.heightLimit || len(x) <= 1 {
		return &isoNode{leaf: true, size: len(x)}
	}

	// Pick a split feature with spread; identical partitions terminate.
	width := len(x[0])
	start := f.rng.Intn(width)
	feature := -1
	var lo, hi float64
	for offset := 0; offset < width; offset++ {
		j := (start + offset) % width
		lo, hi = columnRange(x, j)
		if hi > lo {
			feature = j
			break
		}
	}
	if feature < 0 {
		return &isoNode{leaf: true, size: len(x)}
	}

	split := lo + f.rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range x {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{leaf: true, size: len(x)}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    f.grow(left, depth+1),
		right:   f.grow(right, depth+1),
	}
}

func (f *IsolationForest) pathLength(node *isoNode, row []float64, depth int) float64 {
	if node.leaf {
		return float64(depth) + averagePathLength(node.size)
	}
	if row[node.feature] < node.split {
		return f.pathLength(node.left, row, depth+1)
	}
	return f.pathLength(node.right, row, depth+1)
}

func columnRange(x [][]float64, j int) (lo, hi float64) {
	lo, hi = x[0][j], x[0][j]
	for _, row := range x[1:] {
		if row[j] < lo {
			lo = row[j]
		}
		if row[j] > hi {
			hi = row[j]
		}
	}
	return lo, hi
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points, used to normalize tree depths.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}
