package anomaly

import (
	"fmt"
	"math"
	"sort"
)

// lofEpsilon keeps local reachability densities finite when a query sits
// exactly on a dense cluster of duplicate fit points.
const lofEpsilon = 1e-10

// LocalOutlierFactor scores observations by comparing their local density
// to that of their nearest neighbors in the fit set. Scores near 1 mean
// density comparable to neighbors; substantially above 1 means sparser
// than neighbors, so higher means more anomalous.
type LocalOutlierFactor struct {
	k    int
	ref  [][]float64
	kth  []float64 // k-distance per fit point
	lrd  []float64 // local reachability density per fit point
}

// NewLocalOutlierFactor creates an unfitted model with k neighbors.
func NewLocalOutlierFactor(k int) *LocalOutlierFactor {
	return &LocalOutlierFactor{k: k}
}

// Fit stores the reference set and precomputes each reference point's
// k-distance and local reachability density.
func (l *LocalOutlierFactor) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("local outlier factor: empty fit matrix")
	}

	k := l.k
	if k >= len(x) {
		k = len(x) - 1
	}
	if k < 1 {
		k = 1
	}
	l.k = k
	l.ref = x

	// Neighbor search is brute force; batches here are bounded by the
	// ingestion chunk size, which keeps this tractable.
	neighbors := make([][]int, len(x))
	l.kth = make([]float64, len(x))
	for i := range x {
		nn := l.nearest(x[i], i)
		neighbors[i] = nn
		l.kth[i] = euclidean(x[i], x[nn[len(nn)-1]])
	}

	l.lrd = make([]float64, len(x))
	for i := range x {
		l.lrd[i] = l.reachabilityDensity(x[i], neighbors[i])
	}
	return nil
}

// ScoreSamples returns the outlier factor of each observation relative to
// the fit set.
func (l *LocalOutlierFactor) ScoreSamples(x [][]float64) []float64 {
	scores := make([]float64, len(x))
	for i, row := range x {
		nn := l.nearest(row, -1)
		lrd := l.reachabilityDensity(row, nn)

		sum := 0.0
		for _, j := range nn {
			sum += l.lrd[j]
		}
		scores[i] = sum / float64(len(nn)) / lrd
	}
	return scores
}

// nearest returns the indices of the k nearest fit points, excluding the
// fit point itself when skip is non-negative.
func (l *LocalOutlierFactor) nearest(row []float64, skip int) []int {
	type candidate struct {
		idx  int
		dist float64
	}
	cands := make([]candidate, 0, len(l.ref))
	for j := range l.ref {
		if j == skip {
			continue
		}
		cands = append(cands, candidate{j, euclidean(row, l.ref[j])})
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return cands[a].idx < cands[b].idx
	})

	k := l.k
	if k > len(cands) {
		k = len(cands)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = cands[i].idx
	}
	return out
}

// reachabilityDensity is the inverse mean reachability distance from a
// point to its neighbor set.
func (l *LocalOutlierFactor) reachabilityDensity(row []float64, neighbors []int) float64 {
	sum := 0.0
	for _, j := range neighbors {
		reach := euclidean(row, l.ref[j])
		if l.kth[j] > reach {
			reach = l.kth[j]
		}
		sum += reach
	}
	mean := sum / float64(len(neighbors))
	return 1 / (mean + lofEpsilon)
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
