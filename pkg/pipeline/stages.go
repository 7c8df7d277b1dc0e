package pipeline

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// projectionSeed keeps projection and sampling deterministic across
// redeliveries of the same job.
const projectionSeed = 42

// Projector reduces an [n, d] matrix to 2-D.
type Projector interface {
	Project(vectors [][]float32, nNeighbors int, minDist float64, metric string, seed int64) ([][2]float64, error)
}

// Clusterer assigns a cluster label per 2-D point, with noise encoded
// as -1.
type Clusterer interface {
	Cluster(coords [][2]float64, minClusterSize, minSamples int) ([]int, error)
}

// PCAProjector is the built-in projection stage: mean-centered projection
// onto the top two principal components found by seeded power iteration.
// The neighbor and distance parameters are accepted for interface
// compatibility; they shape manifold projectors, not a linear one.
type PCAProjector struct{}

func (PCAProjector) Project(vectors [][]float32, nNeighbors int, minDist float64, metric string, seed int64) ([][2]float64, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	d := len(vectors[0])
	for i, v := range vectors {
		if len(v) != d {
			return nil, fmt.Errorf("projection: vector %d has dimension %d, want %d", i, len(v), d)
		}
	}

	if d == 0 {
		return make([][2]float64, n), nil
	}
	if d == 1 {
		out := make([][2]float64, n)
		for i, v := range vectors {
			out[i] = [2]float64{float64(v[0]), 0}
		}
		return out, nil
	}

	// Mean-center.
	mean := make([]float64, d)
	for _, v := range vectors {
		for j, x := range v {
			mean[j] += float64(x)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	centered := make([][]float64, n)
	for i, v := range vectors {
		row := make([]float64, d)
		for j, x := range v {
			row[j] = float64(x) - mean[j]
		}
		centered[i] = row
	}

	rng := rand.New(rand.NewSource(seed))
	first := principalComponent(centered, nil, rng)
	second := principalComponent(centered, first, rng)

	out := make([][2]float64, n)
	for i, row := range centered {
		out[i] = [2]float64{dot(row, first), dot(row, second)}
	}
	return out, nil
}

// principalComponent runs power iteration on the covariance implicitly,
// deflating against an already found component when given.
func principalComponent(rows [][]float64, deflate []float64, rng *rand.Rand) []float64 {
	d := len(rows[0])
	v := make([]float64, d)
	for j := range v {
		v[j] = rng.Float64() - 0.5
	}
	normalize(v)

	next := make([]float64, d)
	for iter := 0; iter < 50; iter++ {
		for j := range next {
			next[j] = 0
		}
		for _, row := range rows {
			p := dot(row, v)
			for j, x := range row {
				next[j] += p * x
			}
		}
		if deflate != nil {
			p := dot(next, deflate)
			for j := range next {
				next[j] -= p * deflate[j]
			}
		}
		if norm(next) == 0 {
			break
		}
		normalize(next)
		copy(v, next)
	}
	return v
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(v []float64) float64 { return math.Sqrt(dot(v, v)) }

func normalize(v []float64) {
	n := norm(v)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}

// DensityClusterer is the built-in clustering stage: grid-accelerated
// DBSCAN with the reach radius estimated from the data, followed by a
// minimum-population filter that demotes small clusters to noise.
type DensityClusterer struct{}

func (DensityClusterer) Cluster(coords [][2]float64, minClusterSize, minSamples int) ([]int, error) {
	n := len(coords)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	if n == 0 {
		return labels, nil
	}
	if minSamples < 1 {
		minSamples = 1
	}

	eps := estimateEps(coords, minSamples)
	if eps == 0 {
		// All points coincide; one cluster if populous enough.
		if n >= minClusterSize {
			for i := range labels {
				labels[i] = 0
			}
		}
		return labels, nil
	}

	grid := newGridIndex(coords, eps)
	visited := make([]bool, n)
	next := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := grid.within(i, eps)
		if len(neighbors) < minSamples {
			continue
		}

		labels[i] = next
		queue := neighbors
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == -1 {
				labels[j] = next
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			jn := grid.within(j, eps)
			if len(jn) >= minSamples {
				queue = append(queue, jn...)
			}
		}
		next++
	}

	return filterSmallClusters(labels, minClusterSize), nil
}

// estimateEps picks the reach radius as twice the median k-th nearest
// neighbor distance over a bounded sample of points.
func estimateEps(coords [][2]float64, k int) float64 {
	n := len(coords)
	sample := n
	if sample > 512 {
		sample = 512
	}
	step := n / sample

	dists := make([]float64, 0, sample)
	for i := 0; i < n; i += step {
		kth := kthNearest(coords, i, k)
		if kth > 0 {
			dists = append(dists, kth)
		}
	}
	if len(dists) == 0 {
		return 0
	}
	sort.Float64s(dists)
	return 2 * dists[len(dists)/2]
}

// kthNearest returns the k-th nearest positive distance from point i.
// Zero distances are skipped so duplicated points do not collapse the
// radius estimate.
func kthNearest(coords [][2]float64, i, k int) float64 {
	var ds []float64
	for j := range coords {
		if j == i {
			continue
		}
		if d := dist2(coords[i], coords[j]); d > 0 {
			ds = append(ds, d)
		}
	}
	if len(ds) == 0 {
		return 0
	}
	sort.Float64s(ds)
	if k > len(ds) {
		k = len(ds)
	}
	return math.Sqrt(ds[k-1])
}

func dist2(a, b [2]float64) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return dx*dx + dy*dy
}

// filterSmallClusters demotes clusters below the population floor to noise
// and relabels survivors to a dense 0..k-1 range.
func filterSmallClusters(labels []int, minClusterSize int) []int {
	counts := make(map[int]int)
	for _, l := range labels {
		if l >= 0 {
			counts[l]++
		}
	}

	kept := make([]int, 0, len(counts))
	for l, c := range counts {
		if c >= minClusterSize {
			kept = append(kept, l)
		}
	}
	sort.Ints(kept)

	remap := make(map[int]int, len(kept))
	for i, l := range kept {
		remap[l] = i
	}

	out := make([]int, len(labels))
	for i, l := range labels {
		if nl, ok := remap[l]; ok {
			out[i] = nl
		} else {
			out[i] = -1
		}
	}
	return out
}

// gridIndex buckets points into eps-sized cells so DBSCAN neighbor scans
// only touch the 3x3 cell neighborhood.
type gridIndex struct {
	coords [][2]float64
	cell   float64
	cells  map[[2]int][]int
}

func newGridIndex(coords [][2]float64, cell float64) *gridIndex {
	g := &gridIndex{coords: coords, cell: cell, cells: make(map[[2]int][]int)}
	for i, p := range coords {
		key := g.key(p)
		g.cells[key] = append(g.cells[key], i)
	}
	return g
}

func (g *gridIndex) key(p [2]float64) [2]int {
	return [2]int{int(math.Floor(p[0] / g.cell)), int(math.Floor(p[1] / g.cell))}
}

func (g *gridIndex) within(i int, eps float64) []int {
	p := g.coords[i]
	key := g.key(p)
	eps2 := eps * eps

	var out []int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for _, j := range g.cells[[2]int{key[0] + dx, key[1] + dy}] {
				if dist2(p, g.coords[j]) <= eps2 {
					out = append(out, j)
				}
			}
		}
	}
	return out
}
