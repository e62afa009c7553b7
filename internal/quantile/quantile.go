package quantile

import (
	"math"
	"sort"
)

// Quantile is a collection of possibly weighted data points.
type Quantile struct {
	Xs []float64

	// Weights[i] is the weight of Xs[i], 1 for every sample when nil.
	// Weights are non-negative.
	Weights []float64

	// Sorted indicates that Xs is sorted in ascending order.
	Sorted bool
}

// Add appends values with a weight of w.
func (q *Quantile) Add(w float64, xs ...float64) {
	if q.Weights == nil && w != 1 {
		q.Weights = make([]float64, len(q.Xs), len(q.Xs)+len(xs))
		for i := range q.Weights {
			q.Weights[i] = 1
		}
	}
	for _, x := range xs {
		q.Xs = append(q.Xs, x)
		if q.Weights != nil {
			q.Weights = append(q.Weights, w)
		}
	}
	q.Sorted = false
}

// Weight returns the total weight of the samples.
func (q Quantile) Weight() float64 {
	if q.Weights == nil {
		return float64(len(q.Xs))
	}
	sum := 0.0
	for _, w := range q.Weights {
		sum += w
	}
	return sum
}

// Mean returns the weighted arithmetic mean, 0 without samples.
func (q Quantile) Mean() float64 {
	m, wsum := 0.0, 0.0
	for i, x := range q.Xs {
		w := 1.0
		if q.Weights != nil {
			w = q.Weights[i]
		}
		if w == 0 {
			continue
		}
		wsum += w
		m += (x - m) * w / wsum
	}
	return m
}

// Bounds returns the smallest and largest samples with a non-zero weight.
func (q Quantile) Bounds() (min float64, max float64) {
	first := true
	for i, x := range q.Xs {
		if q.Weights != nil && q.Weights[i] == 0 {
			continue
		}
		if first || x < min {
			min = x
		}
		if first || x > max {
			max = x
		}
		first = false
	}
	return min, max
}

type sampleSorter struct {
	xs []float64
	ws []float64
}

func (p *sampleSorter) Len() int {
	return len(p.xs)
}

func (p *sampleSorter) Less(i, j int) bool {
	return p.xs[i] < p.xs[j]
}

func (p *sampleSorter) Swap(i, j int) {
	p.xs[i], p.xs[j] = p.xs[j], p.xs[i]
	p.ws[i], p.ws[j] = p.ws[j], p.ws[i]
}

// Sort sorts the samples in place, keeping weights paired with their value.
func (q *Quantile) Sort() *Quantile {
	if q.Sorted || sort.Float64sAreSorted(q.Xs) {
		q.Sorted = true
		return q
	}
	if q.Weights == nil {
		sort.Float64s(q.Xs)
	} else {
		sort.Sort(&sampleSorter{q.Xs, q.Weights})
	}
	q.Sorted = true
	return q
}

// Copy returns a deep copy of q.
func (q Quantile) Copy() *Quantile {
	c := &Quantile{Sorted: q.Sorted}
	if q.Xs != nil {
		c.Xs = append([]float64(nil), q.Xs...)
	}
	if q.Weights != nil {
		c.Weights = append([]float64(nil), q.Weights...)
	}
	return c
}

// Percentile returns the pctileth value, pctile being capped to [0, 1].
// Unweighted samples use interpolation method R8 from Hyndman and Fan
// (1996). Weighted samples return the first value whose cumulative weight
// reaches pctile of the total. Without samples it returns 0.
func (q Quantile) Percentile(pctile float64) float64 {
	if len(q.Xs) == 0 || q.Weight() == 0 {
		return 0
	} else if pctile <= 0 {
		min, _ := q.Bounds()
		return min
	} else if pctile >= 1 {
		_, max := q.Bounds()
		return max
	}

	if !q.Sorted {
		q = *q.Copy().Sort()
	}

	if q.Weights == nil {
		N := float64(len(q.Xs))
		n := 1/3.0 + pctile*(N+1/3.0) // R8
		kf, frac := math.Modf(n)
		k := int(kf)
		if k <= 0 {
			return q.Xs[0]
		} else if k >= len(q.Xs) {
			return q.Xs[len(q.Xs)-1]
		}
		return q.Xs[k-1] + frac*(q.Xs[k]-q.Xs[k-1])
	}

	target := pctile * q.Weight()
	cumulative := 0.0
	for i, w := range q.Weights {
		cumulative += w
		if w > 0 && cumulative >= target {
			return q.Xs[i]
		}
	}
	_, max := q.Bounds()
	return max
}
