package rs

import "math"

// Quarter layout over a lookback window, indexed from the window end:
// Q1 covers the most recent 63 rows, Q2 the 63 before that, and so on.
const (
	quarterLen  = 63
	numQuarters = 4

	// minQuarterObs is the fewest rows a quarter segment may span and
	// still produce a return; shorter segments yield zero.
	minQuarterObs = 20
)

func quarterBounds(nDays int) [numQuarters][2]int {
	clip := func(v int) int {
		if v < 0 {
			return 0
		}
		return v
	}
	return [numQuarters][2]int{
		{clip(nDays - quarterLen), nDays},
		{clip(nDays - 2*quarterLen), clip(nDays - quarterLen)},
		{clip(nDays - 3*quarterLen), clip(nDays - 2*quarterLen)},
		{clip(nDays - 4*quarterLen), clip(nDays - 3*quarterLen)},
	}
}

// quarterlyFromPrices computes four quarterly returns per column from
// a window of price levels. A quarter's return is last/first - 1; a
// non-positive or missing endpoint yields zero for that column.
func quarterlyFromPrices(window [][]float64, nCols int) [numQuarters][]float64 {
	var out [numQuarters][]float64
	for q := range out {
		out[q] = make([]float64, nCols)
	}

	nDays := len(window)
	if nDays < minQuarterObs {
		return out
	}

	for q, b := range quarterBounds(nDays) {
		start, end := b[0], b[1]
		if end <= start || end-start < minQuarterObs {
			continue
		}

		first := window[start]
		last := window[end-1]
		for j := 0; j < nCols; j++ {
			if first[j] > 0 && !math.IsNaN(first[j]) && !math.IsNaN(last[j]) {
				out[q][j] = last[j]/first[j] - 1
			}
		}
	}

	return out
}

// quarterlyFromReturns computes four quarterly returns per column from
// a window of daily returns by cumulative compounding. Missing daily
// returns compound as zero.
func quarterlyFromReturns(window [][]float64, nCols int) [numQuarters][]float64 {
	var out [numQuarters][]float64
	for q := range out {
		out[q] = make([]float64, nCols)
	}

	nDays := len(window)
	if nDays < minQuarterObs {
		return out
	}

	for q, b := range quarterBounds(nDays) {
		start, end := b[0], b[1]
		if end <= start || end-start < minQuarterObs {
			continue
		}

		for j := 0; j < nCols; j++ {
			cum := 1.0
			for i := start; i < end; i++ {
				r := window[i][j]
				if math.IsNaN(r) {
					continue
				}
				cum *= 1 + r
			}
			out[q][j] = cum - 1
		}
	}

	return out
}

// weightedReturns collapses quarterly returns to one weighted return
// per column.
func weightedReturns(quarters [numQuarters][]float64, weights [4]float64, nCols int) []float64 {
	out := make([]float64, nCols)
	for j := 0; j < nCols; j++ {
		var sum float64
		for q := 0; q < numQuarters; q++ {
			sum += weights[q] * quarters[q][j]
		}
		out[j] = sum
	}
	return out
}

// benchmarkWeighted computes the scalar weighted return of the
// benchmark from its daily-return window.
func benchmarkWeighted(window []float64, weights [4]float64) float64 {
	cols := make([][]float64, len(window))
	for i, v := range window {
		cols[i] = []float64{v}
	}
	quarters := quarterlyFromReturns(cols, 1)
	var sum float64
	for q := 0; q < numQuarters; q++ {
		sum += weights[q] * quarters[q][0]
	}
	return sum
}

// rsScore rebases an entity's weighted return against the benchmark's,
// with 100 meaning parity. A benchmark collapse of -100% or worse
// pins the score at exactly 100.
func rsScore(entityWeighted, benchWeighted float64) float64 {
	if benchWeighted <= -1 {
		return 100.0
	}
	return (1 + entityWeighted) / (1 + benchWeighted) * 100
}

// validScore reports whether a raw score may be stored.
func validScore(score float64) bool {
	return !math.IsNaN(score) && score >= 10 && score <= 500
}

// percentiles ranks scores into 0-100 percentile buckets using
// average ranks for ties, truncated to integers.
func percentiles(scores []float64) []int {
	n := len(scores)
	if n == 0 {
		return nil
	}

	out := make([]int, n)
	for i, s := range scores {
		below := 0
		equal := 0
		for _, other := range scores {
			if other < s {
				below++
			} else if other == s {
				equal++
			}
		}
		// Average rank of the tie group, as a fraction of the total.
		avgRank := float64(below) + float64(equal+1)/2
		out[i] = int(avgRank / float64(n) * 100)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
