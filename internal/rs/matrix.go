package rs

import (
	"math"
	"sort"
)

// Matrix is a dates-by-entities grid of float values. Rows are
// ascending dates, columns are sorted entity names, and missing cells
// hold NaN.
type Matrix struct {
	Dates  []string
	Names  []string
	Values [][]float64
}

// cell identifies one value during matrix construction.
type cell struct {
	date, name string
	value      float64
}

func newMatrix(cells []cell) *Matrix {
	if len(cells) == 0 {
		return &Matrix{}
	}

	dateSet := make(map[string]struct{})
	nameSet := make(map[string]struct{})
	for _, c := range cells {
		dateSet[c.date] = struct{}{}
		nameSet[c.name] = struct{}{}
	}

	m := &Matrix{
		Dates: sortedKeys(dateSet),
		Names: sortedKeys(nameSet),
	}

	dateIdx := indexOf(m.Dates)
	nameIdx := indexOf(m.Names)

	m.Values = make([][]float64, len(m.Dates))
	for i := range m.Values {
		row := make([]float64, len(m.Names))
		for j := range row {
			row[j] = math.NaN()
		}
		m.Values[i] = row
	}

	for _, c := range cells {
		m.Values[dateIdx[c.date]][nameIdx[c.name]] = c.value
	}

	return m
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexOf(keys []string) map[string]int {
	idx := make(map[string]int, len(keys))
	for i, k := range keys {
		idx[k] = i
	}
	return idx
}

// Empty reports whether the matrix holds no data.
func (m *Matrix) Empty() bool {
	return len(m.Dates) == 0 || len(m.Names) == 0
}

// Window returns the values for dates at or before cutoff, keeping at
// most the trailing lookback rows. The returned slice shares storage
// with the matrix.
func (m *Matrix) Window(cutoff string, lookback int) [][]float64 {
	end := sort.SearchStrings(m.Dates, cutoff)
	if end < len(m.Dates) && m.Dates[end] == cutoff {
		end++
	}

	start := 0
	if end-start > lookback {
		start = end - lookback
	}
	return m.Values[start:end]
}

// DropColumn removes a named column, returning its values by date.
// Returns nil when the column does not exist.
func (m *Matrix) DropColumn(name string) *Series {
	idx := -1
	for j, n := range m.Names {
		if n == name {
			idx = j
			break
		}
	}
	if idx < 0 {
		return nil
	}

	s := &Series{Dates: m.Dates}
	s.Values = make([]float64, len(m.Values))
	for i, row := range m.Values {
		s.Values[i] = row[idx]
		m.Values[i] = append(row[:idx:idx], row[idx+1:]...)
	}
	m.Names = append(m.Names[:idx:idx], m.Names[idx+1:]...)

	// Dropping the only column leaves an empty matrix with dangling
	// date rows; rows with no observed values are fine to keep since
	// Empty() keys off Names.
	return s
}

// Series is a single dated value sequence with NaN for missing points.
type Series struct {
	Dates  []string
	Values []float64
}

// Empty reports whether the series holds no non-NaN data.
func (s *Series) Empty() bool {
	if s == nil {
		return true
	}
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Window returns values for dates at or before cutoff, keeping at
// most the trailing lookback points.
func (s *Series) Window(cutoff string, lookback int) []float64 {
	end := sort.SearchStrings(s.Dates, cutoff)
	if end < len(s.Dates) && s.Dates[end] == cutoff {
		end++
	}

	start := 0
	if end-start > lookback {
		start = end - lookback
	}
	return s.Values[start:end]
}
