package model

import (
	"math"

	"github.com/emirpasic/gods/v2/maps/treemap"
)

// Ranked is one entry of a top-k result.
type Ranked struct {
	Index int
	Value float32
}

type rankKey struct {
	value float32
	index int
}

// byValueDesc orders keys by value descending, then index ascending, so equal
// values keep their original order and never collapse into one entry.
func byValueDesc(a, b rankKey) int {
	switch {
	case a.value > b.value:
		return -1
	case a.value < b.value:
		return 1
	case a.index < b.index:
		return -1
	case a.index > b.index:
		return 1
	}
	return 0
}

// TopK returns the k largest values with their indices, largest first. Equal
// values are all kept and ordered by ascending index. NaN values are skipped.
// Fewer than k entries are returned when values is shorter.
func TopK(values []float32, k int) []Ranked {
	if k <= 0 || len(values) == 0 {
		return nil
	}
	m := treemap.NewWith[rankKey, struct{}](byValueDesc)
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			continue
		}
		m.Put(rankKey{value: v, index: i}, struct{}{})
		if m.Size() > k {
			worst, _, _ := m.Max()
			m.Remove(worst)
		}
	}
	out := make([]Ranked, 0, m.Size())
	for _, key := range m.Keys() {
		out = append(out, Ranked{Index: key.index, Value: key.value})
	}
	return out
}
