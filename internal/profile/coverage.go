package profile

import (
	"fmt"
	"math"
)

// Coverage is the per-category progress triple exposed to callers.
type Coverage struct {
	Count       int  `json:"count"`
	MinRequired int  `json:"min_required"`
	Covered     bool `json:"covered"`
}

// CoverageMap tracks answers per category. Its key set is fixed when the
// profile is created.
type CoverageMap map[Category]Coverage

// NewCoverageMap builds a map over every category with the given minimum.
func NewCoverageMap(minPerCategory int) CoverageMap {
	m := make(CoverageMap, len(Categories))
	for _, c := range Categories {
		m[c] = Coverage{MinRequired: minPerCategory, Covered: minPerCategory <= 0}
	}
	return m
}

// Record counts one answer in category c.
func (m CoverageMap) Record(c Category) error {
	cov, ok := m[c]
	if !ok {
		return fmt.Errorf("record coverage: %w: %q", ErrInvalidCategory, c)
	}
	cov.Count++
	cov.Covered = cov.Count >= cov.MinRequired
	m[c] = cov
	return nil
}

// CoveredCount returns how many categories have met their minimum.
func (m CoverageMap) CoveredCount() int {
	n := 0
	for _, cov := range m {
		if cov.Covered {
			n++
		}
	}
	return n
}

// Uncovered lists categories still below their minimum, in canonical order.
func (m CoverageMap) Uncovered() []Category {
	var out []Category
	for _, c := range m.Keys() {
		if !m[c].Covered {
			out = append(out, c)
		}
	}
	return out
}

// AllCovered reports whether every category met its minimum.
func (m CoverageMap) AllCovered() bool {
	for _, cov := range m {
		if !cov.Covered {
			return false
		}
	}
	return true
}

// Keys returns the map's categories in canonical order.
func (m CoverageMap) Keys() []Category {
	keys := make([]Category, 0, len(m))
	for _, c := range Categories {
		if _, ok := m[c]; ok {
			keys = append(keys, c)
		}
	}
	return keys
}

// Lowest returns the category with the smallest count. Ties resolve to the
// earliest category in canonical order.
func (m CoverageMap) Lowest() (Category, bool) {
	var best Category
	found := false
	for _, c := range m.Keys() {
		if !found || m[c].Count < m[best].Count {
			best = c
			found = true
		}
	}
	return best, found
}

// Clone returns an independent copy.
func (m CoverageMap) Clone() CoverageMap {
	out := make(CoverageMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Completion blends answer volume (60%) with category breadth (40%) into a
// 0-100 percentage.
func Completion(answered, minInteractions int, m CoverageMap) int {
	volume := 1.0
	if minInteractions > 0 {
		volume = math.Min(float64(answered)/float64(minInteractions), 1)
	}
	breadth := 1.0
	if len(m) > 0 {
		breadth = float64(m.CoveredCount()) / float64(len(m))
	}
	return int(math.Round(100 * (0.6*volume + 0.4*breadth)))
}

// Ready reports whether both activation thresholds are met.
func Ready(answered, minInteractions int, m CoverageMap) bool {
	return answered >= minInteractions && m.AllCovered()
}
