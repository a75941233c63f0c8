package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Fingerprint returns a structural hash of the strategy: factor names and
// coarse parameter buckets, independent of factor and strategy ids. Two
// strategies with equal fingerprints are structurally identical for the
// purposes of crossover (merging them is wasted work) and diversity
// bookkeeping.
func (s *Strategy) Fingerprint() string {
	parts := make([]string, 0, len(s.factors))
	for _, f := range s.factors {
		var sb strings.Builder
		sb.WriteString(f.Name())
		for _, name := range f.ParamNames() {
			v, _ := f.Param(name)
			// Bucket params so near-identical variants collapse together.
			sb.WriteString(fmt.Sprintf("|%s=%.2f", name, v))
		}
		parts = append(parts, sb.String())
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:8])
}

// Distance returns a dissimilarity score in [0, 1] combining structural
// distance (Jaccard over factor names) with parameter distance for shared
// factor types. Used by the population diversity metric and for novelty.
func (s *Strategy) Distance(other *Strategy) float64 {
	if other == nil {
		return 1
	}
	structural := jaccardDistance(s.nameCounts(), other.nameCounts())
	parametric := s.paramDistance(other)
	return 0.7*structural + 0.3*parametric
}

func (s *Strategy) nameCounts() map[string]int {
	counts := make(map[string]int, len(s.factors))
	for _, f := range s.factors {
		counts[f.Name()]++
	}
	return counts
}

func jaccardDistance(a, b map[string]int) float64 {
	intersection, union := 0, 0
	seen := map[string]bool{}
	for name, ca := range a {
		cb := b[name]
		intersection += minInt(ca, cb)
		union += maxInt(ca, cb)
		seen[name] = true
	}
	for name, cb := range b {
		if !seen[name] {
			union += cb
		}
	}
	if union == 0 {
		return 0
	}
	return 1 - float64(intersection)/float64(union)
}

// paramDistance averages normalized parameter differences across factor
// types present in both strategies. Factors exclusive to one side carry no
// parameter signal; the structural term already accounts for them.
func (s *Strategy) paramDistance(other *Strategy) float64 {
	mine := s.paramsByName()
	theirs := other.paramsByName()

	total, count := 0.0, 0
	for name, myParams := range mine {
		otherParams, ok := theirs[name]
		if !ok {
			continue
		}
		for pname, v := range myParams {
			ov, ok := otherParams[pname]
			if !ok {
				continue
			}
			scale := math.Max(math.Abs(v), math.Abs(ov))
			if scale == 0 {
				count++
				continue
			}
			total += math.Abs(v-ov) / scale
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// paramsByName collapses per-factor params onto factor type names, keeping
// the first instance of each type (sufficient for a distance heuristic).
func (s *Strategy) paramsByName() map[string]map[string]float64 {
	byName := make(map[string]map[string]float64, len(s.factors))
	for _, f := range s.factors {
		if _, ok := byName[f.Name()]; !ok {
			byName[f.Name()] = f.Params()
		}
	}
	return byName
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
