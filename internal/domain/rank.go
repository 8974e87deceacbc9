package domain

import (
	"cmp"
	"slices"
)

// Rank returns a copy of records ordered by descending case count.
// The sort is stable and records without a case count compare as zero.
func Rank(records []RawRecord) []RawRecord {
	return rankBy(records, func(r RawRecord) int64 { return valueOrZero(r.Cases) })
}

// RankRegions is Rank for normalized summaries.
func RankRegions(regions []RegionSummary) []RegionSummary {
	return rankBy(regions, func(r RegionSummary) int64 { return valueOrZero(r.Metrics.Cases) })
}

func rankBy[T any](xs []T, cases func(T) int64) []T {
	out := slices.Clone(xs)
	if out == nil {
		out = []T{}
	}
	slices.SortStableFunc(out, func(a, b T) int {
		return cmp.Compare(cases(b), cases(a))
	})
	return out
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
