// Package associate merges independently-timestamped data series into a single
// jointly-keyed table. Sensor streams and ground-truth trajectories rarely share
// an exact sampling clock, so series are aligned by a greedy nearest-timestamp
// matching subject to a tolerance.
package associate

import (
	"sort"
)

// Timestamp is a tick on a series' sampling clock. Datasets variously use
// fractional seconds or integer nanoseconds; tolerances are expressed in the
// same unit as the series being matched.
type Timestamp interface {
	~int64 | ~float64
}

// Series maps timestamps to opaque payloads (filenames, poses, sensor
// records). Keys are unique within a series; order is defined by key.
type Series[K Timestamp] map[K]interface{}

// Row is one accepted alignment: a reference timestamp plus the payload each
// series contributed at (or within tolerance of) that timestamp. Values are
// ordered reference first, then the secondary series in the order given.
type Row[K Timestamp] struct {
	Timestamp K
	Values    []interface{}
}

// Match is one accepted pair from a pairwise matching.
type Match[K Timestamp] struct {
	Ref, Other K
}

// MatchTimestamps computes a one-to-one matching between two sets of
// timestamps. Each key is used at most once, matched keys differ by at most
// maxDifference, and the globally smallest differences win conflicts.
//
// This is a greedy consumption of candidate pairs ordered by
// (absolute difference, reference key, other key), not an optimal bipartite
// assignment. The reference behavior of every published benchmark on this
// harness depends on the greedy result, so it is kept deliberately.
func MatchTimestamps[K Timestamp](refKeys, otherKeys []K, maxDifference K) []Match[K] {
	type candidate struct {
		diff       K
		ref, other K
	}
	candidates := make([]candidate, 0, len(refKeys))
	for _, r := range refKeys {
		for _, o := range otherKeys {
			diff := r - o
			if diff < 0 {
				diff = -diff
			}
			if diff <= maxDifference {
				candidates = append(candidates, candidate{diff: diff, ref: r, other: o})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].diff != candidates[j].diff {
			return candidates[i].diff < candidates[j].diff
		}
		if candidates[i].ref != candidates[j].ref {
			return candidates[i].ref < candidates[j].ref
		}
		return candidates[i].other < candidates[j].other
	})

	usedRef := make(map[K]bool, len(refKeys))
	usedOther := make(map[K]bool, len(otherKeys))
	matches := make([]Match[K], 0, len(refKeys))
	for _, c := range candidates {
		if usedRef[c.ref] || usedOther[c.other] {
			continue
		}
		usedRef[c.ref] = true
		usedOther[c.other] = true
		matches = append(matches, Match[K]{Ref: c.ref, Other: c.other})
	}
	return matches
}

// Associate aligns any number of series against a reference series, producing
// one row per reference timestamp that found a partner in every secondary
// series, in ascending timestamp order.
//
// If every series has exactly the same key set the rows are built by direct
// lookup. Otherwise each secondary series is matched independently against
// the reference with MatchTimestamps and the final key set is the
// intersection of the reference keys matched in all of them; an unmatched
// secondary series therefore shrinks, and can empty, the result. Mismatched
// key sets are never an error here. Callers that consider a small
// intersection a data-quality problem must check the row count themselves.
func Associate[K Timestamp](ref Series[K], others []Series[K], maxDifference K) []Row[K] {
	if len(others) == 0 {
		rows := make([]Row[K], 0, len(ref))
		for k, v := range ref {
			rows = append(rows, Row[K]{Timestamp: k, Values: []interface{}{v}})
		}
		sortRows(rows)
		return rows
	}

	if sameKeys(ref, others) {
		rows := make([]Row[K], 0, len(ref))
		for k, v := range ref {
			values := make([]interface{}, 0, len(others)+1)
			values = append(values, v)
			for _, other := range others {
				values = append(values, other[k])
			}
			rows = append(rows, Row[K]{Timestamp: k, Values: values})
		}
		sortRows(rows)
		return rows
	}

	refKeys := keys(ref)
	// Re-key every secondary series onto the reference clock, then take the
	// intersection of reference keys that matched everywhere.
	accepted := make(map[K]int, len(ref))
	rekeyed := make([]map[K]interface{}, len(others))
	for i, other := range others {
		matches := MatchTimestamps(refKeys, keys(other), maxDifference)
		rekeyed[i] = make(map[K]interface{}, len(matches))
		for _, m := range matches {
			rekeyed[i][m.Ref] = other[m.Other]
			accepted[m.Ref]++
		}
	}

	rows := make([]Row[K], 0, len(accepted))
	for k, n := range accepted {
		if n != len(others) {
			continue
		}
		values := make([]interface{}, 0, len(others)+1)
		values = append(values, ref[k])
		for _, series := range rekeyed {
			values = append(values, series[k])
		}
		rows = append(rows, Row[K]{Timestamp: k, Values: values})
	}
	sortRows(rows)
	return rows
}

func sameKeys[K Timestamp](ref Series[K], others []Series[K]) bool {
	for _, other := range others {
		if len(other) != len(ref) {
			return false
		}
		for k := range ref {
			if _, ok := other[k]; !ok {
				return false
			}
		}
	}
	return true
}

func keys[K Timestamp](s Series[K]) []K {
	out := make([]K, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

func sortRows[K Timestamp](rows []Row[K]) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })
}
