package transcript

import (
	"slices"
	"strings"
)

// Reassemble merges shard records with the in-memory tail, orders them by
// chunk start and drops records whose text was already seen. Concatenating
// shards then tail is not enough once trimming has happened, because the tail
// may repeat records already on disk.
func Reassemble(shards, tail []Record) []Record {
	all := make([]Record, 0, len(shards)+len(tail))
	all = append(all, shards...)
	all = append(all, tail...)
	slices.SortStableFunc(all, func(a, b Record) int { return a.ChunkStart.Compare(b.ChunkStart) })

	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, r := range all {
		key := strings.TrimSpace(r.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// ReassembleAnalyses is Reassemble for analyses, keyed by chunk and production time.
func ReassembleAnalyses(shards, tail []Analysis) []Analysis {
	all := make([]Analysis, 0, len(shards)+len(tail))
	all = append(all, shards...)
	all = append(all, tail...)
	slices.SortStableFunc(all, func(a, b Analysis) int {
		if c := a.ChunkStart.Compare(b.ChunkStart); c != 0 {
			return c
		}
		return a.ProducedAt.Compare(b.ProducedAt)
	})

	type key struct{ chunk, produced int64 }
	seen := make(map[key]bool, len(all))
	out := all[:0]
	for _, a := range all {
		k := key{a.ChunkStart.UnixNano(), a.ProducedAt.UnixNano()}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}
