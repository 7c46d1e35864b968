package store

import (
	"sort"
	"strings"

	"github.com/latticehq/lattice/backend/pkg/common"
)

// ChunkRange invokes fn over [start,end) slices of size at most chunk.
func ChunkRange(total, chunk int, fn func(start, end int) error) error {
	if chunk <= 0 {
		chunk = total
	}
	for start := 0; start < total; start += chunk {
		end := start + chunk
		if end > total {
			end = total
		}
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings returns the unique values of in, preserving first-seen order.
func DedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// InsightSignature produces the dedupe key for an insight: its type plus the
// sorted set of involved node IDs. Re-running discovery over unchanged
// evidence yields identical signatures.
func InsightSignature(ins common.Insight) string {
	ids := make([]string, len(ins.NodeIDs))
	copy(ids, ins.NodeIDs)
	sort.Strings(ids)
	return ins.InsightType + "|" + strings.Join(ids, ",")
}
