package cache

import (
	"sort"

	"github.com/javi11/streamfile/internal/segment"
)

type evictionCandidate struct {
	idx       int
	start     int64
	end       int64
	timestamp uint64
}

// gc implements the eviction algorithm of spec §4.3.2. It is a no-op when
// cacheSize is 0 (unbounded) or the current Filled total is already at or
// under budget.
func (c *Cache) gc() {
	if c.cacheSize <= 0 {
		return
	}

	total := c.filledTotal()
	if total <= c.cacheSize {
		return
	}

	hotStart := c.readOffset
	hotEnd := c.readOffset + c.chunkSize

	var candidates []evictionCandidate
	for _, idx := range c.filledIndices() {
		s := c.list.At(idx)
		if s.End < hotStart || s.Start > hotEnd {
			candidates = append(candidates, evictionCandidate{idx: idx, start: s.Start, end: s.End, timestamp: s.Timestamp})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].timestamp < candidates[j].timestamp
	})

	for _, cand := range candidates {
		if total <= c.cacheSize {
			break
		}
		idx := c.list.Find(cand.start)
		if idx == -1 {
			continue
		}
		s := c.list.At(idx)
		if s.Kind != segment.Filled || s.Start != cand.start || s.End != cand.end {
			// the node moved/merged since we snapshotted it; skip rather
			// than evict the wrong range.
			continue
		}
		if c.spillSink != nil {
			c.spillSink(s.Start, s.End, s.Data)
		}
		if c.evictHook != nil {
			c.evictHook()
		}
		empty := segment.Segment{Start: s.Start, End: s.End, Kind: segment.Empty}
		c.list.Splice(idx, idx, empty)
		total -= s.Length()
	}
}

// filledTotal sums the length of every Filled segment in the list.
func (c *Cache) filledTotal() int64 {
	var total int64
	for _, s := range c.list.Segments() {
		if s.Kind == segment.Filled {
			total += s.Length()
		}
	}
	return total
}

// filledIndices returns the arena indices of every Filled segment, walked
// fresh each call (indices are not stable across a gc pass's own splices,
// so callers must re-Find after each eviction — see gc above).
func (c *Cache) filledIndices() []int {
	var out []int
	for i := c.list.Head(); i != -1; i = c.list.Next(i) {
		if c.list.At(i).Kind == segment.Filled {
			out = append(out, i)
		}
	}
	return out
}
