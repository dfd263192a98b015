// Package cache implements the sparse, seekable byte cache that sits
// between a stream coordinator and a segment.List: read/write cursors,
// sparse writes, range reporting, and bounded-size eviction (spec §3.3,
// §4.3).
package cache

import (
	"errors"
	"fmt"

	"github.com/javi11/streamfile/internal/segment"
)

// Sentinel errors for the cache's public contract (spec §4.3's "Errors"
// column). These are wrapped, not replaced, by the higher-level
// *stream.StreamError kinds in internal/stream.
var (
	ErrOutOfRange = errors.New("cache: offset not covered by segment list")
	ErrNoSpace    = errors.New("cache: write does not fit in empty/eof run at cursor")
)

// Unbounded is passed to BytesReadable/BytesWritable to mean "no cap".
const Unbounded int64 = -1

// Cache is the sparse byte buffer described in spec §3.3. It is not safe
// for concurrent use; callers (the stream coordinator) serialize access.
type Cache struct {
	list *segment.List

	readOffset int64
	readCursor int

	writeOffset int64
	writeCursor int

	cacheSize int64 // 0 = unbounded
	chunkSize int64

	clock uint64

	// spillSink, when set, receives a copy of each Filled segment's bytes
	// just before gc evicts it, per SPEC_FULL.md's supplemented spill
	// cache ("populated as segments are evicted from the in-memory cache
	// instead of being discarded outright").
	spillSink func(start, end int64, data []byte)

	// evictHook, when set, is called once per segment gc evicts, after
	// spillSink. Used by internal/stream to drive the GCEvictions metric
	// without this package importing internal/metrics directly.
	evictHook func()
}

// SetSpillSink installs fn as the eviction callback described above. Pass
// nil to disable (the default).
func (c *Cache) SetSpillSink(fn func(start, end int64, data []byte)) {
	c.spillSink = fn
}

// SetEvictHook installs fn to be called once per segment evicted by gc.
// Pass nil to disable (the default).
func (c *Cache) SetEvictHook(fn func()) {
	c.evictHook = fn
}

// FilledBytes returns the total length of every Filled segment.
func (c *Cache) FilledBytes() int64 { return c.filledTotal() }

// SegmentCount returns the number of live segments in the list, Filled
// or not.
func (c *Cache) SegmentCount() int { return len(c.list.Segments()) }

// New creates a cache with a fresh single-Eof-at-0 segment list.
// cacheSize of 0 means unbounded; chunkSize is the hot-window size used
// by GC (spec §4.3.2).
func New(cacheSize, chunkSize int64) *Cache {
	l := segment.NewList()
	return &Cache{
		list:        l,
		readCursor:  l.Head(),
		writeCursor: l.Head(),
		cacheSize:   cacheSize,
		chunkSize:   chunkSize,
	}
}

// ReadOffset returns the current read cursor position.
func (c *Cache) ReadOffset() int64 { return c.readOffset }

// WriteOffset returns the current write cursor position.
func (c *Cache) WriteOffset() int64 { return c.writeOffset }

// SeekRead moves the read cursor to the segment containing off.
func (c *Cache) SeekRead(off int64) error {
	idx := c.list.Find(off)
	if idx == -1 {
		return fmt.Errorf("%w: %d", ErrOutOfRange, off)
	}
	c.readOffset = off
	c.readCursor = idx
	return nil
}

// SeekWrite moves the write cursor to the segment containing off.
func (c *Cache) SeekWrite(off int64) error {
	idx := c.list.Find(off)
	if idx == -1 {
		return fmt.Errorf("%w: %d", ErrOutOfRange, off)
	}
	c.writeOffset = off
	c.writeCursor = idx
	return nil
}

// BytesReadable returns the number of contiguous Filled bytes starting at
// the read cursor, capped at max (Unbounded for no cap). 0 if the cursor
// sits on Empty/Eof.
func (c *Cache) BytesReadable(max int64) int64 {
	seg := c.list.At(c.readCursor)
	if seg.Kind != segment.Filled {
		return 0
	}
	// Start negative so the bytes of the first segment before readOffset
	// are not counted.
	total := seg.Start - c.readOffset
	idx := c.readCursor
	prevEnd := seg.Start
	for idx != -1 {
		s := c.list.At(idx)
		if s.Kind != segment.Filled || s.Start != prevEnd {
			break
		}
		total += s.Length()
		prevEnd = s.End
		if max >= 0 && total >= max {
			return max
		}
		idx = c.list.Next(idx)
	}
	if max >= 0 && total > max {
		return max
	}
	return total
}

// BytesWritable returns the number of contiguous Empty/Eof bytes available
// from the write cursor, capped at max. Sitting on Eof returns max itself
// (Unbounded if max is Unbounded), since Eof covers to infinity.
func (c *Cache) BytesWritable(max int64) int64 {
	seg := c.list.At(c.writeCursor)
	if seg.Kind == segment.Filled {
		return 0
	}
	if seg.Kind == segment.Eof {
		if max < 0 {
			return Unbounded
		}
		return max
	}
	avail := seg.End - c.writeOffset
	if max >= 0 && avail > max {
		return max
	}
	return avail
}

// ReadBytes copies min(len(dest), BytesReadable) bytes into dest, advances
// the read cursor, and bumps segment timestamps for LRU purposes. Returns
// the number of bytes copied.
func (c *Cache) ReadBytes(dest []byte) int {
	want := int64(len(dest))
	readable := c.BytesReadable(want)
	if readable <= 0 {
		return 0
	}
	c.clock++
	var n int
	remaining := readable
	for remaining > 0 {
		seg := c.list.At(c.readCursor)
		chunkEnd := seg.End
		if c.readOffset+remaining < chunkEnd {
			chunkEnd = c.readOffset + remaining
		}
		sc := seg
		m := sc.ReadBytes(dest[n:], c.readOffset, chunkEnd, c.clock)
		c.list.SetAt(c.readCursor, sc)
		n += m
		c.readOffset += int64(m)
		remaining -= int64(m)
		if c.readOffset >= seg.End {
			nxt := c.list.Next(c.readCursor)
			if nxt == -1 {
				break
			}
			c.readCursor = nxt
		}
	}
	return n
}

// Write installs b as a Filled segment starting at the write cursor,
// splitting the surrounding Empty/Eof run as needed, per the algorithm in
// spec §4.3.1. It then runs GC.
func (c *Cache) Write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	n := int64(len(b))
	cur := c.list.At(c.writeCursor)
	if cur.Kind == segment.Filled {
		return fmt.Errorf("%w: write cursor at %d sits on a filled segment", ErrNoSpace, c.writeOffset)
	}

	idx := c.writeCursor
	if cur.Start < c.writeOffset {
		_, rightIdx, err := c.list.Split(idx, c.writeOffset)
		if err != nil {
			return err
		}
		idx = rightIdx
		cur = c.list.At(idx)
	}

	end := c.writeOffset + n
	filled := segment.Segment{Start: c.writeOffset, End: end, Kind: segment.Filled, Data: append([]byte(nil), b...)}

	if cur.Kind == segment.Eof {
		// The Eof segment covers [cur.Start, +inf); installing a Filled
		// span here consumes its head, so a fresh open-ended terminator
		// must be appended right after (I2).
		newIdx := c.list.Splice(idx, idx, filled)
		c.list.AppendEof(end)
		c.writeOffset = end
		c.writeCursor = newIdx
	} else {
		if end > cur.End {
			return fmt.Errorf("%w: %d bytes at %d exceeds empty run ending at %d", ErrNoSpace, n, c.writeOffset, cur.End)
		}
		if end < cur.End {
			leftIdx, _, err := c.list.Split(idx, end)
			if err != nil {
				return err
			}
			idx = leftIdx
		}
		newIdx := c.list.Splice(idx, idx, filled)
		c.writeOffset = end
		if nxt := c.list.Next(newIdx); nxt != -1 {
			c.writeCursor = nxt
		} else {
			c.writeCursor = newIdx
		}
	}

	c.relocateCursors()
	c.gc()
	c.relocateCursors()
	return nil
}

// SetEof truncates the list at off and installs a terminal Eof there,
// relocating cursors afterward. Used when a backend's `done` event
// reveals the true content length (spec §4.5.3 step on `done`).
func (c *Cache) SetEof(off int64) error {
	if err := c.list.SetEof(off); err != nil {
		return err
	}
	c.relocateCursors()
	return nil
}

// Ranges returns the maximal runs of Filled bytes, per spec §4.3.3.
func (c *Cache) Ranges() [][2]int64 {
	var out [][2]int64
	segs := c.list.Segments()
	var runStart int64
	inRun := false
	for _, s := range segs {
		if s.Kind == segment.Filled {
			if !inRun {
				runStart = s.Start
				inRun = true
			}
		} else {
			if inRun {
				out = append(out, [2]int64{runStart, s.Start})
				inRun = false
			}
		}
	}
	return out
}

// relocateCursors re-finds the read/write cursor nodes by offset; needed
// after any splice invalidates node indices (spec §4.2).
func (c *Cache) relocateCursors() {
	if idx := c.list.Find(c.readOffset); idx != -1 {
		c.readCursor = idx
	}
	if idx := c.list.Find(c.writeOffset); idx != -1 {
		c.writeCursor = idx
	}
}

// List exposes the underlying segment list for validation in tests.
func (c *Cache) List() *segment.List { return c.list }
