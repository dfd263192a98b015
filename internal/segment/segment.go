// Package segment implements the half-open byte-interval primitive and the
// arena-backed ordered list of segments that together model a sparse,
// seekable byte buffer (see spec §3.1-§3.2, §4.1-§4.2).
package segment

import "fmt"

// Kind tags what a Segment currently holds.
type Kind int

const (
	// Empty is a hole: no bytes have been written for this range yet.
	Empty Kind = iota
	// Filled holds real bytes.
	Filled
	// Eof is the trailing terminator; it logically covers [Start, +inf).
	Eof
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Filled:
		return "filled"
	case Eof:
		return "eof"
	default:
		return "unknown"
	}
}

// Segment is a half-open byte interval [Start, End) tagged with a Kind.
// For Eof, End always equals Start; the segment still logically covers
// every offset >= Start (I5).
type Segment struct {
	Start int64
	End   int64
	Kind  Kind
	Data  []byte // only meaningful when Kind == Filled

	// Timestamp is a monotonic counter bumped on every successful read of
	// a Filled segment; the GC evicts the lowest-timestamped candidates
	// first (spec §4.3.2).
	Timestamp uint64
}

// Length returns End-Start. For Eof this is always 0.
func (s Segment) Length() int64 {
	return s.End - s.Start
}

// Contains reports whether off lies within the segment. For Eof, every
// offset >= Start is contained (I5).
func (s Segment) Contains(off int64) bool {
	if s.Kind == Eof {
		return off >= s.Start
	}
	return off >= s.Start && off < s.End
}

// Validate checks the per-segment invariants from spec §3.1.
func (s Segment) Validate() error {
	if s.End < s.Start {
		return fmt.Errorf("segment: end %d before start %d", s.End, s.Start)
	}
	switch s.Kind {
	case Filled:
		if s.Length() == 0 {
			return fmt.Errorf("segment: filled segment at %d has zero length", s.Start)
		}
		if int64(len(s.Data)) != s.Length() {
			return fmt.Errorf("segment: filled segment at %d has %d bytes, want %d", s.Start, len(s.Data), s.Length())
		}
	case Eof:
		if s.End != s.Start {
			return fmt.Errorf("segment: eof segment has end %d != start %d", s.End, s.Start)
		}
	}
	return nil
}

// Split divides an Empty or Eof segment at off into a left and right half.
// The right half keeps the original Kind (so splitting an Eof yields an
// Eof on the right and an Empty on the left). Split is invalid on Filled
// segments — callers must never call it there (enforced by the cache, not
// here, per spec §4.1).
func (s Segment) Split(off int64) (left, right Segment, err error) {
	if s.Kind == Filled {
		return Segment{}, Segment{}, fmt.Errorf("segment: cannot split a filled segment at %d", off)
	}
	if !s.Contains(off) {
		return Segment{}, Segment{}, fmt.Errorf("segment: split offset %d outside [%d,%d)", off, s.Start, s.End)
	}
	if off == s.Start {
		return Segment{Start: s.Start, End: s.Start, Kind: Empty}, s, nil
	}
	left = Segment{Start: s.Start, End: off, Kind: Empty}
	if s.Kind == Eof {
		right = Segment{Start: off, End: off, Kind: Eof}
	} else {
		right = Segment{Start: off, End: s.End, Kind: Empty}
	}
	return left, right, nil
}

// ReadBytes copies [absStart, absEnd) of a Filled segment into dest and
// bumps the timestamp. Undefined (panics) on non-Filled segments — callers
// must check Kind first, per spec §4.1.
func (s *Segment) ReadBytes(dest []byte, absStart, absEnd int64, clock uint64) int {
	if s.Kind != Filled {
		panic("segment: ReadBytes on non-filled segment")
	}
	n := copy(dest, s.Data[absStart-s.Start:absEnd-s.Start])
	s.Timestamp = clock
	return n
}
