package stream

// Phase is the mutually-exclusive active phase of a Stream, per spec
// §4.5.1. At most one of Loading/Seeking/Buffering holds at a time; Idle
// means none do. Loaded/Seekable are separate persistent flags, not part
// of Phase, since they can coexist with any phase once set.
type Phase int

const (
	Idle Phase = iota
	Loading
	Seeking
	Buffering
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Seeking:
		return "seeking"
	case Buffering:
		return "buffering"
	default:
		return "unknown"
	}
}
