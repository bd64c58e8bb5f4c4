package storage

// Range selects a byte span of an entry body. When Suffix is positive the
// last Suffix bytes are selected and Offset and Length are ignored.
// Otherwise the span starts at Offset and covers Length bytes, or runs to the
// end of the body when Length is negative.
type Range struct {
	Offset int64
	Length int64
	Suffix int64
}

// OffsetRange selects length bytes starting at offset.
func OffsetRange(offset int64, length int64) *Range {
	return &Range{Offset: offset, Length: length}
}

// OpenRange selects everything from offset to the end of the body.
func OpenRange(offset int64) *Range {
	return &Range{Offset: offset, Length: -1}
}

// SuffixRange selects the last n bytes of the body.
func SuffixRange(n int64) *Range {
	return &Range{Suffix: n}
}

// Span returns the half-open byte interval [start, end) that r selects from
// a body of the given size, clamped to the body.
func (r *Range) Span(size int64) (start int64, end int64) {
	if r == nil {
		return 0, size
	}

	if r.Suffix > 0 {
		return max(size-r.Suffix, 0), size
	}

	start = min(max(r.Offset, 0), size)
	if r.Length < 0 {
		return start, size
	}

	return start, min(start+r.Length, size)
}

// Satisfiable reports whether r selects at least one byte of a non-empty body.
func (r *Range) Satisfiable(size int64) bool {
	if r == nil || size == 0 || r.Suffix > 0 {
		return true
	}

	return r.Offset < size && r.Length != 0
}

// Slice applies r to a fully buffered body.
func (r *Range) Slice(body []byte) []byte {
	start, end := r.Span(int64(len(body)))
	return body[start:end]
}
