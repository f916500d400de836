package notary

import "strings"

// Transcript is the received direction of a verified session. Bytes outside
// the authenticated ranges hold Sentinel.
type Transcript struct {
	ServerName string
	Time       int64

	data   []byte
	authed []bool
}

// Bytes returns a copy of the masked transcript.
func (t *Transcript) Bytes() []byte {
	return append([]byte(nil), t.data...)
}

// Text returns the masked transcript as text. Invalid UTF-8 sequences are
// replaced with U+FFFD.
func (t *Transcript) Text() string {
	return strings.ToValidUTF8(string(t.data), "\uFFFD")
}

// Len returns the transcript length in bytes.
func (t *Transcript) Len() int {
	return len(t.data)
}

// Authenticated reports whether every byte of [start, end) was revealed by a
// signed commitment. Empty or out-of-bounds ranges are not authenticated.
func (t *Transcript) Authenticated(start, end int) bool {
	if start < 0 || end > len(t.data) || start >= end {
		return false
	}
	for _, ok := range t.authed[start:end] {
		if !ok {
			return false
		}
	}
	return true
}

// AuthenticatedRanges returns the maximal authenticated ranges in order.
func (t *Transcript) AuthenticatedRanges() []Range {
	var out []Range
	for i := 0; i < len(t.authed); {
		if !t.authed[i] {
			i++
			continue
		}
		j := i
		for j < len(t.authed) && t.authed[j] {
			j++
		}
		out = append(out, Range{Start: i, End: j})
		i = j
	}
	return out
}
