package notary

import "sort"

// Range is the half-open byte interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by r.
func (r Range) Len() int {
	return r.End - r.Start
}

// Complement returns the ranges of [0, total) not covered by hidden.
// It is used to reveal a whole transcript except for a few redacted spans.
func Complement(total int, hidden ...Range) []Range {
	hs := append([]Range(nil), hidden...)
	sort.Slice(hs, func(i, j int) bool { return hs[i].Start < hs[j].Start })

	var out []Range
	pos := 0
	for _, h := range hs {
		start, end := min(max(h.Start, 0), total), min(h.End, total)
		if start > pos {
			out = append(out, Range{Start: pos, End: start})
		}
		pos = max(pos, end)
	}
	if pos < total {
		out = append(out, Range{Start: pos, End: total})
	}
	return out
}
