package timeline

import "sort"

// Dimensions partition notes and timelines: 0 is the shared default
// timeline, 1..999 are named public sub-communities, and >=1000 are
// private partitions that must never leak into dimension 0.
const privateDimensionStart = 1000

// NormalizeDimension maps missing or malformed dimension values to the
// shared default. Every function here is total; there is no error path.
func NormalizeDimension(value int) int {
	if value < 0 {
		return 0
	}
	return value
}

// IsPrivateDimension reports whether d is a private partition.
func IsPrivateDimension(d int) bool {
	return d >= privateDimensionStart
}

// NoteDimension returns a note's normalized dimension.
func NoteDimension(note *Note) int {
	if note == nil {
		return 0
	}
	return NormalizeDimension(note.Dimension)
}

// DeliverTargetDimensions computes the ascending set of dimensions a note
// fans out into. The note's own dimension is always a target; non-private
// notes additionally reach the shared dimension 0. A reply or renote whose
// parent sits in a different positive dimension pulls that dimension in as
// an extra target. Private notes never gain dimension 0 through the
// always-add rule.
func DeliverTargetDimensions(note *Note) []int {
	if note == nil {
		return []int{0}
	}
	own := NoteDimension(note)
	targets := map[int]struct{}{own: {}}

	if !IsPrivateDimension(own) {
		targets[0] = struct{}{}
	}

	for _, parent := range []*Note{note.Reply, note.Renote} {
		if parent == nil {
			continue
		}
		if d := NoteDimension(parent); d != own && d > 0 {
			targets[d] = struct{}{}
		}
	}

	out := make([]int, 0, len(targets))
	for d := range targets {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// IsCrossDimensionInteraction reports whether the viewer is personally
// involved with the note: mentioned, directly addressed, or the author of
// its reply or renote target. Such notes stay visible regardless of
// dimension boundaries.
func IsCrossDimensionInteraction(note *Note, viewerID string) bool {
	if viewerID == "" || note == nil {
		return false
	}
	for _, id := range note.Mentions {
		if id == viewerID {
			return true
		}
	}
	for _, id := range note.VisibleUserIDs {
		if id == viewerID {
			return true
		}
	}
	if note.Reply != nil && note.Reply.UserID == viewerID {
		return true
	}
	if note.Renote != nil && note.Renote.UserID == viewerID {
		return true
	}
	return false
}

// ShouldDeliverByDimension is the read-time visibility filter. A nil
// viewer dimension means no dimension context and sees everything.
// Dimension-0 viewers see all public sub-community content inline; private
// partitions are only visible to exact-match viewers. A renote's own
// dimension is checked as a fallback when the renoting note is invisible.
func ShouldDeliverByDimension(note *Note, viewerDimension *int, viewerID string) bool {
	if viewerDimension == nil {
		return true
	}
	if IsCrossDimensionInteraction(note, viewerID) {
		return true
	}

	viewer := NormalizeDimension(*viewerDimension)
	visible := func(target int) bool {
		if target == 0 {
			return viewer == 0
		}
		if viewer == 0 {
			return !IsPrivateDimension(target)
		}
		return viewer == target
	}

	if visible(NoteDimension(note)) {
		return true
	}
	if note != nil && note.Renote != nil && visible(NoteDimension(note.Renote)) {
		return true
	}
	return false
}
