package models

// Segment reports one fetched media segment to progress observers.
type Segment struct {
	// Index is the segment's ordinal position, which is also its position in
	// the assembled buffer.
	Index int
	// Total is the number of segments in the download.
	Total int
	// URL is the fully-qualified URL the segment was fetched from.
	URL string
	// Size is the number of bytes received.
	Size int
}
