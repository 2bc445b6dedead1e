// Package segment holds segment references and the per-stream index that
// answers time and position lookups.
package segment

// URIFunc resolves the candidate URIs of a segment lazily.
type URIFunc func() []string

// Reference addresses one media segment.
type Reference struct {
	Position  int64
	StartTime float64
	EndTime   float64

	// StartByte and EndByte select an inclusive byte range; EndByte < 0
	// means "to the end of the resource".
	StartByte int64
	EndByte   int64

	uris URIFunc
}

// NewReference returns a reference covering [start, end) seconds.
func NewReference(position int64, start, end float64, uris URIFunc, startByte, endByte int64) Reference {
	return Reference{
		Position:  position,
		StartTime: start,
		EndTime:   end,
		StartByte: startByte,
		EndByte:   endByte,
		uris:      uris,
	}
}

// URIs returns the segment's candidate URIs.
func (r Reference) URIs() []string {
	if r.uris == nil {
		return nil
	}
	return r.uris()
}

// Duration is EndTime - StartTime.
func (r Reference) Duration() float64 { return r.EndTime - r.StartTime }

// Shift returns r moved by delta seconds.
func (r Reference) Shift(delta float64) Reference {
	r.StartTime += delta
	r.EndTime += delta
	return r
}

// InitReference addresses an initialization segment (EXT-X-MAP).
type InitReference struct {
	StartByte int64
	EndByte   int64
	uris      URIFunc
}

// NewInitReference returns an init segment reference.
func NewInitReference(uris URIFunc, startByte, endByte int64) *InitReference {
	return &InitReference{StartByte: startByte, EndByte: endByte, uris: uris}
}

// URIs returns the init segment's candidate URIs.
func (r *InitReference) URIs() []string {
	if r == nil || r.uris == nil {
		return nil
	}
	return r.uris()
}

// StaticURIs returns a URIFunc over fixed values.
func StaticURIs(uris ...string) URIFunc {
	return func() []string { return uris }
}
