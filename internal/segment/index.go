package segment

import "sync"

// Index is an ordered, position-addressed list of references. It is safe
// for concurrent use; lookups return copies.
type Index struct {
	mu   sync.RWMutex
	refs []Reference
}

// NewIndex takes ownership of refs, which must be sorted by position.
func NewIndex(refs []Reference) *Index {
	return &Index{refs: refs}
}

// Find returns the position of the segment containing t. A time before the
// first segment resolves to the first segment.
func (x *Index) Find(t float64) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for i := len(x.refs) - 1; i >= 0; i-- {
		r := x.refs[i]
		if t >= r.StartTime && t < r.EndTime {
			return r.Position, true
		}
	}
	if len(x.refs) > 0 && t < x.refs[0].StartTime {
		return x.refs[0].Position, true
	}
	return 0, false
}

// Get returns the reference at position.
func (x *Index) Get(position int64) (Reference, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.refs) == 0 {
		return Reference{}, false
	}
	i := position - x.refs[0].Position
	if i < 0 || i >= int64(len(x.refs)) {
		return Reference{}, false
	}
	return x.refs[i], true
}

// Offset shifts every reference by delta seconds.
func (x *Index) Offset(delta float64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range x.refs {
		x.refs[i] = x.refs[i].Shift(delta)
	}
}

// Fit clips the index to [0, duration): references starting at or after
// duration are dropped, as are references ending at or before 0, and the
// last remaining reference is stretched or truncated to end at duration.
func (x *Index) Fit(duration float64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for len(x.refs) > 0 && x.refs[len(x.refs)-1].StartTime >= duration {
		x.refs = x.refs[:len(x.refs)-1]
	}
	for len(x.refs) > 0 && x.refs[0].EndTime <= 0 {
		x.refs = x.refs[1:]
	}
	if len(x.refs) == 0 {
		return
	}
	x.refs[len(x.refs)-1].EndTime = duration
}

// Replace swaps in a freshly built reference list.
func (x *Index) Replace(refs []Reference) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.refs = refs
}

// Len returns the number of references.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.refs)
}

// First returns the earliest reference.
func (x *Index) First() (Reference, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.refs) == 0 {
		return Reference{}, false
	}
	return x.refs[0], true
}

// Last returns the latest reference.
func (x *Index) Last() (Reference, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.refs) == 0 {
		return Reference{}, false
	}
	return x.refs[len(x.refs)-1], true
}

// References returns a copy of the current list.
func (x *Index) References() []Reference {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Reference(nil), x.refs...)
}

// Window summarizes the addressable range of an index.
type Window struct {
	Count         int     `json:"count" yaml:"count"`
	FirstPosition int64   `json:"firstPosition" yaml:"first_position"`
	LastPosition  int64   `json:"lastPosition" yaml:"last_position"`
	Start         float64 `json:"start" yaml:"start"`
	End           float64 `json:"end" yaml:"end"`
}

// Window returns the current range; the zero Window for an empty index.
func (x *Index) Window() Window {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.refs) == 0 {
		return Window{}
	}
	first, last := x.refs[0], x.refs[len(x.refs)-1]
	return Window{
		Count:         len(x.refs),
		FirstPosition: first.Position,
		LastPosition:  last.Position,
		Start:         first.StartTime,
		End:           last.EndTime,
	}
}
