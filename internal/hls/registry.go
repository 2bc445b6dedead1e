package hls

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// arena owns every streamInfo of a parser, keyed by verbatim playlist URI.
// The first resolution of a URI wins; concurrent resolutions of the same URI
// share one fetch.
type arena struct {
	mu      sync.Mutex
	byURI   map[string]*streamInfo
	byTagID map[int64]*streamInfo
	order   []*streamInfo
	dropped map[string]struct{}

	flight singleflight.Group
}

func newArena() *arena {
	return &arena{
		byURI:   make(map[string]*streamInfo),
		byTagID: make(map[int64]*streamInfo),
		dropped: make(map[string]struct{}),
	}
}

// resolve returns the streamInfo for uri, calling build at most once per
// concurrent wave. A nil info from build marks the URI as unusable (for
// example AES-128) and is remembered.
func (a *arena) resolve(uri string, build func() (*streamInfo, error)) (*streamInfo, error) {
	if info, known := a.lookup(uri); known {
		return info, nil
	}

	v, err, _ := a.flight.Do(uri, func() (any, error) {
		if info, known := a.lookup(uri); known {
			return info, nil
		}
		info, err := build()
		if err != nil {
			return nil, err
		}
		if info == nil {
			a.mu.Lock()
			a.dropped[uri] = struct{}{}
			a.mu.Unlock()
			return (*streamInfo)(nil), nil
		}
		return a.loadOrStore(uri, info), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*streamInfo), nil
}

func (a *arena) lookup(uri string) (*streamInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if info, ok := a.byURI[uri]; ok {
		return info, true
	}
	_, dropped := a.dropped[uri]
	return nil, dropped
}

// loadOrStore registers info under uri unless another record is already
// there, in which case the existing record is returned.
func (a *arena) loadOrStore(uri string, info *streamInfo) *streamInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.byURI[uri]; ok {
		return existing
	}
	a.byURI[uri] = info
	a.order = append(a.order, info)
	return info
}

func (a *arena) get(uri string) (*streamInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.byURI[uri]
	return info, ok
}

func (a *arena) bindTag(tagID int64, info *streamInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byTagID[tagID] = info
}

func (a *arena) byTag(tagID int64) (*streamInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.byTagID[tagID]
	return info, ok
}

// all returns the records in registration order.
func (a *arena) all() []*streamInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*streamInfo(nil), a.order...)
}

func (a *arena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

func (a *arena) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.byURI)
	clear(a.byTagID)
	clear(a.dropped)
	a.order = nil
}
