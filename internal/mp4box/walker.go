// Package mp4box walks ISO-BMFF box trees with abema/go-mp4 and exposes the
// few fields needed for timing: the media timescale and the base decode time
// of the first fragment.
package mp4box

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/abema/go-mp4"
)

var (
	ErrTimescaleNotFound      = errors.New("mp4box: mdhd timescale not found")
	ErrBaseDecodeTimeNotFound = errors.New("mp4box: tfdt base media decode time not found")
)

var errStop = errors.New("mp4box: stop")

// Box is a decoded box handed to a Handler.
type Box struct {
	Type    string
	Version uint8
	Offset  uint64
	Size    uint64
	Payload mp4.IBox

	w *Walker
}

// Stop ends the walk after the current handler returns.
func (b *Box) Stop() { b.w.stopped = true }

// Handler receives boxes registered with Walker.Handle.
type Handler func(b *Box) error

// Walker descends into registered container boxes and invokes handlers for
// registered leaf boxes. Everything else is skipped. A Walker is not safe
// for concurrent use.
type Walker struct {
	containers map[mp4.BoxType]struct{}
	handlers   map[mp4.BoxType]Handler
	stopped    bool
}

// NewWalker returns an empty walker.
func NewWalker() *Walker {
	return &Walker{
		containers: make(map[mp4.BoxType]struct{}),
		handlers:   make(map[mp4.BoxType]Handler),
	}
}

// Container registers box types whose children should be visited.
func (w *Walker) Container(types ...string) *Walker {
	for _, t := range types {
		w.containers[mp4.StrToBoxType(t)] = struct{}{}
	}
	return w
}

// Handle registers fn for the box type typ.
func (w *Walker) Handle(typ string, fn Handler) *Walker {
	w.handlers[mp4.StrToBoxType(typ)] = fn
	return w
}

// Walk parses data. Truncated trailing boxes are only an error if the walk
// reaches them before a handler calls Stop.
func (w *Walker) Walk(data []byte) error {
	w.stopped = false
	_, err := mp4.ReadBoxStructure(bytes.NewReader(data), func(h *mp4.ReadHandle) (interface{}, error) {
		if w.stopped {
			return nil, errStop
		}
		if _, ok := w.containers[h.BoxInfo.Type]; ok {
			return h.Expand()
		}
		fn, ok := w.handlers[h.BoxInfo.Type]
		if !ok {
			return nil, nil
		}

		payload, _, err := h.ReadPayload()
		if err != nil {
			return nil, fmt.Errorf("mp4box: reading %s: %w", h.BoxInfo.Type, err)
		}
		box := &Box{
			Type:    h.BoxInfo.Type.String(),
			Offset:  h.BoxInfo.Offset,
			Size:    h.BoxInfo.Size,
			Payload: payload,
			w:       w,
		}
		if fb, ok := payload.(interface{ GetVersion() uint8 }); ok {
			box.Version = fb.GetVersion()
		}
		if err := fn(box); err != nil {
			return nil, err
		}
		if w.stopped {
			return nil, errStop
		}
		return nil, nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}
	return nil
}

// Timescale returns the timescale of the first mdhd box under moov.
func Timescale(data []byte) (uint32, error) {
	var timescale uint32
	found := false
	err := NewWalker().
		Container("moov", "trak", "mdia").
		Handle("mdhd", func(b *Box) error {
			mdhd, ok := b.Payload.(*mp4.Mdhd)
			if !ok {
				return fmt.Errorf("mp4box: unexpected mdhd payload %T", b.Payload)
			}
			timescale = mdhd.Timescale
			found = true
			b.Stop()
			return nil
		}).
		Walk(data)
	if err != nil {
		return 0, err
	}
	if !found || timescale == 0 {
		return 0, ErrTimescaleNotFound
	}
	return timescale, nil
}

// BaseMediaDecodeTime returns the tfdt value of the first track fragment.
func BaseMediaDecodeTime(data []byte) (uint64, error) {
	var decodeTime uint64
	found := false
	err := NewWalker().
		Container("moof", "traf").
		Handle("tfdt", func(b *Box) error {
			tfdt, ok := b.Payload.(*mp4.Tfdt)
			if !ok {
				return fmt.Errorf("mp4box: unexpected tfdt payload %T", b.Payload)
			}
			decodeTime = tfdt.GetBaseMediaDecodeTime()
			found = true
			b.Stop()
			return nil
		}).
		Walk(data)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrBaseDecodeTimeNotFound
	}
	return decodeTime, nil
}
