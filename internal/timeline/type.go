// Package timeline holds the presentation-wide clock shared by every stream
// of a manifest, and the playlist presentation type state machine.
package timeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is returned for a presentation type change that the
// protocol does not allow.
var ErrInvalidTransition = errors.New("timeline: invalid presentation type transition")

// PresentationType classifies a playlist.
type PresentationType int

const (
	// Unknown is the zero value before the first media playlist is read.
	Unknown PresentationType = iota
	VOD
	Event
	Live
)

func (t PresentationType) String() string {
	switch t {
	case VOD:
		return "VOD"
	case Event:
		return "EVENT"
	case Live:
		return "LIVE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t PresentationType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *PresentationType) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "VOD":
		*t = VOD
	case "EVENT":
		*t = Event
	case "LIVE":
		*t = Live
	case "UNKNOWN", "":
		*t = Unknown
	default:
		return fmt.Errorf("timeline: unknown presentation type %q", b)
	}
	return nil
}

// IsLive reports whether segments can still be appended.
func (t PresentationType) IsLive() bool {
	return t == Event || t == Live
}

// Classify derives the type from EXT-X-PLAYLIST-TYPE and EXT-X-ENDLIST.
func Classify(playlistType string, hasEndList bool) PresentationType {
	switch {
	case playlistType == "VOD" || hasEndList:
		return VOD
	case playlistType == "EVENT":
		return Event
	default:
		return Live
	}
}

// TransitionTo validates a change from t to next. The first classification
// is always accepted, staying in place is a no-op, and a live or event
// presentation may end as VOD. Everything else is rejected.
func (t PresentationType) TransitionTo(next PresentationType) (PresentationType, error) {
	switch {
	case t == Unknown, t == next:
		return next, nil
	case next == VOD && t.IsLive():
		return next, nil
	default:
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t, next)
	}
}
