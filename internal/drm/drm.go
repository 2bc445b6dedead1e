// Package drm maps EXT-X-KEY KEYFORMAT identifiers to parsers that extract
// key-system information from the tag. No license exchange happens here.
package drm

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/jmylchreest/hlsindex/internal/m3u8"
)

// Key format and key system identifiers.
const (
	KeyFormatWidevine = "urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"
	KeySystemWidevine = "com.widevine.alpha"
)

// InitData is one blob of license initialization data.
type InitData struct {
	InitDataType string `json:"initDataType" yaml:"init_data_type"`
	Data         []byte `json:"data" yaml:"data"`
}

// Info describes how a stream is protected.
type Info struct {
	KeySystem string     `json:"keySystem" yaml:"key_system"`
	InitData  []InitData `json:"initData,omitempty" yaml:"init_data,omitempty"`
	KeyIDs    []string   `json:"keyIds,omitempty" yaml:"key_ids,omitempty"`
}

// MissingAttributeError reports a required attribute absent from a tag.
type MissingAttributeError struct {
	Tag       string
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("drm: %s is missing required attribute %s", e.Tag, e.Attribute)
}

// RequiredAttribute returns the named attribute or a *MissingAttributeError.
func RequiredAttribute(tag *m3u8.Tag, name string) (string, error) {
	v, ok := tag.Attribute(name)
	if !ok {
		return "", &MissingAttributeError{Tag: tag.Name, Attribute: name}
	}
	return v, nil
}

// Parser turns an EXT-X-KEY tag into an Info. A nil Info with a nil error
// means the tag is well-formed but not usable by this key system.
type Parser func(tag *m3u8.Tag) (*Info, error)

// Registry maps KEYFORMAT strings to parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in Widevine parser.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(KeyFormatWidevine, ParseWidevine)
	return r
}

// Register adds or replaces the parser for keyFormat.
func (r *Registry) Register(keyFormat string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[keyFormat] = p
}

// Lookup returns the parser for keyFormat.
func (r *Registry) Lookup(keyFormat string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[keyFormat]
	return p, ok
}

// KeyFormats lists registered key formats in sorted order.
func (r *Registry) KeyFormats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for k := range r.parsers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AreCompatible reports whether two streams can be played together: either
// is unencrypted or both share at least one key system.
func AreCompatible(a, b []Info) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, x := range a {
		for _, y := range b {
			if x.KeySystem == y.KeySystem {
				return true
			}
		}
	}
	return false
}

// CommonInfos returns the key systems present on both sides, with init data
// and key IDs merged. An empty side yields the other side unchanged.
func CommonInfos(a, b []Info) []Info {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	var out []Info
	for _, x := range a {
		for _, y := range b {
			if x.KeySystem != y.KeySystem {
				continue
			}
			merged := Info{KeySystem: x.KeySystem}
			merged.InitData = append(append(merged.InitData, x.InitData...), y.InitData...)
			merged.KeyIDs = mergeKeyIDs(x.KeyIDs, y.KeyIDs)
			out = append(out, merged)
			break
		}
	}
	return out
}

func mergeKeyIDs(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
