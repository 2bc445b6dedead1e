package hls

import (
	"net/url"
	"path"
	"strings"

	"github.com/jmylchreest/hlsindex/internal/codec"
)

// Extension and MIME types this parser registers for.
var (
	Extensions = []string{"m3u8"}
	MimeTypes  = []string{"application/x-mpegurl", "application/vnd.apple.mpegurl"}
)

// Supports reports whether s is an HLS MIME type or a URI ending in .m3u8.
func Supports(s string) bool {
	essence := strings.ToLower(codec.EssenceType(s))
	for _, m := range MimeTypes {
		if essence == m {
			return true
		}
	}

	p := s
	if u, err := url.Parse(s); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
