package fetch

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidDataURI is returned for malformed RFC 2397 data URIs.
var ErrInvalidDataURI = errors.New("fetch: invalid data URI")

// DataURI is a decoded RFC 2397 "data:" URI.
type DataURI struct {
	MediaType string
	Data      []byte
}

// ParseDataURI decodes data:[<mediatype>][;base64],<data>.
func ParseDataURI(uri string) (*DataURI, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: missing data: scheme", ErrInvalidDataURI)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing ','", ErrInvalidDataURI)
	}

	isBase64 := false
	params := strings.Split(meta, ";")
	mediaType := params[0]
	for _, p := range params[1:] {
		if p == "base64" {
			isBase64 = true
		}
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if !isBase64 {
		return &DataURI{MediaType: mediaType, Data: []byte(decoded)}, nil
	}

	data, err := base64.StdEncoding.DecodeString(decoded)
	if err != nil {
		// Some packagers omit the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(decoded, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
	}
	return &DataURI{MediaType: mediaType, Data: data}, nil
}
