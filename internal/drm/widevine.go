package drm

import (
	"strings"

	"github.com/jmylchreest/hlsindex/internal/fetch"
	"github.com/jmylchreest/hlsindex/internal/m3u8"
)

var widevineMethods = []string{"SAMPLE-AES", "SAMPLE-AES-CTR", "SAMPLE-AES-CENC"}

// ParseWidevine reads a Widevine EXT-X-KEY whose URI is a data URI holding
// the PSSH box.
func ParseWidevine(tag *m3u8.Tag) (*Info, error) {
	method, err := RequiredAttribute(tag, "METHOD")
	if err != nil {
		return nil, err
	}
	supported := false
	for _, m := range widevineMethods {
		if m == method {
			supported = true
			break
		}
	}
	if !supported {
		return nil, nil
	}

	uri, err := RequiredAttribute(tag, "URI")
	if err != nil {
		return nil, err
	}
	pssh, err := fetch.ParseDataURI(uri)
	if err != nil {
		return nil, err
	}

	info := &Info{
		KeySystem: KeySystemWidevine,
		InitData:  []InitData{{InitDataType: "cenc", Data: pssh.Data}},
	}
	if keyID, ok := tag.Attribute("KEYID"); ok && len(keyID) > 2 {
		info.KeyIDs = []string{strings.ToLower(keyID[2:])}
	}
	return info, nil
}
