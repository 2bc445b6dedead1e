package hls

import (
	"strings"

	"golang.org/x/text/language"
)

const undetermined = "und"

// normalizeLanguage canonicalizes a LANGUAGE attribute to lowercase BCP 47
// with the shortest base subtag ("eng-US" -> "en-us"). Unparseable values
// are only lowercased.
func normalizeLanguage(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return undetermined
	}
	tag, err := language.Parse(s)
	if err != nil {
		return strings.ToLower(s)
	}
	if tag == language.Und {
		return undetermined
	}

	base, conf := tag.Base()
	if conf == language.No {
		return strings.ToLower(s)
	}
	out := base.String()
	if region, conf := tag.Region(); conf == language.Exact {
		out += "-" + strings.ToLower(region.String())
	}
	return out
}
