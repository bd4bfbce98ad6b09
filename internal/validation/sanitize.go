package validation

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()

	// bluemonday escapes text; these are safe to store literally
	unescapeSafe = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`)
)

// SanitizeText strips all markup from free text and trims surrounding space.
// Angle brackets that survive as text stay entity-encoded.
func SanitizeText(s string) string {
	return strings.TrimSpace(unescapeSafe.Replace(strictPolicy.Sanitize(s)))
}
