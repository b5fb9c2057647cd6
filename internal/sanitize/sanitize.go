// Package sanitize strips markup from user supplied text.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every element and attribute. It is safe for concurrent use.
var strict = bluemonday.StrictPolicy()

// Text removes all HTML from s, decodes entities the policy escaped and trims
// surrounding whitespace. The result is plain text; render it escaped.
func Text(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
