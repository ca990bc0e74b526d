package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	richPolicy  = bluemonday.UGCPolicy()
	plainPolicy = bluemonday.StrictPolicy()
)

// Sanitize cleans user supplied HTML in post bodies and comments, keeping safe formatting.
func Sanitize(input string) string {
	return strings.TrimSpace(richPolicy.Sanitize(input))
}

// SanitizeText strips all markup and returns plain text, so "&" or "'" are stored and counted as typed.
// Used for titles and bios.
func SanitizeText(input string) string {
	return strings.TrimSpace(html.UnescapeString(plainPolicy.Sanitize(input)))
}
