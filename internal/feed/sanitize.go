package feed

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// EscapeHTML replaces the five HTML metacharacters with named entities so a
// value can be interpolated into markup.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
