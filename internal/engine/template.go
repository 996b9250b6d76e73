package engine

import (
	"regexp"
	"strings"
)

// placeholderPattern matches $$, $name and ${name}. Word characters only, so
// positional placeholders ($1, $2, ...) work alongside named ones.
var placeholderPattern = regexp.MustCompile(`\$(?:(\$)|(\w+)|\{(\w+)\})`)

// SafeSubstitute resolves $name / ${name} / $1 placeholders from mapping.
// Unknown placeholders are left verbatim and $$ escapes a literal dollar.
//
// The passthrough contract matters: cron-fired events carry only calendar
// fields, so a command template with file-capture placeholders must not
// fail substitution.
func SafeSubstitute(tmpl string, mapping map[string]string) string {
	if !strings.ContainsRune(tmpl, '$') {
		return tmpl
	}
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		if m == "$$" {
			return "$"
		}
		name := strings.TrimSuffix(strings.TrimPrefix(m[1:], "{"), "}")
		if v, ok := mapping[name]; ok {
			return v
		}
		return m
	})
}
