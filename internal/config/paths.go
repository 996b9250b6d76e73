package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$(\w+|\{\w+\})`)

// expandEnvKeep expands $VAR and ${VAR} from the environment, leaving
// references to unset variables verbatim. Trigger and backup templates share
// path syntax with placeholders ($name, $1), so an unset variable must pass
// through untouched instead of collapsing to the empty string like
// os.ExpandEnv would.
func expandEnvKeep(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m[1:], "{"), "}")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

// ResolvePath expands environment variables and a leading ~, then
// absolutizes the path. Empty input stays empty.
func ResolvePath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	p = expandEnvKeep(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return filepath.Abs(p)
}

// expandTemplate expands environment variables and joins a relative path
// template onto the watch root. Used for trigger patterns and backup
// templates, which may contain regex or placeholder syntax and therefore
// must never be checked for existence.
func expandTemplate(tmpl, root string) string {
	tmpl = expandEnvKeep(tmpl)
	if filepath.IsAbs(tmpl) {
		return filepath.Clean(tmpl)
	}
	return filepath.Join(root, tmpl)
}
