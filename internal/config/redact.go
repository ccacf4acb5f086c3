package config

import (
	"strings"
)

// RedactSpec replaces the password in a semicolon-separated connection spec
// with "***". Keys are matched case-insensitively; other pairs are returned
// unchanged.
func RedactSpec(spec string) string {
	if spec == "" {
		return ""
	}

	parts := strings.Split(spec, ";")

	for i, part := range parts {
		key, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}

		if strings.EqualFold(strings.TrimSpace(key), "password") {
			parts[i] = key + "=***"
		}
	}

	return strings.Join(parts, ";")
}
