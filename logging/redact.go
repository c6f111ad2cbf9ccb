package logging

import "strings"

// RedactValue masks a secret for logging, keeping a short prefix so
// different tokens stay distinguishable.
func RedactValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	// Bot tokens look like "<bot id>:<secret>"; the id is not secret.
	if id, secret, ok := strings.Cut(trimmed, ":"); ok && id != "" && secret != "" {
		return id + ":" + mask(secret)
	}
	return mask(trimmed)
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", 4) + s[len(s)-2:]
}
