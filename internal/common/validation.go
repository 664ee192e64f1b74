package common

import (
	"fmt"
	"slices"
	"strings"
)

// ValidateOutputFormat validates format against configured supported formats
func ValidateOutputFormat(format string, supportedFormats []string) error {
	if len(supportedFormats) == 0 {
		return nil // No restrictions configured
	}

	if slices.Contains(supportedFormats, format) {
		return nil
	}

	return fmt.Errorf("unsupported output format '%s'. Supported formats: %v",
		format, supportedFormats)
}

// NormalizeRoles trims role names and drops blanks and repeats, keeping
// the order the user picked them in
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" || slices.Contains(out, role) {
			continue
		}
		out = append(out, role)
	}
	return out
}
