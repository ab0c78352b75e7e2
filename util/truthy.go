package util

import "strings"

// Truthy reports whether the string spells a truthy value.
func Truthy(s string) bool {
	normalized := strings.ToLower(strings.Trim(s, " "))
	return normalized == "true" || normalized == "1" || normalized == "yes"
}
