package util

import (
	"regexp"
)

var orderIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// IsValidOrderID accepts opaque order identifiers that are safe to embed
// in room keys, redis keys and URL paths.
func IsValidOrderID(s string) bool {
	return orderIDRegex.MatchString(s)
}
