package util

import (
	"crypto/sha256"
	"encoding/hex"
)

const fingerprintLength = 12

// TokenFingerprint identifies a bearer credential in logs without
// revealing it.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])[:fingerprintLength]
}
