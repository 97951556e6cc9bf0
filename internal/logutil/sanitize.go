package logutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// SanitizeForLog removes newlines and control characters from user-provided
// strings so they cannot forge extra log entries.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteByte(' ')
		case r < 32 || r == 0x7f:
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Preview renders at most max bytes of a relayed payload as a quoted Go
// string, marking truncation with the total size.
func Preview(p []byte, max int) string {
	if max <= 0 || len(p) <= max {
		return strconv.Quote(string(p))
	}
	return strconv.Quote(string(p[:max])) + "...(" + strconv.Itoa(len(p)) + " bytes)"
}

// Fingerprint returns a short tag identifying a secret token in logs and
// listings. The token cannot be recovered from it.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
