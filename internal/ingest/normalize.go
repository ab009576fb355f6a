package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// ParseTimestamp accepts an RFC 3339 timestamp or a bare YYYY-MM-DD date.
// Bare dates resolve to midnight UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Errorf("ingest: unparseable timestamp %q", s)
	}
	return t, nil
}

// CanonicalID hashes key with SHA-256 and returns the hex digest.
func CanonicalID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NormalizeTitle applies NFC and collapses runs of whitespace. Blank titles
// become fallback.
func NormalizeTitle(title, fallback string) string {
	t := strings.Join(strings.Fields(norm.NFC.String(title)), " ")
	if t == "" {
		return fallback
	}
	return t
}
