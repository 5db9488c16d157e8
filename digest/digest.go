// Package digest provides the content-addressing helpers shared by the
// blob plane and the event plane: SHA-256 over raw bytes, and the
// normalized-path helpers used when comparing local and remote path maps.
package digest

import (
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// SHA256Bytes returns the lowercase hex SHA-256 of b, with no algorithm
// prefix — the form used in kind-P/kind-A/kind-M event tags and in blob
// server URLs.
func SHA256Bytes(b []byte) string {
	return godigest.FromBytes(b).Encoded()
}

// Verify reports whether b hashes to the given lowercase-hex sha256 sum.
func Verify(b []byte, sum string) bool {
	return SHA256Bytes(b) == strings.ToLower(sum)
}

// NormalizePath collapses repeated slashes, forces a single leading slash,
// and lowercases for comparison purposes. Callers needing the original
// case for display must retain it separately; NormalizePath is only used
// as a map key and for equality checks.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	parts := strings.Split(p, "/")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		kept = append(kept, part)
	}
	return strings.ToLower("/" + strings.Join(kept, "/"))
}
