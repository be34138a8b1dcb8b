package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"unicode/utf8"
)

// Fingerprint returns the SHA-256 digest of a file's byte content. Content
// hashing, not mtime, is what change detection is based on, so copies and
// checkouts that preserve content survive without reindexing.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsText reports whether content looks like decodable text. The first 8KB is
// checked for null bytes and UTF-8 validity.
func IsText(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	sample := content
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(sample)
}
