package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FileTokenLength is the number of hex characters kept from a content
// digest when it is embedded in a mirror filename.
const FileTokenLength = 8

// CalculateSHA256 computes the SHA256 hash of the given content
// and returns it in the format "sha256:<hex_hash>".
func CalculateSHA256(content []byte) (string, error) {
	h := sha256.New()
	if _, err := h.Write(content); err != nil {
		return "", fmt.Errorf("failed to write content to hasher: %w", err)
	}
	return fmt.Sprintf("sha256:%s", hex.EncodeToString(h.Sum(nil))), nil
}

// FileToken returns a short content digest used to keep the filenames of
// different files belonging to the same mirrored unit distinct.
func FileToken(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:FileTokenLength]
}
