package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ComputeFileHash returns the SHA-256 digest of the file's full contents as a
// 64-character hex string. The digest is deterministic for identical bytes.
func ComputeFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hashing: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file contents: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
