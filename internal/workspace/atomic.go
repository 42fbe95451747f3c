package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteFileAtomic writes data to path via a unique temp file followed by a
// rename. The temp name carries a nanosecond timestamp plus a random suffix so
// concurrent writers on the same target never collide on a shared temp path.
// The parent directory must exist; callers that may race with directory
// removal should retry after recreating it.
func WriteFileAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp-%d-%s", path, time.Now().UnixNano(), randSuffix(4))
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file '%s': %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file into '%s': %w", path, err)
	}
	return nil
}

// WriteFileAtomicMkdir is WriteFileAtomic with one recreate-and-retry when the
// parent directory is missing.
func WriteFileAtomicMkdir(path string, data []byte) error {
	err := WriteFileAtomic(path, data)
	if err == nil {
		return nil
	}
	if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
		return fmt.Errorf("failed to recreate parent of '%s': %w", path, mkErr)
	}
	return WriteFileAtomic(path, data)
}

func randSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// Fall back to the timestamp already embedded in the temp name.
		return "0000"
	}
	return hex.EncodeToString(b)
}
