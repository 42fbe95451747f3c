package atif

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// sessionIDPattern accepts session-YYYY-MM-DDTHH-MM-SS-<rand> with a random
// suffix of at least six characters.
var sessionIDPattern = regexp.MustCompile(
	`^session-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-[A-Za-z0-9]{6,}$`)

// NewSessionID generates a session ID for the given time, e.g.
// session-2026-08-24T14-03-07-a1b2c3d4.
func NewSessionID(t time.Time) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Nanoseconds keep IDs unique enough when the RNG is unavailable.
		return fmt.Sprintf("session-%s-%09d", t.UTC().Format("2006-01-02T15-04-05"), t.Nanosecond())
	}
	return fmt.Sprintf("session-%s-%s", t.UTC().Format("2006-01-02T15-04-05"), hex.EncodeToString(b))
}

// IsValidSessionID reports whether id matches the session ID format.
func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// SessionTime parses the UTC timestamp embedded in a session ID.
func SessionTime(id string) (time.Time, bool) {
	if !IsValidSessionID(id) {
		return time.Time{}, false
	}
	const prefix = "session-"
	t, err := time.Parse("2006-01-02T15-04-05", id[len(prefix):len(prefix)+19])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// DateFolderForSession derives the YYYYMMDD storage folder from a session ID:
// the first ten characters after "session-" with dashes removed. Unparseable
// IDs fall back to the current date so a malformed ID never blocks writing.
func DateFolderForSession(id string) string {
	const prefix = "session-"
	if strings.HasPrefix(id, prefix) && len(id) >= len(prefix)+10 {
		datePart := id[len(prefix) : len(prefix)+10]
		folder := strings.ReplaceAll(datePart, "-", "")
		if len(folder) == 8 && isDigits(folder) {
			return folder
		}
	}
	return time.Now().UTC().Format("20060102")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
