package atif

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ConsolidateStreams folds streamed sessions that reached a terminal status
// into full trajectory documents, so List and Load see them. Sessions still
// in progress, already consolidated, or with an unreadable index are left
// alone; a corrupt stream is logged and skipped. Returns the consolidated
// session IDs, sorted.
func (s *Store) ConsolidateStreams() ([]string, error) {
	dates, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list trajectory base dir: %w", err)
	}

	var done []string
	for _, dateEntry := range dates {
		if !dateEntry.IsDir() {
			continue
		}
		dir := filepath.Join(s.baseDir, dateEntry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if !strings.HasSuffix(name, ".atif.jsonl") {
				continue
			}
			sessionID := strings.TrimSuffix(name, ".atif.jsonl")
			if _, err := os.Stat(filepath.Join(dir, sessionID+".atif.json")); err == nil {
				continue
			}
			idx, err := ReadIndex(filepath.Join(dir, sessionID+".index.json"))
			if err != nil || idx.Status == StatusInProgress {
				continue
			}
			t, err := ReadJSONL(filepath.Join(dir, name))
			if err != nil {
				s.logger.Warn().Str("session_id", sessionID).Err(err).Msg("skipping corrupt session stream")
				continue
			}
			if t.FinalMetrics == nil {
				if idx.FinalMetrics != nil {
					t.FinalMetrics = idx.FinalMetrics
				} else {
					t.ComputeFinalMetrics()
				}
			}
			if _, err := s.Save(t); err != nil {
				s.logger.Warn().Str("session_id", sessionID).Err(err).Msg("consolidating session stream")
				continue
			}
			done = append(done, sessionID)
		}
	}
	sort.Strings(done)
	return done, nil
}
