package archivist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultWatchDebounce = 2 * time.Second

// Watcher triggers quick archive runs when new trajectory artifacts land in
// the store directory. Writes are debounced so a live session that keeps
// rewriting its index does not stampede the archivist; the run fires once
// writes settle.
type Watcher struct {
	arch     *Archivist
	baseDir  string
	debounce time.Duration
	logger   zerolog.Logger
}

// NewWatcher builds a watcher over the trajectory store rooted at baseDir.
func NewWatcher(arch *Archivist, baseDir string, debounce time.Duration, logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	return &Watcher{
		arch:     arch,
		baseDir:  baseDir,
		debounce: debounce,
		logger:   logger.With().Str("component", "archivist.watch").Logger(),
	}
}

// Run watches until ctx is canceled. An immediate quick archive clears any
// backlog accumulated while the watcher was down.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := os.MkdirAll(w.baseDir, 0755); err != nil {
		return err
	}
	if err := fw.Add(w.baseDir); err != nil {
		return err
	}
	// Sessions live one level down in date folders. Watch the ones that
	// already exist; new ones are picked up from create events on the root.
	entries, err := os.ReadDir(w.baseDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.baseDir, e.Name())
		if err := fw.Add(dir); err != nil {
			w.logger.Warn().Str("dir", dir).Err(err).Msg("watching date folder")
		}
	}

	w.logger.Info().Str("dir", w.baseDir).Dur("debounce", w.debounce).Msg("watching trajectory store")
	w.runQuick(ctx)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if err := fw.Add(ev.Name); err != nil {
						w.logger.Warn().Str("dir", ev.Name).Err(err).Msg("watching new date folder")
					}
					continue
				}
			}
			if !isSessionArtifact(filepath.Base(ev.Name)) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(werr).Msg("watch error")

		case <-timer.C:
			w.runQuick(ctx)
		}
	}
}

func (w *Watcher) runQuick(ctx context.Context) {
	report, err := w.arch.RunQuickArchive(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("quick archive failed")
		return
	}
	if report.Scanned > 0 {
		w.logger.Info().
			Int("scanned", report.Scanned).
			Int("promoted", report.SkillsPromoted).
			Msg("quick archive complete")
	}
}

// isSessionArtifact reports whether a filename is a completed session
// document or index write. Stream appends and atomic-write temp files do not
// count; the index rewrite that follows every step does, so the debounce
// keeps extending until a session goes quiet.
func isSessionArtifact(name string) bool {
	return strings.HasSuffix(name, ".atif.json") || strings.HasSuffix(name, ".index.json")
}
