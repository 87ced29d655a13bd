package ml

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"reimburse-engine/internal/common"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Reloader watches an artifact directory and swaps newly activated runs
// into a Service.
type Reloader struct {
	dir      string
	svc      *Service
	debounce time.Duration
}

func NewReloader(dir string, svc *Service, debounce time.Duration) *Reloader {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Reloader{dir: dir, svc: svc, debounce: debounce}
}

// Reload loads the active run and swaps it in if it differs from the one
// being served. It reports whether a swap happened.
func (r *Reloader) Reload() (bool, error) {
	b, err := LoadActiveBundleFromDir(r.dir)
	if err != nil {
		return false, err
	}
	if cur := r.svc.Current(); cur != nil && cur.RunID == b.RunID {
		return false, nil
	}
	if err := r.svc.Swap(b); err != nil {
		return false, err
	}
	return true, nil
}

// Run watches until ctx is cancelled. Failed reloads are logged and the
// current bundle keeps serving.
func (r *Reloader) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	log.Info().Str("dir", r.dir).Msg("Watching artifacts for new runs")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != common.ArtifactDBName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Stop()
				timer.Reset(r.debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Artifact watcher error")
		case <-fire:
			fire = nil
			swapped, err := r.Reload()
			if err != nil {
				log.Warn().Err(err).Msg("Artifact reload failed, keeping current bundle")
				continue
			}
			if swapped {
				log.Info().Str("run_id", r.svc.Current().RunID).Msg("Reloaded artifacts")
			}
		}
	}
}
