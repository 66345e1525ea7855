package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/autopeer-io/multiprog/pkg/log"
)

const (
	defaultDebounce   = 200 * time.Millisecond
	defaultDoneSuffix = ".queued"
	failedSuffix      = ".failed"
)

// SubmitFunc hands a loaded manifest to the station.
type SubmitFunc func(ctx context.Context, m *Manifest) error

// Watcher picks up manifests dropped into a hot folder. A manifest is renamed
// with the done suffix once submitted and with ".failed" when it is rejected,
// so every file is handled once.
type Watcher struct {
	dir        string
	doneSuffix string
	submit     SubmitFunc

	// Debounce waits for writes to a file to settle before it is read.
	Debounce time.Duration
}

// NewWatcher returns a Watcher for dir.
func NewWatcher(dir, doneSuffix string, submit SubmitFunc) *Watcher {
	if doneSuffix == "" {
		doneSuffix = defaultDoneSuffix
	}
	return &Watcher{dir: dir, doneSuffix: doneSuffix, submit: submit, Debounce: defaultDebounce}
}

// IsManifest reports whether name looks like a manifest file.
func IsManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Run handles manifests already in the folder, then new ones until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	log.Info("Watching for batch manifests", "dir", w.dir)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && IsManifest(e.Name()) {
			w.handle(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	ready := make(chan string)
	timers := map[string]*time.Timer{}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !IsManifest(ev.Name) {
				continue
			}
			p := ev.Name
			if t, ok := timers[p]; ok {
				t.Reset(w.Debounce)
				continue
			}
			timers[p] = time.AfterFunc(w.Debounce, func() {
				select {
				case ready <- p:
				case <-ctx.Done():
				}
			})
		case p := <-ready:
			delete(timers, p)
			w.handle(ctx, p)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "Hot folder watcher error", "dir", w.dir)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, p string) {
	if _, err := os.Stat(p); err != nil {
		return
	}

	m, err := LoadManifest(p)
	if err == nil {
		err = w.submit(ctx, m)
	}

	suffix := w.doneSuffix
	if err != nil {
		log.Error(err, "Rejected batch manifest", "file", p)
		suffix = failedSuffix
	} else {
		log.Info("Batch manifest queued", "file", p)
	}

	if rerr := os.Rename(p, p+suffix); rerr != nil {
		log.Error(rerr, "Failed to mark manifest as handled", "file", p)
	}
}
