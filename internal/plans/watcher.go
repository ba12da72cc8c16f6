package plans

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchDebounce suppresses rapid re-notifications for the same file.
const watchDebounce = 500 * time.Millisecond

// Watcher observes the project's docs/plans directory and invokes
// onChange with the plan path whenever a Markdown plan is written,
// created, or removed.
type Watcher struct {
	projectRoot string
	watcher     *fsnotify.Watcher
	onChange    func(path string)
	lastEvent   map[string]time.Time
}

// NewWatcher creates a plans-directory watcher. A missing plans
// directory is not an error; the watcher just has nothing to observe
// until Start is retried.
func NewWatcher(projectRoot string, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create plans watcher: %w", err)
	}
	return &Watcher{
		projectRoot: projectRoot,
		watcher:     fsw,
		onChange:    onChange,
		lastEvent:   make(map[string]time.Time),
	}, nil
}

// Start watches until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Join(w.projectRoot, PlansDirName)
	if err := w.watcher.Add(dir); err != nil {
		log.Debug().Str("dir", dir).Err(err).Msg("Plans directory not watchable")
		<-ctx.Done()
		return nil
	}
	log.Info().Str("dir", dir).Msg("Watching plans directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Plans watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
		return
	}

	now := time.Now()
	if last, ok := w.lastEvent[event.Name]; ok && now.Sub(last) < watchDebounce {
		return
	}
	w.lastEvent[event.Name] = now

	log.Debug().Str("plan", event.Name).Str("op", event.Op.String()).Msg("Plan file changed")
	if w.onChange != nil {
		w.onChange(event.Name)
	}
}
