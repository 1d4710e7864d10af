package services

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"counselor/utils"
)

// CorpusWatcher invalidates cached corpus text and marks the semantic index
// stale when a corpus file changes on disk.
type CorpusWatcher struct {
	watcher *fsnotify.Watcher
	corpus  *Corpus
	index   *CorpusIndex
	changed func(path string)
}

// NewCorpusWatcher watches the corpus directory. changed, when non-nil, is
// called after each handled event.
func NewCorpusWatcher(corpus *Corpus, index *CorpusIndex, changed func(path string)) (*CorpusWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(corpus.Dir()); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", corpus.Dir(), err)
	}
	return &CorpusWatcher{watcher: w, corpus: corpus, index: index, changed: changed}, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (cw *CorpusWatcher) Run(ctx context.Context) {
	logger := utils.GetLogger(ctx)
	defer cw.watcher.Close()

	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 || !cw.corpus.IsSupported(event.Name) {
				continue
			}
			path := filepath.Clean(event.Name)
			cw.corpus.Invalidate(path)
			cw.index.MarkStale()
			logger.Info("corpus file changed", zap.String("file", path), zap.String("op", event.Op.String()))
			if cw.changed != nil {
				cw.changed(path)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("corpus watcher error", zap.Error(err))
		}
	}
}
