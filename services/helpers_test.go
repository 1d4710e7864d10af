package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"counselor/models"
)

// newTestCorpus writes files into a temp dir. PDFs are read as plain text so
// fixtures stay readable.
func newTestCorpus(t *testing.T, files map[string]string) *Corpus {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return NewCorpus(models.CorpusConfig{Dir: dir, Label: "FISD Documents", CacheSize: 16},
		WithExtractor(".pdf", readPlainText))
}

type fakeCompleter struct {
	mu       sync.Mutex
	calls    [][]models.ChatMessage
	replies  []*Completion
	errs     []error
	fallback *Completion
}

func (f *fakeCompleter) Complete(_ context.Context, messages []models.ChatMessage) (*Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, messages)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.replies) && f.replies[i] != nil {
		return f.replies[i], nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return &Completion{Content: "ok"}, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
