package services

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"counselor/models"
	"counselor/utils"
)

var sentenceRegex = regexp.MustCompile(`[.!?]+\s+`)

// CorpusIndex is an in-memory chromem-go vector index over corpus chunks.
// It backs the semantic search endpoint only; answer context is chosen by
// the keyword selector.
type CorpusIndex struct {
	corpus *Corpus
	cfg    models.IndexConfig
	embed  chromem.EmbeddingFunc

	buildMu    sync.Mutex
	mu         sync.RWMutex
	collection *chromem.Collection
	stale      bool
	generation uint64 // bumped by MarkStale
	indexedAt  time.Time
	documents  int
}

// EmbeddingFuncFromConfig returns the embedding function for the configured
// provider, or ErrIndexDisabled.
func EmbeddingFuncFromConfig(cfg models.IndexConfig) (chromem.EmbeddingFunc, error) {
	switch cfg.EmbeddingProvider {
	case models.EmbeddingOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embeddings need OPENAI_API_KEY")
		}
		model := chromem.EmbeddingModelOpenAI3Small
		if cfg.EmbeddingModel != "" {
			model = chromem.EmbeddingModelOpenAI(cfg.EmbeddingModel)
		}
		return chromem.NewEmbeddingFuncOpenAI(cfg.OpenAIAPIKey, model), nil
	case models.EmbeddingOllama:
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return chromem.NewEmbeddingFuncOllama(model, cfg.OllamaBaseURL), nil
	case "", models.EmbeddingNone:
		return nil, ErrIndexDisabled
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

// NewCorpusIndex creates an index. A nil embed disables it.
func NewCorpusIndex(corpus *Corpus, cfg models.IndexConfig, embed chromem.EmbeddingFunc) *CorpusIndex {
	if cfg.CollectionName == "" {
		cfg.CollectionName = "fisd-corpus"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	return &CorpusIndex{corpus: corpus, cfg: cfg, embed: embed, stale: true}
}

// Enabled reports whether an embedding function is configured.
func (x *CorpusIndex) Enabled() bool {
	return x != nil && x.embed != nil
}

// MarkStale forces a rebuild before the next search.
func (x *CorpusIndex) MarkStale() {
	if x == nil {
		return
	}
	x.mu.Lock()
	x.stale = true
	x.generation++
	x.mu.Unlock()
}

// Rebuild re-chunks the whole corpus into a fresh collection and swaps it in.
// It returns the number of indexed chunks. A MarkStale that lands while the
// rebuild runs leaves the index stale.
func (x *CorpusIndex) Rebuild(ctx context.Context) (int, error) {
	if !x.Enabled() {
		return 0, ErrIndexDisabled
	}
	x.buildMu.Lock()
	defer x.buildMu.Unlock()
	return x.rebuildLocked(ctx)
}

func (x *CorpusIndex) rebuildLocked(ctx context.Context) (int, error) {
	logger := utils.GetLogger(ctx)

	x.mu.RLock()
	generation := x.generation
	x.mu.RUnlock()

	docs, err := x.corpus.List(ctx)
	if err != nil {
		return 0, err
	}

	var chunks []chromem.Document
	for _, doc := range docs {
		text, err := x.corpus.Text(ctx, doc)
		if err != nil {
			logger.Warn("skip document during indexing", zap.String("file", doc.Name), zap.Error(err))
			continue
		}
		parts := chunkText(text, x.cfg.ChunkSize)
		base := strings.TrimSuffix(doc.Name, doc.Ext)
		for i, part := range parts {
			chunks = append(chunks, chromem.Document{
				ID:      fmt.Sprintf("%s_chunk_%d", base, i),
				Content: part,
				Metadata: map[string]string{
					"file_name":    doc.Name,
					"chunk_index":  strconv.Itoa(i),
					"total_chunks": strconv.Itoa(len(parts)),
				},
			})
		}
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection(x.cfg.CollectionName, nil, x.embed)
	if err != nil {
		return 0, fmt.Errorf("failed to create collection: %w", err)
	}
	if len(chunks) > 0 {
		if err := collection.AddDocuments(ctx, chunks, runtime.NumCPU()); err != nil {
			return 0, fmt.Errorf("failed to add documents: %w", err)
		}
	}

	x.mu.Lock()
	x.collection = collection
	x.stale = x.generation != generation
	x.indexedAt = time.Now()
	x.documents = len(docs)
	x.mu.Unlock()

	logger.Info("corpus indexed", zap.Int("documents", len(docs)), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Search returns up to limit chunks ranked by similarity to query.
func (x *CorpusIndex) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if !x.Enabled() {
		return nil, ErrIndexDisabled
	}
	if limit <= 0 {
		limit = 5
	}

	collection, err := x.fresh(ctx)
	if err != nil {
		return nil, err
	}

	count := collection.Count()
	if count == 0 {
		return []models.SearchResult{}, nil
	}
	if limit > count {
		limit = count
	}

	results, err := collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.SearchResult{
			ID:       r.ID,
			Filename: r.Metadata["file_name"],
			Content:  r.Content,
			Score:    float64(r.Similarity),
		})
	}
	return out, nil
}

// fresh returns the current collection, rebuilding it first when stale.
// Concurrent callers wait for a single rebuild.
func (x *CorpusIndex) fresh(ctx context.Context) (*chromem.Collection, error) {
	x.mu.RLock()
	collection, stale := x.collection, x.stale
	x.mu.RUnlock()
	if !stale && collection != nil {
		return collection, nil
	}

	x.buildMu.Lock()
	defer x.buildMu.Unlock()

	// another search may have rebuilt while we waited
	x.mu.RLock()
	collection, stale = x.collection, x.stale
	x.mu.RUnlock()
	if !stale && collection != nil {
		return collection, nil
	}

	if _, err := x.rebuildLocked(ctx); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.collection, nil
}

// GetStatus returns the status of the index
func (x *CorpusIndex) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"enabled":    x.Enabled(),
		"collection": x.cfg.CollectionName,
		"provider":   x.cfg.EmbeddingProvider,
	}
	if !x.Enabled() {
		status["note"] = "Set EMBEDDING_PROVIDER to openai or ollama to enable semantic search"
		return status
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	status["stale"] = x.stale
	status["documents"] = x.documents
	if x.collection != nil {
		status["chunks"] = x.collection.Count()
		status["indexed_at"] = x.indexedAt.UTC().Format(time.RFC3339)
	}
	return status
}

// chunkText splits text into chunks of whole sentences of at most
// maxChunkSize bytes, except for single sentences longer than that.
func chunkText(text string, maxChunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChunkSize {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, sentence := range splitIntoSentences(text) {
		if current.Len()+len(sentence) > maxChunkSize && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(sentence)
		current.WriteString(". ")
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

func splitIntoSentences(text string) []string {
	var result []string
	for _, sentence := range sentenceRegex.Split(text, -1) {
		sentence = strings.Join(strings.Fields(sentence), " ")
		if sentence != "" {
			result = append(result, sentence)
		}
	}
	return result
}
