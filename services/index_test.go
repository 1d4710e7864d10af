package services

import (
	"context"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counselor/models"
)

const hashDims = 1024

// hashEmbedding is a deterministic bag-of-words embedding. The last dimension
// is a constant bias so no vector is ever zero.
func hashEmbedding() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, hashDims+1)
		vec[hashDims] = 1
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			vec[h.Sum32()%hashDims]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
		return vec, nil
	}
}

var indexFixtures = map[string]string{
	"agriculture.txt": "Agriculture students raise livestock and join FFA.",
	"health.txt":      "Nursing students study anatomy and physiology.",
	"law.txt":         "Criminal justice courses cover forensic investigation.",
}

func TestCorpusIndexSearch(t *testing.T) {
	ctx := context.Background()
	index := NewCorpusIndex(newTestCorpus(t, indexFixtures), models.IndexConfig{}, hashEmbedding())
	require.True(t, index.Enabled())

	results, err := index.Search(ctx, "livestock agriculture", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "agriculture.txt", results[0].Filename)
	assert.Equal(t, "agriculture_chunk_0", results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)

	// limit is clamped to the number of chunks
	results, err = index.Search(ctx, "forensic investigation", 20)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "law.txt", results[0].Filename)

	status := index.GetStatus()
	assert.Equal(t, true, status["enabled"])
	assert.Equal(t, 3, status["documents"])
	assert.Equal(t, 3, status["chunks"])
	assert.Equal(t, false, status["stale"])
}

func TestCorpusIndexRebuildAfterMarkStale(t *testing.T) {
	ctx := context.Background()
	corpus := newTestCorpus(t, indexFixtures)
	index := NewCorpusIndex(corpus, models.IndexConfig{}, hashEmbedding())

	n, err := index.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, os.WriteFile(filepath.Join(corpus.Dir(), "arts.md"), []byte("Animation and graphic design electives."), 0o644))
	index.MarkStale()

	results, err := index.Search(ctx, "animation design", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "arts.md", results[0].Filename)
	assert.Equal(t, 4, index.GetStatus()["chunks"])
}

func TestCorpusIndexMarkStaleDuringRebuild(t *testing.T) {
	ctx := context.Background()
	embed := hashEmbedding()
	var index *CorpusIndex
	var once sync.Once
	index = NewCorpusIndex(newTestCorpus(t, indexFixtures), models.IndexConfig{}, func(ctx context.Context, text string) ([]float32, error) {
		// a watcher event arrives while chunks are being embedded
		once.Do(index.MarkStale)
		return embed(ctx, text)
	})

	_, err := index.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, index.GetStatus()["stale"])

	_, err = index.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, index.GetStatus()["stale"])
}

func TestCorpusIndexConcurrentSearchesRebuildOnce(t *testing.T) {
	ctx := context.Background()
	embed := hashEmbedding()
	var embedded atomic.Int32
	index := NewCorpusIndex(newTestCorpus(t, indexFixtures), models.IndexConfig{}, func(ctx context.Context, text string) ([]float32, error) {
		if text == indexFixtures["agriculture.txt"] {
			embedded.Add(1)
		}
		return embed(ctx, text)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := index.Search(ctx, "livestock agriculture", 1)
			assert.NoError(t, err)
			if assert.Len(t, results, 1) {
				assert.Equal(t, "agriculture.txt", results[0].Filename)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), embedded.Load())
}

func TestCorpusIndexEmptyCorpus(t *testing.T) {
	index := NewCorpusIndex(newTestCorpus(t, nil), models.IndexConfig{}, hashEmbedding())
	results, err := index.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCorpusIndexDisabled(t *testing.T) {
	index := NewCorpusIndex(newTestCorpus(t, indexFixtures), models.IndexConfig{}, nil)
	assert.False(t, index.Enabled())

	_, err := index.Search(context.Background(), "livestock", 5)
	assert.ErrorIs(t, err, ErrIndexDisabled)
	_, err = index.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrIndexDisabled)
	assert.Contains(t, index.GetStatus()["note"], "EMBEDDING_PROVIDER")
}

func TestEmbeddingFuncFromConfig(t *testing.T) {
	_, err := EmbeddingFuncFromConfig(models.IndexConfig{})
	assert.ErrorIs(t, err, ErrIndexDisabled)
	_, err = EmbeddingFuncFromConfig(models.IndexConfig{EmbeddingProvider: models.EmbeddingNone})
	assert.ErrorIs(t, err, ErrIndexDisabled)
	_, err = EmbeddingFuncFromConfig(models.IndexConfig{EmbeddingProvider: models.EmbeddingOpenAI})
	assert.Error(t, err)
	_, err = EmbeddingFuncFromConfig(models.IndexConfig{EmbeddingProvider: "bogus"})
	assert.Error(t, err)

	fn, err := EmbeddingFuncFromConfig(models.IndexConfig{EmbeddingProvider: models.EmbeddingOllama})
	require.NoError(t, err)
	assert.NotNil(t, fn)
	fn, err = EmbeddingFuncFromConfig(models.IndexConfig{EmbeddingProvider: models.EmbeddingOpenAI, OpenAIAPIKey: "sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, fn)
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, chunkText("   ", 100))
	assert.Equal(t, []string{"short text"}, chunkText("short text", 100))

	text := strings.Repeat("Students choose an endorsement in grade eight. ", 20)
	chunks := chunkText(text, 120)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 120)
		assert.True(t, strings.HasSuffix(c, "."))
	}
}
