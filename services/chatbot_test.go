package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counselor/models"
)

// fakeAPI records every chat completion request it receives.
type fakeAPI struct {
	mu       sync.Mutex
	requests []PerplexityRequest
}

func (f *fakeAPI) record(t *testing.T, r *http.Request) PerplexityRequest {
	var req PerplexityRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return req
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func isFollowUpRequest(req PerplexityRequest) bool {
	return len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "follow-up questions")
}

func testChatbotConfig() models.Config {
	return models.Config{
		Perplexity: models.PerplexityConfig{PrimaryTimeout: 2 * time.Second, FollowUpTimeout: 2 * time.Second},
		Corpus:     models.CorpusConfig{Label: "FISD Documents"},
		Selector:   models.SelectorConfig{SnippetBudget: 1000, ContextMaxChars: 4000},
		Composer:   models.ComposerConfig{ContextMinChars: 50, HistoryWindow: 6, FollowUpsEnabled: true},
	}
}

func TestChatbotRejectsEmptyQuestion(t *testing.T) {
	api := &fakeAPI{}
	perplexity, _ := newTestPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		api.record(t, r)
	})
	bot := NewChatbot(testChatbotConfig(), newTestCorpus(t, fixtureCorpus), perplexity)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := bot.Ask(context.Background(), AskInput{Question: q})
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Equal(t, 0, api.count())
}

func TestChatbotPlaceholderWithoutKey(t *testing.T) {
	bot := NewChatbot(testChatbotConfig(), newTestCorpus(t, fixtureCorpus), NewPerplexityService(models.PerplexityConfig{}, nil))

	resp, err := bot.Ask(context.Background(), AskInput{Question: "What is OCPE?"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, PlaceholderAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.NotNil(t, resp.Sources)
	assert.Equal(t, ConfigurationFollowUps, resp.FollowUps)
	assert.False(t, bot.HasAPIKey())
	assert.Equal(t, 0, bot.APIKeyLength())
}

func TestChatbotComputerScienceScenario(t *testing.T) {
	api := &fakeAPI{}
	perplexity, _ := newTestPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		req := api.record(t, r)
		if isFollowUpRequest(req) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[\"Is Algebra I offered in middle school?\", \"What comes after AP CS A?\", \"Is there a CS club?\"]"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"**AP Computer Science A** requires Algebra I.","citations":[{"url":"https://www.friscoisd.org/cte","title":"CTE"}]}}]}`))
	})
	bot := NewChatbot(testChatbotConfig(), newTestCorpus(t, fixtureCorpus), perplexity)

	resp, err := bot.Ask(context.Background(), AskInput{
		Question: "What are the prerequisites for AP Computer Science?",
		History: []models.HistoryTurn{
			{Type: "user", Content: "Hi"},
			{Type: "bot", Content: "Hello! How can I help?"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "AP Computer Science A requires Algebra I.", resp.Answer)
	assert.Equal(t, "What are the prerequisites for AP Computer Science?", resp.Question)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, models.Source{Type: models.SourceWeb, URL: "https://www.friscoisd.org/cte", Title: "CTE"}, resp.Sources[0])
	assert.Equal(t, models.Source{Type: models.SourceDocument, Filename: "FISD Documents"}, resp.Sources[1])
	assert.Equal(t, []string{"Is Algebra I offered in middle school?", "What comes after AP CS A?", "Is there a CS club?"}, resp.FollowUps)

	require.Equal(t, 2, api.count())
	systemPrompt := api.requests[0].Messages[0].Content
	assert.Contains(t, systemPrompt, "FISD DOCUMENT CONTEXT:\n[information-technology-pathway.pdf]")
	assert.Contains(t, systemPrompt, "prerequisite: Algebra I")

	primary := api.requests[0]
	require.Len(t, primary.Messages, 2)
	assert.Contains(t, primary.Messages[1].Content, "Previous conversation:\nUser: Hi\nAssistant: Hello! How can I help?")
}

func TestChatbotFollowUpFailureUsesDefaults(t *testing.T) {
	perplexity, _ := newTestPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		var req PerplexityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if isFollowUpRequest(req) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Graduation requires 26 credits."}}]}`))
	})
	bot := NewChatbot(testChatbotConfig(), newTestCorpus(t, fixtureCorpus), perplexity)

	resp, err := bot.Ask(context.Background(), AskInput{Question: "How many credits do I need to graduate?"})
	require.NoError(t, err)
	assert.Equal(t, "Graduation requires 26 credits.", resp.Answer)
	assert.Equal(t, DefaultFollowUps, resp.FollowUps)
}

func TestChatbotFollowUpsDisabled(t *testing.T) {
	api := &fakeAPI{}
	perplexity, _ := newTestPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		api.record(t, r)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Yes."}}]}`))
	})
	cfg := testChatbotConfig()
	cfg.Composer.FollowUpsEnabled = false
	bot := NewChatbot(cfg, newTestCorpus(t, fixtureCorpus), perplexity)

	resp, err := bot.Ask(context.Background(), AskInput{Question: "Is there a marketing course?"})
	require.NoError(t, err)
	assert.Nil(t, resp.FollowUps)
	assert.Equal(t, 1, api.count())
}

func TestChatbotPrimaryTimeout(t *testing.T) {
	release := make(chan struct{})
	perplexity, _ := newTestPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	cfg := testChatbotConfig()
	cfg.Perplexity.PrimaryTimeout = 50 * time.Millisecond
	bot := NewChatbot(cfg, newTestCorpus(t, fixtureCorpus), perplexity)

	_, err := bot.Ask(context.Background(), AskInput{Question: "What is OCPE?"})
	require.ErrorIs(t, err, ErrUpstreamTimeout)

	failure := ClassifyFailure(err)
	assert.Equal(t, http.StatusRequestTimeout, failure.Status)
	assert.Equal(t, "Request timed out. The AI service is taking longer than expected.", failure.Message)
}

func TestChatbotIgnoresCallerCancellation(t *testing.T) {
	api := &fakeAPI{}
	perplexity, _ := newTestPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		api.record(t, r)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Still answered."}}]}`))
	})
	cfg := testChatbotConfig()
	cfg.Composer.FollowUpsEnabled = false
	bot := NewChatbot(cfg, newTestCorpus(t, fixtureCorpus), perplexity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := bot.Ask(ctx, AskInput{Question: "What is OCPE?"})
	require.NoError(t, err)
	assert.Equal(t, "Still answered.", resp.Answer)
}
