package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"counselor/models"
	"counselor/utils"
)

// PlaceholderAnswer is returned instead of calling the API when no key is set.
const PlaceholderAnswer = "This is a test response. The Perplexity API key is not configured. Please set PERPLEXITY_API_KEY in the environment."

// AskInput is one question plus the caller's conversation so far.
type AskInput struct {
	Question string
	History  []models.HistoryTurn
}

// Chatbot runs the ask pipeline: context selection, the primary answer and
// the optional follow-up call.
type Chatbot struct {
	cfg        models.Config
	startTime  time.Time
	perplexity *PerplexityService
	corpus     *Corpus
	selector   *Selector
	composer   *Composer
	followUps  *FollowUpGenerator
	tokens     *TokenCounter
}

// NewChatbot wires the pipeline from cfg.
func NewChatbot(cfg models.Config, corpus *Corpus, perplexity *PerplexityService) *Chatbot {
	// Initialize selector, composer and follow-up generator over the shared client
	c := &Chatbot{
		cfg:        cfg,
		startTime:  time.Now(),
		perplexity: perplexity,
		corpus:     corpus,
		selector:   NewSelector(corpus, cfg.Selector),
		composer:   NewComposer(perplexity, cfg.Composer, corpus.Label()),
		followUps:  NewFollowUpGenerator(perplexity),
	}
	// Token counting is only for prompt size logging
	if cfg.Log.PromptTokens {
		c.tokens = NewTokenCounter()
	}
	return c
}

// Ask answers one question. Only primary-path failures are returned; the
// corpus and follow-up steps degrade silently.
func (c *Chatbot) Ask(ctx context.Context, in AskInput) (*models.AskResponse, error) {
	logger := utils.GetLogger(ctx)
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, ErrValidation
	}
	logger.Info("processing question", zap.String("question", question), zap.Int("history", len(in.History)))

	// Without an API key answer with a placeholder instead of failing
	if !c.perplexity.IsAvailable() {
		logger.Warn("perplexity api key missing, returning placeholder answer")
		return &models.AskResponse{
			Success:   true,
			Answer:    PlaceholderAnswer,
			Sources:   []models.Source{},
			Question:  question,
			FollowUps: append([]string(nil), ConfigurationFollowUps...),
		}, nil
	}

	// Select document context for the question
	history := NormalizeHistory(in.History, c.cfg.Composer.HistoryWindow)
	block := c.selector.SelectContext(ctx, question)
	logger.Debug("state", zap.String("state", "context_selected"), zap.Bool("has_context", block != ""))

	if c.tokens != nil {
		if n := c.tokens.Count(c.composer.BuildMessages(question, history, block)); n >= 0 {
			logger.Info("prompt size", zap.Int("tokens", n))
		}
	}

	// Primary call
	primaryCtx, cancel := detachedTimeout(ctx, c.cfg.Perplexity.PrimaryTimeout)
	started := time.Now()
	result, err := c.composer.ComposeAnswer(primaryCtx, question, history, block)
	cancel()
	if err != nil {
		logger.Error("primary call failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return nil, err
	}
	logger.Debug("state", zap.String("state", "primary_call_succeeded"), zap.Duration("elapsed", time.Since(started)))

	resp := &models.AskResponse{
		Success:  true,
		Answer:   result.Answer,
		Sources:  result.Sources,
		Question: question,
	}

	// Generate follow-up questions; failures fall back to defaults
	if c.cfg.Composer.FollowUpsEnabled {
		followCtx, cancel := detachedTimeout(ctx, c.cfg.Perplexity.FollowUpTimeout)
		resp.FollowUps = c.followUps.Generate(followCtx, question, result.Answer)
		cancel()
	}

	logger.Debug("state", zap.String("state", "responded"), zap.Int("sources", len(resp.Sources)))
	return resp, nil
}

// detachedTimeout keeps ctx values but not its cancellation, so a client that
// disconnects does not abort an in-flight upstream call.
func detachedTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if d <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, d)
}

// Corpus returns the document corpus the chatbot reads from.
func (c *Chatbot) Corpus() *Corpus {
	return c.corpus
}

// HasAPIKey reports whether the generation API is configured.
func (c *Chatbot) HasAPIKey() bool {
	return c.perplexity.IsAvailable()
}

// APIKeyLength returns the configured key length.
func (c *Chatbot) APIKeyLength() int {
	return len(c.cfg.Perplexity.APIKey)
}

// GetStatus returns the current status of the chatbot
func (c *Chatbot) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"status":            "active",
		"uptime":            time.Since(c.startTime).String(),
		"provider":          c.perplexity.GetStatus(),
		"corpus_dir":        c.corpus.Dir(),
		"cached_documents":  c.corpus.Cached(),
		"answer_format":     c.cfg.Composer.AnswerFormat,
		"followups_enabled": c.cfg.Composer.FollowUpsEnabled,
		"history_window":    c.cfg.Composer.HistoryWindow,
		"primary_timeout":   c.cfg.Perplexity.PrimaryTimeout.String(),
		"followup_timeout":  c.cfg.Perplexity.FollowUpTimeout.String(),
	}
}
