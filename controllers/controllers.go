package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"counselor/models"
	"counselor/services"
	"counselor/utils"
)

// Controller handles all the business logic behind the HTTP routes
type Controller struct {
	cfg            models.Config
	chatbot        *services.Chatbot
	index          *services.CorpusIndex
	discordService *services.DiscordService
	validate       *validator.Validate
	startTime      time.Time
}

// NewController creates a new controller instance from cfg
func NewController(cfg models.Config) *Controller {
	// Initialize corpus, Perplexity client and chatbot
	corpus := services.NewCorpus(cfg.Corpus)
	perplexity := services.NewPerplexityService(cfg.Perplexity, nil)
	chatbot := services.NewChatbot(cfg, corpus, perplexity)

	// Initialize semantic index; it stays disabled without an embedding backend
	embed, err := services.EmbeddingFuncFromConfig(cfg.Index)
	if err != nil && !errors.Is(err, services.ErrIndexDisabled) {
		zap.L().Warn("semantic search disabled", zap.Error(err))
	}
	index := services.NewCorpusIndex(corpus, cfg.Index, embed)

	// Initialize Discord service (started later only with --discord)
	discordService := services.NewDiscordService(cfg.Discord, chatbot)

	return New(cfg, chatbot, index, discordService)
}

// New assembles a controller from already built services.
func New(cfg models.Config, chatbot *services.Chatbot, index *services.CorpusIndex, discordService *services.DiscordService) *Controller {
	return &Controller{
		cfg:            cfg,
		chatbot:        chatbot,
		index:          index,
		discordService: discordService,
		validate:       newValidator(),
		startTime:      time.Now(),
	}
}

// RegisterRoutes mounts every API route on r. Routes sit on the root router
// so a known path with the wrong method answers 405 rather than 404.
func (c *Controller) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", c.RootHandler).Methods("GET")

	// Chat and search
	r.HandleFunc("/api/ask", c.AskHandler).Methods("POST")
	r.HandleFunc("/api/search", c.SearchHandler).Methods("POST")

	// Liveness
	r.HandleFunc("/api/health", c.HealthHandler).Methods("GET")
	r.HandleFunc("/api/hello", c.HelloHandler).Methods("GET")
	r.HandleFunc("/api/ping", c.PingHandler).Methods("GET")

	// Corpus maintenance
	r.HandleFunc("/api/upload", c.UploadStatusHandler).Methods("GET")
	r.HandleFunc("/api/upload/vector-store", c.VectorStoreHandler).Methods("GET")
	r.HandleFunc("/api/upload/input-dir", c.InputDirHandler).Methods("GET")
	r.HandleFunc("/api/upload/process", c.ProcessHandler).Methods("POST")
}

// StartServices starts all background services (corpus watcher, Discord bot)
func (c *Controller) StartServices(ctx context.Context, enableDiscord bool) error {
	logger := utils.GetLogger(ctx)

	// Watch the corpus directory so edits invalidate caches and the index
	if c.cfg.Corpus.Watch {
		watcher, err := services.NewCorpusWatcher(c.chatbot.Corpus(), c.index, nil)
		if err != nil {
			logger.Warn("corpus watcher not started", zap.Error(err))
		} else {
			go watcher.Run(ctx)
			logger.Info("watching corpus directory", zap.String("dir", c.chatbot.Corpus().Dir()))
		}
	}

	// Start Discord service only if enabled via flag AND properly configured
	switch {
	case enableDiscord && c.discordService.IsEnabled():
		if err := c.discordService.Start(); err != nil {
			logger.Error("failed to start discord service", zap.Error(err))
			return err
		}
	case enableDiscord:
		logger.Warn("discord service requested but DISCORD_BOT_TOKEN is not set")
	default:
		logger.Info("discord service disabled via command line flag")
	}

	return nil
}

// StopServices stops all background services
func (c *Controller) StopServices() error {
	if c.discordService != nil {
		return c.discordService.Stop()
	}
	return nil
}

// HealthHandler provides a health check endpoint
func (c *Controller) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":       "OK",
		"message":      "FISD Counselor Backend is running",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"hasApiKey":    c.chatbot.HasAPIKey(),
		"apiKeyLength": c.chatbot.APIKeyLength(),
		"uptime":       time.Since(c.startTime).String(),
		"chatbot":      c.chatbot.GetStatus(),
		"discord":      c.discordService.GetStatus(),
		"index":        c.index.GetStatus(),
	}
	// Return JSON response
	writeJSON(w, http.StatusOK, health)
}
