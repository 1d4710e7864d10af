package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"counselor/models"
)

// envLocations are tried in order when no explicit env file is given.
var envLocations = []string{
	".env",
	".env.local",
	"config/.env",
}

// LoadEnv loads variables from filename. A missing file returns an error
// wrapping fs.ErrNotExist. Variables already present in the process
// environment are kept.
func LoadEnv(filename string) error {
	if _, err := os.Stat(filename); errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := godotenv.Load(filename); err != nil {
		return fmt.Errorf("load %s: %w", filename, err)
	}
	zap.L().Info("loaded environment file", zap.String("file", filename))
	return nil
}

// LoadEnvWithFallback loads the explicit file when set, otherwise the first
// env file found in the standard locations.
func LoadEnvWithFallback(explicit string) error {
	if explicit != "" {
		return LoadEnv(explicit)
	}
	for _, location := range envLocations {
		err := LoadEnv(location)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	zap.L().Debug("no env file found, using process environment only")
	return nil
}

// LoadConfig builds the runtime configuration from the environment.
func LoadConfig() models.Config {
	return models.Config{
		Port:               getenv("PORT", "5000"),
		CORSAllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Perplexity: models.PerplexityConfig{
			APIKey:          strings.TrimSpace(os.Getenv("PERPLEXITY_API_KEY")),
			BaseURL:         strings.TrimRight(getenv("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"), "/"),
			Model:           getenv("PERPLEXITY_MODEL", "sonar-pro"),
			PrimaryTimeout:  getenvDuration("PRIMARY_TIMEOUT", 30*time.Second),
			FollowUpTimeout: getenvDuration("FOLLOWUP_TIMEOUT", 15*time.Second),
		},
		Corpus: models.CorpusConfig{
			Dir:       getenv("CORPUS_DIR", "pdfs"),
			Label:     getenv("CORPUS_LABEL", "FISD Documents"),
			CacheSize: getenvInt("TEXT_CACHE_SIZE", 128),
			CacheTTL:  getenvDuration("TEXT_CACHE_TTL", time.Hour),
			Watch:     getenvBool("WATCH_CORPUS", true),
		},
		Selector: models.SelectorConfig{
			SnippetBudget:    getenvInt("SNIPPET_BUDGET", 1000),
			ContextMaxChars:  getenvInt("CONTEXT_MAX_CHARS", 4000),
			ExtraDocuments:   getenvInt("EXTRA_DOCUMENTS", 2),
			GenericDocuments: getenvInt("GENERIC_DOCUMENTS", 3),
		},
		Composer: models.ComposerConfig{
			ContextMinChars:  getenvInt("CONTEXT_MIN_CHARS", 150),
			HistoryWindow:    getenvInt("HISTORY_WINDOW", 6),
			MaxAnswerWords:   getenvInt("MAX_ANSWER_WORDS", 250),
			AnswerFormat:     strings.ToLower(getenv("ANSWER_FORMAT", models.FormatProse)),
			FollowUpsEnabled: getenvBool("FOLLOWUPS_ENABLED", true),
		},
		Index: models.IndexConfig{
			EmbeddingProvider: strings.ToLower(getenv("EMBEDDING_PROVIDER", models.EmbeddingNone)),
			EmbeddingModel:    os.Getenv("EMBEDDING_MODEL"),
			OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
			OllamaBaseURL:     getenv("OLLAMA_BASE_URL", "http://localhost:11434/api"),
			CollectionName:    getenv("INDEX_COLLECTION", "fisd-corpus"),
			ChunkSize:         getenvInt("INDEX_CHUNK_SIZE", 500),
		},
		Discord: models.DiscordConfig{
			Token:         os.Getenv("DISCORD_BOT_TOKEN"),
			CommandPrefix: getenv("DISCORD_COMMAND_PREFIX", "!ask "),
			HistoryLimit:  getenvInt("DISCORD_HISTORY_LIMIT", 10),
		},
		Log: models.LogConfig{
			Level:        getenv("LOG_LEVEL", "info"),
			Development:  getenvBool("LOG_DEVELOPMENT", false),
			PromptTokens: getenvBool("LOG_PROMPT_TOKENS", false),
		},
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		zap.L().Warn("invalid integer in environment, using default",
			zap.String("key", key), zap.String("value", v), zap.Int("default", def))
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		zap.L().Warn("invalid boolean in environment, using default",
			zap.String("key", key), zap.String("value", v), zap.Bool("default", def))
		return def
	}
	return b
}

// getenvDuration accepts Go durations ("15s") or a bare number of milliseconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		zap.L().Warn("invalid duration in environment, using default",
			zap.String("key", key), zap.String("value", v), zap.Duration("default", def))
		return def
	}
	return d
}

func getenvList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
