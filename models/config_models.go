package models

import "time"

// Answer formatting modes.
const (
	FormatProse = "prose"
	FormatList  = "list"
)

// Embedding providers for the semantic corpus index.
const (
	EmbeddingNone   = "none"
	EmbeddingOpenAI = "openai"
	EmbeddingOllama = "ollama"
)

// Config is the full runtime configuration, built once at startup and passed
// into every service constructor.
type Config struct {
	Port               string
	CORSAllowedOrigins []string

	Perplexity PerplexityConfig
	Corpus     CorpusConfig
	Selector   SelectorConfig
	Composer   ComposerConfig
	Index      IndexConfig
	Discord    DiscordConfig
	Log        LogConfig
}

// PerplexityConfig configures the generation API client.
type PerplexityConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	PrimaryTimeout  time.Duration
	FollowUpTimeout time.Duration
}

// CorpusConfig configures the local document corpus.
type CorpusConfig struct {
	Dir       string
	Label     string
	CacheSize int
	CacheTTL  time.Duration
	Watch     bool
}

// SelectorConfig bounds snippet selection.
type SelectorConfig struct {
	SnippetBudget    int
	ContextMaxChars  int
	ExtraDocuments   int
	GenericDocuments int
}

// ComposerConfig controls prompt building and answer post-processing.
type ComposerConfig struct {
	ContextMinChars  int
	HistoryWindow    int
	MaxAnswerWords   int
	AnswerFormat     string
	FollowUpsEnabled bool
}

// IndexConfig configures the chromem-go semantic index.
type IndexConfig struct {
	EmbeddingProvider string
	EmbeddingModel    string
	OpenAIAPIKey      string
	OllamaBaseURL     string
	CollectionName    string
	ChunkSize         int
}

// Enabled reports whether an embedding provider was configured.
func (c IndexConfig) Enabled() bool {
	return c.EmbeddingProvider != "" && c.EmbeddingProvider != EmbeddingNone
}

// LogConfig configures zap.
type LogConfig struct {
	Level        string
	Development  bool
	PromptTokens bool
}

// DiscordConfig represents Discord service configuration
type DiscordConfig struct {
	Token         string
	CommandPrefix string
	HistoryLimit  int
}

// Enabled reports whether a bot token was supplied.
func (c DiscordConfig) Enabled() bool {
	return c.Token != ""
}
