package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"counselor/models"
	"counselor/utils"
)

// Completer is the generation API boundary.
type Completer interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (*Completion, error)
}

// AnswerResult is the outcome of the primary generation call.
type AnswerResult struct {
	Answer      string
	Sources     []models.Source
	UsedContext bool
}

type rewriteRule struct {
	pattern *regexp.Regexp
	repl    string
	prose   bool // applied in prose mode only
}

var (
	markupRules = []rewriteRule{
		{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1", false},
		{regexp.MustCompile(`\*([^\s*][^*\n]*?)\*`), "$1", false},
		{regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`), "", false},
		{regexp.MustCompile(`\n\s*\n\s*\n`), "\n\n", false},
		{regexp.MustCompile(`(?m)^\s*[-*+]\s+`), "", true},
		{regexp.MustCompile(`(?m)^\s*\d+\.\s+`), "", true},
		{regexp.MustCompile(`\|.*\|`), "", false},
		{regexp.MustCompile(`---+`), "", false},
		{regexp.MustCompile(`\[.*?\]`), "", false},
	}

	blankLines       = regexp.MustCompile(`\n\s*\n`)
	whitespaceRuns   = regexp.MustCompile(`\s+`)
	horizontalSpaces = regexp.MustCompile(`[ \t\f\v]+`)
	lineEdges        = regexp.MustCompile(`(?m)^[ \t]+|[ \t]+$`)
)

// NormalizeAnswer strips markdown artifacts from generated text. In list
// mode bullet and numbered markers survive and lines stay separate. The
// transform is applied until it stops changing the text, so it is idempotent.
func NormalizeAnswer(text, mode string) string {
	prev := text
	for i := 0; i <= len(text)+1; i++ {
		next := normalizePass(prev, mode)
		if next == prev {
			return next
		}
		prev = next
	}
	return prev
}

func normalizePass(text, mode string) string {
	list := mode == models.FormatList
	for _, rule := range markupRules {
		if rule.prose && list {
			continue
		}
		text = rule.pattern.ReplaceAllString(text, rule.repl)
	}
	if list {
		text = blankLines.ReplaceAllString(text, "\n")
		text = horizontalSpaces.ReplaceAllString(text, " ")
		text = lineEdges.ReplaceAllString(text, "")
	} else {
		text = blankLines.ReplaceAllString(text, " ")
		text = whitespaceRuns.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(text)
}

// Composer builds prompts, makes the primary call and post-processes it.
type Composer struct {
	completer Completer
	cfg       models.ComposerConfig
	label     string
}

// NewComposer creates a composer. label names the local corpus in sources.
func NewComposer(completer Completer, cfg models.ComposerConfig, label string) *Composer {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 6
	}
	if cfg.MaxAnswerWords <= 0 {
		cfg.MaxAnswerWords = 250
	}
	if cfg.AnswerFormat != models.FormatList {
		cfg.AnswerFormat = models.FormatProse
	}
	if label == "" {
		label = "FISD Documents"
	}
	return &Composer{completer: completer, cfg: cfg, label: label}
}

// UsesContext reports whether block is substantial enough to embed.
func (c *Composer) UsesContext(block string) bool {
	return block != "" && utf8.RuneCountInString(block) >= c.cfg.ContextMinChars
}

// BuildSystemPrompt returns the persona and formatting rules, followed by the
// context block when it is substantial.
func (c *Composer) BuildSystemPrompt(block string) string {
	var b strings.Builder
	b.WriteString("You are a helpful FISD (Frisco Independent School District) counselor assistant. ")
	b.WriteString("Answer questions about FISD policies, procedures, course pathways and academic guidance using web search")
	if c.UsesContext(block) {
		b.WriteString(" and the FISD document context provided below")
	}
	b.WriteString(".\n\nIMPORTANT ACRONYMS:\n- OCPE = Off-Campus PE (Physical Education)\n\nRULES:\n")
	b.WriteString("- Always mention FISD specifically\n")
	fmt.Fprintf(&b, "- Keep responses under %d words\n", c.cfg.MaxAnswerWords)
	if c.cfg.AnswerFormat == models.FormatList {
		b.WriteString("- Use simple dash bullet points for lists and no other formatting symbols\n")
	} else {
		b.WriteString("- NO formatting symbols like asterisks, bullets, dashes, or markdown\n")
		b.WriteString("- If you need to list items, use simple text like \"Courses include: item 1, item 2, item 3\"\n")
	}
	b.WriteString("- NO tables, headers, or complex formatting\n")
	b.WriteString("- NO \"Based on my search\" or \"According to\" phrases\n")
	b.WriteString("- Keep it conversational and human-like\n\n")
	b.WriteString("Use the conversation context to understand references and maintain topic continuity.")

	if c.UsesContext(block) {
		b.WriteString("\n\nFISD DOCUMENT CONTEXT:\n")
		b.WriteString(block)
	}
	return b.String()
}

// NormalizeHistory maps inbound turns onto user/assistant turns, drops empty
// ones and keeps the most recent window.
func NormalizeHistory(turns []models.HistoryTurn, window int) []models.ChatMessage {
	var out []models.ChatMessage
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		role := models.RoleUser
		if t.IsAssistant() {
			role = models.RoleAssistant
		}
		out = append(out, models.ChatMessage{Role: role, Content: content})
	}
	if window > 0 && len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}

// BuildUserMessage prepends the rendered history to the question.
func BuildUserMessage(question string, history []models.ChatMessage) string {
	if len(history) == 0 {
		return question
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		speaker := "User"
		if turn.Role == models.RoleAssistant {
			speaker = "Assistant"
		}
		lines = append(lines, speaker+": "+turn.Content)
	}
	return "Previous conversation:\n" + strings.Join(lines, "\n") + "\n\nCurrent question: " + question
}

// BuildMessages returns the system and user messages for the primary call.
func (c *Composer) BuildMessages(question string, history []models.ChatMessage, block string) []models.ChatMessage {
	return []models.ChatMessage{
		{Role: models.RoleSystem, Content: c.BuildSystemPrompt(block)},
		{Role: models.RoleUser, Content: BuildUserMessage(question, history)},
	}
}

// AssembleSources maps citations to web sources and appends the corpus entry
// when local context was used.
func AssembleSources(citations []Citation, usedContext bool, label string) []models.Source {
	sources := make([]models.Source, 0, len(citations)+1)
	for _, c := range citations {
		if strings.TrimSpace(c.URL) == "" {
			continue
		}
		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = "Web Source"
		}
		sources = append(sources, models.Source{Type: models.SourceWeb, URL: c.URL, Title: title})
	}
	if usedContext {
		sources = append(sources, models.Source{Type: models.SourceDocument, Filename: label})
	}
	return sources
}

// ComposeAnswer issues exactly one generation call for question.
func (c *Composer) ComposeAnswer(ctx context.Context, question string, history []models.ChatMessage, block string) (*AnswerResult, error) {
	messages := c.BuildMessages(question, history, block)
	used := c.UsesContext(block)

	completion, err := c.completer.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}

	answer := NormalizeAnswer(completion.Content, c.cfg.AnswerFormat)
	utils.GetLogger(ctx).Debug("answer composed",
		zap.Bool("used_context", used),
		zap.Int("citations", len(completion.Citations)),
		zap.Int("answer_chars", len(answer)))

	return &AnswerResult{
		Answer:      answer,
		Sources:     AssembleSources(completion.Citations, used, c.label),
		UsedContext: used,
	}, nil
}
