package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"counselor/models"
	"counselor/utils"
)

const followUpCount = 3

// DefaultFollowUps replace generated follow-ups when generation fails.
var DefaultFollowUps = []string{
	"What are the GPA requirements?",
	"How do I choose an endorsement?",
	"What AP courses are available?",
}

// ConfigurationFollowUps accompany the placeholder answer sent when no API
// key is configured.
var ConfigurationFollowUps = []string{
	"How do I configure the API key?",
	"What are the graduation requirements?",
	"How do I apply for programs?",
}

const (
	followUpSystemPrompt = "You are a helpful assistant that generates 3 concise follow-up questions. Respond ONLY with a JSON array of exactly 3 strings. No other text."
	followUpUserPrompt   = "Based on this conversation about FISD, generate 3 short follow-up questions that a student might ask next:\n\nQuestion: %s\nAnswer: %s"
)

// FollowUpKind tags how a raw follow-up reply was understood.
type FollowUpKind int

const (
	FollowUpUnparsed FollowUpKind = iota
	FollowUpParsed
)

// FollowUpParse is Parsed(Items) or Unparsed(Raw).
type FollowUpParse struct {
	Kind  FollowUpKind
	Items []string
	Raw   string
}

var (
	codeFence    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	listPrefix   = regexp.MustCompile(`^[-*\d.\s]+`)
	quoteTrimset = "\"'`“”"
)

// ParseFollowUps reads raw as a JSON string array, tolerating code fences
// and surrounding prose.
func ParseFollowUps(raw string) FollowUpParse {
	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		var items []string
		if err := json.Unmarshal([]byte(text[start:end+1]), &items); err == nil {
			var cleaned []string
			for _, item := range items {
				if item = strings.TrimSpace(item); item != "" {
					cleaned = append(cleaned, item)
				}
			}
			return FollowUpParse{Kind: FollowUpParsed, Items: cleaned, Raw: raw}
		}
	}
	return FollowUpParse{Kind: FollowUpUnparsed, Raw: raw}
}

// ResolveFollowUps turns a parse result into exactly three questions,
// padding from fallback when fewer were produced.
func ResolveFollowUps(p FollowUpParse, fallback []string) []string {
	items := p.Items
	if p.Kind == FollowUpUnparsed {
		items = splitFollowUpLines(p.Raw)
	}

	out := make([]string, 0, followUpCount)
	seen := make(map[string]bool)
	add := func(s string) {
		key := strings.ToLower(s)
		if len(out) < followUpCount && !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	for _, item := range items {
		add(item)
	}
	for _, item := range fallback {
		add(item)
	}
	return out
}

func splitFollowUpLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = listPrefix.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), quoteTrimset+",")
		line = strings.TrimSpace(line)
		if line == "" || line == "[" || line == "]" || strings.HasPrefix(line, "```") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// FollowUpGenerator issues the optional secondary call.
type FollowUpGenerator struct {
	completer Completer
}

// NewFollowUpGenerator creates a generator over completer.
func NewFollowUpGenerator(completer Completer) *FollowUpGenerator {
	return &FollowUpGenerator{completer: completer}
}

// Generate returns exactly three follow-up questions. Any failure yields
// DefaultFollowUps; it never returns an error.
func (g *FollowUpGenerator) Generate(ctx context.Context, question, answer string) []string {
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: followUpSystemPrompt},
		{Role: models.RoleUser, Content: fmt.Sprintf(followUpUserPrompt, question, answer)},
	}

	completion, err := g.completer.Complete(ctx, messages)
	if err != nil {
		utils.GetLogger(ctx).Warn("follow-up generation failed, using defaults", zap.Error(err))
		return append([]string(nil), DefaultFollowUps...)
	}

	parsed := ParseFollowUps(completion.Content)
	if parsed.Kind == FollowUpUnparsed {
		utils.GetLogger(ctx).Debug("follow-up reply was not a JSON array", zap.String("raw", completion.Content))
	}
	return ResolveFollowUps(parsed, DefaultFollowUps)
}
