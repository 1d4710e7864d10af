package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counselor/models"
)

var markupSamples = []string{
	"",
	"plain answer",
	"**FISD** requires *26* credits.\n\n\n## Details\n- Math: 4\n- Science: 4\n1. English\n2. History",
	"| Course | Credit |\n|---|---|\n| Algebra I | 1 |\n\nSee [1] and [source].",
	"*a\nb* and ***strong*** text\n\n---\n\nend",
	"* bullet\t\t one\n   * bullet two\n\n\n\n# Heading",
	"**unclosed bold and *stray star\n\n- [x] item",
	"   leading and trailing   \n\n\n",
}

func TestNormalizeAnswerIsIdempotent(t *testing.T) {
	for _, mode := range []string{models.FormatProse, models.FormatList} {
		for _, in := range markupSamples {
			once := NormalizeAnswer(in, mode)
			twice := NormalizeAnswer(once, mode)
			assert.Equal(t, once, twice, "mode %s input %q", mode, in)
		}
	}
}

func TestNormalizeAnswerProse(t *testing.T) {
	got := NormalizeAnswer(markupSamples[2], models.FormatProse)
	assert.Equal(t, "FISD requires 26 credits. Details Math: 4 Science: 4 English History", got)

	got = NormalizeAnswer(markupSamples[3], models.FormatProse)
	assert.Equal(t, "See and .", got)

	for _, in := range markupSamples {
		out := NormalizeAnswer(in, models.FormatProse)
		assert.NotContains(t, out, "**")
		assert.NotContains(t, out, "\n")
		assert.NotContains(t, out, "#")
		assert.NotContains(t, out, "---")
	}
}

func TestNormalizeAnswerListKeepsMarkers(t *testing.T) {
	got := NormalizeAnswer("**Options**\n\n- Math: 4\n- Science: 4\n1. English", models.FormatList)
	assert.Equal(t, "Options\n- Math: 4\n- Science: 4\n1. English", got)
}

func TestNormalizeAnswerEmphasisAndHeadings(t *testing.T) {
	got := NormalizeAnswer("* Algebra I *required* first\n* Geometry next", models.FormatList)
	assert.Equal(t, "* Algebra I required first\n* Geometry next", got)

	got = NormalizeAnswer("## Electives\nC# programming and F# are offered", models.FormatProse)
	assert.Equal(t, "Electives C# programming and F# are offered", got)

	got = NormalizeAnswer("Take 2 * 3 credits and *one* elective", models.FormatProse)
	assert.Equal(t, "Take 2 * 3 credits and one elective", got)
}

func TestNormalizeHistory(t *testing.T) {
	turns := []models.HistoryTurn{
		{Type: "user", Content: "one"},
		{Type: "bot", Content: "two"},
		{Role: "user", Content: "   "},
		{Role: "assistant", Content: "three"},
		{Role: "user", Content: "four"},
		{Type: "bot", Content: "five"},
		{Role: "user", Content: "six"},
		{Role: "assistant", Content: "seven"},
		{Content: "eight"},
	}

	got := NormalizeHistory(turns, 6)
	require.Len(t, got, 6)
	assert.Equal(t, models.ChatMessage{Role: models.RoleAssistant, Content: "three"}, got[0])
	assert.Equal(t, models.ChatMessage{Role: models.RoleAssistant, Content: "five"}, got[2])
	assert.Equal(t, models.ChatMessage{Role: models.RoleUser, Content: "eight"}, got[5])

	assert.Empty(t, NormalizeHistory(nil, 6))
}

func TestBuildUserMessage(t *testing.T) {
	assert.Equal(t, "What is OCPE?", BuildUserMessage("What is OCPE?", nil))

	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "Tell me about PE."},
		{Role: models.RoleAssistant, Content: "FISD offers OCPE."},
	}
	want := "Previous conversation:\nUser: Tell me about PE.\nAssistant: FISD offers OCPE.\n\nCurrent question: How do I apply?"
	assert.Equal(t, want, BuildUserMessage("How do I apply?", history))
}

func TestSystemPromptContextThreshold(t *testing.T) {
	c := NewComposer(&fakeCompleter{}, models.ComposerConfig{ContextMinChars: 100, MaxAnswerWords: 150}, "")

	short := "[a.pdf]\ntoo short"
	prompt := c.BuildSystemPrompt(short)
	assert.NotContains(t, prompt, "FISD DOCUMENT CONTEXT")
	assert.NotContains(t, prompt, "too short")
	assert.Contains(t, prompt, "under 150 words")
	assert.Contains(t, prompt, "OCPE = Off-Campus PE")

	long := "[a.pdf]\n" + strings.Repeat("Algebra I is a prerequisite. ", 10)
	prompt = c.BuildSystemPrompt(long)
	assert.Contains(t, prompt, "FISD DOCUMENT CONTEXT:\n"+long)
	assert.False(t, c.UsesContext(""))
}

func TestAssembleSources(t *testing.T) {
	citations := []Citation{
		{URL: "https://a.example", Title: "A"},
		{URL: "https://b.example"},
		{URL: " "},
	}
	got := AssembleSources(citations, true, "FISD Documents")
	assert.Equal(t, []models.Source{
		{Type: models.SourceWeb, URL: "https://a.example", Title: "A"},
		{Type: models.SourceWeb, URL: "https://b.example", Title: "Web Source"},
		{Type: models.SourceDocument, Filename: "FISD Documents"},
	}, got)

	assert.Empty(t, AssembleSources(nil, false, "FISD Documents"))
}

func TestComposeAnswerSingleCall(t *testing.T) {
	fake := &fakeCompleter{replies: []*Completion{{
		Content:   "**FISD** offers AP Computer Science A [1].",
		Citations: []Citation{{URL: "https://www.friscoisd.org/cs", Title: "CS"}},
	}}}
	c := NewComposer(fake, models.ComposerConfig{ContextMinChars: 10}, "FISD Documents")

	res, err := c.ComposeAnswer(context.Background(), "AP CS?", nil, "[it.pdf]\nprerequisite: Algebra I")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, "FISD offers AP Computer Science A .", res.Answer)
	assert.True(t, res.UsedContext)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, models.SourceDocument, res.Sources[1].Type)

	sent := fake.calls[0]
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Content, "prerequisite: Algebra I")
	assert.Equal(t, "AP CS?", sent[1].Content)
}

func TestComposeAnswerPropagatesError(t *testing.T) {
	fake := &fakeCompleter{errs: []error{ErrUpstreamTimeout}}
	c := NewComposer(fake, models.ComposerConfig{}, "")
	_, err := c.ComposeAnswer(context.Background(), "q", nil, "")
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.Equal(t, 1, fake.callCount())
}
