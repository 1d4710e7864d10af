package services

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"counselor/models"
	"counselor/utils"
)

// ClusterGeneral is reported when no topic cluster matches.
const ClusterGeneral = "general"

const (
	minUnitRunes     = 12
	shortUnitRunes   = 200
	triggerTermBonus = 3
)

// TopicCluster pairs a filename key with the question pattern that selects it.
type TopicCluster struct {
	Key     string
	Pattern *regexp.Regexp
}

// topicClusters is evaluated in order; the first match wins.
var topicClusters = []TopicCluster{
	{"agriculture", regexp.MustCompile(`agricultur|animal science|veterinar|horticultur|plant science|\bffa\b|livestock|floral`)},
	{"architecture", regexp.MustCompile(`architect|construction|interior design|drafting|carpentry`)},
	{"business", regexp.MustCompile(`business|marketing|financ|accounting|entrepreneur|economics|\bdeca\b`)},
	{"education", regexp.MustCompile(`education and training|teaching|\bteacher|child development|instructional practice`)},
	{"engineering", regexp.MustCompile(`engineer|robotics|manufactur|aerospace|\bpltw\b|welding`)},
	{"health", regexp.MustCompile(`health|medical|nursing|pharmac|anatomy|biomedical|sports medicine|\bems\b|dental`)},
	{"hospitality", regexp.MustCompile(`hospitality|culinary|tourism|cooking|restaurant|hotel|baking`)},
	{"information-technology", regexp.MustCompile(`computer|programming|coding|cyber|software|information technology|networking|web design|app development`)},
	{"law", regexp.MustCompile(`\blaw\b|legal|criminal|forensic|public safety|firefight|police|corrections`)},
	{"arts", regexp.MustCompile(`\barts?\b|audio|video|animation|graphic design|photograph|theat|journalism|fashion|digital media`)},
}

var (
	cteKeywords = regexp.MustCompile(`\bcte\b|career|pathway|endorsement|program of study|certification|course|class|elective|prerequisite`)

	prerequisiteQuestion = regexp.MustCompile(`prereq|pre-req|requirement|required|before taking|eligib`)
	prerequisiteTerms    = []string{"prerequisite", "prereq", "recommended", "required", "must complete", "algebra", "geometry", "grade", "credit"}

	unitSplitter = regexp.MustCompile(`[\r\n]+|[.!?]+\s+`)
)

var stopWords = map[string]bool{
	"what": true, "which": true, "when": true, "where": true, "does": true,
	"have": true, "with": true, "that": true, "this": true, "there": true,
	"about": true, "from": true, "your": true, "will": true, "should": true,
	"could": true, "would": true, "they": true, "them": true, "their": true,
	"into": true, "need": true, "want": true, "tell": true, "know": true,
	"many": true, "much": true, "some": true, "also": true, "fisd": true,
}

// Classify returns the key of the first topic cluster matching question, or
// ClusterGeneral.
func Classify(question string) string {
	q := strings.ToLower(question)
	for _, cluster := range topicClusters {
		if cluster.Pattern.MatchString(q) {
			return cluster.Key
		}
	}
	return ClusterGeneral
}

// IsCTEQuestion reports whether question mentions a generic CTE keyword.
func IsCTEQuestion(question string) bool {
	return cteKeywords.MatchString(strings.ToLower(question))
}

// Selector turns a question into a labeled snippet bundle drawn from the
// corpus.
type Selector struct {
	corpus *Corpus
	cfg    models.SelectorConfig
}

// NewSelector creates a selector over corpus. Zero budgets and a zero
// GenericDocuments fall back to defaults. ExtraDocuments is clamped to 0..2
// and zero is kept: a matched cluster then contributes only its own files.
func NewSelector(corpus *Corpus, cfg models.SelectorConfig) *Selector {
	if cfg.SnippetBudget <= 0 {
		cfg.SnippetBudget = 1000
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = 4 * cfg.SnippetBudget
	}
	if cfg.ExtraDocuments < 0 {
		cfg.ExtraDocuments = 0
	}
	if cfg.ExtraDocuments > 2 {
		cfg.ExtraDocuments = 2
	}
	if cfg.GenericDocuments <= 0 {
		cfg.GenericDocuments = 3
	}
	return &Selector{corpus: corpus, cfg: cfg}
}

// SelectContext returns the context block for question, or "" when the
// corpus holds nothing relevant. Corpus failures are logged, never returned.
func (s *Selector) SelectContext(ctx context.Context, question string) string {
	logger := utils.GetLogger(ctx)

	docs, err := s.corpus.List(ctx)
	if err != nil {
		logger.Warn("list corpus failed", zap.Error(err))
		return ""
	}

	cluster := Classify(question)
	selected := s.SelectDocuments(question, docs)
	if len(selected) == 0 {
		logger.Debug("no corpus documents selected", zap.String("cluster", cluster))
		return ""
	}

	var parts []string
	total := 0
	for _, doc := range selected {
		text, err := s.corpus.Text(ctx, doc)
		if err != nil {
			logger.Warn("skip unreadable corpus document", zap.String("file", doc.Name), zap.Error(err))
			continue
		}
		label := "[" + doc.Name + "]\n"
		sep := 0
		if len(parts) > 0 {
			sep = 2
		}
		// a snippet budget wider than the remaining cap is narrowed to fit
		room := s.cfg.ContextMaxChars - total - sep - utf8.RuneCountInString(label)
		if room < minUnitRunes {
			break
		}
		bundle := ExtractSnippets(question, text, min(s.cfg.SnippetBudget, room))
		if bundle == "" {
			continue
		}
		part := label + bundle
		size := sep + utf8.RuneCountInString(part)
		parts = append(parts, part)
		total += size
	}

	block := strings.TrimSpace(strings.Join(parts, "\n\n"))
	logger.Debug("context selected",
		zap.String("cluster", cluster),
		zap.Int("documents", len(selected)),
		zap.Int("used", len(parts)),
		zap.Int("chars", utf8.RuneCountInString(block)))
	return block
}

// SelectDocuments picks the subset of docs relevant to question.
func (s *Selector) SelectDocuments(question string, docs []models.CorpusDocument) []models.CorpusDocument {
	if len(docs) == 0 {
		return nil
	}

	cluster := Classify(question)
	if cluster != ClusterGeneral {
		var matched, rest []models.CorpusDocument
		for _, doc := range docs {
			if strings.Contains(normalizeFilename(doc.Name), cluster) {
				matched = append(matched, doc)
			} else {
				rest = append(rest, doc)
			}
		}
		if len(matched) > 0 {
			extra := s.cfg.ExtraDocuments
			if extra > len(rest) {
				extra = len(rest)
			}
			return append(matched, rest[:extra]...)
		}
	}

	if cluster != ClusterGeneral || IsCTEQuestion(question) {
		n := s.cfg.GenericDocuments
		if n > len(docs) {
			n = len(docs)
		}
		return append([]models.CorpusDocument(nil), docs[:n]...)
	}
	return nil
}

type scoredUnit struct {
	text  string
	score int
}

// ExtractSnippets ranks the sentence-like units of text against question and
// concatenates the best ones. The result never exceeds budget runes.
func ExtractSnippets(question, text string, budget int) string {
	if budget <= 0 {
		return ""
	}

	keywords := questionKeywords(question)
	prereq := prerequisiteQuestion.MatchString(strings.ToLower(question))

	var units []scoredUnit
	for _, raw := range unitSplitter.Split(text, -1) {
		unit := strings.Join(strings.Fields(raw), " ")
		n := utf8.RuneCountInString(unit)
		if n < minUnitRunes {
			continue
		}
		lower := strings.ToLower(unit)

		relevance := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) || (len(kw) > 4 && strings.HasSuffix(kw, "s") && strings.Contains(lower, kw[:len(kw)-1])) {
				relevance++
			}
		}
		if prereq {
			for _, term := range prerequisiteTerms {
				if strings.Contains(lower, term) {
					relevance += triggerTermBonus
				}
			}
		}
		if relevance == 0 {
			continue
		}

		score := relevance
		if n < shortUnitRunes {
			score++
		}
		units = append(units, scoredUnit{text: unit, score: score})
	}

	sort.SliceStable(units, func(i, j int) bool { return units[i].score > units[j].score })

	var b strings.Builder
	used := 0
	for i, u := range units {
		n := utf8.RuneCountInString(u.text)
		if i == 0 && n > budget {
			return truncateRunes(u.text, budget)
		}
		sep := 0
		if used > 0 {
			sep = 1
		}
		if used+sep+n > budget {
			if budget-used < minUnitRunes+1 {
				break
			}
			continue
		}
		if sep > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(u.text)
		used += sep + n
	}
	return b.String()
}

func questionKeywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// ClassifyDocument assigns a corpus file to a cluster by its name.
func ClassifyDocument(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return Classify(strings.NewReplacer("-", " ", "_", " ").Replace(base))
}

func normalizeFilename(name string) string {
	return strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(name))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimSpace(string(runes[:n]))
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return cut
}
