package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"counselor/models"
	"counselor/utils"
)

// TextExtractor returns the plain text of the file at path.
type TextExtractor func(path string) (string, error)

// Corpus is the read-only local document directory. It is listed fresh on
// every call; extracted text is cached per file version.
type Corpus struct {
	dir        string
	label      string
	extractors map[string]TextExtractor
	cache      *expirable.LRU[string, string]
}

// CorpusOption customizes a Corpus.
type CorpusOption func(*Corpus)

// WithExtractor registers fn for files with extension ext (".pdf", ".txt").
func WithExtractor(ext string, fn TextExtractor) CorpusOption {
	return func(c *Corpus) {
		c.extractors[strings.ToLower(ext)] = fn
	}
}

// NewCorpus creates a corpus over cfg.Dir.
func NewCorpus(cfg models.CorpusConfig, opts ...CorpusOption) *Corpus {
	size := cfg.CacheSize
	if size <= 0 {
		size = 128
	}
	c := &Corpus{
		dir:   cfg.Dir,
		label: cfg.Label,
		extractors: map[string]TextExtractor{
			".pdf": extractPDFText,
			".txt": readPlainText,
			".md":  readPlainText,
		},
		cache: expirable.NewLRU[string, string](size, nil, cfg.CacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the corpus directory.
func (c *Corpus) Dir() string {
	return c.dir
}

// Label is the display name used for document sources.
func (c *Corpus) Label() string {
	return c.label
}

// IsSupported reports whether files named like path are part of the corpus.
func (c *Corpus) IsSupported(path string) bool {
	_, ok := c.extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// List returns the supported documents sorted by filename. A missing
// directory yields an empty list.
func (c *Corpus) List(ctx context.Context) ([]models.CorpusDocument, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			utils.GetLogger(ctx).Warn("corpus directory missing", zap.String("dir", c.dir))
			return nil, nil
		}
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}

	var docs []models.CorpusDocument
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !c.IsSupported(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			utils.GetLogger(ctx).Warn("skip unreadable corpus entry", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		docs = append(docs, models.CorpusDocument{
			Name:    entry.Name(),
			Path:    filepath.Join(c.dir, entry.Name()),
			Ext:     strings.ToLower(filepath.Ext(entry.Name())),
			Size:    info.Size(),
			ModTime: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Text returns the extracted text of doc.
func (c *Corpus) Text(ctx context.Context, doc models.CorpusDocument) (string, error) {
	key := cacheKey(doc)
	if text, ok := c.cache.Get(key); ok {
		return text, nil
	}

	extract, ok := c.extractors[doc.Ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q", doc.Ext)
	}
	text, err := extract(doc.Path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", doc.Name, err)
	}
	c.cache.Add(key, text)
	utils.GetLogger(ctx).Debug("extracted corpus text", zap.String("file", doc.Name), zap.Int("chars", len(text)))
	return text, nil
}

// Invalidate drops every cached version of the file at path.
func (c *Corpus) Invalidate(path string) {
	prefix := filepath.Clean(path) + "|"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

// Cached returns the number of cached document texts.
func (c *Corpus) Cached() int {
	return c.cache.Len()
}

// PageCount returns the number of pages of a PDF document.
func (c *Corpus) PageCount(doc models.CorpusDocument) (int, error) {
	if !doc.IsPDF() {
		return 0, nil
	}
	return api.PageCountFile(doc.Path)
}

// Validate checks a PDF document for structural errors.
func (c *Corpus) Validate(doc models.CorpusDocument) error {
	if !doc.IsPDF() {
		return nil
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.ValidateFile(doc.Path, conf)
}

func cacheKey(doc models.CorpusDocument) string {
	return fmt.Sprintf("%s|%d|%d", filepath.Clean(doc.Path), doc.Size, doc.ModTime)
}

func readPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extractPDFText reads a PDF row by row. Text runs in a row are joined with
// spaces and rows with newlines so sentence splitting keeps working.
func extractPDFText(path string) (text string, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, t := range row.Content {
				if s := strings.TrimSpace(t.S); s != "" {
					words = append(words, s)
				}
			}
			if len(words) > 0 {
				b.WriteString(strings.Join(words, " "))
				b.WriteByte('\n')
			}
		}
	}
	if b.Len() > 0 {
		return b.String(), nil
	}

	// Fall back to the plain text stream
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}
