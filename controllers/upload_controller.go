package controllers

import (
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"counselor/models"
	"counselor/utils"
)

func (c *Controller) listPDFs(r *http.Request) ([]models.CorpusDocument, error) {
	docs, err := c.chatbot.Corpus().List(r.Context())
	if err != nil {
		return nil, err
	}
	pdfs := make([]models.CorpusDocument, 0, len(docs))
	for _, doc := range docs {
		if doc.IsPDF() {
			pdfs = append(pdfs, doc)
		}
	}
	return pdfs, nil
}

func documentNames(docs []models.CorpusDocument) []string {
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	return names
}

// UploadStatusHandler reports which PDFs the corpus holds.
func (c *Controller) UploadStatusHandler(w http.ResponseWriter, r *http.Request) {
	pdfs, err := c.listPDFs(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check PDFs", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.UploadStatusResponse{
		Success:         true,
		Message:         "PDFs are read from the corpus directory on demand",
		PDFs:            documentNames(pdfs),
		HasIndexedFiles: len(pdfs) > 0,
	})
}

// VectorStoreHandler lists the corpus PDFs.
func (c *Controller) VectorStoreHandler(w http.ResponseWriter, r *http.Request) {
	pdfs, err := c.listPDFs(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check PDF status", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.VectorStoreResponse{
		HasIndexedFiles: len(pdfs) > 0,
		Files:           documentNames(pdfs),
		Count:           len(pdfs),
	})
}

// InputDirHandler returns the corpus directory.
func (c *Controller) InputDirHandler(w http.ResponseWriter, r *http.Request) {
	dir := c.chatbot.Corpus().Dir()
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	writeJSON(w, http.StatusOK, map[string]string{"inputDir": dir})
}

// ProcessHandler validates every corpus PDF and rebuilds the semantic index.
func (c *Controller) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	logger := utils.GetLogger(r.Context())
	corpus := c.chatbot.Corpus()

	pdfs, err := c.listPDFs(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process PDFs", err.Error())
		return
	}

	documents := make([]models.ProcessedDocument, 0, len(pdfs))
	valid := 0
	for _, doc := range pdfs {
		// Validate structure, then count pages
		result := models.ProcessedDocument{Filename: doc.Name}
		if err := corpus.Validate(doc); err != nil {
			result.Error = err.Error()
			logger.Warn("invalid pdf", zap.String("file", doc.Name), zap.Error(err))
		} else if pages, err := corpus.PageCount(doc); err != nil {
			result.Error = err.Error()
		} else {
			result.Valid = true
			result.Pages = pages
			valid++
		}
		corpus.Invalidate(doc.Path)
		documents = append(documents, result)
	}

	resp := models.ProcessResponse{
		Success:   true,
		Message:   fmt.Sprintf("Processed %d PDF files (%d valid)", len(pdfs), valid),
		Files:     documentNames(pdfs),
		Documents: documents,
	}

	// Rebuild the semantic index from the refreshed corpus
	if c.index.Enabled() {
		chunks, err := c.index.Rebuild(r.Context())
		if err != nil {
			logger.Error("index rebuild failed", zap.Error(err))
			resp.Message += "; semantic index rebuild failed"
		} else {
			resp.IndexedChunks = chunks
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
