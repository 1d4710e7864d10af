package models

// CorpusDocument describes one file of the local document corpus.
type CorpusDocument struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Ext     string `json:"ext"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
}

// IsPDF reports whether the document is a PDF file.
func (d CorpusDocument) IsPDF() bool {
	return d.Ext == ".pdf"
}

// UploadStatusResponse is returned by GET /api/upload.
type UploadStatusResponse struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	PDFs            []string `json:"pdfs"`
	HasIndexedFiles bool     `json:"hasIndexedFiles"`
}

// VectorStoreResponse is returned by GET /api/upload/vector-store.
type VectorStoreResponse struct {
	HasIndexedFiles bool     `json:"hasIndexedFiles"`
	Files           []string `json:"files"`
	Count           int      `json:"count"`
}

// ProcessedDocument is the per-file result of POST /api/upload/process.
type ProcessedDocument struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

// ProcessResponse is returned by POST /api/upload/process.
type ProcessResponse struct {
	Success       bool                `json:"success"`
	Message       string              `json:"message"`
	Files         []string            `json:"files"`
	Documents     []ProcessedDocument `json:"documents"`
	IndexedChunks int                 `json:"indexedChunks"`
}
