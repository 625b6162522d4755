package pipeline

// ContentType distinguishes running text from extracted tables.
const (
	ContentText  = "text"
	ContentTable = "table"
)

// Metadata is the recognized key set carried by every document and chunk.
// Loader-specific fields go into Extensions rather than widening the type.
type Metadata struct {
	Source       string   `json:"source,omitempty"`
	FileName     string   `json:"file_name,omitempty"`
	FileSHA256   string   `json:"file_sha256,omitempty"`
	Page         int      `json:"page,omitempty"`
	Ext          string   `json:"ext,omitempty"`
	ContentType  string   `json:"content_type,omitempty"`
	IngestedAt   string   `json:"ingested_at,omitempty"`
	ChunkID      string   `json:"chunk_id,omitempty"`
	ChunkIndex   string   `json:"chunk_index,omitempty"`
	ChunkChars   int      `json:"chunk_chars,omitempty"`
	SplitterTag  string   `json:"splitter_version,omitempty"`
	DocID        string   `json:"doc_id,omitempty"`
	ProcessedKey string   `json:"processed_key,omitempty"`
	URL          string   `json:"url,omitempty"`
	Title        string   `json:"title,omitempty"`
	Author       string   `json:"author,omitempty"`
	Skillsets    []string `json:"skillsets,omitempty"`

	Extensions map[string]any `json:"extensions,omitempty"`
}

// Document is a parsed unit of text plus its metadata. Documents whose
// content normalizes to empty are dropped before chunking.
type Document struct {
	PageContent string
	Metadata    Metadata
}

// SetExtension records a loader-specific metadata field.
func (m *Metadata) SetExtension(key string, value any) {
	if m.Extensions == nil {
		m.Extensions = make(map[string]any)
	}
	m.Extensions[key] = value
}
