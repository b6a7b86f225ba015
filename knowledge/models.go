package knowledge

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	SourceTypeText    = "text"
	SourceTypeFile    = "file"
	SourceTypeWebsite = "website"

	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusError      = "error"
)

type Document struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"size:255;not null" json:"name"`
	RawContent     string    `gorm:"type:mediumtext" json:"raw_content,omitempty"`
	SourceType     string    `gorm:"size:16;not null;default:'text'" json:"source_type"`
	StorageKey     *string   `gorm:"size:512" json:"storage_key,omitempty"`
	Status         string    `gorm:"size:16;not null;default:'pending';index" json:"status"`
	Progress       int       `gorm:"not null;default:0" json:"progress"`
	ErrorMessage   *string   `gorm:"size:1024" json:"error_message,omitempty"`
	Language       string    `gorm:"size:8;not null;default:'en'" json:"language"`
	ChunkCount     int       `gorm:"not null;default:0" json:"chunk_count"`
	ContentLength  int       `gorm:"not null;default:0" json:"content_length"`
	EmbeddingModel *string   `gorm:"size:128" json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Document) TableName() string {
	return "support_documents"
}

type Chunk struct {
	ID          uint64         `gorm:"primaryKey" json:"id"`
	DocumentID  uint64         `gorm:"not null;index:idx_document_chunk" json:"document_id"`
	ChunkIndex  int            `gorm:"not null;index:idx_document_chunk" json:"chunk_index"`
	Content     string         `gorm:"type:text;not null" json:"content"`
	ContentHash string         `gorm:"size:64;not null;index" json:"content_hash"`
	Embedding   datatypes.JSON `gorm:"type:json" json:"-"`
	Language    string         `gorm:"size:8;not null;default:'en'" json:"language"`
	VectorID    string         `gorm:"size:128;not null;uniqueIndex" json:"vector_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (Chunk) TableName() string {
	return "support_document_chunks"
}

// KnowledgeEntry is the queryable projection of a chunk, one row per chunk.
// The in-process semantic fallback reads verified entries only.
type KnowledgeEntry struct {
	ID         uint64         `gorm:"primaryKey" json:"id"`
	SourceType string         `gorm:"size:16;not null;default:'document'" json:"source_type"`
	SourceID   uint64         `gorm:"not null;index" json:"source_id"`
	DocumentID uint64         `gorm:"not null;index" json:"document_id"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	Embedding  datatypes.JSON `gorm:"type:json" json:"-"`
	Language   string         `gorm:"size:8;not null;default:'en';index" json:"language"`
	IsVerified bool           `gorm:"not null;default:true;index" json:"is_verified"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (KnowledgeEntry) TableName() string {
	return "knowledge_entries"
}

// RetrievalResult is the per-query consolidated unit handed to the answer
// pipeline. At most one exists per document per query.
type RetrievalResult struct {
	DocumentID   uint64  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	Source       string  `json:"source"`
}

const (
	ResultSourceHybrid    = "hybrid"
	ResultSourceSemantic  = "semantic"
	ResultSourceKeyword   = "keyword"
	ResultSourceReference = "reference"
)

func vectorToJSON(vector []float32) datatypes.JSON {
	if len(vector) == 0 {
		return nil
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func vectorFromJSON(raw datatypes.JSON) []float32 {
	if len(raw) == 0 {
		return nil
	}
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil
	}
	return vector
}
