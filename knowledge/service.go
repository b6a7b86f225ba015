package knowledge

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const defaultSimilarityThreshold = 0.7

type Service struct {
	db        *gorm.DB
	embedder  Embedder
	vectors   VectorStore
	files     FileStore
	chunker   *chunker
	threshold float64
	vectorDim int
	usage     UsageRecorder
}

// OperationEmbedding labels embedding provider calls in usage reporting.
const OperationEmbedding = "embedding"

// ProviderCall captures the outcome of one outbound provider request so a
// sink can ledger it. Err is nil on success.
type ProviderCall struct {
	Model      string
	Operation  string
	InputChars int
	Err        error
}

// UsageRecorder receives one ProviderCall per provider request, failures
// included. It must not block the calling path.
type UsageRecorder func(ctx context.Context, call ProviderCall)

// SetUsageRecorder attaches the sink that ledgers embedding provider calls.
func (s *Service) SetUsageRecorder(recorder UsageRecorder) {
	if s != nil {
		s.usage = recorder
	}
}

// embedTexts calls the embedding provider and reports the outcome, success
// or failure, to the usage recorder. Callers must check s.embedder first.
func (s *Service) embedTexts(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors, err := s.embedder.Embed(ctx, inputs)
	if s.usage != nil {
		chars := 0
		for _, input := range inputs {
			chars += len(input)
		}
		s.usage(ctx, ProviderCall{
			Model:      s.embedder.ModelID(),
			Operation:  OperationEmbedding,
			InputChars: chars,
			Err:        err,
		})
	}
	return vectors, err
}

// NewService wires the retrieval core with explicit collaborators. Any of
// embedder, vectors and files may be nil; the affected tiers degrade.
func NewService(db *gorm.DB, embedder Embedder, vectors VectorStore, files FileStore) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledge: database connection is required")
	}
	return &Service{
		db:        db,
		embedder:  embedder,
		vectors:   vectors,
		files:     files,
		chunker:   newChunker(0, 0),
		threshold: defaultSimilarityThreshold,
	}, nil
}

func NewServiceFromEnv(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledge: database connection is required")
	}

	embedder, err := NewHTTPEmbedderFromEnv()
	if err != nil {
		if !errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		log.Printf("knowledge: no embedding credentials, semantic retrieval disabled")
		embedder = nil
	}

	vectors, err := NewQdrantStoreFromEnv()
	if err != nil {
		return nil, err
	}

	files, err := NewObjectStoreFromEnv()
	if err != nil {
		return nil, err
	}

	chunkMax := 1000
	if raw := strings.TrimSpace(os.Getenv("KNOWLEDGE_CHUNK_MAX_CHARS")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed > 200 {
			chunkMax = parsed
		}
	}
	overlap := 150
	if raw := strings.TrimSpace(os.Getenv("KNOWLEDGE_CHUNK_OVERLAP_CHARS")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed >= 0 && parsed < chunkMax {
			overlap = parsed
		}
	}

	threshold := defaultSimilarityThreshold
	if raw := strings.TrimSpace(os.Getenv("RETRIEVAL_SIMILARITY_THRESHOLD")); raw != "" {
		if parsed, convErr := strconv.ParseFloat(raw, 64); convErr == nil && parsed > 0 && parsed < 1 {
			threshold = parsed
		}
	}

	vectorDim := 0
	if raw := strings.TrimSpace(os.Getenv("QDRANT_VECTOR_DIM")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed > 0 {
			vectorDim = parsed
		}
	}

	return &Service{
		db:        db,
		embedder:  embedder,
		vectors:   vectors,
		files:     files,
		chunker:   newChunker(chunkMax, overlap),
		threshold: threshold,
		vectorDim: vectorDim,
	}, nil
}

func (s *Service) AutoMigrate() error {
	if s == nil || s.db == nil {
		return errors.New("knowledge: database connection is not configured")
	}
	return s.db.AutoMigrate(&Document{}, &Chunk{}, &KnowledgeEntry{})
}

type DocumentInput struct {
	Name       string  `json:"name"`
	Content    string  `json:"content"`
	SourceType string  `json:"source_type"`
	StorageKey *string `json:"storage_key,omitempty"`
	Language   string  `json:"language"`
}

func (s *Service) CreateDocument(ctx context.Context, input DocumentInput) (*Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("knowledge: database connection is not configured")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("knowledge: document name is required")
	}
	sourceType := sanitizeSourceType(input.SourceType)
	content := strings.TrimSpace(input.Content)
	if sourceType == SourceTypeFile {
		if input.StorageKey == nil || strings.TrimSpace(*input.StorageKey) == "" {
			return nil, errors.New("knowledge: storage_key is required for file documents")
		}
	} else if content == "" {
		return nil, errors.New("knowledge: content is required")
	}

	language := strings.TrimSpace(strings.ToLower(input.Language))
	if language == "" {
		language = DetectLanguage(content)
	}

	doc := Document{
		Name:       name,
		RawContent: content,
		SourceType: sourceType,
		StorageKey: input.StorageKey,
		Status:     StatusPending,
		Language:   language,
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Service) GetDocument(ctx context.Context, docID uint64) (*Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("knowledge: database connection is not configured")
	}
	var doc Document
	if err := s.db.WithContext(ctx).Take(&doc, "id = ?", docID).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Service) ListDocuments(ctx context.Context) ([]Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("knowledge: database connection is not configured")
	}
	var docs []Document
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// DeleteDocument removes the document, its chunks and knowledge entries, and
// best-effort drops the mirrored vector points.
func (s *Service) DeleteDocument(ctx context.Context, docID uint64) error {
	if s == nil || s.db == nil {
		return errors.New("knowledge: database connection is not configured")
	}

	var vectorIDs []string
	if err := s.db.WithContext(ctx).Model(&Chunk{}).
		Where("document_id = ?", docID).
		Pluck("vector_id", &vectorIDs).Error; err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		if err := tx.Take(&doc, "id = ?", docID).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", docID).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", docID).Delete(&KnowledgeEntry{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Document{}, docID).Error
	})
	if err != nil {
		return err
	}

	if s.vectors != nil && len(vectorIDs) > 0 {
		if vecErr := s.vectors.Delete(ctx, vectorIDs); vecErr != nil {
			log.Printf("knowledge: delete vector points for document %d: %v", docID, vecErr)
		}
	}
	return nil
}

// Ingest triggers chunking and indexing for the document in the background.
func (s *Service) Ingest(docID uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := s.IndexDocument(ctx, docID); err != nil {
			log.Printf("knowledge: index document %d: %v", docID, err)
		}
	}()
}

func sanitizeSourceType(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SourceTypeFile:
		return SourceTypeFile
	case SourceTypeWebsite, "url":
		return SourceTypeWebsite
	default:
		return SourceTypeText
	}
}

func getEnvDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value != "" {
		return value
	}
	return fallback
}
