package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrContentUnavailable marks a document with nothing to chunk.
var ErrContentUnavailable = errors.New("knowledge: document has no resolvable content")

// IndexDocument chunks and embeds one document. One chunk failing to embed is
// skipped; the document only fails when no content resolves, the embedding
// provider is unusable, or not a single chunk survives.
func (s *Service) IndexDocument(ctx context.Context, docID uint64) error {
	if s == nil || s.db == nil {
		return errors.New("knowledge: database connection is not configured")
	}

	var doc Document
	if err := s.db.WithContext(ctx).Take(&doc, "id = ?", docID).Error; err != nil {
		return err
	}

	if err := s.transitionStatus(ctx, docID, StatusProcessing, 0, nil); err != nil {
		return err
	}

	content, err := s.resolveContent(ctx, &doc)
	if err != nil {
		s.failDocument(ctx, docID, err.Error())
		return err
	}

	candidates := s.chunker.split(content)
	if len(candidates) == 0 {
		err := fmt.Errorf("%w: content is empty after chunking", ErrContentUnavailable)
		s.failDocument(ctx, docID, "document content is empty, nothing to index")
		return err
	}

	if s.embedder == nil {
		s.failDocument(ctx, docID, "embedding provider is not configured")
		return ErrProviderUnavailable
	}

	if err := s.clearIndexed(ctx, docID); err != nil {
		s.failDocument(ctx, docID, "failed to clear previous index: "+err.Error())
		return err
	}

	language := doc.Language
	if language == "" {
		language = DetectLanguage(content)
	}

	indexed := 0
	skipped := 0
	var points []VectorPoint
	for i, candidate := range candidates {
		vectors, embedErr := s.embedTexts(ctx, []string{candidate.Content})
		if embedErr != nil || len(vectors) != 1 {
			skipped++
			log.Printf("knowledge: embed chunk %d of document %d failed, skipping: %v", i, docID, embedErr)
			s.updateProgress(ctx, docID, (i+1)*100/len(candidates))
			continue
		}

		vectorID := uuid.NewString()
		chunk := Chunk{
			DocumentID:  docID,
			ChunkIndex:  indexed,
			Content:     candidate.Content,
			ContentHash: candidate.ContentHash,
			Embedding:   vectorToJSON(vectors[0]),
			Language:    language,
			VectorID:    vectorID,
		}
		entry := KnowledgeEntry{
			SourceType: "document",
			DocumentID: docID,
			Content:    candidate.Content,
			Embedding:  chunk.Embedding,
			Language:   language,
			IsVerified: true,
		}

		if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&chunk).Error; err != nil {
				return err
			}
			entry.SourceID = chunk.ID
			return tx.Create(&entry).Error
		}); err != nil {
			skipped++
			log.Printf("knowledge: persist chunk %d of document %d failed, skipping: %v", i, docID, err)
			s.updateProgress(ctx, docID, (i+1)*100/len(candidates))
			continue
		}

		points = append(points, VectorPoint{
			ID:     vectorID,
			Vector: vectors[0],
			Payload: map[string]interface{}{
				"document_id":   docID,
				"document_name": doc.Name,
				"chunk_index":   chunk.ChunkIndex,
				"content":       candidate.Content,
				"language":      language,
			},
		})

		indexed++
		s.updateProgress(ctx, docID, (i+1)*100/len(candidates))
	}

	if indexed == 0 {
		s.failDocument(ctx, docID, fmt.Sprintf("all %d chunks failed to embed", len(candidates)))
		return fmt.Errorf("knowledge: indexing document %d produced no chunks", docID)
	}

	// The mirror is a cache, not a source of truth. Its failure must never
	// fail the primary indexing.
	s.mirrorToVectorStore(ctx, docID, points)

	model := s.embedder.ModelID()
	updates := map[string]interface{}{
		"status":          StatusIndexed,
		"progress":        100,
		"error_message":   gorm.Expr("NULL"),
		"chunk_count":     indexed,
		"content_length":  len(content),
		"embedding_model": model,
		"updated_at":      time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).Updates(updates).Error; err != nil {
		return err
	}

	if skipped > 0 {
		log.Printf("knowledge: document %d indexed with %d chunks, %d skipped", docID, indexed, skipped)
	}
	return nil
}

func (s *Service) resolveContent(ctx context.Context, doc *Document) (string, error) {
	if content := strings.TrimSpace(doc.RawContent); content != "" {
		return content, nil
	}
	if doc.SourceType == SourceTypeFile && doc.StorageKey != nil && strings.TrimSpace(*doc.StorageKey) != "" {
		if s.files == nil {
			return "", fmt.Errorf("%w: file storage is not configured", ErrContentUnavailable)
		}
		content, err := s.files.FetchText(ctx, *doc.StorageKey)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		if strings.TrimSpace(content) == "" {
			return "", fmt.Errorf("%w: stored file is empty", ErrContentUnavailable)
		}
		return content, nil
	}
	return "", ErrContentUnavailable
}

func (s *Service) clearIndexed(ctx context.Context, docID uint64) error {
	var vectorIDs []string
	if err := s.db.WithContext(ctx).Model(&Chunk{}).
		Where("document_id = ?", docID).
		Pluck("vector_id", &vectorIDs).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("document_id = ?", docID).Delete(&Chunk{}).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("document_id = ?", docID).Delete(&KnowledgeEntry{}).Error; err != nil {
		return err
	}
	if s.vectors != nil && len(vectorIDs) > 0 {
		if err := s.vectors.Delete(ctx, vectorIDs); err != nil {
			log.Printf("knowledge: delete stale vector points for document %d: %v", docID, err)
		}
	}
	return nil
}

func (s *Service) mirrorToVectorStore(ctx context.Context, docID uint64, points []VectorPoint) {
	if s.vectors == nil || len(points) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("knowledge: vector mirror for document %d panicked: %v", docID, r)
		}
	}()

	dim := s.vectorDim
	if dim == 0 {
		dim = len(points[0].Vector)
	}
	if err := s.vectors.EnsureCollection(ctx, dim); err != nil {
		log.Printf("knowledge: ensure vector collection for document %d: %v", docID, err)
		return
	}
	if err := s.vectors.Upsert(ctx, points); err != nil {
		log.Printf("knowledge: mirror %d points for document %d: %v", len(points), docID, err)
	}
}

func (s *Service) transitionStatus(ctx context.Context, docID uint64, status string, progress int, message *string) error {
	updates := map[string]interface{}{
		"status":     status,
		"progress":   progress,
		"updated_at": time.Now().UTC(),
	}
	if message == nil {
		updates["error_message"] = gorm.Expr("NULL")
	} else {
		updates["error_message"] = *message
	}
	return s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).Updates(updates).Error
}

func (s *Service) updateProgress(ctx context.Context, docID uint64, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if err := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).Updates(map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now().UTC(),
	}).Error; err != nil {
		log.Printf("knowledge: update progress for document %d: %v", docID, err)
	}
}

func (s *Service) failDocument(ctx context.Context, docID uint64, message string) {
	trimmed := message
	if len(trimmed) > 1000 {
		trimmed = trimmed[:1000]
	}
	if err := s.transitionStatus(ctx, docID, StatusError, 0, &trimmed); err != nil {
		log.Printf("knowledge: mark document %d failed: %v", docID, err)
	}
}
