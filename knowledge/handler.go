package knowledge

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes mounts corpus management endpoints under /knowledge and
// returns the service for other modules to query against.
func RegisterRoutes(router *gin.Engine, db *gorm.DB) (*Service, error) {
	service, err := NewServiceFromEnv(db)
	if err != nil {
		return nil, err
	}
	if err := service.AutoMigrate(); err != nil {
		return nil, err
	}

	group := router.Group("/knowledge")
	group.POST("/documents", service.handleCreateDocument)
	group.GET("/documents", service.handleListDocuments)
	group.GET("/documents/:id", service.handleGetDocument)
	group.DELETE("/documents/:id", service.handleDeleteDocument)
	group.POST("/documents/:id/reindex", service.handleReindexDocument)
	group.POST("/recover-stuck", service.handleRecoverStuck)

	return service, nil
}

func (s *Service) handleCreateDocument(c *gin.Context) {
	var input DocumentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	doc, err := s.CreateDocument(c.Request.Context(), input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.Ingest(doc.ID)
	c.JSON(http.StatusCreated, doc)
}

func (s *Service) handleListDocuments(c *gin.Context) {
	docs, err := s.ListDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Service) handleGetDocument(c *gin.Context) {
	docID, ok := parseDocumentID(c)
	if !ok {
		return
	}
	doc, err := s.GetDocument(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Service) handleDeleteDocument(c *gin.Context) {
	docID, ok := parseDocumentID(c)
	if !ok {
		return
	}
	if err := s.DeleteDocument(c.Request.Context(), docID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": docID})
}

func (s *Service) handleReindexDocument(c *gin.Context) {
	docID, ok := parseDocumentID(c)
	if !ok {
		return
	}
	if _, err := s.GetDocument(c.Request.Context(), docID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.Ingest(docID)
	c.JSON(http.StatusAccepted, gin.H{"document_id": docID, "status": StatusPending})
}

func (s *Service) handleRecoverStuck(c *gin.Context) {
	threshold := defaultStaleThreshold
	if raw := strings.TrimSpace(c.Query("stale_minutes")); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			threshold = time.Duration(minutes) * time.Minute
		}
	}
	recovered, err := s.RecoverStuckDocuments(c.Request.Context(), threshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}

func parseDocumentID(c *gin.Context) (uint64, bool) {
	raw := strings.TrimSpace(c.Param("id"))
	docID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || docID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return 0, false
	}
	return docID, true
}
