package assist

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"techdesk_back/cache"
	"techdesk_back/knowledge"
)

// RegisterRoutes mounts the answer endpoint and the usage ledger under
// /assist. The knowledge service provides document retrieval.
func RegisterRoutes(router *gin.Engine, db *gorm.DB, svc *knowledge.Service) (*Answerer, error) {
	answerer, err := NewAnswererFromEnv(db, svc)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&UsageRecord{}); err != nil {
		return nil, err
	}
	svc.SetUsageRecorder(answerer.ledgerProviderCall)

	if client, err := cache.GetRedisClient(); err != nil {
		log.Printf("assist: answer cache disabled: %v", err)
	} else {
		answerer.WithCacheClient(newAnswerCache(client))
	}

	group := router.Group("/assist")
	group.POST("/answer", answerer.handleAnswer)
	group.GET("/usage", answerer.handleListUsage)

	return answerer, nil
}

func (a *Answerer) handleAnswer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	resp, err := a.Answer(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *Answerer) handleListUsage(c *gin.Context) {
	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := a.ledger.list(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list usage records", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
