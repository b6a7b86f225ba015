package assist

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"
)

const (
	OperationAnswer         = "answer"
	OperationRetry          = "answer_retry"
	OperationEscalation     = "escalation"
	OperationExternalSearch = "external_search"
)

// UsageRecord is an append-only ledger row, one per provider call. Rows are
// never mutated after creation.
type UsageRecord struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	ModelName     string    `gorm:"size:128;not null" json:"model_name"`
	Provider      string    `gorm:"size:64;not null" json:"provider"`
	OperationType string    `gorm:"size:32;not null;index" json:"operation_type"`
	UserID        *uint64   `gorm:"index" json:"user_id,omitempty"`
	WidgetID      *uint64   `gorm:"index" json:"widget_id,omitempty"`
	TokenCount    int       `gorm:"not null;default:0" json:"token_count"`
	Success       bool      `gorm:"not null;index" json:"success"`
	ErrorMessage  *string   `gorm:"size:1024" json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (UsageRecord) TableName() string {
	return "provider_usage_records"
}

type usageLedger struct {
	db *gorm.DB
}

// record appends one ledger row. Ledger failures are logged, never
// propagated: observability must not break the answer path.
func (l *usageLedger) record(ctx context.Context, rec UsageRecord) {
	if l == nil || l.db == nil {
		return
	}
	if rec.ErrorMessage != nil && len(*rec.ErrorMessage) > 1000 {
		short := (*rec.ErrorMessage)[:1000]
		rec.ErrorMessage = &short
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		log.Printf("assist: append usage record: %v", err)
	}
}

// list returns the most recent ledger rows, newest first.
func (l *usageLedger) list(ctx context.Context, limit int) ([]UsageRecord, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []UsageRecord
	err := l.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// estimateTokens approximates token cost from character length when the
// provider returns no usage block. Roughly four characters per token.
func estimateTokens(inputChars, outputChars int) int {
	total := (inputChars + outputChars) / 4
	if total <= 0 && inputChars+outputChars > 0 {
		total = 1
	}
	return total
}

func tokensFromUsage(usage *ChatUsage, inputChars, outputChars int) int {
	if usage != nil && usage.TotalTokens > 0 {
		return usage.TotalTokens
	}
	return estimateTokens(inputChars, outputChars)
}
