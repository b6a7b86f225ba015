package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMonitorInterval = 10 * time.Minute
	defaultStaleThreshold  = 30 * time.Minute
)

// RecoverStuckDocuments force-fails documents stuck in processing past the
// threshold, so a crashed indexing job cannot leave a document unusable.
// Returns the number of documents recovered in this sweep.
func (s *Service) RecoverStuckDocuments(ctx context.Context, staleThreshold time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("knowledge: database connection is not configured")
	}
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}

	cutoff := time.Now().UTC().Add(-staleThreshold)

	var stuck []Document
	if err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", StatusProcessing, cutoff).
		Find(&stuck).Error; err != nil {
		return 0, err
	}

	recovered := 0
	for _, doc := range stuck {
		elapsed := time.Since(doc.UpdatedAt).Round(time.Minute)
		message := fmt.Sprintf("indexing stalled for %s at %d%%, recovered by health monitor; re-ingest to retry", elapsed, doc.Progress)

		// Guard the status in the update so two overlapping sweeps cannot
		// both claim the same document.
		res := s.db.WithContext(ctx).Model(&Document{}).
			Where("id = ? AND status = ?", doc.ID, StatusProcessing).
			Updates(map[string]interface{}{
				"status":        StatusError,
				"progress":      0,
				"error_message": message,
				"updated_at":    time.Now().UTC(),
			})
		if res.Error != nil {
			log.Printf("knowledge: recover stuck document %d: %v", doc.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}
		recovered++
		log.Printf("knowledge: audit: document %d (%s) recovered after being stuck %s at %d%%", doc.ID, doc.Name, elapsed, doc.Progress)
	}
	return recovered, nil
}

// StartMonitor runs the stuck-document sweep on a fixed interval for the
// lifetime of the context. Started once at process startup.
func (s *Service) StartMonitor(ctx context.Context) {
	interval := envDuration("MONITOR_INTERVAL_MINUTES", defaultMonitorInterval)
	threshold := envDuration("MONITOR_STALE_MINUTES", defaultStaleThreshold)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
				if _, err := s.RecoverStuckDocuments(sweepCtx, threshold); err != nil {
					log.Printf("knowledge: stuck document sweep: %v", err)
				}
				cancel()
			}
		}
	}()
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(getEnvDefault(key, ""))
	if raw == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}
