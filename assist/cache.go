package assist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	answerCacheTTL     = 5 * time.Minute
	answerCacheTimeout = 300 * time.Millisecond
)

// answerCache holds recent grounded answers so repeat questions skip the
// provider round-trip. Only answers that passed the grounding gate are stored.
type answerCache struct {
	client *redis.Client
}

type cachedAnswer struct {
	Answer   string `json:"answer"`
	Grounded bool   `json:"grounded"`
}

func newAnswerCache(client *redis.Client) *answerCache {
	if client == nil {
		return nil
	}
	return &answerCache{client: client}
}

func (c *answerCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), answerCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= answerCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, answerCacheTimeout)
}

func (c *answerCache) key(query, language string) string {
	if c == nil || c.client == nil {
		return ""
	}
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(language + "|" + normalized))
	return "assist:answer:" + hex.EncodeToString(sum[:])
}

func (c *answerCache) get(ctx context.Context, query, language string) (*cachedAnswer, error) {
	if c == nil || c.client == nil {
		return nil, redis.Nil
	}
	key := c.key(query, language)
	if key == "" {
		return nil, redis.Nil
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var entry cachedAnswer
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *answerCache) store(ctx context.Context, query, language string, entry cachedAnswer) {
	if c == nil || c.client == nil {
		return
	}
	key := c.key(query, language)
	if key == "" {
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		log.Printf("assist: marshal answer cache payload failed: %v", err)
		return
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	if err := c.client.Set(ctx, key, payload, answerCacheTTL).Err(); err != nil {
		log.Printf("assist: store answer cache failed: %v", err)
	}
}
