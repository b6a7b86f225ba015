package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type VectorPoint struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type VectorMatch struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// VectorStore is the fast mirrored index. It is best-effort everywhere:
// a nil store or a failing store never blocks indexing or retrieval.
type VectorStore interface {
	EnsureCollection(ctx context.Context, vectorSize int) error
	Upsert(ctx context.Context, points []VectorPoint) error
	Delete(ctx context.Context, pointIDs []string) error
	Search(ctx context.Context, vector []float32, limit int) ([]VectorMatch, error)
}

type qdrantStore struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
}

// NewQdrantStoreFromEnv returns nil (not an error) when QDRANT_URL is unset,
// so the retrieval cascade simply skips the hybrid tier.
func NewQdrantStoreFromEnv() (VectorStore, error) {
	baseURL := strings.TrimSpace(os.Getenv("QDRANT_URL"))
	if baseURL == "" {
		return nil, nil
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("knowledge: invalid Qdrant URL %q", baseURL)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("knowledge: parse Qdrant URL: %w", err)
	}

	collection := strings.TrimSpace(os.Getenv("QDRANT_COLLECTION"))
	if collection == "" {
		collection = "support_knowledge"
	}

	vectorSize := 0
	if raw := strings.TrimSpace(os.Getenv("QDRANT_VECTOR_DIM")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			vectorSize = parsed
		}
	}

	return &qdrantStore{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("QDRANT_API_KEY")),
		collection: collection,
		vectorSize: vectorSize,
	}, nil
}

func (c *qdrantStore) EnsureCollection(ctx context.Context, vectorSize int) error {
	if c == nil {
		return errors.New("knowledge: vector store is not configured")
	}
	size := vectorSize
	if size <= 0 {
		size = c.vectorSize
	}
	if size <= 0 {
		return errors.New("knowledge: vector size must be positive")
	}

	payload := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     size,
			"distance": "Cosine",
		},
	}
	endpoint := fmt.Sprintf("%s/collections/%s", c.baseURL, url.PathEscape(c.collection))
	return c.send(ctx, http.MethodPut, endpoint, payload, nil)
}

func (c *qdrantStore) Upsert(ctx context.Context, points []VectorPoint) error {
	if c == nil {
		return errors.New("knowledge: vector store is not configured")
	}
	if len(points) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("%s/collections/%s/points", c.baseURL, url.PathEscape(c.collection))
	return c.send(ctx, http.MethodPut, endpoint, map[string]interface{}{"points": points}, nil)
}

func (c *qdrantStore) Delete(ctx context.Context, pointIDs []string) error {
	if c == nil {
		return errors.New("knowledge: vector store is not configured")
	}
	if len(pointIDs) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("%s/collections/%s/points", c.baseURL, url.PathEscape(c.collection))
	return c.send(ctx, http.MethodDelete, endpoint, map[string]interface{}{"points": pointIDs}, nil)
}

func (c *qdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]VectorMatch, error) {
	if c == nil {
		return nil, errors.New("knowledge: vector store is not configured")
	}
	if len(vector) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	payload := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	var decoded struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	endpoint := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, url.PathEscape(c.collection))
	if err := c.send(ctx, http.MethodPost, endpoint, payload, &decoded); err != nil {
		return nil, err
	}

	matches := make([]VectorMatch, 0, len(decoded.Result))
	for _, item := range decoded.Result {
		matches = append(matches, VectorMatch{
			ID:      stringifyPointID(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return matches, nil
}

func (c *qdrantStore) send(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return fmt.Errorf("knowledge: encode vector store payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("knowledge: create vector store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge: vector store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("knowledge: vector store status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("knowledge: decode vector store response: %w", err)
	}
	return nil
}

func stringifyPointID(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return strconv.FormatInt(n, 10)
		}
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
