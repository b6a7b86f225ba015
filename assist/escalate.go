package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ExternalSource is the external knowledge lookup used when internal
// grounding fails. An empty result with nil error means "nothing found".
type ExternalSource interface {
	Search(ctx context.Context, query, language string) (string, error)
}

type httpExternalSource struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewExternalSourceFromEnv returns nil when EXTERNAL_SEARCH_URL is unset;
// escalation is then skipped entirely.
func NewExternalSourceFromEnv() (ExternalSource, error) {
	baseURL := strings.TrimSpace(os.Getenv("EXTERNAL_SEARCH_URL"))
	if baseURL == "" {
		return nil, nil
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("assist: invalid external search URL %q", baseURL)
	}

	return &httpExternalSource{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("EXTERNAL_SEARCH_API_KEY")),
	}, nil
}

func (s *httpExternalSource) Search(ctx context.Context, query, language string) (string, error) {
	if s == nil {
		return "", errors.New("assist: external source is not configured")
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", nil
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&lang=%s", s.baseURL, url.QueryEscape(trimmed), url.QueryEscape(language))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("assist: create external search request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assist: external search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("assist: external search status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("assist: decode external search response: %w", err)
	}
	return strings.TrimSpace(decoded.Result), nil
}

// escalationPolicy decides whether a query may be answered with external
// material. The topic allowlist is operator configuration, not hard-coded
// intent; an empty list disables escalation.
type escalationPolicy struct {
	topics []string
}

func newEscalationPolicyFromEnv() *escalationPolicy {
	raw := strings.TrimSpace(os.Getenv("ESCALATION_TOPICS"))
	if raw == "" {
		return &escalationPolicy{}
	}
	parts := strings.Split(raw, ",")
	topics := make([]string, 0, len(parts))
	for _, part := range parts {
		topic := strings.ToLower(strings.TrimSpace(part))
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	return &escalationPolicy{topics: topics}
}

func (p *escalationPolicy) eligible(query string) bool {
	if p == nil || len(p.topics) == 0 {
		return false
	}
	lower := strings.ToLower(query)
	for _, topic := range p.topics {
		if strings.Contains(lower, topic) {
			return true
		}
	}
	return false
}
