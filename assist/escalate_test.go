package assist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalationPolicyEligibility(t *testing.T) {
	t.Setenv("ESCALATION_TOPICS", "warranty, Firmware Update, recall")
	policy := newEscalationPolicyFromEnv()

	assert.True(t, policy.eligible("Is my pump still under WARRANTY?"))
	assert.True(t, policy.eligible("how do I run a firmware update"))
	assert.False(t, policy.eligible("what is the VS1 voltage"))
}

func TestEscalationPolicyDisabledWithoutTopics(t *testing.T) {
	t.Setenv("ESCALATION_TOPICS", "")
	policy := newEscalationPolicyFromEnv()

	assert.False(t, policy.eligible("anything at all"))
}

func TestNewExternalSourceFromEnvUnset(t *testing.T) {
	t.Setenv("EXTERNAL_SEARCH_URL", "")

	source, err := NewExternalSourceFromEnv()
	require.NoError(t, err)
	assert.Nil(t, source)
}

func TestNewExternalSourceFromEnvInvalidURL(t *testing.T) {
	t.Setenv("EXTERNAL_SEARCH_URL", "not-a-url")

	_, err := NewExternalSourceFromEnv()
	assert.Error(t, err)
}

func TestExternalSourceSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "is my pump under warranty", r.URL.Query().Get("q"))
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"  Warranty covers two years from purchase.  "}`))
	}))
	defer server.Close()

	t.Setenv("EXTERNAL_SEARCH_URL", server.URL)
	t.Setenv("EXTERNAL_SEARCH_API_KEY", "secret")

	source, err := NewExternalSourceFromEnv()
	require.NoError(t, err)
	require.NotNil(t, source)

	info, err := source.Search(context.Background(), "is my pump under warranty", "en")
	require.NoError(t, err)
	assert.Equal(t, "Warranty covers two years from purchase.", info)
}

func TestExternalSourceSearchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer server.Close()

	t.Setenv("EXTERNAL_SEARCH_URL", server.URL)
	t.Setenv("EXTERNAL_SEARCH_API_KEY", "")

	source, err := NewExternalSourceFromEnv()
	require.NoError(t, err)

	_, err = source.Search(context.Background(), "query", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestExternalSourceSearchEmptyQuery(t *testing.T) {
	t.Setenv("EXTERNAL_SEARCH_URL", "https://example.com")

	source, err := NewExternalSourceFromEnv()
	require.NoError(t, err)

	info, err := source.Search(context.Background(), "   ", "en")
	require.NoError(t, err)
	assert.Empty(t, info)
}
