package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postpilot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPost() *models.ScheduledPost {
	return &models.ScheduledPost{
		ID:          1,
		PublicID:    "pub-1",
		ContentID:   "campaign-1",
		Title:       "Hello",
		Description: "World",
		Hashtags:    []string{"#go"},
		Keywords:    "go,testing",
		CTA:         "Read more",
		MediaRefs:   []string{"media/a.png"},
		Platforms:   []string{"instagram"},
		CharacterID: "voice-1",
		ScheduledAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestForwardSuccess(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	err := client.Forward(context.Background(), testPost(), &models.DeliveryService{
		URL:    srv.URL,
		APIKey: "token-123",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Hello", gotBody["title"])
	assert.Equal(t, "pub-1", gotBody["post_id"])
	assert.Equal(t, []any{"instagram"}, gotBody["platforms"])
	assert.Equal(t, "voice-1", gotBody["character_id"])
}

func TestForwardNoCredentialOmitsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	err := client.Forward(context.Background(), testPost(), &models.DeliveryService{URL: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestForwardNon2xxCapturesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	err := client.Forward(context.Background(), testPost(), &models.DeliveryService{URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(100 * time.Millisecond)

	start := time.Now()
	err := client.Forward(context.Background(), testPost(), &models.DeliveryService{URL: srv.URL})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery timeout after")
	assert.Less(t, elapsed, 2*time.Second, "the attempt must be cut off, never hang")
}

func TestForwardConnectionError(t *testing.T) {
	client := NewClient(time.Second)
	err := client.Forward(context.Background(), testPost(), &models.DeliveryService{
		URL: "http://127.0.0.1:1/unreachable",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery request failed")
}
