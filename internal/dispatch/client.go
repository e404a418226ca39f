package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"postpilot/internal/models"
)

// Client forwards post payloads to delivery services over HTTP.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = models.DefaultDeliveryTimeout
	}
	return &Client{
		// Per-request deadline comes from the context; the client-level
		// timeout is a hard upper bound.
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// forwardPayload is the wire body sent to a delivery service. The service
// defines its own contract; we forward the post's full payload verbatim.
type forwardPayload struct {
	PostID      string    `json:"post_id"`
	ContentID   string    `json:"content_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Hashtags    []string  `json:"hashtags"`
	Keywords    string    `json:"keywords"`
	CTA         string    `json:"cta"`
	MediaRefs   []string  `json:"media_refs"`
	Platforms   []string  `json:"platforms"`
	CharacterID string    `json:"character_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Forward issues one dispatch attempt. A 2xx response is success; any other
// status, a timeout, or a connection error is a failure with a reason an
// operator can read back from the post.
func (c *Client) Forward(ctx context.Context, post *models.ScheduledPost, svc *models.DeliveryService) error {
	body, err := json.Marshal(forwardPayload{
		PostID:      post.PublicID,
		ContentID:   post.ContentID,
		Title:       post.Title,
		Description: post.Description,
		Hashtags:    post.Hashtags,
		Keywords:    post.Keywords,
		CTA:         post.CTA,
		MediaRefs:   post.MediaRefs,
		Platforms:   post.Platforms,
		CharacterID: post.CharacterID,
		ScheduledAt: post.ScheduledAt,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if svc.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+svc.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("delivery timeout after %s", c.timeout)
		}
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, models.FailureReasonMax))
		return fmt.Errorf("delivery service returned %d: %s", resp.StatusCode, string(raw))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
