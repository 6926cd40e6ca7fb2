package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medisched/backend/internal/domain"
)

// Client provisions meeting links from an external service over HTTP. The
// caller bounds each request with its context; the booking flow treats every
// failure here as non-fatal.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type createMeetingRequest struct {
	Reference string    `json:"reference"`
	Topic     string    `json:"topic"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type createMeetingResponse struct {
	JoinURL string `json:"join_url"`
}

func (c *Client) CreateMeeting(ctx context.Context, appt domain.Appointment) (string, error) {
	body, err := json.Marshal(createMeetingRequest{
		Reference: appt.Number,
		Topic:     "Appointment " + appt.Number,
		StartTime: appt.StartTime,
		EndTime:   appt.EndTime,
	})
	if err != nil {
		return "", fmt.Errorf("encode meeting request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/meetings", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build meeting request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create meeting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("create meeting: unexpected status %d", resp.StatusCode)
	}

	var out createMeetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode meeting response: %w", err)
	}
	if out.JoinURL == "" {
		return "", fmt.Errorf("create meeting: empty join_url")
	}
	return out.JoinURL, nil
}
