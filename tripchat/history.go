package tripchat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trip-chat-service/internal/models"
)

// HTTPHistoryLoader fetches message pages from the service's REST history
// endpoint.
type HTTPHistoryLoader struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPHistoryLoader constructs a loader against the service's base URL.
func NewHTTPHistoryLoader(baseURL, token string) *HTTPHistoryLoader {
	return &HTTPHistoryLoader{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ListBefore fetches up to limit messages strictly older than before, in
// chronological order. A nil before requests the most recent page.
func (l *HTTPHistoryLoader) ListBefore(ctx context.Context, tripID int, before *time.Time, limit int) ([]models.MessagePayload, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if before != nil {
		query.Set("before", before.Format(time.RFC3339Nano))
	}

	endpoint := fmt.Sprintf("%s/trips/%d/messages?%s", l.baseURL, tripID, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}

	var body struct {
		Messages []models.MessagePayload `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return body.Messages, nil
}
