package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trip-chat-service/internal/models"
)

// TripClient wraps the trip-service internal API: membership checks and
// member display profiles.
type TripClient struct {
	baseURL string
	http    *http.Client
}

// NewTripClient constructs the wrapper.
func NewTripClient(baseURL string) *TripClient {
	return &TripClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// IsTripMember reports whether the user belongs to the trip.
func (t *TripClient) IsTripMember(ctx context.Context, tripID int, userID int) (bool, error) {
	url := fmt.Sprintf("%s/internal/trips/%d/members/%d", t.baseURL, tripID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("trip service returned %d", resp.StatusCode)
	}

	var payload struct {
		Member bool `json:"member"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, err
	}
	return payload.Member, nil
}

// GetMemberProfile fetches the display profile of a single member.
func (t *TripClient) GetMemberProfile(ctx context.Context, userID int) (models.MemberProfile, error) {
	profiles, err := t.BulkProfiles(ctx, []int{userID})
	if err != nil {
		return models.MemberProfile{}, err
	}
	if len(profiles) == 0 {
		return models.MemberProfile{}, errors.New("member not found")
	}
	return profiles[0], nil
}

// BulkProfiles fetches display profiles for several members in one call.
func (t *TripClient) BulkProfiles(ctx context.Context, ids []int) ([]models.MemberProfile, error) {
	if len(ids) == 0 {
		return []models.MemberProfile{}, nil
	}

	body, err := json.Marshal(map[string][]int{"ids": ids})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/internal/members/bulk", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trip service returned %d", resp.StatusCode)
	}

	var payload struct {
		Members []models.MemberProfile `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Members, nil
}
