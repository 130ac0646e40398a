// Package identity talks to the username-search service that resolves fids
// to profiles and profiles to fids.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/castmarket/fidmarket/internal/domain"
)

// Client is an HTTP client for the identity service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new identity Client for the given base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type profilePayload struct {
	Fid         uint64 `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Address     string `json:"custody_address"`
}

func (p profilePayload) toDomain() domain.Profile {
	return domain.Profile{
		Fid:         p.Fid,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Address:     p.Address,
	}
}

// SearchByMatch returns up to limit profiles whose usernames match the
// query. The result set is bounded, so the identity-search read path needs
// no cursor.
func (c *Client) SearchByMatch(ctx context.Context, query string, limit int) ([]domain.Profile, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	var result struct {
		Users []profilePayload `json:"users"`
	}
	if err := c.getJSON(ctx, "/v1/user-search?"+params.Encode(), &result); err != nil {
		return nil, fmt.Errorf("identity: search %q: %w", query, err)
	}

	profiles := make([]domain.Profile, 0, len(result.Users))
	for _, u := range result.Users {
		profiles = append(profiles, u.toDomain())
	}
	return profiles, nil
}

// ProfileByFid returns the profile for a single fid.
func (c *Client) ProfileByFid(ctx context.Context, fid uint64) (domain.Profile, error) {
	var result struct {
		User profilePayload `json:"user"`
	}
	err := c.getJSON(ctx, "/v1/user?fid="+strconv.FormatUint(fid, 10), &result)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("identity: profile %d: %w", fid, err)
	}
	return result.User.toDomain(), nil
}

// ProfilesByFids fetches profiles for a set of fids in one request. Unknown
// fids are omitted from the result map.
func (c *Client) ProfilesByFids(ctx context.Context, fids []uint64) (map[uint64]domain.Profile, error) {
	if len(fids) == 0 {
		return map[uint64]domain.Profile{}, nil
	}

	parts := make([]string, len(fids))
	for i, fid := range fids {
		parts[i] = strconv.FormatUint(fid, 10)
	}

	var result struct {
		Users []profilePayload `json:"users"`
	}
	err := c.getJSON(ctx, "/v1/users?fids="+strings.Join(parts, ","), &result)
	if err != nil {
		return nil, fmt.Errorf("identity: profiles: %w", err)
	}

	profiles := make(map[uint64]domain.Profile, len(result.Users))
	for _, u := range result.Users {
		profiles[u.Fid] = u.toDomain()
	}
	return profiles, nil
}

// LatestFid returns the highest fid registered so far. The descending
// dense-range paginator starts here when no cursor is supplied.
func (c *Client) LatestFid(ctx context.Context) (uint64, error) {
	var result struct {
		Fid uint64 `json:"fid"`
	}
	if err := c.getJSON(ctx, "/v1/fids/latest", &result); err != nil {
		return 0, fmt.Errorf("identity: latest fid: %w", err)
	}
	return result.Fid, nil
}

// getJSON performs a GET request and decodes the JSON body into out.
// Transport and non-2xx failures wrap domain.ErrUpstream.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstream, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
