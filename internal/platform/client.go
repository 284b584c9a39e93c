package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API is the slice of the learning platform the bot consumes.
// The token is the user's platform access token; the client performs no
// token validation of its own (a bad token surfaces as an HTTP error).
type API interface {
	Courses(ctx context.Context, token string) ([]Course, error)
	Videos(ctx context.Context, token, topicID string) ([]Video, error)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Courses(ctx context.Context, token string) ([]Course, error) {
	var out coursesResponse
	if err := c.getJSON(ctx, token, "/api/v1/member/courses", &out); err != nil {
		return nil, fmt.Errorf("fetch courses: %w", err)
	}
	return out.Value, nil
}

func (c *Client) Videos(ctx context.Context, token, topicID string) ([]Video, error) {
	path := "/api/v1/topics/" + url.PathEscape(topicID) + "/videos"
	var out videosResponse
	if err := c.getJSON(ctx, token, path, &out); err != nil {
		return nil, fmt.Errorf("fetch videos for topic %s: %w", topicID, err)
	}
	return out.Videos, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "courseping/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
