// Package zoom is a thin client for the Zoom server-to-server OAuth API:
// meeting metadata, recording listings, and authorized recording downloads.
package zoom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vidya-academy/backend/config"
)

// ErrProviderUnavailable marks Zoom API failures; callers treat them as retryable.
var ErrProviderUnavailable = errors.New("conferencing provider unavailable")

const (
	metadataTimeout = 30 * time.Second
	downloadTimeout = 10 * time.Minute
	// tokenExpirySlack refreshes the OAuth token slightly before Zoom expires it.
	tokenExpirySlack = 60 * time.Second
)

// Meeting is the subset of Zoom meeting metadata the sync pipeline reads.
type Meeting struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Duration  int       `json:"duration"` // minutes
}

// EndTime returns the meeting's computed end time.
func (m *Meeting) EndTime() time.Time {
	return m.StartTime.Add(time.Duration(m.Duration) * time.Minute)
}

// RecordingFile is one recorded artifact of a meeting (MP4, M4A, transcript, etc.).
type RecordingFile struct {
	FileType       string    `json:"file_type"`
	FileSize       int64     `json:"file_size"`
	DownloadURL    string    `json:"download_url"`
	RecordingStart time.Time `json:"recording_start"`
	RecordingEnd   time.Time `json:"recording_end"`
}

type recordingsResponse struct {
	RecordingFiles []RecordingFile `json:"recording_files"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Client calls the Zoom API with a cached server-to-server OAuth token.
type Client struct {
	cfg        config.ZoomConfig
	apiClient  *http.Client
	dlClient   *http.Client
	logger     *zap.Logger
	mu         sync.Mutex
	token      string
	tokenUntil time.Time
}

// NewClient creates a Zoom API client.
func NewClient(cfg config.ZoomConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:       cfg,
		apiClient: &http.Client{Timeout: metadataTimeout},
		dlClient:  &http.Client{Timeout: downloadTimeout},
		logger:    logger,
	}
}

// AccessToken returns a valid OAuth token, fetching a new one when the cached
// token is missing or about to expire.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenUntil) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "account_credentials")
	form.Set("account_id", c.cfg.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrProviderUnavailable, err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrProviderUnavailable, err)
	}
	c.token = tr.AccessToken
	c.tokenUntil = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpirySlack)
	c.logger.Debug("zoom access token refreshed", zap.Int("expires_in_sec", tr.ExpiresIn))
	return c.token, nil
}

// GetMeeting returns meeting metadata (start time, duration).
func (c *Client) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	var m Meeting
	if err := c.getJSON(ctx, fmt.Sprintf("%s/meetings/%s", c.cfg.APIBaseURL, url.PathEscape(meetingID)), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecordings returns the meeting's recording files in the provider's
// listing order. A completed meeting may legitimately report zero files while
// Zoom is still processing.
func (c *Client) ListRecordings(ctx context.Context, meetingID string) ([]RecordingFile, error) {
	var rr recordingsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/meetings/%s/recordings", c.cfg.APIBaseURL, url.PathEscape(meetingID)), &rr); err != nil {
		return nil, err
	}
	return rr.RecordingFiles, nil
}

// Download fetches a recording file's bytes, authorized with the OAuth token.
// Caller must close the body.
func (c *Client) Download(ctx context.Context, downloadURL string) (io.ReadCloser, int64, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: download request: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.dlClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: download: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: download status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: request: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d for %s", ErrProviderUnavailable, resp.StatusCode, rawURL)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrProviderUnavailable, err)
	}
	return nil
}
