package network

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"skyplay/internal/player"
)

// Status mirrors the server's GET /api/status reply
type Status struct {
	State       string          `json:"state"`
	Cursor      int             `json:"cursor"`
	Total       int             `json:"total"`
	Progress    int             `json:"progress"`
	Pressed     []int           `json:"pressed"`
	Calibration int             `json:"calibration"`
	Keys        map[string]bool `json:"keys"`
}

// APIClient issues remote-control requests to a running server
type APIClient struct {
	base   string
	token  string
	client *http.Client
	log    *logrus.Entry
}

// NewAPIClient creates a client for the server at hostAddr ("host:port")
func NewAPIClient(hostAddr, token string) *APIClient {
	return &APIClient{
		base:   "http://" + hostAddr,
		token:  token,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    logrus.WithField("component", "api"),
	}
}

// Health checks that the server is reachable
func (c *APIClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil)
}

// Play uploads a sequence. contentType selects how the server parses body:
// "application/json", "audio/midi" or plain text.
func (c *APIClient) Play(ctx context.Context, contentType string, body []byte) (int, error) {
	var reply struct {
		Notes int `json:"notes"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/play", contentType, body, &reply); err != nil {
		return 0, err
	}
	return reply.Notes, nil
}

// Stop asks the server to cancel playback
func (c *APIClient) Stop(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodPost, "/api/stop", "", nil, &st)
	return st, err
}

// Status fetches the playback and calibration state
func (c *APIClient) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/api/status", "", nil, &st)
	return st, err
}

func (c *APIClient) do(ctx context.Context, method, path, contentType string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode >= 300 {
		return remoteError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decode response")
}

// remoteError maps an error reply back onto the local sentinel where one exists
func remoteError(status int, body []byte) error {
	var reply struct {
		Error string `json:"error"`
	}
	msg := string(bytes.TrimSpace(body))
	if json.Unmarshal(body, &reply) == nil && reply.Error != "" {
		msg = reply.Error
	}

	switch status {
	case http.StatusConflict:
		return errors.Wrap(player.ErrAlreadyPlaying, msg)
	case http.StatusForbidden:
		return errors.Wrap(player.ErrPermissionDenied, msg)
	case http.StatusUnauthorized:
		return errors.Errorf("unauthorized: check the API token")
	}
	return errors.Errorf("server returned %d: %s", status, msg)
}
