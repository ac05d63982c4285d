package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/remote"
	"github.com/spigell/cvstore/internal/utils"
)

const errorBodyLogLimit = 300

type apiError struct {
	Message string `json:"message"`
}

func (c *Client) contentsURL(path string) string {
	u := c.cfg.APIURL + "/repos/" + c.cfg.Repo + "/contents"
	if escaped := escapePath(path); escaped != "" {
		u += "/" + escaped
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, target string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	req = c.setHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.Token))
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", apiAccept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	return req
}

// do sends req and returns the response body of a 2xx answer. Any other
// outcome is classified into a *remote.Error. parent is the caller's context.
func (c *Client) do(parent context.Context, op, path string, req *http.Request) ([]byte, int, error) {
	c.logger.Debug("make request", zap.String("op", op), zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, remote.TransportError(parent, op, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, remote.TransportError(parent, op, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, resp.StatusCode, nil
	}

	return nil, resp.StatusCode, c.statusError(op, path, resp, data)
}

func (c *Client) statusError(op, path string, resp *http.Response, body []byte) error {
	kind := remote.KindFromStatus(resp.StatusCode)
	// The contents API answers 422 when the sha is missing or stale.
	if op == opPut && resp.StatusCode == http.StatusUnprocessableEntity {
		kind = remote.ErrConflict
	}
	// Rate limit exhaustion is reported as 403.
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		kind = remote.ErrTransient
	}

	cause := fmt.Errorf("bad status: %s", resp.Status)
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		cause = fmt.Errorf("bad status: %s: %s", resp.Status, apiErr.Message)
	}

	if kind != remote.ErrNotFound {
		c.logger.Debug("request failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", utils.TruncateForLog(string(body), errorBodyLogLimit)),
		)
	}

	return &remote.Error{Op: op, Path: path, Status: resp.StatusCode, Kind: kind, Err: cause}
}

func escapePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
