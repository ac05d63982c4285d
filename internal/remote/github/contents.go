package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/remote"
)

const (
	opStat = "stat"
	opRaw  = "raw"
	opPut  = "put"
	opList = "list"
)

type content struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type putRequest struct {
	Message   string     `json:"message"`
	Content   string     `json:"content"`
	Branch    string     `json:"branch"`
	SHA       string     `json:"sha,omitempty"`
	Committer *Committer `json:"committer,omitempty"`
}

type putResponse struct {
	Content content `json:"content"`
}

// Stat returns the file metadata and, for files up to remote.InlineLimit
// bytes, its content.
func (c *Client) Stat(ctx context.Context, path string) (*remote.Object, error) {
	callCtx, cancel := remote.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(callCtx, http.MethodGet, c.contentsURL(path), nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = url.Values{"ref": {c.cfg.Branch}}.Encode()

	data, _, err := c.do(ctx, opStat, path, req)
	if err != nil {
		return nil, err
	}

	var item content
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, &remote.Error{Op: opStat, Path: path, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if item.Type != "" && item.Type != "file" {
		return nil, &remote.Error{Op: opStat, Path: path, Err: fmt.Errorf("%s is a %s, not a file", path, item.Type)}
	}

	obj := &remote.Object{Path: path, Version: item.SHA, Size: item.Size}
	if item.Size > remote.InlineLimit || item.Encoding != "base64" || (item.Content == "" && item.Size > 0) {
		c.logger.Debug("content withheld by API", zap.String("path", path), zap.Int64("size", item.Size), zap.String("encoding", item.Encoding))
		return obj, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(stripNewlines(item.Content))
	if err != nil {
		c.logger.Warn("undecodable inline content, falling back to raw fetch", zap.String("path", path), zap.Error(err))
		return obj, nil
	}

	obj.Content = decoded
	obj.Inline = true
	return obj, nil
}

// Raw downloads the file bytes through the raw media type of the contents
// API, which serves files up to 100 MB from the branch head. The CDN behind
// raw.githubusercontent.com is not used: it may lag behind the branch.
func (c *Client) Raw(ctx context.Context, path string) ([]byte, error) {
	callCtx, cancel := remote.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(callCtx, http.MethodGet, c.contentsURL(path), nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = url.Values{"ref": {c.cfg.Branch}}.Encode()
	req.Header.Set("Accept", rawAccept)

	data, _, err := c.do(ctx, opRaw, path, req)
	return data, err
}

// Put commits data to path. An empty version creates the file.
func (c *Client) Put(ctx context.Context, path string, data []byte, version, message string) (string, error) {
	callCtx, cancel := remote.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload := putRequest{
		Message:   message,
		Content:   base64.StdEncoding.EncodeToString(data),
		Branch:    c.cfg.Branch,
		SHA:       version,
		Committer: c.cfg.Committer,
	}

	req, err := c.newRequest(callCtx, http.MethodPut, c.contentsURL(path), payload)
	if err != nil {
		return "", err
	}

	body, _, err := c.do(ctx, opPut, path, req)
	if err != nil {
		return "", err
	}

	var resp putResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Content.SHA == "" {
		if err == nil {
			err = errors.New("response carries no sha")
		}
		// The commit landed; only the new token is unknown. Callers re-read
		// before any further write.
		c.logger.Warn("unreadable put response", zap.String("path", path), zap.Error(err))
		return "", nil
	}

	c.logger.Debug("committed", zap.String("path", path), zap.String("sha", resp.Content.SHA), zap.Int("bytes", len(data)))
	return resp.Content.SHA, nil
}

// List returns the entries of the prefix directory.
func (c *Client) List(ctx context.Context, prefix string) ([]remote.Entry, error) {
	callCtx, cancel := remote.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(callCtx, http.MethodGet, c.contentsURL(prefix), nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = url.Values{"ref": {c.cfg.Branch}}.Encode()

	data, _, err := c.do(ctx, opList, prefix, req)
	if err != nil {
		return nil, err
	}

	var items []content
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &remote.Error{Op: opList, Path: prefix, Err: fmt.Errorf("%s is not a directory: %w", prefix, err)}
	}

	entries := make([]remote.Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, remote.Entry{
			Name: item.Name,
			Path: item.Path,
			Size: item.Size,
			Dir:  item.Type == "dir",
		})
	}
	return entries, nil
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}
