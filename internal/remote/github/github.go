// Package github stores shards in a GitHub repository through the Contents API.
package github

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/remote"
)

const (
	apiURL    = "https://api.github.com"
	userAgent = "spigell/cvstore"
	apiAccept = "application/vnd.github+json"
	rawAccept = "application/vnd.github.raw"
	// apiVersion pins the REST API revision the client speaks.
	apiVersion = "2022-11-28"
)

// Committer overrides the author recorded on commits.
type Committer struct {
	Name  string
	Email string
}

// Config is the immutable client configuration.
type Config struct {
	// Repo is "owner/name".
	Repo   string
	Branch string
	Token  string
	APIURL string
	// Timeout bounds each call. Zero means remote.DefaultTimeout.
	Timeout   time.Duration
	Committer *Committer
	UserAgent string
}

// Client implements remote.Client on top of one repository branch.
type Client struct {
	cfg        Config
	logger     *zap.Logger
	HTTPClient *http.Client
}

var _ remote.Client = (*Client)(nil)

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = apiURL
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = userAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = remote.DefaultTimeout
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	return &Client{
		cfg:        cfg,
		logger:     logger.With(zap.String("repo", cfg.Repo), zap.String("branch", cfg.Branch)),
		HTTPClient: &http.Client{},
	}
}
