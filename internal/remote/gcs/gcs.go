// Package gcs stores shards as objects of a Google Cloud Storage bucket. The
// object generation serves as the version token.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/spigell/cvstore/internal/remote"
)

const (
	opStat = "stat"
	opRaw  = "raw"
	opPut  = "put"
	opList = "list"
)

type Config struct {
	Bucket string
	// Endpoint overrides the API endpoint, e.g. for a local emulator.
	Endpoint string
	// Timeout bounds each call. Zero means remote.DefaultTimeout.
	Timeout time.Duration
}

// Client implements remote.Client on a bucket.
type Client struct {
	client  *storage.Client
	bucket  *storage.BucketHandle
	timeout time.Duration
	logger  *zap.Logger
}

var _ remote.Client = (*Client)(nil)

// New opens a storage client using application default credentials unless
// opts say otherwise.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = remote.DefaultTimeout
	}

	return &Client{
		client:  client,
		bucket:  client.Bucket(cfg.Bucket),
		timeout: timeout,
		logger:  logger.With(zap.String("bucket", cfg.Bucket)),
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Stat returns object metadata, with content for objects up to
// remote.InlineLimit bytes.
func (c *Client) Stat(ctx context.Context, name string) (*remote.Object, error) {
	callCtx, cancel := remote.WithTimeout(ctx, c.timeout)
	defer cancel()

	handle := c.bucket.Object(name)
	attrs, err := handle.Attrs(callCtx)
	if err != nil {
		return nil, classify(ctx, opStat, name, err)
	}

	obj := &remote.Object{
		Path:    name,
		Version: formatGeneration(attrs.Generation),
		Size:    attrs.Size,
	}
	if attrs.Size > remote.InlineLimit {
		return obj, nil
	}

	data, err := read(callCtx, handle.Generation(attrs.Generation))
	if err != nil {
		return nil, classify(ctx, opStat, name, err)
	}
	obj.Content = data
	obj.Inline = true

	return obj, nil
}

// Raw downloads the current object bytes.
func (c *Client) Raw(ctx context.Context, name string) ([]byte, error) {
	callCtx, cancel := remote.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := read(callCtx, c.bucket.Object(name))
	if err != nil {
		return nil, classify(ctx, opRaw, name, err)
	}
	return data, nil
}

// Put writes the object if its generation still equals version, or if it does
// not exist when version is empty.
func (c *Client) Put(ctx context.Context, name string, data []byte, version, message string) (string, error) {
	cond, err := conditions(version)
	if err != nil {
		return "", &remote.Error{Op: opPut, Path: name, Kind: remote.ErrConflict, Err: err}
	}

	callCtx, cancel := remote.WithTimeout(ctx, c.timeout)
	defer cancel()

	writer := c.bucket.Object(name).If(cond).NewWriter(callCtx)
	writer.ContentType = "text/csv; charset=utf-8"
	writer.Metadata = map[string]string{"message": message}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", classify(ctx, opPut, name, err)
	}
	if err := writer.Close(); err != nil {
		return "", classify(ctx, opPut, name, err)
	}

	generation := formatGeneration(writer.Attrs().Generation)
	c.logger.Debug("object written", zap.String("object", name), zap.String("generation", generation), zap.Int("bytes", len(data)))

	return generation, nil
}

// List returns the objects and sub-prefixes directly under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]remote.Entry, error) {
	callCtx, cancel := remote.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := &storage.Query{Delimiter: "/"}
	if p := strings.Trim(prefix, "/"); p != "" {
		query.Prefix = p + "/"
	}

	var entries []remote.Entry
	it := c.bucket.Objects(callCtx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(ctx, opList, prefix, err)
		}

		if attrs.Prefix != "" {
			dir := strings.TrimSuffix(attrs.Prefix, "/")
			entries = append(entries, remote.Entry{Name: path.Base(dir), Path: dir, Dir: true})
			continue
		}
		entries = append(entries, remote.Entry{Name: path.Base(attrs.Name), Path: attrs.Name, Size: attrs.Size})
	}

	if len(entries) == 0 {
		return nil, &remote.Error{Op: opList, Path: prefix, Kind: remote.ErrNotFound}
	}
	return entries, nil
}

func read(ctx context.Context, handle *storage.ObjectHandle) ([]byte, error) {
	reader, err := handle.NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func conditions(version string) (storage.Conditions, error) {
	if version == "" {
		return storage.Conditions{DoesNotExist: true}, nil
	}
	generation, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return storage.Conditions{}, fmt.Errorf("version %q is not a generation: %w", version, err)
	}
	return storage.Conditions{GenerationMatch: generation}, nil
}

func formatGeneration(generation int64) string {
	return strconv.FormatInt(generation, 10)
}

// classify maps storage errors onto the remote taxonomy. ctx is the caller's
// context.
func classify(ctx context.Context, op, name string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &remote.Error{Op: op, Path: name, Status: 404, Kind: remote.ErrNotFound, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &remote.Error{Op: op, Path: name, Status: apiErr.Code, Kind: remote.KindFromStatus(apiErr.Code), Err: err}
	}

	return remote.TransportError(ctx, op, name, err)
}
