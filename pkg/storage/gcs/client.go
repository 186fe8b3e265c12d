package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/gcp"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"google.golang.org/api/googleapi"
)

const pingTimeout = 5 * time.Second

// ErrObjectNotFound is returned when the requested object key does not exist.
var ErrObjectNotFound = errors.New("gcs object not found")

// Client wraps a bucket handle for staged import files and digital assets.
type Client struct {
	client *storage.Client
	bucket string
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewClient opens a storage client bound to cfg.BucketName and checks access.
func NewClient(ctx context.Context, cfg config.StorageConfig, gcpCfg config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	sc, err := storage.NewClient(ctx, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	c := &Client{client: sc, bucket: strings.TrimSpace(cfg.BucketName)}
	if err := c.Ping(ctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "gcs client initialized")
	}
	return c, nil
}

func (c *Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := c.client.Bucket(c.bucket).Attrs(ctx)
	return err
}

// Upload writes body to key and returns the number of bytes stored.
func (c *Client) Upload(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("gcs client not initialized")
	}
	w := c.client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	n, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("writing %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("finalizing %s: %w", key, err)
	}
	return n, nil
}

// Open streams an object; callers close the reader.
func (c *Client) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("gcs client not initialized")
	}
	r, err := c.client.Bucket(c.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	return r, nil
}

// SignedURL returns a V4 GET URL for key valid for ttl.
func (c *Client) SignedURL(key string, ttl time.Duration) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("gcs client not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("object key is required")
	}
	return c.client.Bucket(c.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
}

// Delete removes key; a missing object is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return errors.New("gcs client not initialized")
	}
	err := c.client.Bucket(c.bucket).Object(key).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("deleting %s: %w", key, err)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
