// Package objectstore uploads rendered trailers to an S3-compatible bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config locates the bucket. An empty Endpoint disables uploads.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl"`
	// PublicURL, when set, is the base for object links instead of the
	// endpoint, for example a CDN in front of the bucket.
	PublicURL string `yaml:"public_url,omitempty"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Validate checks the fields required to talk to the bucket.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("objectstore: endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("objectstore: endpoint must be host[:port] without a scheme")
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("objectstore: access key and secret key are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("objectstore: bucket is required")
	}
	if c.PublicURL != "" {
		if _, err := url.Parse(c.PublicURL); err != nil {
			return fmt.Errorf("objectstore: public url: %w", err)
		}
	}
	return nil
}

// NewMinIOClient builds a client for cfg. It does not contact the server.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// objectAPI is the part of *minio.Client the store uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store uploads files to one bucket.
type Store struct {
	api objectAPI
	cfg Config
}

// New connects a Store for cfg.
func New(cfg Config) (*Store, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{api: client, cfg: cfg}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *minio.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("objectstore: minio client is required")
	}
	return &Store{api: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("objectstore: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("objectstore: make bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Upload puts the file at localPath under key and returns its URL.
func (s *Store) Upload(ctx context.Context, key, localPath, contentType string) (string, error) {
	if s == nil || s.api == nil {
		return "", errors.New("objectstore: store not initialized")
	}
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("objectstore: key is required")
	}
	if contentType == "" {
		contentType = ContentType(localPath)
	}
	_, err := s.api.FPutObject(ctx, s.cfg.Bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("objectstore: upload %s: %w", key, err)
	}
	return s.ObjectURL(key), nil
}

// ObjectURL is the link for key: PublicURL/key when configured, otherwise a
// path-style URL on the endpoint.
func (s *Store) ObjectURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if base := strings.TrimRight(s.cfg.PublicURL, "/"); base != "" {
		return base + "/" + key
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: s.cfg.Endpoint, Path: "/" + path.Join(s.cfg.Bucket, key)}
	return u.String()
}

// ContentType guesses a video content type from the extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
