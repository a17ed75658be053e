package postgrest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ambiyansyah-risyal/opsclient/internal/backend"
)

// Storage returns a storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// StorageClient handles storage operations.
type StorageClient struct {
	client *Client
}

// From returns a bucket client.
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{
		client: s.client,
		bucket: bucket,
	}
}

// BucketClient handles operations on one bucket.
type BucketClient struct {
	client *Client
	bucket string
}

func (b *BucketClient) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, url.PathEscape(b.bucket), escapeKey(key))
}

// Upload writes data under key, replacing any existing object.
func (b *BucketClient) Upload(ctx context.Context, key string, data []byte, contentType string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.objectURL(key), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	b.client.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	return b.client.do(req)
}

// Download reads the object at key.
func (b *BucketClient) Download(ctx context.Context, key string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	b.client.setHeaders(req)
	req.Header.Set("Accept", "*/*")

	return b.client.do(req)
}

// Remove deletes the object at key.
func (b *BucketClient) Remove(ctx context.Context, key string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	b.client.setHeaders(req)

	return b.client.do(req)
}

// PublicURL returns the public URL for a file.
func (b *BucketClient) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, url.PathEscape(b.bucket), escapeKey(key))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Store adapts the storage API to the object store contract.
type Store struct {
	storage *StorageClient
}

// NewStore returns an object store backed by c's storage API.
func NewStore(c *Client) *Store {
	return &Store{storage: c.Storage()}
}

func (s *Store) Put(ctx context.Context, obj backend.Object) (*backend.ObjectInfo, error) {
	bucket := s.storage.From(obj.Bucket)
	if _, err := bucket.Upload(ctx, obj.Key, obj.Data, obj.ContentType); err != nil {
		return nil, err
	}
	return &backend.ObjectInfo{
		Bucket:      obj.Bucket,
		Key:         obj.Key,
		ContentType: obj.ContentType,
		Size:        int64(len(obj.Data)),
		URL:         bucket.PublicURL(obj.Key),
	}, nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) (*backend.Object, error) {
	resp, err := s.storage.From(bucket).Download(ctx, key)
	if err != nil {
		return nil, err
	}
	return &backend.Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: resp.Headers.Get("Content-Type"),
		Data:        resp.Body,
	}, nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.storage.From(bucket).Remove(ctx, key)
	return err
}

// Ping lists buckets.
func (s *Store) Ping(ctx context.Context) error {
	c := s.storage.client
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/storage/v1/bucket", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(resp.Body) {
		return fmt.Errorf("storage ping: unexpected body")
	}
	return nil
}
