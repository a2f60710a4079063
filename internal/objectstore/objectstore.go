// Package objectstore is the client the ingestion and export paths use to
// move files in and out of blob storage. Uploads are skipped when the remote
// object already has the same content digest and tags; presigned URLs are
// cached for half their lifetime.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"gemini/internal/blob"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// DefaultPresignExpiry applies when PresignedURL is called with a zero expiry.
const DefaultPresignExpiry = time.Hour

// Upload outcomes reported to the Observer.
const (
	OutcomeUploaded = "uploaded"
	OutcomeSkipped  = "skipped"
	OutcomeError    = "error"
)

// Observer receives upload outcomes, typically to export metrics.
type Observer interface {
	ObserveUpload(outcome string)
}

// Options tunes a Client.
type Options struct {
	PresignExpiry time.Duration
	Logger        *slog.Logger
	Observer      Observer
}

// UploadResult describes a completed Upload.
type UploadResult struct {
	Key  string
	ETag string
	Size int64
	// Skipped reports that the remote object already matched.
	Skipped bool
}

// Client wraps a blob.Store with skip-on-match uploads and a presign cache.
type Client struct {
	store  blob.Store
	expiry time.Duration
	urls   *cache.Cache
	log    *slog.Logger
	obs    Observer
}

// New returns a Client over store.
func New(store blob.Store, opts Options) *Client {
	expiry := opts.PresignExpiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		store:  store,
		expiry: expiry,
		urls:   cache.New(expiry/2, expiry),
		log:    log,
		obs:    opts.Observer,
	}
}

// Store returns the underlying blob store.
func (c *Client) Store() blob.Store { return c.store }

func (c *Client) observe(outcome string) {
	if c.obs != nil {
		c.obs.ObserveUpload(outcome)
	}
}

// Upload puts the file at localPath under key unless the remote object
// already has the same MD5 digest and tags.
func (c *Client) Upload(ctx context.Context, key, localPath string, tags map[string]string) (UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		c.observe(OutcomeError)
		return UploadResult{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()
	return c.upload(ctx, key, f, contentType(localPath), tags)
}

// UploadReader is Upload for an in-memory or streamed payload. Readers that
// cannot seek are spooled to a temporary file so they can be hashed first.
func (c *Client) UploadReader(ctx context.Context, key string, r io.Reader, tags map[string]string) (UploadResult, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		tmp, err := os.CreateTemp("", "gemini-upload-*")
		if err != nil {
			c.observe(OutcomeError)
			return UploadResult{}, err
		}
		defer func() {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}()
		if _, err := io.Copy(tmp, r); err != nil {
			c.observe(OutcomeError)
			return UploadResult{}, fmt.Errorf("spool %s: %w", key, err)
		}
		rs = tmp
	}
	return c.upload(ctx, key, rs, contentType(key), tags)
}

func (c *Client) upload(ctx context.Context, key string, rs io.ReadSeeker, ctype string, tags map[string]string) (UploadResult, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		c.observe(OutcomeError)
		return UploadResult{}, err
	}
	etag, size, err := blob.ETag(rs)
	if err != nil {
		c.observe(OutcomeError)
		return UploadResult{}, fmt.Errorf("hash %s: %w", key, err)
	}
	if c.matches(ctx, key, etag, tags) {
		c.observe(OutcomeSkipped)
		c.log.Info("upload skipped, remote object matches", "key", key, "etag", etag)
		return UploadResult{Key: key, ETag: etag, Size: size, Skipped: true}, nil
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		c.observe(OutcomeError)
		return UploadResult{}, err
	}
	info, err := c.store.Put(ctx, key, rs, blob.PutOptions{ContentType: ctype, Tags: tags})
	if err != nil {
		c.observe(OutcomeError)
		return UploadResult{}, fmt.Errorf("upload %s: %w", key, err)
	}
	c.forget(key)
	c.observe(OutcomeUploaded)
	c.log.Debug("uploaded object", "key", key, "size", size)
	return UploadResult{Key: key, ETag: info.ETag, Size: size}, nil
}

// matches reports whether key exists with the given digest and tags. Any
// lookup failure counts as a mismatch so the upload proceeds.
func (c *Client) matches(ctx context.Context, key, etag string, tags map[string]string) bool {
	info, err := c.store.Head(ctx, key)
	if err != nil || info.ETag != etag {
		return false
	}
	remote, err := c.store.Tags(ctx, key)
	if err != nil {
		return false
	}
	return blob.TagsEqual(remote, tags)
}

// Download writes the object at key to dest, creating parent directories.
// The file is written to a temporary sibling and renamed into place.
func (c *Client) Download(ctx context.Context, key, dest string) (blob.Info, error) {
	info, body, err := c.store.Get(ctx, key)
	if err != nil {
		return blob.Info{}, c.notFound(key, err)
	}
	defer func() { _ = body.Close() }()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return blob.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return blob.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return blob.Info{}, fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return blob.Info{}, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return blob.Info{}, err
	}
	return info, nil
}

// Open returns a reader over the object at key.
func (c *Client) Open(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	info, body, err := c.store.Get(ctx, key)
	if err != nil {
		return blob.Info{}, nil, c.notFound(key, err)
	}
	return info, body, nil
}

// PresignedURL returns a GET URL for key valid for expiry (the client default
// when zero). URLs are reused for half their validity.
func (c *Client) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = c.expiry
	}
	ck := cacheKey(key, expiry)
	if v, ok := c.urls.Get(ck); ok {
		if u, ok := v.(string); ok {
			return u, nil
		}
	}
	u, err := c.store.PresignURL(ctx, key, blob.SignedURLOptions{Expiry: expiry})
	if err != nil {
		return "", c.notFound(key, err)
	}
	c.urls.Set(ck, u, expiry/2)
	return u, nil
}

// Stat returns the object's metadata and whether it exists.
func (c *Client) Stat(ctx context.Context, key string) (blob.Info, bool, error) {
	info, err := c.store.Head(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return blob.Info{}, false, nil
	}
	if err != nil {
		return blob.Info{}, false, err
	}
	return info, true, nil
}

// Remove deletes key and reports whether it existed.
func (c *Client) Remove(ctx context.Context, key string) (bool, error) {
	c.forget(key)
	return c.store.Delete(ctx, key)
}

// List returns the objects under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]blob.Info, error) {
	return c.store.List(ctx, prefix)
}

func (c *Client) forget(key string) {
	for ck := range c.urls.Items() {
		if cacheKeyObject(ck) == key {
			c.urls.Delete(ck)
		}
	}
}

func (c *Client) notFound(key string, err error) error {
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return err
}

func cacheKey(key string, expiry time.Duration) string {
	return expiry.String() + "|" + key
}

func cacheKeyObject(ck string) string {
	_, key, _ := strings.Cut(ck, "|")
	return key
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
