package netcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

// Cache provides a simple persistent HTTP cache with ETag/Last-Modified support.
type Cache struct {
	Dir    string
	Client *http.Client
	Logger *slog.Logger
	// Retries is the number of full fetch attempts. Zero means 3.
	Retries int
	// Backoff is the delay before the second attempt; it doubles after
	// every failure. Zero means 2s.
	Backoff time.Duration
}

// New returns a new Cache with a reasonable default HTTP client.
func New(dir string) *Cache {
	return &Cache{
		Dir: dir,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DefaultDir returns the per-user cache directory for remote data.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "jinjapreview")
	}
	return filepath.Join(os.TempDir(), "jinjapreview-cache")
}

type meta struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	// DataFile is the basename of the cached payload file
	DataFile string `json:"data_file"`
}

// errStatus is returned for non-2xx responses.
type errStatus struct {
	url  string
	code int
}

func (e *errStatus) Error() string { return fmt.Sprintf("GET %s: HTTP %d", e.url, e.code) }

// Fetch returns the body of url, served from the cache when the server
// reports it unchanged.
func (c *Cache) Fetch(ctx context.Context, url string) ([]byte, error) {
	path, _, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Get fetches the URL into the cache and returns a local file path.
// If the cache is valid, it is reused without downloading.
// Returns (path, fromCache, error).
func (c *Cache) Get(ctx context.Context, url string) (string, bool, error) {
	key := hash(url)
	mpath := filepath.Join(c.Dir, key+".json")
	m, haveMeta := c.readMeta(mpath, url)

	if haveMeta {
		cached := filepath.Join(c.Dir, m.DataFile)
		path, updated, err := c.fetch(ctx, url, key, &m)
		switch {
		case err == nil && !updated:
			c.logger().Debug("cache revalidated", "url", url)
			return cached, true, nil
		case err == nil:
			return path, false, nil
		case ctx.Err() != nil:
			return "", false, ctx.Err()
		}
		// The server could not be asked; a stale copy beats no copy.
		c.logger().Warn("revalidation failed, using cached copy", "url", url, "error", err)
		return cached, true, nil
	}

	var lastErr error
	delay := c.backoff()
	for attempt := 0; attempt < c.retries(); attempt++ {
		if attempt > 0 {
			c.logger().Debug("retrying download", "url", url, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		path, _, err := c.fetch(ctx, url, key, nil)
		if err == nil {
			return path, false, nil
		}
		lastErr = err
		var se *errStatus
		if errors.As(err, &se) && se.code < 500 {
			break
		}
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
	}
	return "", false, lastErr
}

// fetch performs one GET, conditional when prev is set. updated is false when
// the server answered 304 Not Modified.
func (c *Cache) fetch(ctx context.Context, url, key string, prev *meta) (path string, updated bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}
	if prev != nil {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if prev != nil && resp.StatusCode == http.StatusNotModified {
		return "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, &errStatus{url: url, code: resp.StatusCode}
	}

	dataFile := key + ".data"
	path = filepath.Join(c.Dir, dataFile)
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", false, err
	}
	counter := &countingReader{r: resp.Body}
	if err := atomic.WriteFile(path, counter); err != nil {
		return "", false, fmt.Errorf("caching %s: %w", url, err)
	}
	c.logger().Debug("downloaded", "url", url, "bytes", counter.n)

	nm := meta{
		URL:          url,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		DataFile:     dataFile,
	}
	if err := writeMeta(filepath.Join(c.Dir, key+".json"), nm); err != nil {
		return "", false, err
	}
	return path, true, nil
}

func (c *Cache) readMeta(path, url string) (meta, bool) {
	var m meta
	b, err := os.ReadFile(path)
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(b, &m); err != nil {
		c.logger().Debug("ignoring corrupt cache metadata", "path", path, "error", err)
		return m, false
	}
	if m.URL != url || m.DataFile == "" || !fileExists(filepath.Join(c.Dir, m.DataFile)) {
		return m, false
	}
	return m, true
}

func (c *Cache) client() *http.Client {
	if c.Client == nil {
		return http.DefaultClient
	}
	return c.Client
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Cache) retries() int {
	if c.Retries <= 0 {
		return 3
	}
	return c.Retries
}

func (c *Cache) backoff() time.Duration {
	if c.Backoff <= 0 {
		return 2 * time.Second
	}
	return c.Backoff
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func writeMeta(path string, m meta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(b))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
