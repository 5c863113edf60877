package netcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetRevalidatesWithETag(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"name":"Ada"}`))
	}))
	defer srv.Close()

	c := New(t.TempDir())
	ctx := context.Background()

	path, fromCache, err := c.Get(ctx, srv.URL+"/data.json")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if fromCache {
		t.Fatal("first get should download")
	}

	path2, fromCache, err := c.Get(ctx, srv.URL+"/data.json")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !fromCache || path2 != path {
		t.Fatalf("second get: path=%s fromCache=%v", path2, fromCache)
	}
	if hits.Load() != 2 || notModified.Load() != 1 {
		t.Fatalf("hits=%d notModified=%d", hits.Load(), notModified.Load())
	}

	b, err := c.Fetch(ctx, srv.URL+"/data.json")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(b) != `{"name":"Ada"}` {
		t.Fatalf("body %q", b)
	}
}

func TestGetServesStaleCopyWhenServerFails(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Last-Modified", time.Unix(0, 0).UTC().Format(http.TimeFormat))
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := New(t.TempDir())
	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("prime: %v", err)
	}
	fail.Store(true)
	b, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("stale fetch: %v", err)
	}
	if string(b) != "payload" {
		t.Fatalf("body %q", b)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(t.TempDir())
	c.Backoff = time.Millisecond
	b, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(b) != "ok" || hits.Load() != 3 {
		t.Fatalf("body %q after %d hits", b, hits.Load())
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(t.TempDir())
	c.Backoff = time.Millisecond
	if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("want error")
	}
	if hits.Load() != 1 {
		t.Fatalf("want a single attempt, got %d", hits.Load())
	}
}

func TestGetHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(t.TempDir())
	c.Backoff = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, _, err := c.Get(ctx, srv.URL); err == nil {
		t.Fatal("want error")
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("backoff ignored the context")
	}
}
