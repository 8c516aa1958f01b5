package storage

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	tmpDir, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewStore(dbPath, time.Second)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func testEntry(url, body string) *Entry {
	return &Entry{
		URL:      url,
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"image/jpeg"}},
		Body:     []byte(body),
		StoredAt: time.Now(),
	}
}

func TestStore_PutAndMatch(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if err := store.Put("apodtok-runtime", testEntry("https://apod.nasa.gov/a.jpg", "jpeg-bytes")); err != nil {
		t.Fatalf("failed to put entry: %v", err)
	}

	entry, ns, err := store.Match("https://apod.nasa.gov/a.jpg", "apodtok-cache-v1", "apodtok-runtime")
	if err != nil {
		t.Fatalf("failed to match entry: %v", err)
	}
	if ns != "apodtok-runtime" {
		t.Errorf("expected namespace apodtok-runtime, got %s", ns)
	}
	if string(entry.Body) != "jpeg-bytes" {
		t.Errorf("expected body jpeg-bytes, got %q", entry.Body)
	}
	if entry.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("expected content type to survive, got %q", entry.Header.Get("Content-Type"))
	}
}

func TestStore_MatchOrder(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	url := "https://apod.nasa.gov/index.html"
	if err := store.Put("runtime", testEntry(url, "runtime")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put("static", testEntry(url, "static")); err != nil {
		t.Fatal(err)
	}

	entry, ns, err := store.Match(url, "static", "runtime")
	if err != nil {
		t.Fatal(err)
	}
	if ns != "static" || string(entry.Body) != "static" {
		t.Errorf("expected static to win, got %s/%s", ns, entry.Body)
	}
}

func TestStore_MatchMiss(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, _, err := store.Match("https://nowhere.example/x", "static", "runtime")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PutReplaces(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	url := "https://api.nasa.gov/planetary/apod?count=5"
	store.Put("runtime", testEntry(url, "old"))
	store.Put("runtime", testEntry(url, "new"))

	entry, _, err := store.Match(url, "runtime")
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Body) != "new" {
		t.Errorf("expected last write to win, got %q", entry.Body)
	}
}

func TestStore_PutAllIsAtomic(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	entries := []*Entry{
		testEntry("https://apod.nasa.gov/a", "a"),
		{URL: ""},
	}
	if err := store.PutAll("static", entries); err == nil {
		t.Fatal("expected error for entry without URL")
	}

	if _, _, err := store.Match("https://apod.nasa.gov/a", "static"); !errors.Is(err, ErrNotFound) {
		t.Errorf("partial write leaked: %v", err)
	}
	names, _ := store.Namespaces()
	if len(names) != 0 {
		t.Errorf("namespace should not exist after rollback, got %v", names)
	}
}

func TestStore_NamespacesAndKeep(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	for _, ns := range []string{"apodtok-cache-v1", "apodtok-cache-v2", "apodtok-runtime"} {
		if err := store.Put(ns, testEntry("https://apod.nasa.gov/", ns)); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := store.Keep("apodtok-cache-v2", "apodtok-runtime")
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != "apodtok-cache-v1" {
		t.Errorf("expected v1 deleted, got %v", deleted)
	}

	names, err := store.Namespaces()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "apodtok-cache-v2" || names[1] != "apodtok-runtime" {
		t.Errorf("unexpected namespaces %v", names)
	}

	if err := store.DeleteNamespace("apodtok-runtime"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteNamespace("does-not-exist"); err != nil {
		t.Errorf("deleting a missing namespace should be a no-op: %v", err)
	}
}

func TestStore_Stats(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.PutAll("runtime", []*Entry{
		testEntry("https://apod.nasa.gov/1", "one"),
		testEntry("https://apod.nasa.gov/2", "two"),
	})

	stats, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 || stats[0].Entries != 2 || stats[0].Bytes == 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestStore_Metadata(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if v, err := store.GetMetadata("activated"); err != nil || v != "" {
		t.Errorf("expected empty metadata, got %q, %v", v, err)
	}
	if err := store.SetMetadata("activated", "apodtok-cache-v1"); err != nil {
		t.Fatal(err)
	}
	if v, _ := store.GetMetadata("activated"); v != "apodtok-cache-v1" {
		t.Errorf("got %q", v)
	}
}

func TestEntry_Response(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://apod.nasa.gov/a.jpg", nil)
	resp := testEntry(req.URL.String(), "pixels").Response(req)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Request != req {
		t.Error("response should reference its request")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pixels" {
		t.Errorf("got body %q", body)
	}
	if resp.ContentLength != 6 {
		t.Errorf("got content length %d", resp.ContentLength)
	}
}
