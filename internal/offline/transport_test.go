package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/apodtok/internal/config"
	"github.com/pders01/apodtok/internal/storage"
)

type fixture struct {
	srv       *httptest.Server
	store     *storage.Store
	transport *Transport
	client    *http.Client
	base      http.RoundTripper
	cfg       config.CacheConfig
	hits      atomic.Int32
	down      atomic.Bool
}

func newFixture(t *testing.T, mutate func(*config.CacheConfig)) *fixture {
	t.Helper()
	f := &fixture{}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		switch {
		case r.URL.Path == "/planetary/apod":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"title":"live"}]`))
		case r.URL.Path == "/key":
			w.Header().Set("Cache-Control", "private, no-store")
			w.Write([]byte(`{"apiKey":"rotating"}`))
		case r.URL.Path == "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case strings.HasPrefix(r.URL.Path, "/missing"):
			http.NotFound(w, r)
		default:
			w.Write([]byte("asset:" + r.URL.Path))
		}
	}))
	t.Cleanup(f.srv.Close)

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "cache.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f.store = store

	cfg := config.TestConfig().Cache
	cfg.Origin = f.srv.URL
	if mutate != nil {
		mutate(&cfg)
	}

	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if f.down.Load() {
			return nil, errors.New("network unreachable")
		}
		return f.srv.Client().Transport.RoundTrip(req)
	})
	f.base = base
	f.cfg = cfg
	f.transport = New(store, cfg, base)
	f.client = &http.Client{Transport: f.transport}
	return f
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return fn(req) }

func (f *fixture) get(t *testing.T, path string) (*http.Response, string, error) {
	t.Helper()
	resp, err := f.client.Get(f.srv.URL + path)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body), nil
}

// cacheConfig is the fixture's cache config at another version.
func (f *fixture) cacheConfig(version int) config.CacheConfig {
	c := f.cfg
	c.Version = version
	return c
}

func activate(t *testing.T, tr *Transport) {
	t.Helper()
	require.NoError(t, tr.Activate(context.Background()))
}

func TestTransport_PassthroughBeforeActivate(t *testing.T) {
	f := newFixture(t, nil)

	_, _, err := f.get(t, "/a.jpg")
	require.NoError(t, err)
	f.transport.Wait()

	names, err := f.store.Namespaces()
	require.NoError(t, err)
	assert.Empty(t, names, "inactive transport must not cache")
}

func TestTransport_NetworkFirst(t *testing.T) {
	f := newFixture(t, nil)
	activate(t, f.transport)

	// online: live response, copy stored
	resp, body, err := f.get(t, "/planetary/apod?api_key=K&count=5")
	require.NoError(t, err)
	assert.Equal(t, `[{"title":"live"}]`, body)
	assert.Empty(t, resp.Header.Get(CacheHeader))
	f.transport.Wait()

	// offline with cached entry: exact key served from runtime
	f.down.Store(true)
	resp, body, err = f.get(t, "/planetary/apod?api_key=K&count=5")
	require.NoError(t, err)
	assert.Equal(t, `[{"title":"live"}]`, body)
	assert.Equal(t, "offline", resp.Header.Get(CacheHeader))

	// offline, different key: miss surfaces the network error
	_, _, err = f.get(t, "/planetary/apod?api_key=K&count=6")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOfflineMiss))
	assert.Contains(t, err.Error(), "network unreachable")
}

func TestTransport_NetworkFirstAlwaysHitsNetworkWhenOnline(t *testing.T) {
	f := newFixture(t, nil)
	activate(t, f.transport)

	for i := 0; i < 3; i++ {
		_, _, err := f.get(t, "/planetary/apod?count=5")
		require.NoError(t, err)
	}
	f.transport.Wait()
	assert.Equal(t, int32(3), f.hits.Load())
}

func TestTransport_CacheFirstWithFill(t *testing.T) {
	f := newFixture(t, nil)
	activate(t, f.transport)

	resp, body, err := f.get(t, "/img/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "asset:/img/a.jpg", body)
	assert.Empty(t, resp.Header.Get(CacheHeader))
	f.transport.Wait()

	f.down.Store(true)
	resp, body, err = f.get(t, "/img/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "asset:/img/a.jpg", body)
	assert.Equal(t, "hit", resp.Header.Get(CacheHeader))
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestTransport_NonSuccessNotStored(t *testing.T) {
	f := newFixture(t, nil)
	activate(t, f.transport)

	resp, _, err := f.get(t, "/broken")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	f.transport.Wait()

	_, _, err = f.store.Match(f.srv.URL+"/broken", f.transport.runtime)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransport_PassthroughOutsideScopeAndNonGET(t *testing.T) {
	f := newFixture(t, func(c *config.CacheConfig) {
		c.Scope = []string{"apod.nasa.gov"}
	})
	activate(t, f.transport)

	_, _, err := f.get(t, "/img/b.jpg")
	require.NoError(t, err)

	f2 := newFixture(t, nil)
	activate(t, f2.transport)
	resp, err := f2.client.Post(f2.srv.URL+"/img/c.jpg", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()

	f.transport.Wait()
	f2.transport.Wait()

	for _, s := range []*storage.Store{f.store, f2.store} {
		stats, err := s.Stats()
		require.NoError(t, err)
		for _, st := range stats {
			assert.Zero(t, st.Entries, "nothing should be cached in %s", st.Name)
		}
	}
}

func TestTransport_Install(t *testing.T) {
	f := newFixture(t, func(c *config.CacheConfig) {
		c.Manifest = []string{"/", "/index.html", "styles.css"}
	})

	require.NoError(t, f.transport.Install(context.Background()))
	activate(t, f.transport)

	f.down.Store(true)
	resp, body, err := f.get(t, "/styles.css")
	require.NoError(t, err)
	assert.Equal(t, "asset:/styles.css", body)
	assert.Equal(t, "hit", resp.Header.Get(CacheHeader))
}

func TestTransport_InstallIsAllOrNothing(t *testing.T) {
	f := newFixture(t, func(c *config.CacheConfig) {
		c.Manifest = []string{"/index.html", "/missing.css"}
	})

	err := f.transport.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstall)

	names, err := f.store.Namespaces()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestTransport_EmptyManifestInstalls(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.transport.Install(context.Background()))
}

func TestTransport_ActivatePrunesStaleNamespaces(t *testing.T) {
	f := newFixture(t, func(c *config.CacheConfig) {
		c.Version = 2
	})

	entry := &storage.Entry{URL: "https://apod.nasa.gov/", Status: 200}
	require.NoError(t, f.store.Put("apodtok-test-cache-v1", entry))
	require.NoError(t, f.store.Put("apodtok-test-cache-v2", entry))
	require.NoError(t, f.store.Put("apodtok-test-runtime", entry))
	require.NoError(t, f.store.Put("someone-else", entry))

	assert.False(t, f.transport.Active())
	activate(t, f.transport)
	assert.True(t, f.transport.Active())

	names, err := f.store.Namespaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"apodtok-test-cache-v2", "apodtok-test-runtime"}, names)
}

func TestTransport_InstallRejectsBadPathBeforeFetching(t *testing.T) {
	f := newFixture(t, func(c *config.CacheConfig) {
		c.Manifest = []string{"/index.html", "/app.css", "%zz"}
	})

	err := f.transport.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstall)
	assert.Zero(t, f.hits.Load(), "no asset should be requested when the manifest is invalid")
}

func TestTransport_NoStoreResponsesNotCached(t *testing.T) {
	f := newFixture(t, func(c *config.CacheConfig) {
		c.Scope = nil
	})
	activate(t, f.transport)

	_, body, err := f.get(t, "/key")
	require.NoError(t, err)
	assert.Contains(t, body, "rotating")
	f.transport.Wait()

	_, _, err = f.store.Match(f.srv.URL+"/key", f.transport.static, f.transport.runtime)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, _, err = f.get(t, "/key")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.hits.Load(), "no-store responses must always go to the network")
}

func TestTransport_StartInstallsNewVersion(t *testing.T) {
	f := newFixture(t, func(c *config.CacheConfig) {
		c.Manifest = []string{"/app.css"}
	})
	ctx := context.Background()
	require.NoError(t, f.transport.Start(ctx))

	installed, err := f.transport.Installed()
	require.NoError(t, err)
	assert.True(t, installed)

	// a second start with the same version does not refetch the precache
	before := f.hits.Load()
	require.NoError(t, New(f.store, f.cacheConfig(1), f.base).Start(ctx))
	assert.Equal(t, before, f.hits.Load())

	next := New(f.store, f.cacheConfig(2), f.base)
	require.NoError(t, next.Start(ctx))

	names, err := f.store.Namespaces()
	require.NoError(t, err)
	assert.Contains(t, names, "apodtok-test-cache-v2")
	assert.NotContains(t, names, "apodtok-test-cache-v1")

	f.down.Store(true)
	client := &http.Client{Transport: next}
	resp, err := client.Get(f.srv.URL + "/app.css")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "asset:/app.css", string(body))
	assert.Equal(t, "hit", resp.Header.Get(CacheHeader))
}

func TestTransport_StartKeepsOldPrecacheWhenInstallFails(t *testing.T) {
	f := newFixture(t, func(c *config.CacheConfig) {
		c.Manifest = []string{"/app.css"}
	})
	ctx := context.Background()
	require.NoError(t, f.transport.Start(ctx))

	f.down.Store(true)
	next := New(f.store, f.cacheConfig(2), f.base)
	err := next.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstall)
	assert.False(t, next.Active())

	names, err := f.store.Namespaces()
	require.NoError(t, err)
	assert.Contains(t, names, "apodtok-test-cache-v1")
}
