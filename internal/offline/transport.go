package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/apodtok/internal/config"
	"github.com/pders01/apodtok/internal/debuglog"
	"github.com/pders01/apodtok/internal/storage"
	"github.com/pders01/apodtok/internal/validation"
)

// CacheHeader marks responses served from the local cache.
const CacheHeader = "X-Apodtok-Cache"

// installedKey records which static namespace the last install filled.
const installedKey = "installed_namespace"

var (
	// ErrInstall wraps any failure while precaching the manifest.
	ErrInstall = errors.New("offline install failed")
	// ErrOfflineMiss means the network failed and nothing was cached for
	// the request.
	ErrOfflineMiss = errors.New("no cached response")
)

// Transport is an http.RoundTripper that answers API requests
// network-first and everything else cache-first, persisting responses in
// a storage.Store. It passes all traffic through until Activate.
type Transport struct {
	base  http.RoundTripper
	store *storage.Store

	static   string
	runtime  string
	origin   string
	manifest []string
	scope    map[string]bool
	patterns []string

	active  atomic.Bool
	pending sync.WaitGroup
}

func New(store *storage.Store, cfg config.CacheConfig, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	scope := make(map[string]bool, len(cfg.Scope))
	for _, h := range cfg.Scope {
		scope[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return &Transport{
		base:     base,
		store:    store,
		static:   cfg.StaticNamespace(),
		runtime:  cfg.RuntimeNamespace(),
		origin:   cfg.Origin,
		manifest: cfg.Manifest,
		scope:    scope,
		patterns: cfg.APIPatterns,
	}
}

func (t *Transport) Active() bool {
	return t.active.Load()
}

// Install fetches every manifest path from the network and stores the
// results in the static namespace in one transaction. Any failed fetch
// aborts the whole install and nothing is written.
func (t *Transport) Install(ctx context.Context) error {
	if len(t.manifest) == 0 {
		return nil
	}

	origin, err := url.Parse(t.origin)
	if err != nil || origin.Host == "" {
		return fmt.Errorf("%w: invalid origin %q", ErrInstall, t.origin)
	}

	targets := make([]string, len(t.manifest))
	for i, path := range t.manifest {
		ref, err := url.Parse(path)
		if err != nil {
			return fmt.Errorf("%w: manifest path %q: %v", ErrInstall, path, err)
		}
		targets[i] = origin.ResolveReference(ref).String()
	}

	client := &http.Client{Transport: t.base}
	entries := make([]*storage.Entry, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		g.Go(func() error {
			entry, err := fetchEntry(gctx, client, target)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}

	if err := t.store.PutAll(t.static, entries); err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}

	if err := t.store.SetMetadata(installedKey, t.static); err != nil {
		debuglog.Warnf("offline: recording install: %v", err)
	}

	debuglog.Infof("offline: installed %d assets into %s", len(entries), t.static)
	return nil
}

// Installed reports whether the current static namespace holds the
// precache. An empty manifest needs no install.
func (t *Transport) Installed() (bool, error) {
	if len(t.manifest) == 0 {
		return true, nil
	}
	marker, err := t.store.GetMetadata(installedKey)
	if err != nil || marker != t.static {
		return false, err
	}
	names, err := t.store.Namespaces()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == t.static {
			return true, nil
		}
	}
	return false, nil
}

// Start brings the transport up the way the viewer needs it: install when
// the current precache is missing, then activate. A failed install leaves
// the transport inactive and every older namespace untouched.
func (t *Transport) Start(ctx context.Context) error {
	installed, err := t.Installed()
	if err != nil {
		return fmt.Errorf("checking install: %w", err)
	}
	if !installed {
		if err := t.Install(ctx); err != nil {
			return err
		}
	}
	return t.Activate(ctx)
}

func fetchEntry(ctx context.Context, client *http.Client, target string) (*storage.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: HTTP %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	return storage.NewEntry(target, resp, body), nil
}

// Activate removes every namespace other than the current static and
// runtime ones, then starts intercepting requests.
func (t *Transport) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deleted, err := t.store.Keep(t.static, t.runtime)
	if err != nil {
		return fmt.Errorf("pruning caches: %w", err)
	}
	for _, ns := range deleted {
		debuglog.Infof("offline: deleted stale cache %s", ns)
	}

	if err := t.store.SetMetadata("activated_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		debuglog.Warnf("offline: recording activation: %v", err)
	}

	t.active.Store(true)
	return nil
}

// Wait blocks until background cache writes finish.
func (t *Transport) Wait() {
	t.pending.Wait()
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.intercepts(req) {
		return t.base.RoundTrip(req)
	}
	if t.isAPI(req) {
		return t.networkFirst(req)
	}
	return t.cacheFirst(req)
}

func (t *Transport) intercepts(req *http.Request) bool {
	if !t.active.Load() || req.Method != http.MethodGet {
		return false
	}
	if len(t.scope) == 0 {
		return true
	}
	return t.scope[validation.HostOf(req.URL.String())]
}

func (t *Transport) isAPI(req *http.Request) bool {
	full := req.URL.String()
	for _, p := range t.patterns {
		if p != "" && strings.Contains(full, p) {
			return true
		}
	}
	return false
}

func (t *Transport) networkFirst(req *http.Request) (*http.Response, error) {
	key := req.URL.String()

	resp, err := t.fetchAndStore(req)
	if err == nil {
		return resp, nil
	}

	entry, _, matchErr := t.store.Match(key, t.runtime)
	if matchErr != nil {
		debuglog.Debugf("offline: %s unavailable and not cached", key)
		return nil, fmt.Errorf("%w for %s: %w", ErrOfflineMiss, key, err)
	}

	debuglog.Debugf("offline: serving %s from %s", key, t.runtime)
	cached := entry.Response(req)
	cached.Header.Set(CacheHeader, "offline")
	return cached, nil
}

func (t *Transport) cacheFirst(req *http.Request) (*http.Response, error) {
	key := req.URL.String()

	entry, ns, err := t.store.Match(key, t.static, t.runtime)
	if err == nil {
		debuglog.Debugf("offline: %s hit in %s", key, ns)
		cached := entry.Response(req)
		cached.Header.Set(CacheHeader, "hit")
		return cached, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		debuglog.Warnf("offline: cache lookup for %s: %v", key, err)
	}

	return t.fetchAndStore(req)
}

// fetchAndStore performs the network request. Successful responses are
// buffered so a copy can be written to the runtime namespace in the
// background while the caller reads the original.
func (t *Transport) fetchAndStore(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || noStore(resp.Header) {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := storage.NewEntry(req.URL.String(), resp, body)
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		if err := t.store.Put(t.runtime, entry); err != nil {
			debuglog.Warnf("offline: storing %s: %v", entry.URL, err)
		}
	}()

	return resp, nil
}

func noStore(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(d), "no-store") {
				return true
			}
		}
	}
	return false
}
