package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/apodtok/internal/debuglog"
)

// LoadError reports an image that could not be fetched.
type LoadError struct {
	URL    string
	Status int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("loading %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("loading %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type State int

const (
	StateLoading State = iota
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "loading"
	}
}

// Result is the outcome of loading one picture for display.
type Result struct {
	State    State
	URL      string
	Attempts int
	Err      error
}

// Preloader warms the HTTP cache by fetching image bytes through the shared
// client. The bytes themselves are discarded.
type Preloader struct {
	client *http.Client
}

func New(client *http.Client) *Preloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Preloader{client: client}
}

func (p *Preloader) Preload(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &LoadError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return &LoadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return &LoadError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &LoadError{URL: url, Status: resp.StatusCode}
	}
	return nil
}

// Resolve loads primary and falls back to secondary exactly once. With no
// secondary there is no retry.
func (p *Preloader) Resolve(ctx context.Context, primary, secondary string) Result {
	err := p.Preload(ctx, primary)
	if err == nil {
		return Result{State: StateLoaded, URL: primary, Attempts: 1}
	}
	if secondary == "" || ctx.Err() != nil {
		return Result{State: StateFailed, Attempts: 1, Err: err}
	}

	debuglog.Debugf("preload: %v, retrying with %s", err, secondary)
	if err := p.Preload(ctx, secondary); err != nil {
		return Result{State: StateFailed, Attempts: 2, Err: err}
	}
	return Result{State: StateLoaded, URL: secondary, Attempts: 2}
}

// Settle runs fn for every url concurrently and waits for all of them. A
// failure never cancels the others; each outcome is returned at the index
// of its url. limit <= 0 means unbounded.
func Settle(ctx context.Context, urls []string, fn func(context.Context, string) error, limit int) []error {
	errs := make([]error, len(urls))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, u := range urls {
		// outcomes go to errs; returning nil keeps the group from
		// short-circuiting, so Wait never reports an error
		g.Go(func() error {
			errs[i] = fn(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	return errs
}
