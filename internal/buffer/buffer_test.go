package buffer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/apodtok/internal/apod"
	"github.com/pders01/apodtok/internal/preload"
)

type fakeSource struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32, n int) ([]apod.Item, error)
}

func (s *fakeSource) FetchBatch(ctx context.Context, n int) ([]apod.Item, error) {
	call := s.calls.Add(1)
	return s.fn(ctx, call, n)
}

type recordingRenderer struct {
	mu       sync.Mutex
	displays [][]apod.Item
	appends  [][]apod.Item
}

func (r *recordingRenderer) DisplayAll(items []apod.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.displays = append(r.displays, items)
}

func (r *recordingRenderer) AppendNew(items []apod.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appends = append(r.appends, items)
}

func (r *recordingRenderer) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.displays), len(r.appends)
}

type nopPreloader struct{}

func (nopPreloader) Preload(context.Context, string) error { return nil }

func makeItems(prefix string, n int) []apod.Item {
	items := make([]apod.Item, n)
	for i := range items {
		d, _ := apod.ParseDate(fmt.Sprintf("2020-01-%02d", i+1))
		items[i] = apod.Item{
			Title:     fmt.Sprintf("%s-%d", prefix, i),
			Date:      d,
			MediaType: apod.MediaImage,
			URL:       fmt.Sprintf("https://apod.nasa.gov/%s-%d.jpg", prefix, i),
		}
	}
	return items
}

func sequentialSource() *fakeSource {
	return &fakeSource{fn: func(_ context.Context, call int32, n int) ([]apod.Item, error) {
		return makeItems(fmt.Sprintf("b%d", call), n), nil
	}}
}

func TestGrowBatch_AppendsInOrder(t *testing.T) {
	r := &recordingRenderer{}
	b := New(sequentialSource(), nopPreloader{}, r, Options{BatchSize: 5})

	for i := 0; i < 3; i++ {
		batch, err := b.GrowBatch(context.Background())
		require.NoError(t, err)
		assert.Len(t, batch, 5)
		assert.Equal(t, 5*(i+1), b.Len())
	}

	items := b.Items()
	assert.Equal(t, "b1-0", items[0].Title)
	assert.Equal(t, "b2-0", items[5].Title)
	assert.Equal(t, "b3-4", items[14].Title)

	displays, appends := r.counts()
	assert.Equal(t, 0, displays)
	assert.Equal(t, 3, appends)
}

func TestGrowBatch_ConcurrentCallIsDropped(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{fn: func(_ context.Context, _ int32, n int) ([]apod.Item, error) {
		<-gate
		return makeItems("only", n), nil
	}}
	b := New(src, nopPreloader{}, nil, Options{BatchSize: 5})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := b.GrowBatch(context.Background())
		assert.NoError(t, err)
	}()

	require.Eventually(t, b.Fetching, time.Second, time.Millisecond)

	batch, err := b.GrowBatch(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, batch, "second call must be dropped")

	close(gate)
	<-done

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 5, b.Len())
	assert.False(t, b.Fetching())
}

func TestGrowBatch_GuardReleasedOnError(t *testing.T) {
	boom := errors.New("upstream down")
	src := &fakeSource{fn: func(_ context.Context, call int32, n int) ([]apod.Item, error) {
		if call == 1 {
			return nil, boom
		}
		return makeItems("ok", n), nil
	}}
	b := New(src, nopPreloader{}, nil, Options{BatchSize: 3})

	_, err := b.GrowBatch(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, b.Fetching())
	assert.Equal(t, 0, b.Len())

	batch, err := b.GrowBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestGrowBatch_PreloadFailuresDoNotFailBatch(t *testing.T) {
	var preloads atomic.Int32
	p := preloaderFunc(func(context.Context, string) error {
		preloads.Add(1)
		return errors.New("404")
	})
	b := New(sequentialSource(), p, nil, Options{BatchSize: 4})

	batch, err := b.GrowBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 4)
	assert.Equal(t, int32(4), preloads.Load())
}

type preloaderFunc func(context.Context, string) error

func (f preloaderFunc) Preload(ctx context.Context, url string) error { return f(ctx, url) }

func TestGrowBatch_BatchTimeout(t *testing.T) {
	src := &fakeSource{fn: func(ctx context.Context, _ int32, _ int) ([]apod.Item, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	b := New(src, nopPreloader{}, nil, Options{BatchSize: 5, BatchTimeout: 20 * time.Millisecond})

	_, err := b.GrowBatch(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, b.Fetching())
}

func TestReinitialize_Replaces(t *testing.T) {
	r := &recordingRenderer{}
	b := New(sequentialSource(), nopPreloader{}, r, Options{BatchSize: 5})

	_, err := b.GrowBatch(context.Background())
	require.NoError(t, err)
	_, err = b.GrowBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, b.Len())
	oldSession := b.Session()

	batch, err := b.Reinitialize(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 5)
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, "b3-0", b.Items()[0].Title)
	assert.NotEqual(t, oldSession, b.Session())

	displays, appends := r.counts()
	assert.Equal(t, 1, displays)
	assert.Equal(t, 2, appends)
}

func TestReinitialize_ErrorLeavesBufferEmpty(t *testing.T) {
	src := &fakeSource{fn: func(_ context.Context, call int32, n int) ([]apod.Item, error) {
		if call == 2 {
			return nil, errors.New("offline")
		}
		return makeItems("x", n), nil
	}}
	b := New(src, nopPreloader{}, nil, Options{BatchSize: 2})

	_, err := b.GrowBatch(context.Background())
	require.NoError(t, err)

	_, err = b.Reinitialize(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Fetching())
}

func TestReinitialize_DiscardsStaleBatch(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{fn: func(_ context.Context, call int32, n int) ([]apod.Item, error) {
		if call == 1 {
			// ignores cancellation so the stale result arrives late
			<-gate
			return makeItems("stale", n), nil
		}
		return makeItems("fresh", n), nil
	}}
	r := &recordingRenderer{}
	b := New(src, nopPreloader{}, r, Options{BatchSize: 3})

	staleDone := make(chan []apod.Item)
	go func() {
		batch, _ := b.GrowBatch(context.Background())
		staleDone <- batch
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	fresh, err := b.Reinitialize(context.Background())
	require.NoError(t, err)
	require.Len(t, fresh, 3)

	close(gate)
	assert.Nil(t, <-staleDone)

	items := b.Items()
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Contains(t, item.Title, "fresh")
	}
	displays, appends := r.counts()
	assert.Equal(t, 1, displays)
	assert.Equal(t, 0, appends)
	assert.False(t, b.Fetching())
}

func TestReinitialize_BlocksGrowthWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{fn: func(_ context.Context, _ int32, n int) ([]apod.Item, error) {
		<-gate
		return makeItems("r", n), nil
	}}
	b := New(src, nopPreloader{}, nil, Options{BatchSize: 2})

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Reinitialize(context.Background())
	}()
	require.Eventually(t, b.Fetching, time.Second, time.Millisecond)

	batch, err := b.GrowBatch(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, batch)

	close(gate)
	<-done
	assert.Equal(t, int32(1), src.calls.Load())
}

// Five items, four images and one video. One image's primary URL 404s but
// its HD URL works.
func TestScenario_FiveItemsWithFallback(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/img/2.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("img"))
	}))
	defer srv.Close()

	items := make([]apod.Item, 0, 5)
	for i := 0; i < 4; i++ {
		d, _ := apod.ParseDate(fmt.Sprintf("2021-03-%02d", i+1))
		items = append(items, apod.Item{
			Title:     fmt.Sprintf("image %d", i),
			Date:      d,
			MediaType: apod.MediaImage,
			URL:       fmt.Sprintf("%s/img/%d.jpg", srv.URL, i),
			HDURL:     fmt.Sprintf("%s/img/%d_hd.jpg", srv.URL, i),
		})
	}
	d, _ := apod.ParseDate("2021-03-05")
	items = append(items, apod.Item{Title: "video", Date: d, MediaType: apod.MediaVideo, URL: "https://www.youtube.com/embed/x"})

	src := &fakeSource{fn: func(context.Context, int32, int) ([]apod.Item, error) { return items, nil }}
	p := preload.New(srv.Client())
	r := &recordingRenderer{}
	b := New(src, p, r, Options{BatchSize: 5, PreloadConcurrency: 4})

	batch, err := b.Reinitialize(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 5)

	displays, _ := r.counts()
	assert.Equal(t, 1, displays)

	mu.Lock()
	assert.Len(t, hits, 8, "4 primaries and 4 HD URLs preloaded, nothing for the video")
	mu.Unlock()

	res := p.Resolve(context.Background(), batch[2].URL, batch[2].HDURL)
	assert.Equal(t, preload.StateLoaded, res.State)
	assert.Equal(t, batch[2].HDURL, res.URL)
	assert.Equal(t, 2, res.Attempts)

	res = p.Resolve(context.Background(), batch[0].URL, batch[0].HDURL)
	assert.Equal(t, 1, res.Attempts)
}
