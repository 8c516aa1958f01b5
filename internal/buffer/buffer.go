package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pders01/apodtok/internal/apod"
	"github.com/pders01/apodtok/internal/debuglog"
	"github.com/pders01/apodtok/internal/preload"
)

// Source supplies random batches of items.
type Source interface {
	FetchBatch(ctx context.Context, n int) ([]apod.Item, error)
}

// Preloader warms image bytes ahead of display.
type Preloader interface {
	Preload(ctx context.Context, url string) error
}

// Renderer receives buffer updates. DisplayAll replaces whatever is shown,
// AppendNew extends it.
type Renderer interface {
	DisplayAll(items []apod.Item)
	AppendNew(items []apod.Item)
}

type Options struct {
	BatchSize          int
	BatchTimeout       time.Duration
	PreloadConcurrency int
}

// Buffer is the rolling list of fetched items. Growth is mutually exclusive:
// a GrowBatch while another batch is in flight is dropped, not queued.
type Buffer struct {
	source    Source
	preloader Preloader
	renderer  Renderer
	opts      Options

	mu         sync.Mutex
	items      []apod.Item
	generation uint64
	session    string
	owner      uint64
	fetching   bool
	cancel     context.CancelFunc
}

func New(source Source, preloader Preloader, renderer Renderer, opts Options) *Buffer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	return &Buffer{
		source:    source,
		preloader: preloader,
		renderer:  renderer,
		opts:      opts,
		session:   uuid.NewString(),
	}
}

// SetRenderer swaps the renderer. The TUI wires itself in after
// construction.
func (b *Buffer) SetRenderer(r Renderer) {
	b.mu.Lock()
	b.renderer = r
	b.mu.Unlock()
}

func (b *Buffer) Items() []apod.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]apod.Item, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Fetching reports whether a batch is in flight.
func (b *Buffer) Fetching() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetching
}

// Session identifies the current generation in logs.
func (b *Buffer) Session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *Buffer) logger(gen uint64, session string) *debuglog.FieldLogger {
	return debuglog.WithFields(map[string]interface{}{
		"component":  "buffer",
		"generation": gen,
		"session":    session,
	})
}

// acquire takes the guard for the current generation. The returned
// context is cancelled by release or by a reset.
func (b *Buffer) acquire(ctx context.Context) (context.Context, uint64, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetching {
		return nil, 0, "", false
	}
	ctx, gen, session := b.acquireLocked(ctx)
	return ctx, gen, session, true
}

func (b *Buffer) acquireLocked(ctx context.Context) (context.Context, uint64, string) {
	b.fetching = true
	b.owner = b.generation

	var cancel context.CancelFunc
	if b.opts.BatchTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, b.opts.BatchTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	b.cancel = cancel
	return ctx, b.generation, b.session
}

func (b *Buffer) superseded(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation != gen
}

func (b *Buffer) release(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != gen || !b.fetching {
		return
	}
	b.fetching = false
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// GrowBatch fetches one batch, preloads its images and appends it. It
// returns nil, nil without doing anything when a batch is already in
// flight, and drops the result when a reset happened meanwhile.
func (b *Buffer) GrowBatch(ctx context.Context) ([]apod.Item, error) {
	ctx, gen, session, ok := b.acquire(ctx)
	if !ok {
		debuglog.Debugf("buffer: grow dropped, batch already in flight")
		return nil, nil
	}
	defer b.release(gen)

	log := b.logger(gen, session).With("action", "grow")

	batch, err := b.load(ctx, log)
	if err != nil {
		if b.superseded(gen) {
			log.Debugf("batch cancelled by reset: %v", err)
			return nil, nil
		}
		log.Errorf("batch failed: %v", err)
		return nil, err
	}

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		log.Infof("discarding %d items from superseded generation", len(batch))
		return nil, nil
	}
	b.items = append(b.items, batch...)
	renderer := b.renderer
	b.mu.Unlock()

	log.Infof("appended %d items", len(batch))
	if renderer != nil {
		renderer.AppendNew(batch)
	}
	return batch, nil
}

// Reinitialize starts a new generation: the in-flight batch is cancelled,
// the buffer is cleared and refilled with one fresh batch. The reset takes
// the guard from any older batch, so growth is blocked until it finishes.
func (b *Buffer) Reinitialize(ctx context.Context) ([]apod.Item, error) {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.generation++
	b.session = uuid.NewString()
	b.items = nil
	ctx, gen, session := b.acquireLocked(ctx)
	b.mu.Unlock()
	defer b.release(gen)

	log := b.logger(gen, session).With("action", "reset")

	batch, err := b.load(ctx, log)
	if err != nil {
		if b.superseded(gen) {
			return nil, nil
		}
		log.Errorf("reset failed: %v", err)
		return nil, err
	}

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return nil, nil
	}
	b.items = append([]apod.Item(nil), batch...)
	renderer := b.renderer
	b.mu.Unlock()

	log.Infof("displaying %d items", len(batch))
	if renderer != nil {
		renderer.DisplayAll(batch)
	}
	return batch, nil
}

// load fetches a batch and waits for every image preload to settle.
// Preload failures are logged and otherwise ignored.
func (b *Buffer) load(ctx context.Context, log *debuglog.FieldLogger) ([]apod.Item, error) {
	batch, err := b.source.FetchBatch(ctx, b.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	if b.preloader == nil {
		return batch, nil
	}

	var urls []string
	for _, item := range batch {
		urls = append(urls, item.PreloadURLs()...)
	}

	errs := preload.Settle(ctx, urls, b.preloader.Preload, b.opts.PreloadConcurrency)
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			log.Warnf("preload: %v", err)
		}
	}
	log.Debugf("preloaded %d/%d images", len(urls)-failed, len(urls))

	return batch, nil
}
