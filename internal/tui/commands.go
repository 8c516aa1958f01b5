package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/apodtok/internal/apod"
	"github.com/pders01/apodtok/internal/debuglog"
	"github.com/pders01/apodtok/internal/search"
)

const searchLimit = 20

// emit hands a message to the running program. It gives up once the app is
// shut down so timer and buffer goroutines never block forever.
func (a *App) emit(msg tea.Msg) {
	select {
	case a.events <- msg:
	case <-a.ctx.Done():
	}
}

// listen waits for the next message from the buffer or the scroll watcher.
// Update re-arms it after each one.
func (a *App) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-a.events:
			return msg
		case <-a.ctx.Done():
			return nil
		}
	}
}

// resetCmd discards the feed and loads a fresh window of pictures.
func (a *App) resetCmd() tea.Cmd {
	a.resetSeq++
	seq := a.resetSeq
	a.loading = true
	a.growing = false
	a.err = nil
	a.setStatus(MsgRefreshing, StatusInfo)

	return func() tea.Msg {
		items, err := a.buffer.Reinitialize(a.ctx)
		return resetDoneMsg{seq: seq, count: len(items), err: err}
	}
}

// growCmd loads the next batch unless one is already on its way.
func (a *App) growCmd() tea.Cmd {
	if a.growing || a.buffer.Fetching() {
		return nil
	}
	a.growing = true
	a.setStatus(MsgLoadingMore, StatusInfo)
	a.refreshFeed()

	return func() tea.Msg {
		items, err := a.buffer.GrowBatch(a.ctx)
		return growDoneMsg{count: len(items), err: err}
	}
}

// retryCmd repeats whatever failed: the initial load when the feed is
// empty, otherwise the next batch.
func (a *App) retryCmd() tea.Cmd {
	a.err = nil
	if a.buffer.Len() == 0 {
		return a.resetCmd()
	}
	return a.growCmd()
}

// resolveCmds loads each new image card. The buffer already warmed the
// cache, so these normally finish from it.
func (a *App) resolveCmds(start int, items []apod.Item) []tea.Cmd {
	if a.resolver == nil {
		return nil
	}
	gen := a.gen
	var cmds []tea.Cmd
	for i, item := range items {
		if !item.IsImage() {
			continue
		}
		index := start + i
		cmds = append(cmds, func() tea.Msg {
			return imageStateMsg{
				gen:    gen,
				index:  index,
				result: a.resolver.Resolve(a.ctx, item.URL, item.HDURL),
			}
		})
	}
	return cmds
}

func (a *App) indexCmd(items []apod.Item) tea.Cmd {
	if a.index == nil || len(items) == 0 {
		return nil
	}
	return func() tea.Msg {
		if err := a.index.Index(items); err != nil {
			debuglog.Warnf("search: indexing %d items: %v", len(items), err)
		}
		return nil
	}
}

func (a *App) renderDetail(item apod.Item) tea.Cmd {
	return func() tea.Msg {
		content := detailMarkdown(item)

		renderer, err := a.getRenderer()
		if err != nil {
			return detailRenderedMsg{content: content}
		}
		rendered, err := renderer.Render(content)
		if err != nil {
			debuglog.Warnf("tui: glamour render failed: %v", err)
			return detailRenderedMsg{content: content}
		}
		return detailRenderedMsg{content: rendered}
	}
}

func detailMarkdown(item apod.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Title)
	fmt.Fprintf(&b, "*%s*", item.Date)
	if item.Copyright != "" {
		fmt.Fprintf(&b, " · © %s", singleLine(item.Copyright))
	}
	b.WriteString("\n\n")
	if item.Explanation != "" {
		b.WriteString(item.Explanation)
		b.WriteString("\n\n")
	}
	b.WriteString("---\n\n")
	if item.IsImage() {
		fmt.Fprintf(&b, "- Image: %s\n", item.URL)
		if item.HDURL != "" {
			fmt.Fprintf(&b, "- HD: %s\n", item.HDURL)
		}
	} else {
		fmt.Fprintf(&b, "- Video: %s\n", item.URL)
	}
	return b.String()
}

const aboutMarkdown = `# About apodtok

Every day NASA publishes one picture of our universe along with a short
explanation written by a professional astronomer. **apodtok** shows them as
an endless, random feed.

## Using it

- Scroll down and more pictures load on their own.
- Pull down from the top (drag with the mouse) or press **%s** to start
  over with a fresh selection.
- **%s** shows the explanation, **%s** opens the picture or video in your
  viewer, **%s** searches the pictures you have already seen.

Pictures you have seen stay in a local cache, so the feed keeps working
when you are offline.

Data from the [APOD API](https://api.nasa.gov/). Images are credited to
their authors.
`

func (a *App) renderAbout() tea.Cmd {
	keys := a.keyHandler.keys
	return func() tea.Msg {
		content := fmt.Sprintf(aboutMarkdown, keys.Refresh, keys.Details, keys.OpenMedia, keys.Search)

		renderer, err := a.getRenderer()
		if err != nil {
			return aboutRenderedMsg{content: content}
		}
		rendered, err := renderer.Render(content)
		if err != nil {
			return aboutRenderedMsg{content: content}
		}
		return aboutRenderedMsg{content: rendered}
	}
}

// openMedia launches the item, preferring whichever picture actually
// loaded for its card.
func (a *App) openMedia(item apod.Item, preferHD bool) tea.Cmd {
	if a.opener == nil {
		return nil
	}
	return func() tea.Msg {
		if err := a.opener.Open(item, preferHD); err != nil {
			return mediaOpenedMsg{title: item.Title, err: wrapErr("open media", err)}
		}
		return mediaOpenedMsg{title: item.Title}
	}
}

func (a *App) performSearch(query string) tea.Cmd {
	if a.index == nil {
		return nil
	}
	var scoped *apod.Item
	if a.previousView == ViewDetail && a.detailItem != nil {
		item := *a.detailItem
		scoped = &item
	}

	return func() tea.Msg {
		var searchResults []*search.Result
		var err error

		if scoped != nil {
			searchResults, err = a.index.SearchInItem(*scoped, query)
		} else {
			searchResults, err = a.index.Search(query, searchLimit)
		}
		if err != nil {
			return errorMsg{err: wrapErr("search", err)}
		}

		results := make([]searchResultItem, 0, len(searchResults))
		for _, sr := range searchResults {
			results = append(results, searchResultItem{result: sr})
		}
		return searchResultsMsg{query: query, results: results}
	}
}

func wrapErr(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
