package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/apodtok/internal/config"
)

const searchDebounce = 200 * time.Millisecond

type KeyHandler struct {
	app    *App
	config *config.Config
	keys   config.KeyBindings
}

func NewKeyHandler(app *App, cfg *config.Config) *KeyHandler {
	return &KeyHandler{app: app, config: cfg, keys: cfg.Keys.Bindings}
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if kh.isInTextInputMode() {
		return kh.handleTextInputMode(msg)
	}

	if model, cmd, handled := kh.handleCustomKeys(key); handled {
		return model, cmd
	}

	return kh.delegateToCharm(msg)
}

func (kh *KeyHandler) isInTextInputMode() bool {
	return kh.app.view == ViewSearch && kh.app.searchInput.Focused()
}

func (kh *KeyHandler) handleTextInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return kh.navigateBack()
	case "ctrl+c":
		return kh.app, tea.Quit
	case "enter":
		if items := kh.app.searchList.Items(); len(items) > 0 {
			if i, ok := items[0].(searchResultItem); ok {
				return kh.selectSearchResult(i)
			}
		}
		return kh.app, nil
	case "tab", "down":
		if len(kh.app.searchList.Items()) > 0 {
			kh.app.searchInput.Blur()
			kh.app.searchList.Select(0)
		}
		return kh.app, nil
	default:
		return kh.delegateToTextInput(msg)
	}
}

// delegateToTextInput feeds the search box and schedules a debounced search
// when the query changed.
func (kh *KeyHandler) delegateToTextInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	prev := kh.sanitizeSearchInput(kh.app.searchInput.Value())
	newSearchInput, cmd := kh.app.searchInput.Update(msg)
	kh.app.searchInput = newSearchInput

	newVal := kh.sanitizeSearchInput(kh.app.searchInput.Value())
	if newVal == prev {
		return kh.app, cmd
	}
	kh.app.searchSeq++
	seq := kh.app.searchSeq
	return kh.app, tea.Batch(cmd, tea.Tick(searchDebounce, func(time.Time) tea.Msg {
		return searchDebounceFireMsg{seq: seq}
	}))
}

// handleCustomKeys handles only our custom action keys
func (kh *KeyHandler) handleCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	switch key {
	case "ctrl+c", kh.keys.Quit:
		return kh.app, tea.Quit, true
	case kh.keys.Back:
		model, cmd := kh.navigateBack()
		return model, cmd, true
	}

	switch kh.app.view {
	case ViewFeed:
		return kh.handleFeedCustomKeys(key)
	case ViewDetail:
		return kh.handleDetailCustomKeys(key)
	case ViewAbout:
		if key == kh.keys.About || key == "enter" {
			model, cmd := kh.navigateBack()
			return model, cmd, true
		}
		return kh.app, nil, false
	case ViewSearch:
		if key == kh.keys.Search || key == "i" {
			kh.app.searchInput.Focus()
			return kh.app, nil, true
		}
		return kh.app, nil, false
	default:
		return kh.app, nil, false
	}
}

func (kh *KeyHandler) handleFeedCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	a := kh.app
	switch key {
	case kh.keys.Refresh:
		return a, a.resetCmd(), true
	case kh.keys.Retry:
		return a, a.retryCmd(), true
	case kh.keys.OpenMedia:
		if c, ok := a.selectedCard(); ok {
			return a, a.openMedia(c.item, c.image.Attempts > 1), true
		}
		return a, nil, true
	case kh.keys.Details:
		model, cmd := kh.showDetail()
		return model, cmd, true
	case kh.keys.Search:
		model, cmd := kh.enterSearchMode()
		return model, cmd, true
	case kh.keys.About:
		model, cmd := kh.showAbout()
		return model, cmd, true
	case "down", "j":
		a.moveSelection(1)
		return a, nil, true
	case "up", "k":
		a.moveSelection(-1)
		return a, nil, true
	case "home", "g":
		a.moveSelection(-len(a.cards))
		return a, nil, true
	case "end", "G":
		a.moveSelection(len(a.cards))
		return a, nil, true
	}
	return a, nil, false
}

func (kh *KeyHandler) handleDetailCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	a := kh.app
	switch key {
	case kh.keys.OpenMedia:
		if a.detailItem != nil {
			return a, a.openMedia(*a.detailItem, false), true
		}
		return a, nil, true
	case kh.keys.Search:
		model, cmd := kh.enterSearchMode()
		return model, cmd, true
	case kh.keys.About:
		model, cmd := kh.showAbout()
		return model, cmd, true
	}
	return a, nil, false
}

func (kh *KeyHandler) delegateToCharm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch kh.app.view {
	case ViewFeed:
		// pgup/pgdown and friends
		kh.app.viewport, cmd = kh.app.viewport.Update(msg)
		kh.app.afterScroll()
		return kh.app, cmd

	case ViewDetail, ViewAbout:
		kh.app.pager, cmd = kh.app.pager.Update(msg)
		return kh.app, cmd

	case ViewSearch:
		switch msg.String() {
		case "tab", "shift+tab":
			kh.app.searchInput.Focus()
			return kh.app, nil
		case "up":
			if len(kh.app.searchList.Items()) == 0 || kh.app.searchList.Index() == 0 {
				kh.app.searchInput.Focus()
				return kh.app, nil
			}
		}

		kh.app.searchList, cmd = kh.app.searchList.Update(msg)
		if msg.String() == "enter" {
			if i, ok := kh.app.searchList.SelectedItem().(searchResultItem); ok {
				return kh.selectSearchResult(i)
			}
		}
		return kh.app, cmd

	default:
		return kh.app, nil
	}
}

func (kh *KeyHandler) showDetail() (tea.Model, tea.Cmd) {
	c, ok := kh.app.selectedCard()
	if !ok {
		return kh.app, nil
	}
	item := c.item
	kh.app.detailItem = &item
	kh.app.previousView = ViewFeed
	kh.app.view = ViewDetail
	kh.app.renderingPager = true
	return kh.app, kh.app.renderDetail(item)
}

func (kh *KeyHandler) showAbout() (tea.Model, tea.Cmd) {
	if kh.app.view != ViewAbout {
		kh.app.previousView = kh.app.view
	}
	kh.app.view = ViewAbout
	kh.app.renderingPager = true
	return kh.app, kh.app.renderAbout()
}

func (kh *KeyHandler) selectSearchResult(result searchResultItem) (tea.Model, tea.Cmd) {
	if result.result == nil {
		return kh.app, nil
	}
	item := result.result.Item
	kh.app.detailItem = &item
	kh.app.previousView = ViewSearch
	kh.app.view = ViewDetail
	kh.app.renderingPager = true
	return kh.app, kh.app.renderDetail(item)
}

// navigateBack implements smart back navigation
func (kh *KeyHandler) navigateBack() (tea.Model, tea.Cmd) {
	a := kh.app
	switch a.view {
	case ViewSearch:
		a.view = a.previousView
		if a.view == ViewSearch {
			a.view = ViewFeed
		}
		a.previousView = ViewFeed
		a.searchInput.Reset()
		a.searchInput.Blur()
		a.searchList.SetItems([]list.Item{})
		return a, nil

	case ViewDetail:
		if a.previousView == ViewSearch {
			a.view = ViewSearch
			a.previousView = ViewFeed
			a.searchInput.Blur()
			return a, nil
		}
		a.view = ViewFeed
		a.detailItem = nil
		return a, nil

	case ViewAbout:
		a.view = a.previousView
		if a.view == ViewAbout {
			a.view = ViewFeed
		}
		if a.view == ViewDetail && a.detailItem != nil {
			a.renderingPager = true
			return a, a.renderDetail(*a.detailItem)
		}
		return a, nil

	default:
		a.err = nil
		return a, nil
	}
}

func (kh *KeyHandler) enterSearchMode() (tea.Model, tea.Cmd) {
	kh.app.previousView = kh.app.view
	kh.app.view = ViewSearch
	kh.app.searchInput.Reset()
	kh.app.searchInput.Focus()
	kh.app.searchList.SetItems([]list.Item{})
	if kh.app.previousView == ViewDetail && kh.app.detailItem != nil {
		kh.app.searchList.Title = "› matches in " + truncateEnd(kh.app.detailItem.Title, 40)
	} else {
		kh.app.searchList.Title = "› search results"
	}
	return kh.app, nil
}

// sanitizeSearchInput sanitizes and limits search input length
func (kh *KeyHandler) sanitizeSearchInput(input string) string {
	input = strings.TrimSpace(input)

	if len(input) > 256 {
		input = input[:256]
	}

	input = strings.ReplaceAll(input, "\n", " ")
	input = strings.ReplaceAll(input, "\r", " ")
	input = strings.ReplaceAll(input, "\t", " ")

	for strings.Contains(input, "  ") {
		input = strings.ReplaceAll(input, "  ", " ")
	}

	return strings.TrimSpace(input)
}

// bindingLabel renders a key the way the status bar shows it.
func (kh *KeyHandler) bindingLabel(key string) string {
	if key == " " {
		return "space"
	}
	return key
}

// GetHelpForCurrentView returns only our custom help text (Charm handles the rest)
func (kh *KeyHandler) GetHelpForCurrentView() []string {
	k := kh.keys
	switch kh.app.view {
	case ViewFeed:
		help := []string{
			"↑↓: select",
			k.Details + ": details",
			k.OpenMedia + ": open",
			k.Refresh + ": refresh",
			k.Search + ": search",
			k.About + ": about",
		}
		if kh.app.err != nil {
			help = append([]string{k.Retry + ": retry"}, help...)
		}
		return help

	case ViewDetail:
		return []string{k.OpenMedia + ": open", k.Search + ": search in picture", k.Back + ": back"}

	case ViewAbout:
		return []string{k.Back + ": close"}

	case ViewSearch:
		return []string{"enter: details", k.Back + ": back"}

	default:
		return []string{}
	}
}
