package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/apodtok/internal/apod"
	"github.com/pders01/apodtok/internal/buffer"
	"github.com/pders01/apodtok/internal/config"
	"github.com/pders01/apodtok/internal/preload"
	"github.com/pders01/apodtok/internal/search"
	"github.com/pders01/apodtok/internal/trigger"
)

// Resolver loads a card's picture, falling back to its HD version once.
type Resolver interface {
	Resolve(ctx context.Context, primary, secondary string) preload.Result
}

// MediaOpener hands an item to an external viewer or player.
type MediaOpener interface {
	Open(item apod.Item, preferHD bool) error
}

type Deps struct {
	Buffer   *buffer.Buffer
	Resolver Resolver
	Opener   MediaOpener
	Index    search.Index
}

// card is one rendered feed entry.
type card struct {
	item  apod.Item
	image preload.Result
}

type App struct {
	config     *config.Config
	buffer     *buffer.Buffer
	resolver   Resolver
	opener     MediaOpener
	index      search.Index
	keyHandler *KeyHandler

	ctx    context.Context
	cancel context.CancelFunc
	events chan tea.Msg

	viewport    viewport.Model
	pager       viewport.Model
	searchList  list.Model
	searchInput textinput.Model
	spinner     spinner.Model

	gesture    *trigger.Gesture
	watcher    *trigger.ScrollWatcher
	metrics    atomic.Pointer[trigger.Metrics]
	pullOffset int

	view         View
	previousView View

	cards       []card
	cardOffsets []int
	gen         int
	selected    int
	detailItem  *apod.Item

	loading    bool
	resetSeq   int
	growing    bool
	status     string
	statusKind StatusKind
	err        error

	searchSeq int

	width           int
	height          int
	glamourRenderer *glamour.TermRenderer
	rendererWidth   int
	renderingPager  bool
}

// feedRenderer forwards buffer updates into the bubbletea loop.
type feedRenderer struct {
	app *App
}

func (r feedRenderer) DisplayAll(items []apod.Item) {
	r.app.emit(displayAllMsg{items: items})
}

func (r feedRenderer) AppendNew(items []apod.Item) {
	r.app.emit(appendMsg{items: items})
}

func NewApp(cfg *config.Config, deps Deps) *App {
	ApplyTheme(cfg.UI.Colors)

	searchList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	searchList.Title = "› search results"
	searchList.SetShowStatusBar(false)
	searchList.SetShowHelp(false)
	searchList.SetFilteringEnabled(false)

	si := textinput.New()
	si.Placeholder = "Search pictures seen this session..."

	sp := spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(AccentColor)),
	)

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config:       cfg,
		buffer:       deps.Buffer,
		resolver:     deps.Resolver,
		opener:       deps.Opener,
		index:        deps.Index,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan tea.Msg, 16),
		viewport:     viewport.New(0, 0),
		pager:        viewport.New(0, 0),
		searchList:   searchList,
		searchInput:  si,
		spinner:      sp,
		gesture:      trigger.NewGesture(cfg.Scroll.PullFactor, cfg.Scroll.PullMax),
		view:         ViewFeed,
		previousView: ViewFeed,
		loading:      true,
		status:       MsgLoading,
	}

	app.watcher = trigger.NewScrollWatcher(
		cfg.Scroll.Debounce,
		cfg.Scroll.ThresholdLines,
		app.scrollMetrics,
		func() { app.emit(nearEndMsg{}) },
	)
	app.keyHandler = NewKeyHandler(app, cfg)

	if app.buffer != nil {
		app.buffer.SetRenderer(feedRenderer{app: app})
	}
	app.storeMetrics()

	return app
}

// Shutdown stops background timers and cancels in-flight work.
func (a *App) Shutdown() {
	a.watcher.Stop()
	a.cancel()
}

func (a *App) getRenderer() (*glamour.TermRenderer, error) {
	wordWrapWidth := (a.width * 9) / 10
	if wordWrapWidth > 120 {
		wordWrapWidth = 120
	}
	if wordWrapWidth < 40 {
		wordWrapWidth = 40
	}
	if a.width < 50 {
		wordWrapWidth = a.width - 4
		if wordWrapWidth < 20 {
			wordWrapWidth = 20
		}
	}

	if a.glamourRenderer == nil || abs(a.rendererWidth-wordWrapWidth) > 10 {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrapWidth),
		)
		if err != nil {
			return nil, err
		}
		a.glamourRenderer = r
		a.rendererWidth = wordWrapWidth
	}

	return a.glamourRenderer, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		a.listen(),
		a.spinner.Tick,
		a.resetCmd(),
	)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = a.feedHeight()
		a.pager.Width = msg.Width
		a.pager.Height = msg.Height - 3
		searchListHeight := msg.Height - 10
		if searchListHeight < 5 {
			searchListHeight = 5
		}
		a.searchList.SetSize(msg.Width, searchListHeight)
		a.refreshFeed()
		return a, nil

	case tea.KeyMsg:
		return a.keyHandler.HandleKey(msg)

	case tea.MouseMsg:
		return a, a.handleMouse(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		if a.busy() {
			a.refreshFeed()
		}
		return a, cmd

	case displayAllMsg:
		a.gen++
		a.cards = make([]card, len(msg.items))
		for i, item := range msg.items {
			a.cards[i] = card{item: item}
		}
		a.selected = 0
		a.viewport.GotoTop()
		a.refreshFeed()
		cmds = append(cmds, a.listen(), a.indexCmd(msg.items))
		cmds = append(cmds, a.resolveCmds(0, msg.items)...)
		return a, tea.Batch(cmds...)

	case appendMsg:
		start := len(a.cards)
		for _, item := range msg.items {
			a.cards = append(a.cards, card{item: item})
		}
		a.refreshFeed()
		cmds = append(cmds, a.listen(), a.indexCmd(msg.items))
		cmds = append(cmds, a.resolveCmds(start, msg.items)...)
		return a, tea.Batch(cmds...)

	case nearEndMsg:
		cmds = append(cmds, a.listen())
		if a.view == ViewFeed && !a.loading {
			cmds = append(cmds, a.growCmd())
		}
		return a, tea.Batch(cmds...)

	case resetDoneMsg:
		if msg.seq != a.resetSeq {
			// a newer reset owns the feed now
			return a, nil
		}
		a.loading = false
		if msg.err != nil {
			a.err = wrapErr("refresh", msg.err)
			a.setStatus(MsgFetchFailed, StatusError)
			return a, nil
		}
		a.err = nil
		a.setStatus(MsgLoadedCount(a.buffer.Len()), StatusInfo)
		if a.config.Feed.PrefetchAfterReset && msg.count > 0 {
			return a, a.growCmd()
		}
		return a, nil

	case growDoneMsg:
		a.growing = false
		if msg.err != nil {
			a.err = wrapErr("load more", msg.err)
			a.setStatus(MsgFetchFailed, StatusError)
		} else if msg.count > 0 {
			a.err = nil
			a.setStatus(MsgLoadedCount(a.buffer.Len()), StatusInfo)
		}
		a.refreshFeed()
		return a, nil

	case imageStateMsg:
		if msg.gen == a.gen && msg.index < len(a.cards) {
			a.cards[msg.index].image = msg.result
			a.refreshFeed()
		}
		return a, nil

	case detailRenderedMsg:
		if a.view == ViewDetail {
			a.pager.SetContent(msg.content)
			a.pager.GotoTop()
			a.renderingPager = false
		}
		return a, nil

	case aboutRenderedMsg:
		if a.view == ViewAbout {
			a.pager.SetContent(msg.content)
			a.pager.GotoTop()
			a.renderingPager = false
		}
		return a, nil

	case mediaOpenedMsg:
		if msg.err != nil {
			a.err = msg.err
			a.setStatus(msg.err.Error(), StatusError)
		} else {
			a.setStatus(MsgOpened(msg.title), StatusSuccess)
		}
		return a, nil

	case searchDebounceFireMsg:
		if msg.seq != a.searchSeq || a.view != ViewSearch {
			return a, nil
		}
		query := a.keyHandler.sanitizeSearchInput(a.searchInput.Value())
		if len(query) < 2 {
			a.searchList.SetItems([]list.Item{})
			return a, nil
		}
		return a, a.performSearch(query)

	case searchResultsMsg:
		if a.view == ViewSearch && msg.query == a.keyHandler.sanitizeSearchInput(a.searchInput.Value()) {
			items := make([]list.Item, len(msg.results))
			for i, result := range msg.results {
				items[i] = result
			}
			a.searchList.SetItems(items)
			if len(items) == 0 {
				a.setStatus(MsgNoResults, StatusWarn)
			} else {
				a.setStatus(MsgResultsCount(len(items)), StatusInfo)
			}
		}
		return a, nil

	case errorMsg:
		a.err = msg.err
		return a, nil
	}

	return a, nil
}

func (a *App) busy() bool {
	if a.loading || a.growing {
		return true
	}
	for _, c := range a.cards {
		if c.item.IsImage() && c.image.State == preload.StateLoading {
			return true
		}
	}
	return false
}

func (a *App) setStatus(text string, kind StatusKind) {
	a.status = text
	a.statusKind = kind
}

// feedHeight is what the card viewport gets after the header line and the
// status bar.
func (a *App) feedHeight() int {
	h := a.height - 4
	if h < 1 {
		h = 1
	}
	return h
}

// refreshFeed re-renders every card into the viewport and records where
// each card starts.
func (a *App) refreshFeed() {
	width := a.width
	if width < 20 {
		width = 20
	}

	parts := make([]string, len(a.cards))
	a.cardOffsets = a.cardOffsets[:0]
	line := 0
	for i, c := range a.cards {
		parts[i] = a.renderCard(i, c, width)
		a.cardOffsets = append(a.cardOffsets, line)
		line += lipgloss.Height(parts[i])
	}
	if a.growing {
		parts = append(parts, muted(a.spinner.View()+" "+MsgLoadingMore))
	}

	a.viewport.SetContent(strings.Join(parts, "\n"))
	a.storeMetrics()
}

func (a *App) renderCard(i int, c card, width int) string {
	inner := width - 4
	title := CardTitleStyle.Render(truncateEnd(c.item.Title, inner))

	meta := c.item.Date.String()
	if c.item.Copyright != "" {
		meta += " · © " + singleLine(c.item.Copyright)
	}
	metaLine := TimeStyle.Render(truncateEnd(meta, inner))

	var media string
	switch {
	case !c.item.IsImage():
		media = HeaderStyle.Render("▶ video") + " " + muted(truncateMiddle(c.item.URL, inner-8))
	case c.image.State == preload.StateLoaded:
		label := "✓ image"
		if c.image.Attempts > 1 {
			label = "✓ image (hd)"
		}
		media = StatusSuccessStyle.Render(label) + " " + muted(truncateMiddle(c.image.URL, inner-len(label)-1))
	case c.image.State == preload.StateFailed:
		media = ErrorMessageStyle.Render("✗ Failed to load image")
	default:
		media = a.spinner.View() + " " + muted("loading image")
	}

	style := CardStyle
	if i == a.selected {
		style = SelectedCardStyle
	}
	return style.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, title, metaLine, media))
}

func (a *App) storeMetrics() {
	m := trigger.Metrics{
		ScrollHeight: a.viewport.TotalLineCount(),
		ScrollTop:    a.viewport.YOffset,
		ClientHeight: a.viewport.Height,
	}
	a.metrics.Store(&m)
}

// scrollMetrics is read by the scroll watcher from its timer goroutine.
func (a *App) scrollMetrics() trigger.Metrics {
	if m := a.metrics.Load(); m != nil {
		return *m
	}
	return trigger.Metrics{}
}

// afterScroll publishes the new position and arms the near-end check.
func (a *App) afterScroll() {
	a.storeMetrics()
	a.watcher.OnScroll()
}

func (a *App) selectedCard() (card, bool) {
	if a.selected < 0 || a.selected >= len(a.cards) {
		return card{}, false
	}
	return a.cards[a.selected], true
}

// moveSelection changes the selected card and scrolls it into view.
func (a *App) moveSelection(delta int) {
	if len(a.cards) == 0 {
		return
	}
	a.selected += delta
	if a.selected < 0 {
		a.selected = 0
	}
	if a.selected >= len(a.cards) {
		a.selected = len(a.cards) - 1
	}
	a.refreshFeed()

	top := a.cardOffsets[a.selected]
	bottom := a.viewport.TotalLineCount()
	if a.selected+1 < len(a.cardOffsets) {
		bottom = a.cardOffsets[a.selected+1]
	}
	switch {
	case top < a.viewport.YOffset:
		a.viewport.SetYOffset(top)
	case bottom > a.viewport.YOffset+a.viewport.Height:
		a.viewport.SetYOffset(bottom - a.viewport.Height)
	}
	a.afterScroll()
}

func (a *App) View() string {
	var content string

	switch a.view {
	case ViewFeed:
		content = a.feedView()
	case ViewDetail, ViewAbout:
		if a.renderingPager {
			content = centered(a.width, a.height-3, muted(MsgRendering))
		} else {
			content = a.pager.View()
		}
	case ViewSearch:
		content = a.searchView()
	}

	customStatus := a.getCustomStatusBar()
	if customStatus != "" {
		separatorWidth := a.width - 2
		if separatorWidth < 0 {
			separatorWidth = 0
		}
		separator := SeparatorStyle.Render("─" + strings.Repeat("─", separatorWidth))
		return lipgloss.JoinVertical(lipgloss.Top, content, separator, customStatus)
	}

	return content
}

func (a *App) feedView() string {
	header := LogoStyle.Render(CompactLogo) + "  " + muted(MsgLoadedCount(len(a.cards)))

	if len(a.cards) == 0 {
		var body string
		switch {
		case a.loading:
			body = GetCompactBanner(a.spinner.View() + " " + MsgLoading)
		case a.err != nil:
			body = lipgloss.JoinVertical(lipgloss.Center,
				ErrorMessageStyle.Render("✗ "+MsgFetchFailed),
				"",
				muted(truncateEnd(a.err.Error(), a.width-4)),
				"",
				HelpStyle.Render(a.keyHandler.bindingLabel(a.keyHandler.keys.Retry)+": retry"),
			)
		default:
			body = GetCompactBanner("Nothing here yet, press " + a.keyHandler.keys.Refresh + " to load pictures")
		}
		return lipgloss.JoinVertical(lipgloss.Top, header, centered(a.width, a.feedHeight(), body))
	}

	body := a.viewport.View()
	if a.pullOffset > 0 {
		lines := make([]string, a.pullOffset)
		lines[a.pullOffset-1] = lipgloss.NewStyle().
			Width(a.width).
			Align(lipgloss.Center).
			Foreground(AccentColor).
			Render(MsgPullRelease)
		body = lipgloss.JoinVertical(lipgloss.Top, strings.Join(lines, "\n"), body)
	}

	return ContentWrapper(a.width, a.feedHeight()+1).Render(lipgloss.JoinVertical(lipgloss.Top, header, body))
}

func (a *App) searchView() string {
	searchInputWidth := a.width - 8
	if searchInputWidth < 10 {
		searchInputWidth = a.width - 4
	}
	a.searchInput.Width = searchInputWidth

	header := "search"
	if a.previousView == ViewDetail && a.detailItem != nil {
		header = "search in: " + a.detailItem.Title
	}

	helpText := ""
	switch {
	case a.searchInput.Focused():
		helpText = "Type to search • Tab/↓: results • Esc: back"
	case len(a.searchList.Items()) > 0:
		helpText = "↑↓: navigate • Enter: select • Tab: search box • Esc: back"
	default:
		helpText = "No results found • Tab: search box • Esc: back"
	}

	searchContent := lipgloss.JoinVertical(
		lipgloss.Top,
		sectionTitle(header, a.width),
		"",
		searchBox(a.searchInput.View(), a.searchInput.Focused(), searchInputWidth),
		muted(helpText),
		"",
		a.searchList.View(),
	)

	return ContentWrapper(a.width, a.height-3).Render(searchContent)
}

func (a *App) getCustomStatusBar() string {
	commands := a.keyHandler.GetHelpForCurrentView()

	bar := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(MutedColor)

	if a.err != nil {
		errorText := ErrorMessageStyle.Render(fmt.Sprintf("✗ %v", a.err))
		hint := muted(" • " + a.keyHandler.bindingLabel(a.keyHandler.keys.Retry) + ": retry")
		return bar.Render(errorText + hint)
	}

	var parts []string
	if a.loading || a.growing {
		parts = append(parts, a.spinner.View()+" "+statusStyle(a.statusKind).Render(a.status))
	} else if a.status != "" {
		parts = append(parts, statusStyle(a.statusKind).Render(a.status))
	}
	if len(commands) > 0 {
		parts = append(parts, strings.Join(commands, " • "))
	}
	if len(parts) == 0 {
		return ""
	}
	return bar.Render(strings.Join(parts, "  │  "))
}

type searchResultItem struct {
	result *search.Result
}

func (i searchResultItem) Title() string {
	prefix := "✦ "
	if !i.result.Item.IsImage() {
		prefix = "▶ "
	}
	return prefix + i.result.Item.Title
}

func (i searchResultItem) Description() string {
	desc := i.result.Item.Date.String()
	if len(i.result.Matches) > 0 {
		desc += " • " + truncateEnd(i.result.Matches[0].Text, 60)
	}
	return lipgloss.NewStyle().
		Foreground(MutedColor).
		Render(desc)
}

func (i searchResultItem) FilterValue() string {
	return i.result.Item.Title
}
