package tui

import (
	"github.com/pders01/apodtok/internal/apod"
	"github.com/pders01/apodtok/internal/preload"
)

type View int

const (
	ViewFeed View = iota
	ViewDetail
	ViewSearch
	ViewAbout
)

// displayAllMsg replaces every card; sent when a reset completes.
type displayAllMsg struct {
	items []apod.Item
}

// appendMsg adds cards below the existing ones.
type appendMsg struct {
	items []apod.Item
}

type resetDoneMsg struct {
	seq   int
	count int
	err   error
}

type growDoneMsg struct {
	count int
	err   error
}

// nearEndMsg is sent once scrolling settles close to the end.
type nearEndMsg struct{}

// imageStateMsg reports how a card's picture loaded. gen ties it to the
// card list it was issued for.
type imageStateMsg struct {
	gen    int
	index  int
	result preload.Result
}

type detailRenderedMsg struct {
	content string
}

type aboutRenderedMsg struct {
	content string
}

type mediaOpenedMsg struct {
	title string
	err   error
}

type searchResultsMsg struct {
	query   string
	results []searchResultItem
}

type searchDebounceFireMsg struct {
	seq int
}

type errorMsg struct {
	err error
}
