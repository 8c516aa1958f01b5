package search

import "github.com/pders01/apodtok/internal/apod"

// Searcher defines the minimal search API used by the TUI.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
	SearchInItem(item apod.Item, query string) ([]*Result, error)
}

// Indexer receives every batch the viewer shows so it can be searched
// later in the session.
type Indexer interface {
	Index(items []apod.Item) error
}

// DebugStatser provides lightweight stats for visibility/debugging.
type DebugStatser interface {
	DocCount() (int, error)
}

// Index is a searchable set of items.
type Index interface {
	Searcher
	Indexer
}
