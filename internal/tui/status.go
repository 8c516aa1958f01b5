package tui

import (
	"fmt"
)

// Canonical short status messages used across the app.
const (
	MsgLoading      = "Loading pictures…"
	MsgRefreshing   = "Refreshing…"
	MsgLoadingMore  = "Loading more…"
	MsgRendering    = "Rendering…"
	MsgNoResults    = "No results"
	MsgFetchFailed  = "Failed to load pictures"
	MsgRetryHint    = "press R to retry"
	MsgPullRelease  = "↓ release to refresh"
	MsgPullContinue = "↓ pull to refresh"
)

func MsgLoadedCount(n int) string {
	if n == 1 {
		return "1 picture"
	}
	return fmt.Sprintf("%d pictures", n)
}

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 result"
	}
	return fmt.Sprintf("%d results", n)
}

func MsgOpened(title string) string {
	return fmt.Sprintf("Opened '%s'", title)
}

// StatusKind picks the status bar color.
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusSuccess
	StatusWarn
	StatusError
)
