package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// handleMouse drives the pull-to-refresh gesture and wheel scrolling. A
// left-button drag that starts with the feed at the top and moves down
// refreshes on release.
func (a *App) handleMouse(msg tea.MouseMsg) tea.Cmd {
	switch a.view {
	case ViewAbout:
		// clicking anywhere dismisses the dialog
		if msg.Action == tea.MouseActionPress {
			_, cmd := a.keyHandler.navigateBack()
			return cmd
		}
		return nil
	case ViewDetail:
		var cmd tea.Cmd
		a.pager, cmd = a.pager.Update(msg)
		return cmd
	case ViewSearch:
		var cmd tea.Cmd
		a.searchList, cmd = a.searchList.Update(msg)
		return cmd
	}

	switch {
	case msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		a.afterScroll()
		return cmd

	case msg.Button == tea.MouseButtonLeft && msg.Action == tea.MouseActionPress:
		a.gesture.Start(msg.Y, a.viewport.AtTop())
		return nil

	case msg.Action == tea.MouseActionMotion:
		if !a.gesture.Active() {
			return nil
		}
		offset, pulling := a.gesture.Move(msg.Y, a.viewport.AtTop())
		if pulling {
			a.pullOffset = offset
		} else {
			a.pullOffset = 0
		}
		return nil

	case msg.Action == tea.MouseActionRelease:
		a.pullOffset = 0
		// a pull during a refresh starts over; the buffer drops the older run
		if a.gesture.End() {
			return a.resetCmd()
		}
		return nil
	}

	return nil
}
