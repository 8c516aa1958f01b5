package media

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/pders01/apodtok/internal/apod"
	"github.com/pders01/apodtok/internal/config"
	"github.com/pders01/apodtok/internal/debuglog"
)

type Kind int

const (
	KindImage Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "image"
}

// KindOf maps an item's media type to the viewer kind.
func KindOf(item apod.Item) Kind {
	if item.MediaType == apod.MediaVideo {
		return KindVideo
	}
	return KindImage
}

// Launcher opens pictures and videos in external applications.
type Launcher struct {
	videoPlayer   string
	imageViewer   string
	defaultOpener string
	registry      *PlayerRegistry

	lookPath func(string) (string, error)
	start    func(*exec.Cmd) error
}

func NewLauncher(cfg *config.Config) *Launcher {
	registry, err := NewPlayerRegistry()
	if err != nil {
		// continue with plain "<player> <url>" invocations
		debuglog.Warnf("media: %v", err)
		registry = &PlayerRegistry{players: make(map[string]PlayerDefinition), goos: runtime.GOOS}
	}
	return newLauncher(cfg.Media, registry, runtime.GOOS, exec.LookPath, startDetached)
}

func newLauncher(mc config.MediaConfig, registry *PlayerRegistry, goos string, lookPath func(string) (string, error), start func(*exec.Cmd) error) *Launcher {
	l := &Launcher{
		defaultOpener: mc.DefaultOpener,
		registry:      registry,
		lookPath:      lookPath,
		start:         start,
	}

	var players config.MediaPlayers
	switch goos {
	case "darwin":
		players = mc.Darwin
	case "linux":
		players = mc.Linux
	case "windows":
		players = mc.Windows
	default:
		players = mc.Linux
	}

	l.videoPlayer = l.findCommand(players.Video...)
	l.imageViewer = l.findCommand(players.Image...)

	if l.videoPlayer == "" {
		l.videoPlayer = l.defaultOpener
	}
	if l.imageViewer == "" {
		l.imageViewer = l.defaultOpener
	}

	return l
}

// Open launches the item. preferHD opens the HD image when there is one.
func (l *Launcher) Open(item apod.Item, preferHD bool) error {
	url := item.URL
	if preferHD && item.HDURL != "" && item.IsImage() {
		url = item.HDURL
	}
	if url == "" {
		return fmt.Errorf("%q has no media URL", item.Title)
	}

	kind := KindOf(item)
	playerName := l.imageViewer
	if kind == KindVideo {
		playerName = l.videoPlayer
	}
	if playerName == "" {
		return fmt.Errorf("no application found to open %s", kind)
	}

	cmd, err := l.registry.Command(playerName, kind, url)
	if err != nil {
		debuglog.Debugf("media: %v, falling back to plain invocation", err)
		cmd = exec.Command(playerName, url)
	}

	if err := l.start(cmd); err != nil {
		return fmt.Errorf("failed to start %s: %w", playerName, err)
	}
	debuglog.Infof("media: opened %s with %s", url, playerName)
	return nil
}

// Player reports which command handles kind.
func (l *Launcher) Player(kind Kind) string {
	if kind == KindVideo {
		return l.videoPlayer
	}
	return l.imageViewer
}

func (l *Launcher) findCommand(commands ...string) string {
	for _, cmd := range commands {
		if _, err := l.lookPath(cmd); err == nil {
			return cmd
		}
	}
	return ""
}

// startDetached starts GUI applications without waiting on them
func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
