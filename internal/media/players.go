package media

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"

	"github.com/pders01/apodtok/internal/debuglog"
)

//go:embed players.toml
var playersTOML []byte

// PlayerDefinition defines how a media player should be invoked
type PlayerDefinition struct {
	Description string      `toml:"description"`
	Platforms   []string    `toml:"platforms"`
	Video       *KindConfig `toml:"video,omitempty"`
	Image       *KindConfig `toml:"image,omitempty"`
}

// KindConfig holds the arguments a player takes for one kind of media
type KindConfig struct {
	Args        []string `toml:"args,omitempty"`
	ArgsDarwin  []string `toml:"args_darwin,omitempty"`
	ArgsLinux   []string `toml:"args_linux,omitempty"`
	ArgsWindows []string `toml:"args_windows,omitempty"`
}

// PlayersConfig holds all player definitions
type PlayersConfig struct {
	Players map[string]PlayerDefinition `toml:"players"`
}

// PlayerRegistry manages player definitions
type PlayerRegistry struct {
	players map[string]PlayerDefinition
	goos    string
}

// NewPlayerRegistry creates a registry from the embedded TOML, merged with
// the user's definitions when present.
func NewPlayerRegistry(userPaths ...string) (*PlayerRegistry, error) {
	var cfg PlayersConfig
	if err := toml.Unmarshal(playersTOML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing players.toml: %w", err)
	}

	registry := &PlayerRegistry{
		players: cfg.Players,
		goos:    runtime.GOOS,
	}
	if registry.players == nil {
		registry.players = make(map[string]PlayerDefinition)
	}

	if len(userPaths) == 0 {
		userPaths = defaultUserPaths()
	}
	for _, path := range userPaths {
		registry.merge(path)
	}

	return registry, nil
}

func defaultUserPaths() []string {
	paths := []string{"./players.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append([]string{filepath.Join(home, ".config", "apodtok", "players.toml")}, paths...)
	}
	return paths
}

// merge loads a user definitions file; its players override built-ins
func (r *PlayerRegistry) merge(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var userCfg PlayersConfig
	if err := toml.Unmarshal(data, &userCfg); err != nil {
		debuglog.Warnf("media: ignoring %s: %v", path, err)
		return
	}
	for name, def := range userCfg.Players {
		r.players[name] = def
	}
}

// Command builds the command for a specific player and media kind
func (r *PlayerRegistry) Command(playerName string, kind Kind, url string) (*exec.Cmd, error) {
	player, exists := r.players[playerName]
	if !exists {
		// unknown players get the URL as their only argument
		return exec.Command(playerName, url), nil
	}

	supportsPlatform := false
	for _, p := range player.Platforms {
		if p == r.goos {
			supportsPlatform = true
			break
		}
	}
	if !supportsPlatform {
		return nil, fmt.Errorf("%s not supported on %s", playerName, r.goos)
	}

	var kc *KindConfig
	switch kind {
	case KindVideo:
		kc = player.Video
	case KindImage:
		kc = player.Image
	}
	if kc == nil {
		return nil, fmt.Errorf("%s doesn't support %s", playerName, kind)
	}

	args := append([]string{}, r.args(kc)...)
	args = append(args, url)

	return exec.Command(playerName, args...), nil
}

// args returns the appropriate args for the current platform
func (r *PlayerRegistry) args(kc *KindConfig) []string {
	switch r.goos {
	case "darwin":
		if len(kc.ArgsDarwin) > 0 {
			return kc.ArgsDarwin
		}
	case "linux":
		if len(kc.ArgsLinux) > 0 {
			return kc.ArgsLinux
		}
	case "windows":
		if len(kc.ArgsWindows) > 0 {
			return kc.ArgsWindows
		}
	}
	return kc.Args
}

// Has reports whether a definition exists for the player
func (r *PlayerRegistry) Has(playerName string) bool {
	_, ok := r.players[playerName]
	return ok
}
