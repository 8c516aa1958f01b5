package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pders01/apodtok/internal/apikey"
	"github.com/pders01/apodtok/internal/apod"
	"github.com/pders01/apodtok/internal/buffer"
	"github.com/pders01/apodtok/internal/config"
	"github.com/pders01/apodtok/internal/debuglog"
	"github.com/pders01/apodtok/internal/keyserver"
	"github.com/pders01/apodtok/internal/media"
	"github.com/pders01/apodtok/internal/offline"
	"github.com/pders01/apodtok/internal/preload"
	"github.com/pders01/apodtok/internal/search"
	"github.com/pders01/apodtok/internal/storage"
	"github.com/pders01/apodtok/internal/tui"
)

// Version is the version of the application, set at build time
var Version = "dev"

var (
	configPath string
	dbPath     string
	debug      bool
	quiet      bool
	serveAddr  string
)

var rootCmd = &cobra.Command{
	Use:           "apodtok",
	Short:         "An endless feed of NASA's Astronomy Picture of the Day",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runViewer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("apodtok %s\n", Version)
		fmt.Println("Astronomy Picture of the Day viewer")
		fmt.Println("github.com/pders01/apodtok")
	},
}

var configGenCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Write the default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = defaultConfigFile()
		}
		if err := config.GenerateDefaultConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			return
		}
		fmt.Printf("Generated default configuration at: %s\n", path)
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Precache the offline manifest and activate the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		if err := e.transport.Install(ctx); err != nil {
			return err
		}
		if err := e.transport.Activate(ctx); err != nil {
			return err
		}
		fmt.Printf("Installed %d assets into %s\n", len(e.cfg.Cache.Manifest), e.cfg.Cache.StaticNamespace())
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or prune the offline cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cache namespaces from older versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		deleted, err := e.store.Keep(e.cfg.Cache.StaticNamespace(), e.cfg.Cache.RuntimeNamespace())
		if err != nil {
			return err
		}
		if len(deleted) == 0 {
			fmt.Println("Nothing to prune")
			return nil
		}
		for _, ns := range deleted {
			fmt.Printf("Deleted %s\n", ns)
		}
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entries and size per cache namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		stats, err := e.store.Stats()
		if err != nil {
			return err
		}
		return printStats(cmd, e.store, stats)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the API key endpoint and static assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// the terminal is free here, so logs go to stderr
		debuglog.SetOutput(logLevel(cfg), os.Stderr)
		defer debuglog.Close()

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		app := keyserver.New(apikey.New(cfg.API.Key, "", nil), keyserver.Options{
			StaticDir: cfg.Server.StaticDir,
			AccessLog: cmd.OutOrStdout(),
		})

		ctx, stop := signalContext(cmd)
		defer stop()
		go func() {
			<-ctx.Done()
			_ = app.Shutdown()
		}()

		fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", keyserver.KeyPath, addr)
		return app.Listen(addr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to cache database (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Write debug logs")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Skip startup banner")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")

	cacheCmd.AddCommand(cachePruneCmd, cacheStatsCmd)
	rootCmd.AddCommand(versionCmd, configGenCmd, installCmd, cacheCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "apodtok", "config.toml")
}

func logLevel(cfg *config.Config) debuglog.LogLevel {
	if debug {
		return debuglog.LevelDebug
	}
	return debuglog.ParseLogLevel(cfg.Log.Level)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// env is the shared setup for every command that touches the cache.
type env struct {
	cfg       *config.Config
	store     *storage.Store
	transport *offline.Transport
	client    *http.Client
}

func openEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if err := debuglog.Setup(logLevel(cfg), cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	store, err := storage.NewStore(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		debuglog.Close()
		return nil, err
	}

	transport := offline.New(store, cfg.Cache, http.DefaultTransport)
	return &env{
		cfg:       cfg,
		store:     store,
		transport: transport,
		client:    &http.Client{Transport: transport, Timeout: cfg.Feed.HTTPTimeout},
	}, nil
}

func (e *env) Close() {
	e.transport.Wait()
	if err := e.store.Close(); err != nil {
		debuglog.Warnf("closing store: %v", err)
	}
	debuglog.Close()
}

func runViewer(cmd *cobra.Command, args []string) error {
	if !quiet {
		tui.ShowBanner(Version)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	cfg := e.cfg

	ctx, stop := signalContext(cmd)
	defer stop()

	// an unusable cache only costs offline support
	if err := e.transport.Start(ctx); err != nil {
		debuglog.Warnf("offline cache not active: %v", err)
	}

	keys := apikey.New(cfg.API.Key, cfg.API.KeyEndpoint, e.client)
	source := apod.NewClient(cfg, e.client, keys)
	preloader := preload.New(e.client)

	buf := buffer.New(source, preloader, nil, buffer.Options{
		BatchSize:          cfg.API.BatchSize,
		BatchTimeout:       cfg.Feed.BatchTimeout,
		PreloadConcurrency: cfg.Feed.PreloadConcurrency,
	})

	index, err := search.NewBleveEngine()
	if err != nil {
		debuglog.Warnf("search: bleve unavailable, using the basic engine: %v", err)
		index = search.NewEngine()
	}

	app := tui.NewApp(cfg, tui.Deps{
		Buffer:   buf,
		Resolver: preloader,
		Opener:   media.NewLauncher(cfg),
		Index:    index,
	})
	defer app.Shutdown()

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func printStats(cmd *cobra.Command, store *storage.Store, stats []storage.NamespaceStats) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tENTRIES\tBYTES")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Name, s.Entries, s.Bytes)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	activated, err := store.GetMetadata("activated_at")
	switch {
	case err != nil:
		return err
	case activated == "":
		fmt.Fprintln(cmd.OutOrStdout(), "Cache never activated")
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "Activated at %s\n", activated)
	}
	return nil
}
