package keyserver

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/pders01/apodtok/internal/apikey"
	"github.com/pders01/apodtok/internal/debuglog"
)

// KeyPath is where the key-vending endpoint lives. It matches the path the
// hosted viewer has always used.
const KeyPath = "/.netlify/functions/get-api-key"

type Options struct {
	StaticDir string
	// AccessLog receives one line per request; nil disables it.
	AccessLog io.Writer
}

type keyResponse struct {
	APIKey string `json:"apiKey,omitempty"`
	Error  string `json:"error,omitempty"`
}

// New builds the server: the key endpoint plus static assets, which give
// the offline precache manifest an origin to install from.
func New(keys apikey.Provider, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "apodtok",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	app.Use(recover.New())
	if opts.AccessLog != nil {
		app.Use(logger.New(logger.Config{Output: opts.AccessLog}))
	}

	app.Get(KeyPath, keyHandler(keys))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	if opts.StaticDir != "" {
		if fi, err := os.Stat(opts.StaticDir); err == nil && fi.IsDir() {
			app.Static("/", opts.StaticDir)
		} else {
			debuglog.Warnf("keyserver: static dir %s unavailable", opts.StaticDir)
		}
	}

	return app
}

func keyHandler(keys apikey.Provider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()

		key, err := keys.Key(ctx)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, apikey.ErrMissingKey) {
				msg = apikey.EnvVar + " environment variable is not set"
			}
			debuglog.Errorf("keyserver: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(keyResponse{Error: msg})
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(keyResponse{APIKey: key})
	}
}
