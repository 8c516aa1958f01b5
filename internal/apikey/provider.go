package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/pders01/apodtok/internal/debuglog"
)

// EnvVar is the environment variable holding the NASA API key.
const EnvVar = "NASA_API_KEY"

// ErrMissingKey means no source produced a key. Callers must not contact
// the upstream API without one.
var ErrMissingKey = errors.New("API key not configured")

type Provider interface {
	Key(ctx context.Context) (string, error)
}

// Static returns a fixed key. An empty key reports ErrMissingKey.
type Static string

func (s Static) Key(context.Context) (string, error) {
	if k := strings.TrimSpace(string(s)); k != "" {
		return k, nil
	}
	return "", ErrMissingKey
}

// Env reads the key from the environment, loading dotenv files first.
// Variables already set in the process win over file values.
type Env struct {
	Files []string

	once sync.Once
}

func (e *Env) Key(context.Context) (string, error) {
	e.once.Do(func() {
		files := e.Files
		if len(files) == 0 {
			files = []string{".env"}
		}
		for _, f := range files {
			if _, err := os.Stat(f); err != nil {
				continue
			}
			if err := godotenv.Load(f); err != nil {
				debuglog.Warnf("apikey: loading %s: %v", f, err)
			}
		}
	})

	if k := strings.TrimSpace(os.Getenv(EnvVar)); k != "" {
		return k, nil
	}
	return "", ErrMissingKey
}

// Remote asks a key-vending endpoint for the key. The endpoint answers
// {"apiKey": "..."} or {"error": "..."}. A successful answer is memoized.
type Remote struct {
	Endpoint string
	Client   *http.Client

	mu  sync.Mutex
	key string
}

type vendResponse struct {
	APIKey string `json:"apiKey"`
	Error  string `json:"error"`
}

func (r *Remote) Key(ctx context.Context) (string, error) {
	if strings.TrimSpace(r.Endpoint) == "" {
		return "", ErrMissingKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key != "" {
		return r.key, nil
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating key request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching API key: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading key response: %w", err)
	}

	var vr vendResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return "", fmt.Errorf("decoding key response (HTTP %d): %w", resp.StatusCode, err)
	}
	if vr.Error != "" {
		return "", fmt.Errorf("key endpoint: %s: %w", vr.Error, ErrMissingKey)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("key endpoint: HTTP %d", resp.StatusCode)
	}
	if strings.TrimSpace(vr.APIKey) == "" {
		return "", ErrMissingKey
	}

	r.key = strings.TrimSpace(vr.APIKey)
	return r.key, nil
}

// Chain tries providers in order. ErrMissingKey moves on to the next
// provider; any other error stops the chain.
type Chain []Provider

func (c Chain) Key(ctx context.Context) (string, error) {
	for _, p := range c {
		k, err := p.Key(ctx)
		if err == nil {
			return k, nil
		}
		if !errors.Is(err, ErrMissingKey) {
			return "", err
		}
	}
	return "", ErrMissingKey
}

// New builds the default chain: configured key, environment, then the
// vending endpoint when one is set.
func New(configured, endpoint string, client *http.Client) Chain {
	chain := Chain{Static(configured), &Env{}}
	if strings.TrimSpace(endpoint) != "" {
		chain = append(chain, &Remote{Endpoint: endpoint, Client: client})
	}
	return chain
}
