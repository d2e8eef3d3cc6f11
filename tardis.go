// Package tardis is the public surface of the historical and real-time
// market-data engine spec.md describes: Replay/ReplayNormalized for
// historical iteration, Stream/StreamNormalized for live iteration, plus
// the exchange-metadata and process configuration operations spec.md §6
// lists.
package tardis

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tardis-go/tardis/internal/fetchworker"
	"github.com/tardis-go/tardis/internal/logging"
)

const defaultEndpoint = "https://tardis.dev/api"

// Config is the process-level configuration surface spec.md §6 describes
// (endpoint, cacheDir, apiKey) plus the fetch worker tuning knobs that flow
// down from internal/config.Config when driven by the CLI.
type Config struct {
	Endpoint string
	CacheDir string
	APIKey   string

	FetchConfig fetchworker.Config
}

var (
	mu     sync.RWMutex
	active = Config{Endpoint: defaultEndpoint}
	lg     = logging.New(logging.Config{Level: "info", Format: "json"})
)

// Init sets process-level configuration used by every later Replay/Stream
// call. Spec.md §9 notes the original makes this a one-shot singleton with
// ambiguous mutability after the fact ("the endpoint cannot be changed
// after init in the source's typing but can be via object-spread of
// partial options"); this implementation resolves that ambiguity by making
// Init a plain setter, callable again at any time — an explicit
// configuration value, not an enforced-immutable singleton.
func Init(c Config) error {
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(os.TempDir(), ".tardis-cache")
	}
	if !filepath.IsAbs(c.CacheDir) {
		return fmt.Errorf("tardis: cache dir must be an absolute path, got %q", c.CacheDir)
	}

	mu.Lock()
	active = c
	mu.Unlock()
	return nil
}

// SetLogger overrides the logger used by replay/stream background
// execution contexts. Defaults to a JSON zerolog.Logger at info level.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	lg = l
	mu.Unlock()
}

func current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

func currentLogger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return lg
}

// ClearCache recursively deletes the configured cache directory. Errors are
// swallowed (spec.md §6: "recursively deletes cacheDir; swallows errors"),
// logged instead of returned so a caller clearing a cache that was already
// empty or partially torn down never sees a spurious failure.
func ClearCache() error {
	c := current()
	if err := os.RemoveAll(c.CacheDir); err != nil {
		currentLogger().Warn().Err(err).Str("cache_dir", c.CacheDir).Msg("clear cache: some entries could not be removed")
	}
	return nil
}
