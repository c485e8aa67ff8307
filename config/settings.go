// Package config is the Config Store (C1): a JSON-file-backed settings
// document with cached reads and change invalidation, following the
// same Manager.Load/Save shape the teacher uses for its own
// settings.json, generalized from novastream's streaming-box settings
// to the danmaku platform's own knobs (spec.md §3 "ConfigEntry" and §6
// "Env/config relevant to the core").
package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
)

// ServerSettings is the HTTP bind address for the compat API surface.
type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseSettings is the SQLite path backing internal/store.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// LogConfig configures lumberjack-backed rotating file logging, exactly
// as the teacher's main.go wires gopkg.in/natefinch/lumberjack.v2.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxBackups int    `json:"maxBackups"`
	MaxAge     int    `json:"maxAge"`
	Compress   bool   `json:"compress"`
}

// RateLimitSettings seeds internal/ratelimit.Config (spec §4.1's G/P and
// fallback F/P).
type RateLimitSettings struct {
	GlobalLimit          int `json:"globalLimit"`
	GlobalPeriodSeconds  int `json:"globalPeriodSeconds"`
	FallbackLimit        int `json:"fallbackLimit"`
	FallbackPeriodSeconds int `json:"fallbackPeriodSeconds"`
}

// ScraperSettings controls the C4 registry's verification mode and
// global title-blacklist regexes (spec §4.4 "Search modes").
type ScraperSettings struct {
	VerificationEnabled    bool   `json:"scraperVerificationEnabled"`
	BlacklistCN            string `json:"searchResultGlobalBlacklistCn"`
	BlacklistEng           string `json:"searchResultGlobalBlacklistEng"`
}

// FallbackSettings is the fallback engine's (C8) feature-flag surface,
// spec §6's "Env/config relevant to the core" list.
type FallbackSettings struct {
	SearchFallbackEnabled         bool     `json:"searchFallbackEnabled"`
	MatchFallbackEnabled          bool     `json:"matchFallbackEnabled"`
	MatchFallbackTokens           []string `json:"matchFallbackTokens"`
	MatchFallbackBlacklist        string   `json:"matchFallbackBlacklist"`
	PreDownloadNextEpisodeEnabled bool     `json:"preDownloadNextEpisodeEnabled"`
	ExternalApiFallbackEnabled    bool     `json:"externalApiFallbackEnabled"`
	AIMatchEnabled                bool     `json:"aiMatchEnabled"`
	AIProvider                    string   `json:"aiProvider"`
	AIAPIKey                      string   `json:"aiApiKey"`
	AIBaseURL                     string   `json:"aiBaseUrl"`
	AIModel                       string   `json:"aiModel"`
	AIFallbackEnabled             bool     `json:"aiFallbackEnabled"`
	DanmakuOutputLimitPerSource   int      `json:"danmakuOutputLimitPerSource"`
}

// UAFilterMode is the compat API's User-Agent gate (spec §4.6 step 3).
type UAFilterMode string

const (
	UAFilterOff       UAFilterMode = "off"
	UAFilterWhitelist UAFilterMode = "whitelist"
	UAFilterBlacklist UAFilterMode = "blacklist"
)

// CompatAPISettings configures the C9 request surface.
type CompatAPISettings struct {
	UAFilterMode     UAFilterMode `json:"uaFilterMode"`
	UAFilterList     []string     `json:"uaFilterList"`
	TrustedProxies   []string     `json:"trustedProxies"`
	WebhookEnabled   bool         `json:"webhookEnabled"`
}

// Settings is the full persisted configuration document.
type Settings struct {
	Server     ServerSettings     `json:"server"`
	Database   DatabaseSettings   `json:"database"`
	Log        LogConfig          `json:"log"`
	RateLimit  RateLimitSettings  `json:"rateLimit"`
	Scraper    ScraperSettings    `json:"scraper"`
	Fallback   FallbackSettings   `json:"fallback"`
	CompatAPI  CompatAPISettings  `json:"compatApi"`

	// Entries is the generic ConfigEntry escape hatch (spec §3) for
	// ad-hoc keys that can't be enumerated at compile time, e.g.
	// "<provider>_episode_blacklist_regex", "is_enabled",
	// "display_order", "use_proxy" per source.
	Entries map[string]string `json:"entries"`
}

// RegisteredDefault pairs a free-form config key with a human label and
// default value, mirroring spec §3's "Certain keys have registered
// defaults and human labels."
type RegisteredDefault struct {
	Key     string
	Label   string
	Default string
}

// RegisteredDefaults lists the free-form keys with known defaults; any
// key absent from both Entries and this table has no default and
// GetString returns the caller-supplied fallback.
var RegisteredDefaults = []RegisteredDefault{
	{Key: "token_search_cooldown_seconds", Label: "Per-token search cooldown", Default: "2"},
	{Key: "fallback_candidate_alias_threshold", Label: "Alias similarity threshold (%)", Default: "70"},
	{Key: "favorited_title_similarity_threshold", Label: "Favorited-source similarity threshold (%)", Default: "80"},
}

func registeredDefault(key string) (string, bool) {
	for _, d := range RegisteredDefaults {
		if d.Key == key {
			return d.Default, true
		}
	}
	return "", false
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 9321},
		Database: DatabaseSettings{Path: "cache/danmu.db"},
		Log: LogConfig{
			File:       "cache/logs/danmu.log",
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		RateLimit: RateLimitSettings{
			GlobalLimit:           200,
			GlobalPeriodSeconds:   60,
			FallbackLimit:         20,
			FallbackPeriodSeconds: 60,
		},
		Scraper: ScraperSettings{
			VerificationEnabled: true,
			BlacklistCN:         "",
			BlacklistEng:        "",
		},
		Fallback: FallbackSettings{
			SearchFallbackEnabled:         true,
			MatchFallbackEnabled:          true,
			MatchFallbackTokens:           []string{},
			MatchFallbackBlacklist:        "",
			PreDownloadNextEpisodeEnabled: true,
			ExternalApiFallbackEnabled:    false,
			AIMatchEnabled:                false,
			AIFallbackEnabled:             false,
			DanmakuOutputLimitPerSource:   0,
		},
		CompatAPI: CompatAPISettings{
			UAFilterMode:   UAFilterOff,
			TrustedProxies: []string{"127.0.0.1/32"},
			WebhookEnabled: false,
		},
		Entries: map[string]string{},
	}
}

// Manager loads and persists Settings to a JSON file, caching the last
// read in memory and bumping a generation counter on every Save so
// callers holding a stale copy can detect it (spec §4.0/C1 "cached
// reads and change invalidation").
type Manager struct {
	path string

	mu         sync.RWMutex
	cached     Settings
	hasCached  bool
	generation atomic.Int64
}

// NewManager constructs a Manager bound to configPath; nothing is read
// from disk until Load is called.
func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// Generation returns the current change-invalidation counter; callers
// that cache a Settings snapshot compare this before trusting it.
func (m *Manager) Generation() int64 {
	return m.generation.Load()
}

// EnsureDir creates the parent directory of the config path if needed.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file from disk, creating it with defaults if
// missing, and caches the result.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config: path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}
	if s.Entries == nil {
		s.Entries = map[string]string{}
	}

	m.mu.Lock()
	m.cached = s
	m.hasCached = true
	m.mu.Unlock()

	return s, nil
}

// Save writes settings to disk atomically and bumps the generation
// counter so cached readers invalidate.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config: path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	if s.Entries == nil {
		s.Entries = map[string]string{}
	}

	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return err
	}

	m.mu.Lock()
	m.cached = s
	m.hasCached = true
	m.mu.Unlock()
	m.generation.Add(1)

	return nil
}

// Cached returns the last Loaded/Saved Settings without touching disk,
// or false if nothing has been loaded yet.
func (m *Manager) Cached() (Settings, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached, m.hasCached
}

// GetString reads a free-form ConfigEntry, falling back to its
// registered default (if any) and finally to def.
func (m *Manager) GetString(key, def string) string {
	m.mu.RLock()
	entries := m.cached.Entries
	m.mu.RUnlock()
	if v, ok := entries[key]; ok {
		return v
	}
	if v, ok := registeredDefault(key); ok {
		return v
	}
	return def
}

// GetBool reads a free-form ConfigEntry as a bool ("1"/"true"/"yes").
func (m *Manager) GetBool(key string, def bool) bool {
	v := m.GetString(key, "")
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// GetInt reads a free-form ConfigEntry as an int.
func (m *Manager) GetInt(key string, def int) int {
	v := m.GetString(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// SetString writes a free-form ConfigEntry and persists it immediately,
// matching the "registers default values... without overwriting user
// values" lifecycle step of the scraper registry (spec §4.4 step 5).
func (m *Manager) SetString(key, value string) error {
	m.mu.Lock()
	if m.cached.Entries == nil {
		m.cached.Entries = map[string]string{}
	}
	m.cached.Entries[key] = value
	snapshot := m.cached
	m.mu.Unlock()
	return m.Save(snapshot)
}

// SetDefaultIfAbsent registers a default for key without overwriting an
// existing user value (spec §4.4 step 5).
func (m *Manager) SetDefaultIfAbsent(key, value string) error {
	m.mu.RLock()
	_, exists := m.cached.Entries[key]
	m.mu.RUnlock()
	if exists {
		return nil
	}
	return m.SetString(key, value)
}
