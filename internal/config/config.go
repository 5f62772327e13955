// Package config manages entitlements engine configuration
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/kvstore"
	"github.com/lcrostarosa/entitlements/internal/logging"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

const (
	jsonFile = "config.json"
	yamlFile = "config.yaml"

	// AnonymousIDPrefix marks generated app user IDs.
	AnonymousIDPrefix = "$RCAnonymousID:"

	DefaultListenAddr          = ":8095"
	DefaultMappingRefreshHours = 25
)

// OfflineConfig controls the offline entitlements fallback
type OfflineConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	MappingRefreshHours int  `json:"mapping_refresh_hours,omitempty" yaml:"mapping_refresh_hours,omitempty"`
	// PurchasesFile is the local purchase evidence consulted when offline
	PurchasesFile string `json:"purchases_file,omitempty" yaml:"purchases_file,omitempty"`
}

// RateLimitConfig throttles outgoing backend requests. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// Config represents the entitlements engine configuration
type Config struct {
	// Backend access
	APIKey    string `json:"api_key" yaml:"api_key"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	AppUserID string `json:"app_user_id,omitempty" yaml:"app_user_id,omitempty"`

	Verification verification.Config `json:"verification" yaml:"verification"`
	Offline      OfflineConfig       `json:"offline" yaml:"offline"`
	Store        kvstore.Config      `json:"store" yaml:"store"`
	Logging      logging.Config      `json:"logging" yaml:"logging"`
	RateLimit    RateLimitConfig     `json:"rate_limit" yaml:"rate_limit"`

	// RPC server settings
	ListenAddr   string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	ServerAPIKey string `json:"server_api_key,omitempty" yaml:"server_api_key,omitempty"`
	DevMode      bool   `json:"dev_mode,omitempty" yaml:"dev_mode,omitempty"`

	// Paths (not serialized)
	ConfigDir string `json:"-" yaml:"-"`
	// format the file was loaded from, reused by Save
	format string
}

// New returns a config with defaults and a fresh anonymous app user ID.
func New(configDir string) *Config {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return &Config{
		AppUserID:    NewAnonymousID(),
		Verification: verification.DefaultConfig(),
		Offline:      OfflineConfig{MappingRefreshHours: DefaultMappingRefreshHours},
		Store:        kvstore.Config{Backend: kvstore.BackendFile},
		Logging:      logging.DefaultConfig(),
		ListenAddr:   DefaultListenAddr,
		ConfigDir:    configDir,
	}
}

// NewAnonymousID generates an anonymous app user ID.
func NewAnonymousID() string {
	return AnonymousIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsAnonymous reports whether appUserID was generated by NewAnonymousID.
func IsAnonymous(appUserID string) bool {
	return strings.HasPrefix(appUserID, AnonymousIDPrefix)
}

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".entitlements")
}

// Load loads configuration from the config directory. config.json takes precedence
// over config.yaml.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := New(configDir)
	cfg.AppUserID = ""

	data, err := os.ReadFile(filepath.Join(configDir, jsonFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrInvalidConfig, jsonFile, err)
		}
		cfg.format = jsonFile
	case os.IsNotExist(err):
		data, err = os.ReadFile(filepath.Join(configDir, yamlFile))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, apperrors.ErrNotInitialized
			}
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrInvalidConfig, yamlFile, err)
		}
		cfg.format = yamlFile
	default:
		return nil, err
	}

	cfg.ConfigDir = configDir
	if cfg.AppUserID == "" {
		cfg.AppUserID = NewAnonymousID()
	}
	return cfg, nil
}

// Exists checks if a config exists
func Exists(configDir string) bool {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	for _, name := range []string{jsonFile, yamlFile} {
		if _, err := os.Stat(filepath.Join(configDir, name)); err == nil {
			return true
		}
	}
	return false
}

// SetFormat selects the file format Save writes: "json" or "yaml".
func (c *Config) SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "json":
		c.format = jsonFile
	case "yaml", "yml":
		c.format = yamlFile
	default:
		return fmt.Errorf("%w: unknown config format %q", apperrors.ErrInvalidConfig, format)
	}
	return nil
}

// Save saves the configuration to disk in the format it was loaded from, JSON by default
func (c *Config) Save() error {
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	name := c.format
	if name == yamlFile {
		data, err = yaml.Marshal(c)
	} else {
		name = jsonFile
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.ConfigDir, name), data, 0600)
}

// DataDir is where file based stores keep their data.
func (c *Config) DataDir() string {
	return filepath.Join(c.ConfigDir, "data")
}

// MappingRefreshPeriod returns the offline mapping refresh period.
func (c *Config) MappingRefreshPeriod() time.Duration {
	hours := c.Offline.MappingRefreshHours
	if hours <= 0 {
		hours = DefaultMappingRefreshHours
	}
	return time.Duration(hours) * time.Hour
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: api_key is required", apperrors.ErrInvalidConfig)
	}
	if strings.TrimSpace(c.AppUserID) == "" {
		return fmt.Errorf("%w: app_user_id is required", apperrors.ErrInvalidConfig)
	}
	if err := c.Verification.Validate(); err != nil {
		return err
	}
	switch c.Store.Backend {
	case "", kvstore.BackendMemory, kvstore.BackendFile, kvstore.BackendLevelDB:
	case kvstore.BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr is required for the redis backend", apperrors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", apperrors.ErrInvalidConfig, c.Store.Backend)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("%w: rate_limit values must not be negative", apperrors.ErrInvalidConfig)
	}
	return nil
}

// ApplyEnv overrides fields from ENTITLEMENTS_* environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.APIKey, "ENTITLEMENTS_API_KEY")
	setString(&c.BaseURL, "ENTITLEMENTS_BASE_URL")
	setString(&c.AppUserID, "ENTITLEMENTS_APP_USER_ID")
	setString(&c.Verification.Mode, "ENTITLEMENTS_VERIFICATION_MODE")
	setString(&c.Verification.RootPublicKey, "ENTITLEMENTS_ROOT_PUBLIC_KEY")
	setBool(&c.Offline.Enabled, "ENTITLEMENTS_OFFLINE_ENABLED")
	setString(&c.Offline.PurchasesFile, "ENTITLEMENTS_PURCHASES_FILE")
	setString(&c.Store.Backend, "ENTITLEMENTS_STORE_BACKEND")
	setString(&c.Store.Path, "ENTITLEMENTS_STORE_PATH")
	setString(&c.Store.RedisAddr, "ENTITLEMENTS_REDIS_ADDR")
	setString(&c.Store.RedisPassword, "ENTITLEMENTS_REDIS_PASSWORD")
	setString(&c.Store.Passphrase, "ENTITLEMENTS_STORE_PASSPHRASE")
	setString(&c.Logging.Level, "ENTITLEMENTS_LOG_LEVEL")
	setString(&c.ListenAddr, "ENTITLEMENTS_LISTEN_ADDR")
	setString(&c.ServerAPIKey, "ENTITLEMENTS_SERVER_API_KEY")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
