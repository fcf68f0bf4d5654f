package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"genrelay/internal/domain"
)

// Config is the root configuration structure.
type Config struct {
	EnvFile   string           `yaml:"env_file,omitempty"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Catalog   CatalogConfig    `yaml:"catalog"`
	Providers []ProviderConfig `yaml:"providers,omitempty"`
	Notify    NotifyConfig     `yaml:"notify"`
	Server    ServerConfig     `yaml:"server"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logger    LoggerConfig     `yaml:"logger"`
	Tracer    TracerConfig     `yaml:"tracer"`
	Includes  []string         `yaml:"includes,omitempty"`
}

// DispatchConfig controls the preference chain and the retry policy.
type DispatchConfig struct {
	Primary        string               `yaml:"primary"`
	Fallbacks      []string             `yaml:"fallbacks,omitempty"`
	AutoDiscover   bool                 `yaml:"auto_discover"`
	MaxRetries     int                  `yaml:"max_retries"`
	Backoff        BackoffConfig        `yaml:"backoff"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// BackoffConfig shapes the delay between attempts on the same provider.
type BackoffConfig struct {
	Base       time.Duration `yaml:"base"`
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`
	Jitter     float64       `yaml:"jitter"`
}

// CircuitBreakerConfig holds circuit breaker settings for provider adapters.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// CatalogConfig points at an optional descriptor table file and overrides
// the credential variable of whole provider families.
type CatalogConfig struct {
	Path             string            `yaml:"path,omitempty"`
	IncludeDefaults  bool              `yaml:"include_defaults"`
	Credentials      map[string]string `yaml:"credentials,omitempty"`
	DisableLibraries []string          `yaml:"disable_libraries,omitempty"`
}

// PoolConfig holds HTTP connection pool settings for provider clients.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds transport settings for one provider family. It never
// carries credentials; those come from the descriptor's environment variable.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	Referer     string        `yaml:"referer,omitempty"` // openrouter HTTP-Referer
	AppTitle    string        `yaml:"app_title,omitempty"`
}

// NotifyConfig selects the sinks that receive fallback and exhaustion events.
type NotifyConfig struct {
	Log     bool                 `yaml:"log"`
	Webhook *WebhookNotifyConfig `yaml:"webhook,omitempty"`
	Slack   *SlackNotifyConfig   `yaml:"slack,omitempty"`
	Discord *DiscordNotifyConfig `yaml:"discord,omitempty"`
}

// WebhookNotifyConfig posts events as JSON.
type WebhookNotifyConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout"`
}

// SlackNotifyConfig holds Slack bot settings.
type SlackNotifyConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordNotifyConfig holds Discord bot settings.
type DiscordNotifyConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// ServerConfig holds HTTP API settings for serve mode.
type ServerConfig struct {
	Addr       string          `yaml:"addr"`
	AuthTokens []string        `yaml:"auth_tokens,omitempty"` // empty means no auth
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			AutoDiscover: true,
			MaxRetries:   3,
			Backoff: BackoffConfig{
				Base:       500 * time.Millisecond,
				Multiplier: 2,
				Max:        10 * time.Second,
				Jitter:     0.25,
			},
			Timeout: 60 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Catalog: CatalogConfig{
			IncludeDefaults: true,
		},
		Notify: NotifyConfig{
			Log: true,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8088",
			RateLimit: RateLimitConfig{
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "genrelay",
			Subsystem: "dispatch",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Provider returns the transport settings for a provider family, or a
// zero-valued config carrying only the name.
func (c *Config) Provider(name string) ProviderConfig {
	for _, p := range c.Providers {
		if p.Name == name {
			return p
		}
	}
	return ProviderConfig{Name: name}
}

// Load reads a YAML config file, applies defaults and env overrides.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file wins over anything it includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	if cfg.EnvFile != "" && !filepath.IsAbs(cfg.EnvFile) {
		cfg.EnvFile = filepath.Join(filepath.Dir(absPath), cfg.EnvFile)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("GENRELAY_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides overrides config values from GENRELAY_* environment variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GENRELAY_DISPATCH_PRIMARY"); v != "" {
		cfg.Dispatch.Primary = strings.TrimSpace(v)
	}
	if v := os.Getenv("GENRELAY_DISPATCH_FALLBACKS"); v != "" {
		var refs []string
		for _, r := range splitAndTrim(v, ",") {
			if r != "" {
				refs = append(refs, r)
			}
		}
		cfg.Dispatch.Fallbacks = refs
	}
	if v := os.Getenv("GENRELAY_DISPATCH_AUTO_DISCOVER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dispatch.AutoDiscover = b
		}
	}
	if v := os.Getenv("GENRELAY_DISPATCH_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxRetries = n
		}
	}
	if v := os.Getenv("GENRELAY_DISPATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.Timeout = d
		}
	}
	if v := os.Getenv("GENRELAY_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("GENRELAY_ENV_FILE"); v != "" {
		cfg.EnvFile = v
	}
	if v := os.Getenv("GENRELAY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GENRELAY_SERVER_AUTH_TOKENS"); v != "" {
		cfg.Server.AuthTokens = nil
		for _, t := range splitAndTrim(v, ",") {
			if t != "" {
				cfg.Server.AuthTokens = append(cfg.Server.AuthTokens, t)
			}
		}
	}
	if v := os.Getenv("GENRELAY_NOTIFY_WEBHOOK_URL"); v != "" {
		if cfg.Notify.Webhook == nil {
			cfg.Notify.Webhook = &WebhookNotifyConfig{}
		}
		cfg.Notify.Webhook.URL = v
	}
	if v := os.Getenv("GENRELAY_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GENRELAY_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("GENRELAY_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("GENRELAY_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("GENRELAY_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets replaces enc:-prefixed notification tokens with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	var fields []struct {
		name string
		ptr  *string
	}
	add := func(name string, p *string) {
		fields = append(fields, struct {
			name string
			ptr  *string
		}{name, p})
	}
	for i := range cfg.Server.AuthTokens {
		add(fmt.Sprintf("server.auth_tokens[%d]", i), &cfg.Server.AuthTokens[i])
	}
	if cfg.Notify.Slack != nil {
		add("notify.slack.token", &cfg.Notify.Slack.Token)
	}
	if cfg.Notify.Discord != nil {
		add("notify.discord.token", &cfg.Notify.Discord.Token)
	}
	if cfg.Notify.Webhook != nil {
		add("notify.webhook.url", &cfg.Notify.Webhook.URL)
		for k := range cfg.Notify.Webhook.Headers {
			v := cfg.Notify.Webhook.Headers[k]
			if strings.HasPrefix(v, "enc:") {
				decrypted, err := DecryptValue(strings.TrimPrefix(v, "enc:"), passphrase)
				if err != nil {
					return fmt.Errorf("notify.webhook.headers.%s: %w", k, err)
				}
				cfg.Notify.Webhook.Headers[k] = decrypted
			}
		}
	}

	for _, f := range fields {
		if strings.HasPrefix(*f.ptr, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(*f.ptr, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("%s: %w", f.name, err)
			}
			*f.ptr = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts plaintext with AES-256-GCM using a key derived from
// passphrase. The result is suitable for an enc: config value.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("%w: generate salt: %v", domain.ErrEncryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", domain.ErrEncryption, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("%w: want salt:ciphertext", domain.ErrDecryption)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", domain.ErrDecryption, err)
	}

	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrong key or corrupted value", domain.ErrDecryption)
	}

	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
