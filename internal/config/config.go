// Package config loads the labeler configuration from a YAML file, an
// optional .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	perr "ocr-labeler/internal/errors"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const envPrefix = "OCRL_"

type Config struct {
	Camera     Camera     `yaml:"camera"`
	OCR        OCR        `yaml:"ocr"`
	Store      Store      `yaml:"store"`
	Classifier Classifier `yaml:"classifier"`
	HTTP       HTTP       `yaml:"http"`
	Export     Export     `yaml:"export"`

	RecognizeTimeoutMs int    `yaml:"recognize_timeout_ms"`
	RefreshIntervalMs  int    `yaml:"refresh_interval_ms"`
	BufferTextPath     string `yaml:"buffer_text_path"`

	// FlushOnShutdown commits a non-empty buffer as an attempt at shutdown
	// instead of discarding it.
	FlushOnShutdown   bool `yaml:"flush_on_shutdown"`
	ShutdownTimeoutMs int  `yaml:"shutdown_timeout_ms"`
}

type Camera struct {
	Source     string `yaml:"source"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	IntervalMs int    `yaml:"interval_ms"`
}

// OCR mirrors the recognition engine parameters.
type OCR struct {
	Language       string  `yaml:"language"`
	Whitelist      string  `yaml:"whitelist"`
	PSM            int     `yaml:"psm"`
	Preprocess     *bool   `yaml:"preprocess"`
	MinScaleDim    int     `yaml:"min_scale_dim"`
	CLAHEClipLimit float64 `yaml:"clahe_clip"`
	CLAHETileSize  int     `yaml:"clahe_tile"`
	Adaptive       bool    `yaml:"adaptive"`
	AdaptiveBlock  int     `yaml:"adaptive_block"`
	AdaptiveC      int     `yaml:"adaptive_c"`
	Invert         *bool   `yaml:"invert"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

type Store struct {
	Driver string `yaml:"driver"` // json or sqlite
	Path   string `yaml:"path"`
}

type Classifier struct {
	Provider        string `yaml:"provider"` // keyword or anthropic
	CatalogPath     string `yaml:"catalog_path"`
	WatchCatalog    bool   `yaml:"watch_catalog"`
	Model           string `yaml:"model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
}

type HTTP struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Export struct {
	// Schedule is a five-field cron expression; empty disables the job.
	Schedule string `yaml:"schedule"`
	Path     string `yaml:"path"`
}

// Load reads .env (if present), then the YAML file named by CONFIG_PATH
// (default config.yaml, optional), applies environment overrides and
// defaults, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, perr.Wrapf(err, perr.ErrorCodeInvalid, "parse .env")
	}
	path := "config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	return LoadFile(path)
}

// LoadFile is Load without the .env step. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, perr.Wrapf(err, perr.ErrorCodeInvalid, "parse %s", path)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, perr.IOFailuref(err, "read %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	envOverride(&c.Camera.Source, "CAMERA_SOURCE")
	errs = append(errs, envOverrideInt(&c.Camera.IntervalMs, "CAMERA_INTERVAL_MS"))
	envOverride(&c.OCR.Language, "OCR_LANGUAGE")
	envOverrideAllowEmpty(&c.OCR.Whitelist, envPrefix+"OCR_WHITELIST")
	envOverride(&c.Store.Driver, "STORE_DRIVER")
	envOverride(&c.Store.Path, "STORE_PATH")
	envOverride(&c.Classifier.Provider, "CLASSIFIER_PROVIDER")
	envOverride(&c.Classifier.CatalogPath, "CATALOG_PATH")
	envOverride(&c.Classifier.Model, "LLM_MODEL")
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Classifier.AnthropicAPIKey = v
	}
	envOverride(&c.HTTP.Addr, "HTTP_ADDR")
	if origins := os.Getenv(envPrefix + "CORS_ORIGINS"); origins != "" {
		c.HTTP.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.HTTP.CORSOrigins = append(c.HTTP.CORSOrigins, o)
			}
		}
	}
	envOverrideAllowEmpty(&c.Export.Schedule, envPrefix+"EXPORT_SCHEDULE")
	envOverride(&c.Export.Path, "EXPORT_PATH")
	envOverride(&c.BufferTextPath, "BUFFER_TEXT_PATH")
	errs = append(errs, envOverrideInt(&c.RecognizeTimeoutMs, "RECOGNIZE_TIMEOUT_MS"))
	errs = append(errs, envOverrideBool(&c.FlushOnShutdown, "FLUSH_ON_SHUTDOWN"))
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Camera.Source == "" {
		c.Camera.Source = "0"
	}
	if c.Camera.IntervalMs == 0 {
		c.Camera.IntervalMs = 10
	}
	if c.OCR.Language == "" {
		c.OCR.Language = "eng"
	}
	if c.OCR.MinScaleDim == 0 {
		c.OCR.MinScaleDim = 150
	}
	if c.OCR.CLAHEClipLimit == 0 {
		c.OCR.CLAHEClipLimit = 2.0
	}
	if c.OCR.CLAHETileSize == 0 {
		c.OCR.CLAHETileSize = 8
	}
	if c.OCR.Preprocess == nil {
		c.OCR.Preprocess = boolPtr(true)
	}
	if c.OCR.Invert == nil {
		c.OCR.Invert = boolPtr(true)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "json"
	}
	if c.Store.Path == "" {
		if c.Store.Driver == "sqlite" {
			c.Store.Path = "item_dataset.db"
		} else {
			c.Store.Path = "item_dataset.json"
		}
	}
	if c.Classifier.Provider == "" {
		c.Classifier.Provider = "keyword"
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = "claude-3-5-haiku-latest"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8080"
	}
	if c.Export.Path == "" {
		c.Export.Path = "item_dataset_chat.json"
	}
	if c.RecognizeTimeoutMs == 0 {
		c.RecognizeTimeoutMs = 5000
	}
	if c.RefreshIntervalMs == 0 {
		c.RefreshIntervalMs = 200
	}
	if c.BufferTextPath == "" {
		c.BufferTextPath = "output_ocr_text.txt"
	}
	if c.ShutdownTimeoutMs == 0 {
		c.ShutdownTimeoutMs = 10000
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "json", "sqlite":
	default:
		return perr.Invalidf("store.driver must be 'json' or 'sqlite', got '%s'", c.Store.Driver)
	}
	switch c.Classifier.Provider {
	case "keyword":
	case "anthropic":
		if c.Classifier.AnthropicAPIKey == "" {
			return perr.Invalidf("anthropic_api_key is required when classifier.provider=anthropic")
		}
	default:
		return perr.Invalidf("classifier.provider must be 'keyword' or 'anthropic', got '%s'", c.Classifier.Provider)
	}
	if c.Camera.IntervalMs < 1 {
		return perr.Invalidf("invalid camera.interval_ms '%d': must be >= 1", c.Camera.IntervalMs)
	}
	if c.RefreshIntervalMs < 10 {
		return perr.Invalidf("invalid refresh_interval_ms '%d': must be >= 10", c.RefreshIntervalMs)
	}
	if c.RecognizeTimeoutMs < 0 {
		return perr.Invalidf("invalid recognize_timeout_ms '%d': must be >= 0", c.RecognizeTimeoutMs)
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return perr.Invalidf("invalid ocr.min_confidence '%g': must be between 0 and 1", c.OCR.MinConfidence)
	}
	if c.Export.Schedule != "" {
		if _, err := ParseSchedule(c.Export.Schedule); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeInvalid, "invalid export.schedule '%s'", c.Export.Schedule)
		}
	}
	return nil
}

// ParseSchedule parses a five-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(spec)
}

func (c Config) RecognizeTimeout() time.Duration {
	return time.Duration(c.RecognizeTimeoutMs) * time.Millisecond
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}

func (c Config) CameraInterval() time.Duration {
	return time.Duration(c.Camera.IntervalMs) * time.Millisecond
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

func envOverride(field *string, key string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, key string) error {
	if val := os.Getenv(envPrefix + key); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return perr.Invalidf("invalid %s%s '%s': %v", envPrefix, key, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, key string) error {
	if val := os.Getenv(envPrefix + key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return perr.Invalidf("invalid %s%s '%s': %v", envPrefix, key, val, err)
		}
		*field = b
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

// String renders the config for logs with the API key masked.
func (c Config) String() string {
	masked := c
	if masked.Classifier.AnthropicAPIKey != "" {
		masked.Classifier.AnthropicAPIKey = "***"
	}
	out, err := yaml.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
