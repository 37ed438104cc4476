// Package config provides configuration management for the field scene fetcher.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/robert-malhotra/fieldscenes/internal/process"
)

// ErrInvalidBandSpec is returned when the requested bands cannot be served by the
// configured collection or do not form a valid processing specification.
var ErrInvalidBandSpec = errors.New("invalid band specification")

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	SentinelHub SentinelHubConfig `envPrefix:"SH_"`
	Catalog     CatalogConfig     `envPrefix:"CATALOG_"`
	Acquisition AcquisitionConfig `envPrefix:"ACQ_"`
	RunLog      RunLogConfig      `envPrefix:"RUNLOG_"`
	Metrics     MetricsConfig     `envPrefix:"METRICS_"`
	Logging     LoggingConfig     `envPrefix:"LOG_"`

	// ConfigFile is an optional YAML (or JSON) credentials file.
	ConfigFile string `env:"CONFIG_FILE"`
	// CollectionsDir holds extra collection definitions as JSON files.
	CollectionsDir string `env:"COLLECTIONS_DIR"`
}

// SentinelHubConfig contains the processing service endpoint and OAuth client.
type SentinelHubConfig struct {
	ClientID     string        `env:"CLIENT_ID"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	BaseURL      string        `env:"BASE_URL" envDefault:"https://services.sentinel-hub.com"`
	TokenURL     string        `env:"TOKEN_URL" envDefault:"https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

// CatalogConfig contains scene catalog query configuration.
type CatalogConfig struct {
	Collection string `env:"COLLECTION" envDefault:"sentinel-2-l2a"`
	PageSize   int    `env:"PAGE_SIZE" envDefault:"100"`
	// SearchURL replaces the catalog endpoint under the base URL, for STAC
	// catalogs hosted elsewhere.
	SearchURL string `env:"SEARCH_URL"`
	// SearchMode is "bbox" or "geometry"; some providers only accept one.
	SearchMode string `env:"SEARCH_MODE" envDefault:"bbox"`
	// ServerFilter sends the cloud cover filter as CQL2. When false the
	// filter is applied to the returned scenes instead.
	ServerFilter  bool    `env:"SERVER_FILTER" envDefault:"true"`
	MaxCloudCover float64 `env:"MAX_CLOUD_COVER" envDefault:"100"`
}

// AcquisitionConfig contains the per-target request and output layout settings.
type AcquisitionConfig struct {
	Bands      []string `env:"BANDS" envSeparator:"," envDefault:"B01,B02,B03,B04,B05,B06,B07,B08,B8A,B09,B11,B12"`
	SampleType string   `env:"SAMPLE_TYPE" envDefault:"UINT16"`
	Units      string   `env:"UNITS" envDefault:"DN"`

	Resolution float64 `env:"RESOLUTION" envDefault:"10"`
	Buffer     float64 `env:"BUFFER" envDefault:"0"`
	RoundStep  float64 `env:"ROUND_STEP" envDefault:"10"`
	MaxPixels  int     `env:"MAX_PIXELS" envDefault:"2500"`

	MosaickingOrder string `env:"MOSAICKING_ORDER" envDefault:"leastRecent"`
	// TieBreak selects one scene per date: first, leastRecent, mostRecent,
	// leastCC, or mosaicking to mirror MosaickingOrder.
	TieBreak string `env:"TIE_BREAK" envDefault:"mosaicking"`
	// Naming is "scene" ({scene}-{band}.tif) or "operator"
	// ({operator}-{region}-{date}-{band}.tif).
	Naming string `env:"NAMING" envDefault:"scene"`
	Clip   bool   `env:"CLIP" envDefault:"false"`

	Workers    int      `env:"WORKERS" envDefault:"4"`
	Extensions []string `env:"EXTENSIONS" envSeparator:"," envDefault:".shp,.geojson"`
}

// RunLogConfig contains run log placement.
type RunLogConfig struct {
	// Dir defaults to "_runlogs" under the output root.
	Dir string `env:"DIR"`
}

// MetricsConfig contains run metrics export configuration.
type MetricsConfig struct {
	// Textfile is a node-exporter textfile path written at the end of a run.
	Textfile string `env:"TEXTFILE"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Credentials mirrors the keys of a processing service config file.
type Credentials struct {
	ClientID     string `yaml:"sh_client_id"`
	ClientSecret string `yaml:"sh_client_secret"`
	BaseURL      string `yaml:"sh_base_url"`
	TokenURL     string `yaml:"sh_token_url"`
}

// Load parses configuration from environment variables and, when CONFIG_FILE
// is set, fills missing credentials from that file.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse is Load without validation, for callers that apply overrides first.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.MergeCredentialsFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadCredentials reads a credentials file. JSON files parse as YAML.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %q: %w", path, err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %q: %w", path, err)
	}
	return &creds, nil
}

// MergeCredentialsFile fills credentials from path. Values already set in the
// environment win over the file.
func (c *Config) MergeCredentialsFile(path string) error {
	creds, err := LoadCredentials(path)
	if err != nil {
		return err
	}

	if c.SentinelHub.ClientID == "" {
		c.SentinelHub.ClientID = creds.ClientID
	}
	if c.SentinelHub.ClientSecret == "" {
		c.SentinelHub.ClientSecret = creds.ClientSecret
	}
	if _, set := os.LookupEnv("SH_BASE_URL"); !set && creds.BaseURL != "" {
		c.SentinelHub.BaseURL = creds.BaseURL
	}
	if _, set := os.LookupEnv("SH_TOKEN_URL"); !set && creds.TokenURL != "" {
		c.SentinelHub.TokenURL = creds.TokenURL
	}
	return nil
}


// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	// Validate Sentinel Hub config
	if c.SentinelHub.ClientID == "" || c.SentinelHub.ClientSecret == "" {
		return fmt.Errorf("SH_CLIENT_ID and SH_CLIENT_SECRET are required (environment or CONFIG_FILE)")
	}

	if c.SentinelHub.BaseURL == "" {
		return fmt.Errorf("Sentinel Hub base URL is required")
	}

	if c.SentinelHub.TokenURL == "" {
		return fmt.Errorf("Sentinel Hub token URL is required")
	}

	if c.SentinelHub.Timeout <= 0 {
		return fmt.Errorf("Sentinel Hub timeout must be positive, got %s", c.SentinelHub.Timeout)
	}

	// Validate catalog config
	if c.Catalog.Collection == "" {
		return fmt.Errorf("catalog collection is required")
	}

	if c.Catalog.PageSize < 1 || c.Catalog.PageSize > 100 {
		return fmt.Errorf("catalog page size must be between 1 and 100, got %d", c.Catalog.PageSize)
	}

	if c.Catalog.SearchMode != "bbox" && c.Catalog.SearchMode != "geometry" {
		return fmt.Errorf("catalog search mode must be 'bbox' or 'geometry', got %q", c.Catalog.SearchMode)
	}

	if c.Catalog.MaxCloudCover < 0 || c.Catalog.MaxCloudCover > 100 {
		return fmt.Errorf("max cloud cover must be between 0 and 100, got %g", c.Catalog.MaxCloudCover)
	}

	// Validate acquisition config
	a := c.Acquisition
	if err := a.BandSpec().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBandSpec, err)
	}

	if a.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %g", a.Resolution)
	}

	if a.Buffer < 0 {
		return fmt.Errorf("buffer must not be negative, got %g", a.Buffer)
	}

	if a.RoundStep <= 0 {
		return fmt.Errorf("rounding step must be positive, got %g", a.RoundStep)
	}

	if ratio := a.RoundStep / a.Resolution; math.Round(ratio) < 1 || math.Abs(ratio-math.Round(ratio)) > 1e-6 {
		return fmt.Errorf("rounding step (%g) must be a multiple of resolution (%g)", a.RoundStep, a.Resolution)
	}

	if a.MaxPixels < 0 {
		return fmt.Errorf("max pixels must not be negative, got %d", a.MaxPixels)
	}

	validMosaicking := map[string]bool{"leastRecent": true, "mostRecent": true, "leastCC": true}
	if !validMosaicking[a.MosaickingOrder] {
		return fmt.Errorf("invalid mosaicking order %q, must be one of: leastRecent, mostRecent, leastCC", a.MosaickingOrder)
	}

	validTieBreaks := map[string]bool{
		"first": true, "leastRecent": true, "mostRecent": true, "leastCC": true, "mosaicking": true,
	}
	if !validTieBreaks[a.TieBreak] {
		return fmt.Errorf("invalid tie break %q, must be one of: first, leastRecent, mostRecent, leastCC, mosaicking", a.TieBreak)
	}

	if a.Naming != "scene" && a.Naming != "operator" {
		return fmt.Errorf("naming must be 'scene' or 'operator', got %q", a.Naming)
	}

	if a.Workers < 1 || a.Workers > 16 {
		return fmt.Errorf("workers must be between 1 and 16, got %d", a.Workers)
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

// BandSpec returns the processing band specification of the acquisition.
func (a AcquisitionConfig) BandSpec() process.BandSpec {
	return process.BandSpec{Bands: a.Bands, SampleType: a.SampleType, Units: a.Units}
}

// ResolvedTieBreak resolves the "mosaicking" tie break to the configured order.
func (a AcquisitionConfig) ResolvedTieBreak() string {
	if a.TieBreak == "mosaicking" {
		return a.MosaickingOrder
	}
	return a.TieBreak
}

// ValidateBands checks the requested bands against the collection registry.
func (c *Config) ValidateBands(reg *CollectionRegistry) error {
	coll := reg.Get(c.Catalog.Collection)
	if coll == nil {
		return fmt.Errorf("%w: unknown collection %q", ErrInvalidBandSpec, c.Catalog.Collection)
	}

	for _, b := range c.Acquisition.Bands {
		if !coll.HasBand(b) {
			return fmt.Errorf("%w: collection %q has no band %q", ErrInvalidBandSpec, coll.ID, b)
		}
	}
	return nil
}
