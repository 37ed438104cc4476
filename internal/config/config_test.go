package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robert-malhotra/fieldscenes/internal/process"
)

func setCredentials(t *testing.T) {
	t.Setenv("SH_CLIENT_ID", "client")
	t.Setenv("SH_CLIENT_SECRET", "secret")
}

func TestLoad(t *testing.T) {
	setCredentials(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Test defaults
	if cfg.SentinelHub.BaseURL != "https://services.sentinel-hub.com" {
		t.Errorf("expected default base URL, got %s", cfg.SentinelHub.BaseURL)
	}

	if cfg.SentinelHub.Timeout != 120*time.Second {
		t.Errorf("expected default timeout 120s, got %s", cfg.SentinelHub.Timeout)
	}

	if cfg.Catalog.Collection != "sentinel-2-l2a" {
		t.Errorf("expected default collection sentinel-2-l2a, got %s", cfg.Catalog.Collection)
	}

	if len(cfg.Acquisition.Bands) != 12 || cfg.Acquisition.Bands[8] != "B8A" {
		t.Errorf("expected the 12 default Sentinel-2 bands, got %v", cfg.Acquisition.Bands)
	}

	if cfg.Acquisition.Resolution != 10 || cfg.Acquisition.RoundStep != 10 {
		t.Errorf("expected 10m resolution and rounding, got %g/%g", cfg.Acquisition.Resolution, cfg.Acquisition.RoundStep)
	}

	if cfg.Acquisition.MaxPixels != 2500 {
		t.Errorf("expected default max pixels 2500, got %d", cfg.Acquisition.MaxPixels)
	}

	if cfg.Acquisition.ResolvedTieBreak() != "leastRecent" {
		t.Errorf("expected tie break to mirror leastRecent mosaicking, got %s", cfg.Acquisition.ResolvedTieBreak())
	}

	if cfg.Acquisition.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Acquisition.Workers)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	setCredentials(t)
	t.Setenv("SH_TIMEOUT", "45s")
	t.Setenv("CATALOG_SEARCH_MODE", "geometry")
	t.Setenv("CATALOG_MAX_CLOUD_COVER", "30")
	t.Setenv("ACQ_BANDS", "B02,B03,B04")
	t.Setenv("ACQ_SAMPLE_TYPE", "FLOAT32")
	t.Setenv("ACQ_UNITS", "REFLECTANCE")
	t.Setenv("ACQ_TIE_BREAK", "first")
	t.Setenv("ACQ_NAMING", "operator")
	t.Setenv("ACQ_WORKERS", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.SentinelHub.Timeout != 45*time.Second {
		t.Errorf("expected timeout 45s, got %s", cfg.SentinelHub.Timeout)
	}

	if cfg.Catalog.SearchMode != "geometry" {
		t.Errorf("expected search mode geometry, got %s", cfg.Catalog.SearchMode)
	}

	if cfg.Catalog.MaxCloudCover != 30 {
		t.Errorf("expected max cloud cover 30, got %g", cfg.Catalog.MaxCloudCover)
	}

	if got := cfg.Acquisition.Bands; len(got) != 3 || got[0] != "B02" || got[2] != "B04" {
		t.Errorf("expected bands [B02 B03 B04], got %v", got)
	}

	if cfg.Acquisition.ResolvedTieBreak() != "first" {
		t.Errorf("expected tie break first, got %s", cfg.Acquisition.ResolvedTieBreak())
	}

	if cfg.Acquisition.Naming != "operator" {
		t.Errorf("expected operator naming, got %s", cfg.Acquisition.Naming)
	}

	if cfg.Acquisition.Workers != 5 {
		t.Errorf("expected 5 workers, got %d", cfg.Acquisition.Workers)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format json, got %s", cfg.Logging.Format)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("SH_CLIENT_ID", "")
	t.Setenv("SH_CLIENT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error without credentials")
	}
}

func TestLoadCredentialsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"sh_client_id": "file-client", "sh_client_secret": "file-secret", "sh_base_url": "https://sh.example.com"}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write credentials file: %v", err)
	}

	t.Setenv("SH_CLIENT_ID", "")
	t.Setenv("SH_CLIENT_SECRET", "env-secret")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.SentinelHub.ClientID != "file-client" {
		t.Errorf("expected client ID from file, got %q", cfg.SentinelHub.ClientID)
	}

	if cfg.SentinelHub.ClientSecret != "env-secret" {
		t.Errorf("expected environment secret to win, got %q", cfg.SentinelHub.ClientSecret)
	}

	if cfg.SentinelHub.BaseURL != "https://sh.example.com" {
		t.Errorf("expected base URL from file, got %q", cfg.SentinelHub.BaseURL)
	}
}

func validConfig() *Config {
	return &Config{
		SentinelHub: SentinelHubConfig{
			ClientID:     "client",
			ClientSecret: "secret",
			BaseURL:      "https://services.sentinel-hub.com",
			TokenURL:     "https://services.sentinel-hub.com/oauth/token",
			Timeout:      time.Minute,
		},
		Catalog: CatalogConfig{
			Collection:    "sentinel-2-l2a",
			PageSize:      100,
			SearchMode:    "bbox",
			ServerFilter:  true,
			MaxCloudCover: 100,
		},
		Acquisition: AcquisitionConfig{
			Bands:           []string{"B02", "B03", "B04"},
			SampleType:      "UINT16",
			Units:           "DN",
			Resolution:      10,
			RoundStep:       10,
			MaxPixels:       2500,
			MosaickingOrder: "leastRecent",
			TieBreak:        "mosaicking",
			Naming:          "scene",
			Workers:         4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
		wantBand  bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.SentinelHub.ClientSecret = "" }, wantError: true},
		{name: "zero timeout", mutate: func(c *Config) { c.SentinelHub.Timeout = 0 }, wantError: true},
		{name: "page size too large", mutate: func(c *Config) { c.Catalog.PageSize = 500 }, wantError: true},
		{name: "bad search mode", mutate: func(c *Config) { c.Catalog.SearchMode = "point" }, wantError: true},
		{name: "cloud cover out of range", mutate: func(c *Config) { c.Catalog.MaxCloudCover = 120 }, wantError: true},
		{name: "no bands", mutate: func(c *Config) { c.Acquisition.Bands = nil }, wantError: true, wantBand: true},
		{name: "duplicate band", mutate: func(c *Config) { c.Acquisition.Bands = []string{"B02", "B02"} }, wantError: true, wantBand: true},
		{name: "band injection", mutate: func(c *Config) { c.Acquisition.Bands = []string{"B02]; alert(1)"} }, wantError: true, wantBand: true},
		{name: "bad sample type", mutate: func(c *Config) { c.Acquisition.SampleType = "UINT32" }, wantError: true, wantBand: true},
		{name: "bad units", mutate: func(c *Config) { c.Acquisition.Units = "RADIANCE" }, wantError: true, wantBand: true},
		{name: "step not multiple of resolution", mutate: func(c *Config) { c.Acquisition.Resolution = 20 }, wantError: true},
		{name: "coarser step", mutate: func(c *Config) { c.Acquisition.RoundStep = 60; c.Acquisition.Resolution = 20 }},
		{name: "fractional step", mutate: func(c *Config) { c.Acquisition.RoundStep = 0.3; c.Acquisition.Resolution = 0.1 }},
		{name: "fractional step not multiple", mutate: func(c *Config) { c.Acquisition.RoundStep = 0.25; c.Acquisition.Resolution = 0.1 }, wantError: true},
		{name: "step finer than resolution", mutate: func(c *Config) { c.Acquisition.RoundStep = 1e-9 }, wantError: true},
		{name: "bad mosaicking", mutate: func(c *Config) { c.Acquisition.MosaickingOrder = "random" }, wantError: true},
		{name: "bad tie break", mutate: func(c *Config) { c.Acquisition.TieBreak = "last" }, wantError: true},
		{name: "bad naming", mutate: func(c *Config) { c.Acquisition.Naming = "hash" }, wantError: true},
		{name: "too many workers", mutate: func(c *Config) { c.Acquisition.Workers = 64 }, wantError: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Fatalf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantBand && !errors.Is(err, ErrInvalidBandSpec) {
				t.Errorf("expected ErrInvalidBandSpec, got %v", err)
			}
		})
	}
}

func TestValidateDelegatesBandSpec(t *testing.T) {
	cfg := validConfig()
	cfg.Acquisition.SampleType = "float32"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() rejected a lower-case sample type: %v", err)
	}

	cfg.Acquisition.Bands = []string{"B02", "B02"}
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidBandSpec) || !errors.Is(err, process.ErrInvalidRequest) {
		t.Errorf("expected band spec and request errors, got %v", err)
	}
}

func TestValidateBands(t *testing.T) {
	reg := DefaultCollections()

	cfg := validConfig()
	if err := cfg.ValidateBands(reg); err != nil {
		t.Fatalf("ValidateBands() failed: %v", err)
	}

	cfg.Acquisition.Bands = []string{"B02", "B10"}
	if err := cfg.ValidateBands(reg); !errors.Is(err, ErrInvalidBandSpec) {
		t.Errorf("expected B10 to be rejected for L2A, got %v", err)
	}

	cfg.Catalog.Collection = "sentinel-2-l1c"
	if err := cfg.ValidateBands(reg); err != nil {
		t.Errorf("expected B10 to be accepted for L1C, got %v", err)
	}

	cfg.Catalog.Collection = "landsat-9"
	if err := cfg.ValidateBands(reg); !errors.Is(err, ErrInvalidBandSpec) {
		t.Errorf("expected unknown collection to be rejected, got %v", err)
	}
}
