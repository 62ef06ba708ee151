package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	MaxParallelDownloads int           `envconfig:"MAX_PARALLEL_DOWNLOADS" default:"4"`
	ProgressInterval     time.Duration `envconfig:"PROGRESS_INTERVAL" default:"500ms"`
	DownloadTimeout      time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"2h"`
	HTTPRetryMax         int           `envconfig:"HTTP_RETRY_MAX" default:"3"`
	SMBDialTimeout       time.Duration `envconfig:"SMB_DIAL_TIMEOUT" default:"10s"`

	TempDir            string `envconfig:"TEMP_DIR" default:"./tmp"`
	StateFile          string `envconfig:"STATE_FILE" default:"./state/sources.json"`
	RomsDir            string `envconfig:"ROMS_DIR"`
	LegacyRomsDir      string `envconfig:"LEGACY_ROMS_DIR"`
	InternalRomsDir    string `envconfig:"INTERNAL_ROMS_DIR" default:"./data/roms"`
	ScopedRoot         string `envconfig:"SCOPED_ROOT"`
	MetadataDB         string `envconfig:"METADATA_DB"`
	CatalogURL         string `envconfig:"CATALOG_URL" default:"https://archive.org"`
	LibraryDestination string `envconfig:"LIBRARY_DESTINATION"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.MaxParallelDownloads < 0 {
		return fmt.Errorf("max parallel downloads cannot be negative: %d", c.MaxParallelDownloads)
	}

	if c.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive: %s", c.ProgressInterval)
	}

	if c.HTTPRetryMax < 0 {
		return fmt.Errorf("http retry max cannot be negative: %d", c.HTTPRetryMax)
	}

	if c.TempDir == "" {
		return fmt.Errorf("temp directory cannot be empty")
	}
	if c.InternalRomsDir == "" {
		return fmt.Errorf("internal roms directory cannot be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}

	return nil
}
