// Package config provides configuration management for podcatcher.
//
// This package handles:
//   - Loading and saving settings from JSON or YAML files
//   - PODCATCHER_* environment overrides
//   - Default configuration values and validation
//   - Conversion to http.Options for the transport
//
// # Loading
//
//	settings, err := config.Load("/path/to/podcatcher.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := settings.LoadFromEnv(); err != nil {
//	    return err
//	}
//	if err := settings.Validate(); err != nil {
//	    return err
//	}
//
// A missing file yields DefaultSettings(). Files ending in .yaml or .yml
// are parsed as YAML, anything else as JSON.
//
// # Saving Settings
//
//	settings.DownloadsPath = "/srv/podcasts"
//	err := settings.Save("/path/to/podcatcher.json")
package config
