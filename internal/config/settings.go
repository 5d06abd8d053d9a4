package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/handiism/podcatcher/internal/http"
	ioutils "github.com/handiism/podcatcher/internal/io"
	"github.com/handiism/podcatcher/internal/model"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PODCATCHER_WORKERS.
const EnvPrefix = "PODCATCHER_"

// Settings holds all configuration options.
type Settings struct {
	// Download settings
	DownloadsPath          string  `json:"downloads_path" yaml:"downloads_path"`
	TempPath               string  `json:"temp_path" yaml:"temp_path"`
	TempExtension          string  `json:"temp_extension" yaml:"temp_extension"`
	BufferSize             string  `json:"buffer_size" yaml:"buffer_size"` // e.g. "64KiB"
	MaxConcurrentDownloads int     `json:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`
	DownloadMaxRetries     int     `json:"download_max_retries" yaml:"download_max_retries"`
	DownloadRetryCooldown  float64 `json:"download_retry_cooldown" yaml:"download_retry_cooldown"`
	DownloadRetryExponent  float64 `json:"download_retry_exponent" yaml:"download_retry_exponent"`
	StatusInterval         float64 `json:"status_interval" yaml:"status_interval"` // seconds

	// HTTP settings
	UserAgent    string  `json:"user_agent" yaml:"user_agent"`
	HTTPTimeout  float64 `json:"http_timeout" yaml:"http_timeout"` // seconds
	HTTPRetries  int     `json:"http_retries" yaml:"http_retries"`
	HTTPBackoff  float64 `json:"http_backoff" yaml:"http_backoff"` // seconds
	SkipHeadScan bool    `json:"skip_head_scan" yaml:"skip_head_scan"`

	// Cover art settings
	SaveArtworkInTags bool `json:"save_artwork_in_tags" yaml:"save_artwork_in_tags"`
	ArtworkMaxSize    int  `json:"artwork_max_size" yaml:"artwork_max_size"`

	// Playlist settings
	CreatePlaylist   bool   `json:"create_playlist" yaml:"create_playlist"`
	PlaylistFormat   string `json:"playlist_format" yaml:"playlist_format"` // m3u, pls, wpl, zpl
	PlaylistFileName string `json:"playlist_file_name" yaml:"playlist_file_name"`
	M3UExtended      bool   `json:"m3u_extended" yaml:"m3u_extended"`

	// Tag settings
	ModifyTags bool `json:"modify_tags" yaml:"modify_tags"`

	// ArchiveBucket is a gocloud blob URL (file:///..., mem://) completed
	// episodes are copied to. Empty disables archiving.
	ArchiveBucket string `json:"archive_bucket" yaml:"archive_bucket"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		DownloadsPath:          filepath.Join(homeDir, "Podcasts"),
		TempPath:               filepath.Join(os.TempDir(), "podcatcher"),
		TempExtension:          ".partial",
		BufferSize:             "64KiB",
		MaxConcurrentDownloads: 4,
		DownloadMaxRetries:     7,
		DownloadRetryCooldown:  0.2,
		DownloadRetryExponent:  4.0,
		StatusInterval:         1,

		UserAgent:   "podcatcher/1.0",
		HTTPTimeout: 60,
		HTTPRetries: 3,
		HTTPBackoff: 0.5,

		SaveArtworkInTags: true,
		ArtworkMaxSize:    1000,

		CreatePlaylist:   false,
		PlaylistFormat:   "m3u",
		PlaylistFileName: "podcatcher",
		M3UExtended:      true,

		ModifyTags: true,
	}
}

// Load reads settings from a YAML (.yaml, .yml) or JSON file. Missing keys
// keep their defaults; a missing file yields DefaultSettings.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if isYAML(path) {
		err = yaml.Unmarshal(data, settings)
	} else {
		err = json.Unmarshal(data, settings)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return settings, nil
}

// Save writes settings to a YAML or JSON file, chosen by extension.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFromEnv applies PODCATCHER_* environment overrides, for example
// PODCATCHER_DOWNLOADS_PATH or PODCATCHER_MAX_CONCURRENT_DOWNLOADS. The
// variable names are the upper-cased file keys.
func (s *Settings) LoadFromEnv() error {
	var errs []error
	for key, apply := range s.envSetters() {
		v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(key))
		if !ok {
			continue
		}
		if err := apply(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, strings.ToUpper(key), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Settings) envSetters() map[string]func(string) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err == nil {
				*dst = n
			}
			return err
		}
	}
	float := func(dst *float64) func(string) error {
		return func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err == nil {
				*dst = f
			}
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err == nil {
				*dst = b
			}
			return err
		}
	}

	return map[string]func(string) error{
		"downloads_path":           str(&s.DownloadsPath),
		"temp_path":                str(&s.TempPath),
		"temp_extension":           str(&s.TempExtension),
		"buffer_size":              str(&s.BufferSize),
		"max_concurrent_downloads": integer(&s.MaxConcurrentDownloads),
		"download_max_retries":     integer(&s.DownloadMaxRetries),
		"download_retry_cooldown":  float(&s.DownloadRetryCooldown),
		"download_retry_exponent":  float(&s.DownloadRetryExponent),
		"status_interval":          float(&s.StatusInterval),
		"user_agent":               str(&s.UserAgent),
		"http_timeout":             float(&s.HTTPTimeout),
		"http_retries":             integer(&s.HTTPRetries),
		"http_backoff":             float(&s.HTTPBackoff),
		"skip_head_scan":           boolean(&s.SkipHeadScan),
		"save_artwork_in_tags":     boolean(&s.SaveArtworkInTags),
		"artwork_max_size":         integer(&s.ArtworkMaxSize),
		"create_playlist":          boolean(&s.CreatePlaylist),
		"playlist_format":          str(&s.PlaylistFormat),
		"playlist_file_name":       str(&s.PlaylistFileName),
		"m3u_extended":             boolean(&s.M3UExtended),
		"modify_tags":              boolean(&s.ModifyTags),
		"archive_bucket":           str(&s.ArchiveBucket),
	}
}

// Validate reports every invalid setting.
func (s *Settings) Validate() error {
	var errs []error
	if s.DownloadsPath == "" {
		errs = append(errs, errors.New("downloads_path is required"))
	}
	if s.TempPath == "" {
		errs = append(errs, errors.New("temp_path is required"))
	}
	if _, err := s.BufferBytes(); err != nil {
		errs = append(errs, fmt.Errorf("buffer_size: %w", err))
	}
	if s.MaxConcurrentDownloads < 1 {
		errs = append(errs, errors.New("max_concurrent_downloads must be at least 1"))
	}
	if s.DownloadMaxRetries < 1 {
		errs = append(errs, errors.New("download_max_retries must be at least 1"))
	}
	if s.DownloadRetryCooldown < 0 || s.DownloadRetryExponent < 1 {
		errs = append(errs, errors.New("retry cooldown must be >= 0 and exponent >= 1"))
	}
	if s.StatusInterval <= 0 {
		errs = append(errs, errors.New("status_interval must be positive"))
	}
	if s.HTTPRetries < 0 {
		errs = append(errs, errors.New("http_retries must not be negative"))
	}
	switch s.PlaylistFormat {
	case "m3u", "pls", "wpl", "zpl":
	default:
		errs = append(errs, fmt.Errorf("unknown playlist_format %q", s.PlaylistFormat))
	}
	return errors.Join(errs...)
}

// BufferBytes returns BufferSize in bytes.
func (s *Settings) BufferBytes() (int, error) {
	n, err := ioutils.ParseBytes(s.BufferSize)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("buffer size must be positive, got %d", n)
	}
	return int(n), nil
}

// Interval returns StatusInterval as a duration.
func (s *Settings) Interval() time.Duration {
	return seconds(s.StatusInterval)
}

// Playlist returns the configured playlist format.
func (s *Settings) Playlist() model.PlaylistFormat {
	return model.ParsePlaylistFormat(s.PlaylistFormat)
}

// ToHTTPOptions converts settings to http.Options.
func (s *Settings) ToHTTPOptions() http.Options {
	opts := http.DefaultOptions()
	if s.UserAgent != "" {
		opts.UserAgent = s.UserAgent
	}
	if s.HTTPTimeout > 0 {
		opts.Timeout = seconds(s.HTTPTimeout)
	}
	opts.RetryAttempts = s.HTTPRetries
	if s.HTTPBackoff > 0 {
		opts.RetryBackoff = seconds(s.HTTPBackoff)
	}
	return opts
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
