package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/handiism/podcatcher/internal/model"
)

func TestDefaultSettingsValid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.MaxConcurrentDownloads != DefaultSettings().MaxConcurrentDownloads {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podcatcher.yaml")
	content := "downloads_path: /srv/podcasts\nmax_concurrent_downloads: 2\nbuffer_size: 128KiB\nplaylist_format: pls\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DownloadsPath != "/srv/podcasts" || s.MaxConcurrentDownloads != 2 {
		t.Errorf("got %+v", s)
	}
	if n, _ := s.BufferBytes(); n != 128*1024 {
		t.Errorf("BufferBytes = %d", n)
	}
	if s.Playlist() != model.PlaylistFormatPLS {
		t.Errorf("Playlist = %v", s.Playlist())
	}
	if s.DownloadMaxRetries != 7 {
		t.Error("unset keys should keep defaults")
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podcatcher.json")
	if err := os.WriteFile(path, []byte(`{"temp_extension": ".part", "modify_tags": false}`), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.TempExtension != ".part" || s.ModifyTags {
		t.Errorf("got %+v", s)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("max_concurrent_downloads: [1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"s.json", "s.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			s := DefaultSettings()
			s.ArchiveBucket = "mem://"
			if err := s.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.ArchiveBucket != "mem://" {
				t.Errorf("ArchiveBucket = %q", got.ArchiveBucket)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PODCATCHER_MAX_CONCURRENT_DOWNLOADS", "9")
	t.Setenv("PODCATCHER_CREATE_PLAYLIST", "true")
	t.Setenv("PODCATCHER_STATUS_INTERVAL", "0.5")
	t.Setenv("PODCATCHER_DOWNLOADS_PATH", "/data")

	s := DefaultSettings()
	if err := s.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if s.MaxConcurrentDownloads != 9 || !s.CreatePlaylist || s.DownloadsPath != "/data" {
		t.Errorf("got %+v", s)
	}
	if s.Interval() != 500*time.Millisecond {
		t.Errorf("Interval = %v", s.Interval())
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("PODCATCHER_HTTP_RETRIES", "many")

	err := DefaultSettings().LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "PODCATCHER_HTTP_RETRIES") {
		t.Errorf("expected error naming the variable, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"no downloads path", func(s *Settings) { s.DownloadsPath = "" }},
		{"bad buffer", func(s *Settings) { s.BufferSize = "lots" }},
		{"zero workers", func(s *Settings) { s.MaxConcurrentDownloads = 0 }},
		{"zero retries", func(s *Settings) { s.DownloadMaxRetries = 0 }},
		{"bad exponent", func(s *Settings) { s.DownloadRetryExponent = 0.5 }},
		{"zero interval", func(s *Settings) { s.StatusInterval = 0 }},
		{"bad playlist", func(s *Settings) { s.PlaylistFormat = "xspf" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestToHTTPOptions(t *testing.T) {
	s := DefaultSettings()
	s.UserAgent = "test/1"
	s.HTTPTimeout = 5
	s.HTTPRetries = 0

	opts := s.ToHTTPOptions()
	if opts.UserAgent != "test/1" || opts.Timeout != 5*time.Second || opts.RetryAttempts != 0 {
		t.Errorf("got %+v", opts)
	}
}
