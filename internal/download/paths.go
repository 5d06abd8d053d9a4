package download

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	ioutils "github.com/handiism/podcatcher/internal/io"
)

// DefaultFileName is used when a URI has no usable last path segment.
const DefaultFileName = "episode"

// DeriveFileName returns a file-system safe name taken from the last path
// segment of uri.
//
// Example:
//
//	DeriveFileName("https://cdn.example.com/shows/ep%2042.mp3?x=1") // "ep 42.mp3"
//	DeriveFileName("https://cdn.example.com/")                      // "episode"
func DeriveFileName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return DefaultFileName
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return DefaultFileName
	}

	name = ioutils.SanitizeFileName(name)
	if name == "" || name == "_" {
		return DefaultFileName
	}
	return name
}

// KeyHash returns a short hex digest of an episode key.
func KeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// TempPath returns where an in-flight download of fileName from uri is
// staged:
//
//	<tempRoot>/downloads/<host>/<fileName>-<hash(key)><ext>
//
// The key hash keeps two episodes with the same file name apart.
func TempPath(tempRoot, uri, fileName, key, ext string) string {
	host := "local"
	if u, err := url.Parse(uri); err == nil && u.Host != "" {
		host = ioutils.SanitizeFileName(strings.ToLower(u.Host))
	}
	return filepath.Join(tempRoot, "downloads", host, fileName+"-"+KeyHash(key)+ext)
}

// TempDownloadsDir returns the directory under tempRoot that holds all
// per-host temp directories.
func TempDownloadsDir(tempRoot string) string {
	return filepath.Join(tempRoot, "downloads")
}

// disambiguate inserts a random suffix before the extension of p.
//
//	disambiguate("/podcasts/ep.mp3") // "/podcasts/ep-1f3a9c2e.mp3"
func disambiguate(p string) string {
	suffix := uuid.NewString()[:8]
	ext := filepath.Ext(p)
	return strings.TrimSuffix(p, ext) + "-" + suffix + ext
}
