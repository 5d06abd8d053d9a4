package ioutils

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
)

// FileSystem is the set of file operations a download task performs.
//
// OSFileSystem is the production implementation; tests substitute
// implementations that fail selected calls.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(path string) error
	OpenAppend(name string) (*os.File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	RemoveEmptyDirs(dir, stop string) error
}

// OSFileSystem implements FileSystem on top of package os.
type OSFileSystem struct{}

var _ FileSystem = OSFileSystem{}

// Stat returns file info for name.
func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// MkdirAll creates path and its parents with mode 0755.
func (OSFileSystem) MkdirAll(path string) error {
	return EnsureDir(path)
}

// OpenAppend opens name for appending, creating it if necessary.
func (OSFileSystem) OpenAppend(name string) (*os.File, error) {
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// Remove deletes name. A missing file is not an error.
func (OSFileSystem) Remove(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Rename moves oldpath to newpath, copying across devices when a plain
// rename is not possible.
func (OSFileSystem) Rename(oldpath, newpath string) error {
	return MoveFile(context.Background(), oldpath, newpath)
}

// RemoveEmptyDirs removes dir and then each parent while they are empty,
// stopping before stop.
func (OSFileSystem) RemoveEmptyDirs(dir, stop string) error {
	return RemoveEmptyDirs(dir, stop)
}

// CopyFile copies a file from source to destination.
//
// The destination file is created with mode 0644 if it doesn't exist,
// or truncated if it does. The source file must exist and be readable.
//
// Example:
//
//	err := CopyFile(ctx, "/tmp/downloads/ep.mp3-1a2b.partial", "/podcasts/ep.mp3")
func CopyFile(ctx context.Context, src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}

// MoveFile renames src to dst. When src and dst live on different devices
// the file is copied and the source removed.
func MoveFile(ctx context.Context, src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := CopyFile(ctx, src, dst); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// RemoveEmptyDirs removes dir and walks up its parents, removing each one
// that is empty. It never removes stop or anything above it, and it stops at
// the first non-empty directory.
//
// Example:
//
//	// Removes /tmp/pc/downloads/cdn.example.com and /tmp/pc/downloads
//	// if both are empty, leaves /tmp/pc alone.
//	err := RemoveEmptyDirs("/tmp/pc/downloads/cdn.example.com", "/tmp/pc")
func RemoveEmptyDirs(dir, stop string) error {
	dir = filepath.Clean(dir)
	stop = filepath.Clean(stop)

	for dir != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				dir = filepath.Dir(dir)
				continue
			}
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

var (
	invalidChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots  = regexp.MustCompile(`\.+$`)
	repeatedSpace = regexp.MustCompile(`\s+`)
)

// SanitizeFileName removes or replaces characters that are invalid in file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars 0x00-0x1f) → underscore
//   - Trailing dots → removed (Windows limitation)
//   - Multiple whitespace → single space
//   - Leading and trailing whitespace → removed
//
// Example:
//
//	SanitizeFileName("Episode: Part 1/2")  // Returns "Episode_ Part 1_2"
//	SanitizeFileName("Episode...")         // Returns "Episode"
func SanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = repeatedSpace.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
//
// Directories are created with mode 0755 (rwxr-xr-x).
// If the directory already exists, no error is returned.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
