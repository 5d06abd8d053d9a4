// Package archive copies completed episodes into a blob bucket.
//
// Buckets are addressed with gocloud URLs. The file:// and mem:// schemes
// are always available:
//
//	arc, err := archive.Open(ctx, "file:///srv/archive?create_dir=true")
//	if err != nil {
//	    return err
//	}
//	defer arc.Close()
//
//	key, err := arc.Store(ctx, ep)
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	ioutils "github.com/handiism/podcatcher/internal/io"
	"github.com/handiism/podcatcher/internal/model"
)

// ErrNotDownloaded is returned by Store for episodes without a local file.
var ErrNotDownloaded = errors.New("archive: episode has no local file")

// Archiver writes episode files to a bucket under
// <prefix><podcast>/<file name>.
type Archiver struct {
	bucket *blob.Bucket
	prefix string
	owned  bool
	log    *slog.Logger
}

// Open opens the bucket at bucketURL. Close releases it.
func Open(ctx context.Context, bucketURL string) (*Archiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	a := New(bucket, "")
	a.owned = true
	return a, nil
}

// New wraps an already open bucket. Keys are prefixed with prefix.
func New(bucket *blob.Bucket, prefix string) *Archiver {
	return &Archiver{bucket: bucket, prefix: prefix, log: slog.Default()}
}

// Key returns the object key ep is stored under.
func (a *Archiver) Key(ep *model.Episode) string {
	podcast := ioutils.SanitizeFileName(ep.Podcast)
	if podcast == "" {
		podcast = "unsorted"
	}
	return a.prefix + path.Join(podcast, filepath.Base(ep.LocalPath()))
}

// Store uploads the episode's local file and returns its key. An object of
// the same size already at the key is left alone.
func (a *Archiver) Store(ctx context.Context, ep *model.Episode) (string, error) {
	local := ep.LocalPath()
	if local == "" {
		return "", ErrNotDownloaded
	}

	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := a.Key(ep)
	attrs, err := a.bucket.Attributes(ctx, key)
	switch {
	case err == nil && attrs.Size == info.Size():
		a.log.Debug("already archived", "key", key)
		return key, nil
	case err != nil && gcerrors.Code(err) != gcerrors.NotFound:
		return "", fmt.Errorf("stat %s: %w", key, err)
	}

	w, err := a.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: ep.MimeType(),
		Metadata: map[string]string{
			"source_url":  ep.URI,
			"episode_key": ep.Key,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create %s: %w", key, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	return key, nil
}

// Close releases the bucket if the Archiver opened it.
func (a *Archiver) Close() error {
	if a.owned {
		return a.bucket.Close()
	}
	return nil
}
