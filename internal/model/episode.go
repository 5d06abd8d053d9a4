package model

import (
	"sync"
	"sync/atomic"
	"time"
)

// Episode describes one remote resource to download.
//
// Episode is shared between its owner (the queue or UI), the download task
// and the status manager. Identity fields (Key, URI, Directory and the
// metadata used for tagging) are set once at construction and never change.
// The mutable fields are guarded: State and Active are atomic words so that a
// cancel request from any goroutine is observed by the task between chunks,
// the remaining fields sit behind a mutex.
//
// Example:
//
//	ep := NewEpisode("feed-42/ep-7", "https://cdn.example.com/ep7.mp3", "/podcasts/Show", 52_428_800)
//	ep.Title = "Episode 7"
//	ep.Podcast = "Show"
type Episode struct {
	// Key uniquely identifies the episode. It seeds the temp-file hash so
	// that two episodes with the same file name never share a temp file.
	Key string

	// URI is the remote location of the episode.
	URI string

	// Directory is where the completed file is placed.
	Directory string

	// Title, Podcast, Description, PublishedAt and ArtworkURL are used for
	// tagging and playlists only.
	Title       string
	Podcast     string
	Description string
	PublishedAt time.Time
	ArtworkURL  string

	state  atomic.Int32
	active atomic.Bool

	mu           sync.RWMutex
	length       int64
	localPath    string
	lastModified time.Time
	mimeType     string
}

// NewEpisode creates a queued, active episode. Pass -1 as length when the
// size is not known up front.
func NewEpisode(key, uri, directory string, length int64) *Episode {
	ep := &Episode{
		Key:       key,
		URI:       uri,
		Directory: directory,
		length:    length,
	}
	ep.state.Store(int32(StateQueued))
	ep.active.Store(true)
	return ep
}

// State returns the current state.
func (e *Episode) State() State {
	return State(e.state.Load())
}

// SetState unconditionally stores a new state.
func (e *Episode) SetState(s State) {
	e.state.Store(int32(s))
}

// CompareAndSwapState moves from old to next only if the current state is old.
func (e *Episode) CompareAndSwapState(old, next State) bool {
	return e.state.CompareAndSwap(int32(old), int32(next))
}

// RequestCancel asks a running transfer to stop. It returns false when the
// episode is already in a terminal state.
func (e *Episode) RequestCancel() bool {
	for {
		cur := e.State()
		if cur.IsTerminal() || cur == StateCancelRequested {
			return cur == StateCancelRequested
		}
		if e.CompareAndSwapState(cur, StateCancelRequested) {
			return true
		}
	}
}

// Active reports whether the owner still wants this episode.
func (e *Episode) Active() bool {
	return e.active.Load()
}

// SetActive marks the episode as wanted or abandoned.
func (e *Episode) SetActive(active bool) {
	e.active.Store(active)
}

// Length returns the expected total length in bytes, or -1 if unknown.
func (e *Episode) Length() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.length
}

// SetLength updates the expected length.
func (e *Episode) SetLength(n int64) {
	e.mu.Lock()
	e.length = n
	e.mu.Unlock()
}

// LocalPath returns where the episode was (or will be) stored.
func (e *Episode) LocalPath() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.localPath
}

// SetLocalPath records the resolved local path.
func (e *Episode) SetLocalPath(p string) {
	e.mu.Lock()
	e.localPath = p
	e.mu.Unlock()
}

// LastModified returns the remote modification time, zero if unknown.
func (e *Episode) LastModified() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastModified
}

// SetLastModified records the remote modification time.
func (e *Episode) SetLastModified(t time.Time) {
	e.mu.Lock()
	e.lastModified = t
	e.mu.Unlock()
}

// MimeType returns the content type reported by the transport.
func (e *Episode) MimeType() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mimeType
}

// SetMimeType records the content type.
func (e *Episode) SetMimeType(m string) {
	e.mu.Lock()
	e.mimeType = m
	e.mu.Unlock()
}

// DisplayTitle returns the title, falling back to the URI.
func (e *Episode) DisplayTitle() string {
	if e.Title != "" {
		return e.Title
	}
	return e.URI
}
