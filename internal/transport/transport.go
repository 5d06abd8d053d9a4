package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Stream is an open remote resource.
type Stream struct {
	// Body yields the resource bytes starting at Offset.
	Body io.ReadCloser

	// Offset is the position of the first byte of Body. It is lower than
	// the requested offset when the server ignored the range request.
	Offset int64

	// ContentLength is the full resource length, or -1 if unknown.
	ContentLength int64

	// LastModified is the remote modification time, zero if unknown.
	LastModified time.Time

	// MimeType is the reported content type, empty if unknown.
	MimeType string
}

// Transport opens remote resources for streaming.
type Transport interface {
	OpenStream(ctx context.Context, uri string, offset int64) (*Stream, error)
}

// UnsupportedSchemeError is returned when no transport handles a URI scheme.
type UnsupportedSchemeError struct {
	Scheme string
	URI    string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("transport: unsupported scheme %q in %s", e.Scheme, e.URI)
}

// Registry maps URI schemes to transports. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register installs t for each of the given schemes, replacing any previous
// registration.
func (r *Registry) Register(t Transport, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemes {
		r.transports[strings.ToLower(s)] = t
	}
}

// Lookup returns the transport registered for the scheme of uri.
func (r *Registry) Lookup(uri string) (Transport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("transport: parse uri: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)

	r.mu.RLock()
	t, ok := r.transports[scheme]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnsupportedSchemeError{Scheme: scheme, URI: uri}
	}
	return t, nil
}

// Schemes returns the registered schemes.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.transports))
	for s := range r.transports {
		out = append(out, s)
	}
	return out
}
