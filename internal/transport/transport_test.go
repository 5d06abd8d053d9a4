package transport

import (
	"context"
	"errors"
	"sort"
	"testing"
)

type nopTransport struct{}

func (nopTransport) OpenStream(ctx context.Context, uri string, offset int64) (*Stream, error) {
	return nil, errors.New("not implemented")
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	tr := nopTransport{}
	reg.Register(tr, "http", "HTTPS")

	for _, uri := range []string{"http://example.com/a.mp3", "HTTPS://example.com/a.mp3"} {
		got, err := reg.Lookup(uri)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", uri, err)
		}
		if got != tr {
			t.Errorf("Lookup(%q) returned unexpected transport", uri)
		}
	}

	schemes := reg.Schemes()
	sort.Strings(schemes)
	if len(schemes) != 2 || schemes[0] != "http" || schemes[1] != "https" {
		t.Errorf("Schemes() = %v", schemes)
	}
}

func TestRegistryUnsupportedScheme(t *testing.T) {
	reg := NewRegistry()
	reg.Register(nopTransport{}, "http")

	_, err := reg.Lookup("ftp://example.com/a.mp3")

	var use *UnsupportedSchemeError
	if !errors.As(err, &use) {
		t.Fatalf("expected UnsupportedSchemeError, got %v", err)
	}
	if use.Scheme != "ftp" {
		t.Errorf("Scheme = %q, want ftp", use.Scheme)
	}
}

func TestRegistryInvalidURI(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Lookup("://bad"); err == nil {
		t.Error("expected error for invalid uri")
	}
}
