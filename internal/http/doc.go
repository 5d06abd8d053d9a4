// Package http provides the HTTP/HTTPS transport for the download engine.
//
// The Client in this package handles:
//   - User-Agent headers
//   - Resumable streaming with Range requests
//   - File size and Last-Modified retrieval via HEAD requests
//   - Retries with exponential backoff for connection errors and 5xx responses
//
// # Basic Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	reg := transport.NewRegistry()
//	client.Register(reg)
//
//	// Fetch artwork
//	img, err := client.GetBytes(ctx, "https://cdn.example.com/cover.jpg")
//
// # Resuming
//
// OpenStream sends "Range: bytes=<offset>-" for positive offsets. Servers that
// ignore the header answer 200; the returned Stream then reports Offset 0 and
// the caller restarts its file from the beginning.
package http
