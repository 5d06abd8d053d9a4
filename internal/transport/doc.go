// Package transport defines the capability the download engine needs from a
// protocol client: open a remote resource for streamed reading, starting at a
// byte offset, and report its content length, modification time and MIME
// type.
//
// Implementations register themselves per URI scheme in a Registry; the
// download task factory looks the scheme up and fails with
// *UnsupportedSchemeError when nothing is registered.
//
//	reg := transport.NewRegistry()
//	reg.Register(client, "http", "https")
//	t, err := reg.Lookup("https://cdn.example.com/ep.mp3")
package transport
