package model

// PlaylistFormat represents supported playlist file formats.
type PlaylistFormat int

const (
	// PlaylistFormatM3U creates .m3u playlist files (most widely supported).
	PlaylistFormatM3U PlaylistFormat = iota

	// PlaylistFormatPLS creates .pls playlist files (used by Winamp).
	PlaylistFormatPLS

	// PlaylistFormatWPL creates .wpl playlist files (Windows Media Player).
	PlaylistFormatWPL

	// PlaylistFormatZPL creates .zpl playlist files (Zune Media Player).
	PlaylistFormatZPL
)

// ParsePlaylistFormat maps a settings value ("m3u", "pls", "wpl", "zpl") to
// a PlaylistFormat. Unknown values fall back to M3U.
func ParsePlaylistFormat(s string) PlaylistFormat {
	switch s {
	case "pls":
		return PlaylistFormatPLS
	case "wpl":
		return PlaylistFormatWPL
	case "zpl":
		return PlaylistFormatZPL
	default:
		return PlaylistFormatM3U
	}
}

// Extension returns the file extension for the playlist format, including the dot.
func (pf PlaylistFormat) Extension() string {
	switch pf {
	case PlaylistFormatM3U:
		return ".m3u"
	case PlaylistFormatPLS:
		return ".pls"
	case PlaylistFormatWPL:
		return ".wpl"
	case PlaylistFormatZPL:
		return ".zpl"
	default:
		return ".m3u"
	}
}
