package audio

import (
	"fmt"
	"path/filepath"
	"strings"

	ioutils "github.com/handiism/podcatcher/internal/io"
	"github.com/handiism/podcatcher/internal/model"
)

// PlaylistCreator generates playlist files for completed episodes.
//
// Entries are file names relative to the playlist, so the playlist is meant
// to be written next to the episodes. The output is a string that can be
// written to a file.
//
// Example:
//
//	creator := NewPlaylistCreator(model.PlaylistFormatM3U, true)
//	content := creator.CreatePlaylist("Show", episodes)
//	os.WriteFile(creator.Path("/podcasts/Show", "Show"), []byte(content), 0644)
//
//	// Result:
//	// #EXTM3U
//	// #EXTINF:-1,Show - Episode 7
//	// ep7.mp3
type PlaylistCreator struct {
	format   model.PlaylistFormat
	extended bool // For M3U: include EXTINF lines
}

// NewPlaylistCreator creates a new PlaylistCreator.
//
// extended only applies to M3U, where it adds #EXTINF lines.
func NewPlaylistCreator(format model.PlaylistFormat, extended bool) *PlaylistCreator {
	return &PlaylistCreator{
		format:   format,
		extended: extended,
	}
}

// Path returns where a playlist named name is written inside dir.
func (p *PlaylistCreator) Path(dir, name string) string {
	name = ioutils.SanitizeFileName(name)
	if name == "" {
		name = "playlist"
	}
	return filepath.Join(dir, name+p.format.Extension())
}

// CreatePlaylist generates playlist content for the given episodes.
// Episodes without a local path are skipped.
func (p *PlaylistCreator) CreatePlaylist(title string, episodes []*model.Episode) string {
	entries := make([]*model.Episode, 0, len(episodes))
	for _, ep := range episodes {
		if ep.LocalPath() != "" {
			entries = append(entries, ep)
		}
	}

	switch p.format {
	case model.PlaylistFormatPLS:
		return p.createPLS(entries)
	case model.PlaylistFormatWPL:
		return p.createWPL(title, entries)
	case model.PlaylistFormatZPL:
		return p.createZPL(title, entries)
	default:
		return p.createM3U(entries)
	}
}

// createM3U generates an M3U playlist. Durations are unknown and written
// as -1 in extended mode.
func (p *PlaylistCreator) createM3U(episodes []*model.Episode) string {
	var sb strings.Builder

	if p.extended {
		sb.WriteString("#EXTM3U\n")
	}

	for _, ep := range episodes {
		if p.extended {
			sb.WriteString(fmt.Sprintf("#EXTINF:-1,%s\n", entryTitle(ep)))
		}
		sb.WriteString(filepath.Base(ep.LocalPath()) + "\n")
	}

	return sb.String()
}

// createPLS generates a PLS playlist.
//
//	[playlist]
//	File1=ep1.mp3
//	Title1=Show - Episode 1
//	Length1=-1
//	NumberOfEntries=1
//	Version=2
func (p *PlaylistCreator) createPLS(episodes []*model.Episode) string {
	var sb strings.Builder

	sb.WriteString("[playlist]\n")

	for i, ep := range episodes {
		idx := i + 1
		sb.WriteString(fmt.Sprintf("File%d=%s\n", idx, filepath.Base(ep.LocalPath())))
		sb.WriteString(fmt.Sprintf("Title%d=%s\n", idx, entryTitle(ep)))
		sb.WriteString(fmt.Sprintf("Length%d=-1\n", idx))
	}

	sb.WriteString(fmt.Sprintf("NumberOfEntries=%d\n", len(episodes)))
	sb.WriteString("Version=2\n")

	return sb.String()
}

// createWPL generates a Windows Media Player playlist.
func (p *PlaylistCreator) createWPL(title string, episodes []*model.Episode) string {
	var sb strings.Builder

	sb.WriteString("<?wpl version=\"1.0\"?>\n")
	sb.WriteString("<smil>\n")
	sb.WriteString("  <head>\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", escapeXML(title)))
	sb.WriteString("  </head>\n")
	sb.WriteString("  <body>\n")
	sb.WriteString("    <seq>\n")

	for _, ep := range episodes {
		sb.WriteString(fmt.Sprintf("      <media src=\"%s\"/>\n", escapeXML(filepath.Base(ep.LocalPath()))))
	}

	sb.WriteString("    </seq>\n")
	sb.WriteString("  </body>\n")
	sb.WriteString("</smil>\n")

	return sb.String()
}

// createZPL generates a Zune playlist. It is WPL with extra metadata
// attributes per entry.
func (p *PlaylistCreator) createZPL(title string, episodes []*model.Episode) string {
	var sb strings.Builder

	sb.WriteString("<?zpl version=\"2.0\"?>\n")
	sb.WriteString("<smil>\n")
	sb.WriteString("  <head>\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", escapeXML(title)))
	sb.WriteString("    <meta name=\"Generator\" content=\"podcatcher\"/>\n")
	sb.WriteString(fmt.Sprintf("    <meta name=\"ItemCount\" content=\"%d\"/>\n", len(episodes)))
	sb.WriteString("  </head>\n")
	sb.WriteString("  <body>\n")
	sb.WriteString("    <seq>\n")

	for _, ep := range episodes {
		sb.WriteString(fmt.Sprintf("      <media src=\"%s\" albumTitle=\"%s\" trackTitle=\"%s\"/>\n",
			escapeXML(filepath.Base(ep.LocalPath())),
			escapeXML(ep.Podcast),
			escapeXML(ep.DisplayTitle())))
	}

	sb.WriteString("    </seq>\n")
	sb.WriteString("  </body>\n")
	sb.WriteString("</smil>\n")

	return sb.String()
}

func entryTitle(ep *model.Episode) string {
	if ep.Podcast == "" {
		return ep.DisplayTitle()
	}
	return ep.Podcast + " - " + ep.DisplayTitle()
}

// escapeXML escapes special XML characters in a string.
//
// Replaces: & < > " '
// With:     &amp; &lt; &gt; &quot; &apos;
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
