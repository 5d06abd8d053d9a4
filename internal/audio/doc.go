// Package audio post-processes downloaded episodes: ID3 tag writing and
// playlist generation.
//
// # ID3 Tagging
//
//	tagger := audio.NewTagger(audio.DefaultTagConfig())
//	err := tagger.SaveTags(ep.LocalPath(), ep, artworkBytes)
//
// The tagger writes:
//   - Title (episode title)
//   - Artist and Album (podcast name)
//   - Year and Date (publication date)
//   - Genre ("Podcast")
//   - Comments (episode description)
//   - Cover Art (embedded in MP3)
//
// # Playlist Generation
//
//	creator := audio.NewPlaylistCreator(model.PlaylistFormatM3U, true) // extended M3U
//	content := creator.CreatePlaylist("Show", episodes)
//	os.WriteFile(creator.Path(dir, "Show"), []byte(content), 0644)
//
// Supported formats:
//   - M3U (with optional extended info)
//   - PLS
//   - WPL (Windows Media Player)
//   - ZPL (Zune Media Player)
package audio
