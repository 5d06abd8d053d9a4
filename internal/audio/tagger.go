package audio

import (
	"github.com/bogem/id3v2"
	"github.com/handiism/podcatcher/internal/model"
)

// TagEditAction defines how to handle individual ID3 tags.
type TagEditAction int

const (
	// TagEmpty clears the tag value.
	TagEmpty TagEditAction = iota

	// TagModify updates the tag with the value from the episode.
	TagModify

	// TagDoNotModify leaves the existing tag value unchanged.
	TagDoNotModify
)

// PodcastGenre is written to TCON when Genre is TagModify.
const PodcastGenre = "Podcast"

// TagConfig holds tagging configuration for each ID3 field.
//
// Example:
//
//	cfg := &TagConfig{
//	    ModifyTags: true,
//	    Title:      TagModify,      // TIT2 from episode title
//	    Artist:     TagModify,      // TPE1 from podcast name
//	    Album:      TagModify,      // TALB from podcast name
//	    Comments:   TagDoNotModify, // Keep the publisher's comments
//	}
type TagConfig struct {
	// ModifyTags is a master switch. If false, no string tags are modified.
	ModifyTags bool

	// Title controls the TIT2 frame.
	Title TagEditAction

	// Artist controls the TPE1 frame.
	Artist TagEditAction

	// Album controls the TALB frame.
	Album TagEditAction

	// Year controls the TYER frame (ID3v2.3).
	Year TagEditAction

	// Date controls the TDRC frame (ID3v2.4).
	Date TagEditAction

	// Genre controls the TCON frame.
	Genre TagEditAction

	// Comments controls the COMM frame, filled from the episode description.
	Comments TagEditAction
}

// DefaultTagConfig returns the default tag configuration: every field is
// TagModify.
func DefaultTagConfig() *TagConfig {
	return &TagConfig{
		ModifyTags: true,
		Title:      TagModify,
		Artist:     TagModify,
		Album:      TagModify,
		Year:       TagModify,
		Date:       TagModify,
		Genre:      TagModify,
		Comments:   TagModify,
	}
}

// Tagger writes ID3 tags to downloaded episodes.
//
// Example:
//
//	tagger := NewTagger(DefaultTagConfig())
//
//	// After the episode reaches Completed
//	if err := tagger.SaveTags(ep.LocalPath(), ep, artworkBytes); err != nil {
//	    log.Printf("Failed to tag %s: %v", ep.LocalPath(), err)
//	}
type Tagger struct {
	config *TagConfig
}

// NewTagger creates a new Tagger with the given configuration.
//
// If config is nil, DefaultTagConfig() is used.
func NewTagger(config *TagConfig) *Tagger {
	if config == nil {
		config = DefaultTagConfig()
	}
	return &Tagger{config: config}
}

// SaveTags writes ID3 tags for ep into the file at path.
//
// Existing tags are parsed and updated in place; files without a tag get a
// new one. artwork is embedded as the front cover when non-nil and should
// already be JPEG encoded. With nothing to write the file is left untouched.
func (t *Tagger) SaveTags(path string, ep *model.Episode, artwork []byte) error {
	if !t.config.ModifyTags && artwork == nil {
		return nil
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	if t.config.ModifyTags {
		t.updateStringTags(tag, ep)
	}

	if artwork != nil {
		t.updateArtwork(tag, artwork)
	}

	return tag.Save()
}

// updateStringTags updates text-based ID3 frames based on configuration.
func (t *Tagger) updateStringTags(tag *id3v2.Tag, ep *model.Episode) {
	switch t.config.Title {
	case TagEmpty:
		tag.SetTitle("")
	case TagModify:
		tag.SetTitle(ep.DisplayTitle())
	}

	switch t.config.Artist {
	case TagEmpty:
		tag.SetArtist("")
	case TagModify:
		if ep.Podcast != "" {
			tag.SetArtist(ep.Podcast)
		}
	}

	switch t.config.Album {
	case TagEmpty:
		tag.SetAlbum("")
	case TagModify:
		if ep.Podcast != "" {
			tag.SetAlbum(ep.Podcast)
		}
	}

	switch t.config.Year {
	case TagEmpty:
		tag.DeleteFrames("TYER")
	case TagModify:
		if !ep.PublishedAt.IsZero() {
			tag.AddTextFrame("TYER", id3v2.EncodingUTF8, ep.PublishedAt.Format("2006"))
		}
	}

	switch t.config.Date {
	case TagEmpty:
		tag.DeleteFrames("TDRC")
	case TagModify:
		if !ep.PublishedAt.IsZero() {
			tag.AddTextFrame("TDRC", id3v2.EncodingUTF8, ep.PublishedAt.Format("2006-01-02"))
		}
	}

	switch t.config.Genre {
	case TagEmpty:
		tag.SetGenre("")
	case TagModify:
		tag.SetGenre(PodcastGenre)
	}

	switch t.config.Comments {
	case TagEmpty:
		tag.DeleteFrames(tag.CommonID("Comments"))
	case TagModify:
		if ep.Description != "" {
			tag.DeleteFrames(tag.CommonID("Comments"))
			tag.AddCommentFrame(id3v2.CommentFrame{
				Encoding:    id3v2.EncodingUTF8,
				Language:    "eng",
				Description: "",
				Text:        ep.Description,
			})
		}
	}
}

// updateArtwork embeds cover art as an attached picture frame.
func (t *Tagger) updateArtwork(tag *id3v2.Tag, artwork []byte) {
	tag.DeleteFrames(tag.CommonID("Attached picture"))

	pic := id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    "image/jpeg",
		PictureType: id3v2.PTFrontCover,
		Description: "Cover",
		Picture:     artwork,
	}
	tag.AddAttachedPicture(pic)
}
