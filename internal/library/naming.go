package library

import (
	"path/filepath"
	"strings"

	"github.com/soundhoard/soundhoard/internal/catalog"
)

// forbidden covers the union of characters rejected by common filesystems.
var forbidden = strings.NewReplacer(
	"<", "", ">", "", ":", "", "\"", "", "|", "", "?", "", "*", "",
	"\x00", "",
)

// RenderPath applies the naming template to the track's tokens and returns a
// library-relative path without extension. Template tokens: {artist},
// {album}, {title}.
func RenderPath(template string, ref catalog.TrackRef) string {
	artist := sanitizeComponent(ref.Artist)
	album := sanitizeComponent(ref.Album)
	title := sanitizeComponent(ref.Title)

	if artist == "" {
		artist = "Unknown Artist"
	}

	if album == "" {
		album = "Unknown Album"
	}

	if title == "" {
		title = "Unknown Track"
	}

	out := template
	out = strings.ReplaceAll(out, "{artist}", artist)
	out = strings.ReplaceAll(out, "{album}", album)
	out = strings.ReplaceAll(out, "{title}", title)

	return filepath.FromSlash(out)
}

// sanitizeComponent strips characters that cannot appear in a single path
// component. Separators are removed rather than escaped so a hostile title
// cannot climb out of the library tree.
func sanitizeComponent(s string) string {
	s = forbidden.Replace(s)
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.Trim(s, " .")

	return s
}
