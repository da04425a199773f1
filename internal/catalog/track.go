package catalog

import (
	"strings"
	"unicode"
)

// TrackRef is the logical track being sought. Distinct provider-specific
// identifiers (one per catalog source) may all resolve to the same logical
// track.
type TrackRef struct {
	Title         string
	Artist        string
	Album         string
	DurationSecs  int
	UniversalCode string // ISRC, when the catalog source knows it
	SourceName    string // catalog source this ref came from, e.g. "spotify"
	SourceID      string // track id within that source
}

// Key returns the normalized (title, artist, album) triple used for fuzzy
// duplicate detection when no universal code exists.
func (t TrackRef) Key() string {
	return Normalize(t.Artist) + "|" + Normalize(t.Title) + "|" + Normalize(t.Album)
}

// Normalize lowercases, strips punctuation and collapses whitespace so that
// "The Track (Remastered)" and "the track remastered" compare equal.
func Normalize(s string) string {
	var b strings.Builder

	lastSpace := true

	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)

			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')

			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}
