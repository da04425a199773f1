package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{"identical", "Artist - Song", "Artist - Song", 1, 1},
		{"case and punctuation ignored", "ARTIST - song!!", "artist song", 1, 1},
		{"extension stripped", "Artist - Song.flac", "Artist - Song", 1, 1},
		{"path separators are boundaries", "Artist/Album/01 - Song.flac", "Artist - Song", 0.5, 1},
		{"windows separators too", "Artist\\Album\\Song.mp3", "Artist Song", 0.5, 1},
		{"unrelated strings", "Completely Different Tune", "Artist - Song", 0, 0.2},
		{"empty side", "", "Artist - Song", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestSimilarity_Symmetry(t *testing.T) {
	a, b := "Artist - Song (Remastered)", "Song by Artist"
	assert.Equal(t, Similarity(a, b), Similarity(b, a))
}
