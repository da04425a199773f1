package library

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soundhoard/soundhoard/internal/catalog"
)

func TestRenderPath(t *testing.T) {
	template := "{artist}/{album}/{artist} - {title}"

	tests := []struct {
		name string
		ref  catalog.TrackRef
		want string
	}{
		{
			name: "plain tokens",
			ref:  catalog.TrackRef{Artist: "Miles Davis", Album: "Kind of Blue", Title: "So What"},
			want: "Miles Davis/Kind of Blue/Miles Davis - So What",
		},
		{
			name: "forbidden characters stripped",
			ref:  catalog.TrackRef{Artist: "AC|DC", Album: "Who Made Who?", Title: "Shake Your <Foundations>"},
			want: "ACDC/Who Made Who/ACDC - Shake Your Foundations",
		},
		{
			name: "separators become dashes",
			ref:  catalog.TrackRef{Artist: "Sigur Ros", Album: "( )", Title: "Untitled/8"},
			want: "Sigur Ros/( )/Sigur Ros - Untitled-8",
		},
		{
			name: "path traversal defused",
			ref:  catalog.TrackRef{Artist: "..", Album: "../..", Title: "x"},
			want: "Unknown Artist/-/Unknown Artist - x",
		},
		{
			name: "empty tokens get placeholders",
			ref:  catalog.TrackRef{},
			want: "Unknown Artist/Unknown Album/Unknown Artist - Unknown Track",
		},
		{
			name: "trailing dots and spaces trimmed",
			ref:  catalog.TrackRef{Artist: "Portishead ", Album: "Dummy.", Title: " Roads"},
			want: "Portishead/Dummy/Portishead - Roads",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.want), RenderPath(template, tt.ref))
		})
	}
}

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a/b\\c", "a-b-c"},
		{"q?s*t", "qst"},
		{"  padded  ", "padded"},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeComponent(tt.in))
		})
	}
}
