package repository

import (
	"testing"

	"github.com/tgmedia/crawler/internal/model"
)

func TestFormatMediasAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed map[model.MediaKind]bool
		want    string
	}{
		{name: "nil allow-all", allowed: nil, want: "_"},
		{name: "empty map", allowed: map[model.MediaKind]bool{}, want: "_"},
		{
			name:    "subset preserves canonical order",
			allowed: map[model.MediaKind]bool{model.KindFile: true, model.KindPhoto: true},
			want:    "photo,file",
		},
		{
			name:    "all kinds",
			allowed: map[model.MediaKind]bool{model.KindPhoto: true, model.KindVideo: true, model.KindAudio: true, model.KindFile: true},
			want:    "photo,video,audio,file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatMediasAllowed(tt.allowed); got != tt.want {
				t.Errorf("formatMediasAllowed(%v) = %q, want %q", tt.allowed, got, tt.want)
			}
		})
	}
}
