// Package policy implements the pure, side-effect-free mappings the
// engine uses to decide where a file goes on disk and whether a given
// piece of media should be downloaded at all.
package policy

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tgmedia/crawler/internal/model"
)

// defaultExtensions is the per-kind fallback used when the media's mime
// type cannot be resolved against mimeExtensions.
var defaultExtensions = map[model.MediaKind]string{
	model.KindPhoto: "jpg",
	model.KindVideo: "mp4",
	model.KindAudio: "mp3",
	model.KindFile:  "dat",
}

// mimeExtensions is a small fixed mime-type to extension table covering
// the media Telegram channels commonly carry. Unknown mime types fall
// back to the per-kind default.
var mimeExtensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"video/x-matroska": "mkv",
	"audio/mpeg":      "mp3",
	"audio/ogg":       "ogg",
	"audio/flac":      "flac",
	"application/pdf": "pdf",
	"application/zip": "zip",
}

// SanitizeChannelFolder replaces filesystem-hostile characters with "_".
// An empty result falls back to the channel id by contract of the
// caller (BuildPath passes the id as fallback input, not this function).
func SanitizeChannelFolder(title string) string {
	const hostile = `/\:*?"<>|`
	var b strings.Builder
	for _, r := range title {
		if strings.ContainsRune(hostile, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PathOptions is the full set of inputs BuildPath depends on. Two calls
// with equal PathOptions values always produce equal paths.
type PathOptions struct {
	DataDir               string
	ChannelTitle          string
	ChannelID             string
	TopicID               string // empty if not a forum message
	GroupMessage          bool
	GroupedID             string
	FileOrganization      bool
	CreateSubfolders      bool
	MediaKind             model.MediaKind
	MessageID             int
	RawFileName           string
	MimeType              string
}

// BuildPath computes the destination path for a piece of media. It is a
// pure function of its inputs: BuildPath(o) == BuildPath(o) always.
func BuildPath(o PathOptions) string {
	channelFolder := SanitizeChannelFolder(o.ChannelTitle)
	if channelFolder == "" {
		channelFolder = o.ChannelID
	}

	parts := []string{o.DataDir, channelFolder}

	if o.TopicID != "" {
		parts = append(parts, "_"+o.TopicID)
	}
	if o.GroupMessage && o.GroupedID != "" {
		parts = append(parts, o.GroupedID)
	}
	if o.FileOrganization && o.CreateSubfolders {
		parts = append(parts, string(o.MediaKind))
	}

	dir := filepath.Join(parts...)
	return filepath.Join(dir, filename(o))
}

func filename(o PathOptions) string {
	base := strconv.Itoa(o.MessageID)
	if !o.GroupMessage && o.GroupedID != "" {
		base = o.GroupedID + "_" + base
	}
	if o.RawFileName != "" {
		base = base + "_" + o.RawFileName
	}
	if hasExtension(o.RawFileName) {
		return base
	}
	return base + "." + resolveExtension(o.MimeType, o.MediaKind)
}

// hasExtension reports whether name already contains a dot after its
// last path separator, and that dot is not the first character of the
// base name (so ".gitignore"-shaped names don't count as "having an
// extension").
func hasExtension(name string) bool {
	if name == "" {
		return false
	}
	base := filepath.Base(name)
	dot := strings.LastIndexByte(base, '.')
	return dot > 0
}

func resolveExtension(mimeType string, kind model.MediaKind) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	if ext, ok := defaultExtensions[kind]; ok {
		return ext
	}
	return "dat"
}
