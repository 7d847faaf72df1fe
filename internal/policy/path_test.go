package policy

import (
	"testing"

	"github.com/tgmedia/crawler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeChannelFolder(t *testing.T) {
	cases := map[string]string{
		"normal title":    "normal title",
		`weird/\:*?"<>|ok`: "weird_________ok",
		"":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeChannelFolder(in))
	}
}

func TestBuildPath_Determinism(t *testing.T) {
	opts := PathOptions{
		DataDir:      "data",
		ChannelTitle: "My Channel",
		ChannelID:    "c1",
		MessageID:    200,
		MimeType:     "image/jpeg",
		MediaKind:    model.KindPhoto,
	}
	p1 := BuildPath(opts)
	p2 := BuildPath(opts)
	require.Equal(t, p1, p2)
	assert.Equal(t, "data/My Channel/200.jpg", p1)
}

func TestBuildPath_EmptyTitleFallsBackToID(t *testing.T) {
	p := BuildPath(PathOptions{
		DataDir:   "data",
		ChannelID: "c1",
		MessageID: 5,
		MediaKind: model.KindFile,
	})
	assert.Equal(t, "data/c1/5.dat", p)
}

func TestBuildPath_Topic(t *testing.T) {
	p := BuildPath(PathOptions{
		DataDir:      "data",
		ChannelTitle: "c",
		TopicID:      "7",
		MessageID:    500,
		MediaKind:    model.KindPhoto,
	})
	assert.Equal(t, "data/c/_7/500.jpg", p)
}

func TestBuildPath_GroupMessageSubfolder(t *testing.T) {
	p := BuildPath(PathOptions{
		DataDir:      "data",
		ChannelTitle: "c1",
		GroupMessage: true,
		GroupedID:    "g",
		MessageID:    300,
		MediaKind:    model.KindPhoto,
	})
	assert.Equal(t, "data/c1/g/300.jpg", p)
}

func TestBuildPath_GroupedIDPrefixWhenNotGrouping(t *testing.T) {
	p := BuildPath(PathOptions{
		DataDir:      "data",
		ChannelTitle: "c1",
		GroupMessage: false,
		GroupedID:    "g",
		MessageID:    300,
		MediaKind:    model.KindPhoto,
	})
	assert.Equal(t, "data/c1/g_300.jpg", p)
}

func TestBuildPath_RawFileNameWithExtension(t *testing.T) {
	p := BuildPath(PathOptions{
		DataDir:      "data",
		ChannelTitle: "c1",
		MessageID:    9,
		RawFileName:  "report.pdf",
		MediaKind:    model.KindFile,
	})
	assert.Equal(t, "data/c1/9_report.pdf", p)
}

func TestBuildPath_RawFileNameWithoutExtensionUsesMimeFallback(t *testing.T) {
	p := BuildPath(PathOptions{
		DataDir:      "data",
		ChannelTitle: "c1",
		MessageID:    9,
		RawFileName:  "report",
		MimeType:     "application/pdf",
		MediaKind:    model.KindFile,
	})
	assert.Equal(t, "data/c1/9_report.pdf", p)
}

func TestBuildPath_FileOrganizationSubfolder(t *testing.T) {
	p := BuildPath(PathOptions{
		DataDir:          "data",
		ChannelTitle:     "c1",
		FileOrganization: true,
		CreateSubfolders: true,
		MessageID:        1,
		MediaKind:        model.KindVideo,
	})
	assert.Equal(t, "data/c1/video/1.mp4", p)
}
