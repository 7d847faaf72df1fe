package config

import (
	"fmt"
	"strings"

	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/policy"
)

// ChannelConfigView is the narrow read-only surface the core (ingestor,
// scheduler, downloader, policy) is handed. The core writes back only
// spider.lastIds.<channelId>; everything else here is read-only
// configuration.
type ChannelConfigView interface {
	Concurrency() int
	GroupMessage() bool
	FileOrganizationEnabled() bool
	CreateSubfolders() bool
	DownloadAcceleration() bool
	DownloadThreads() int
	ChunkSize() int64
	MaxRetries() int
	IngestionInterval() int
	SizeRange(kind model.MediaKind, channelID string) (string, bool)
	MediasAllowed(channelID string) map[model.MediaKind]bool
}

// View adapts Config into a ChannelConfigView.
type View struct {
	cfg *Config
}

func NewView(cfg *Config) *View { return &View{cfg: cfg} }

func (v *View) Concurrency() int              { return v.cfg.SpiderConcurrency }
func (v *View) GroupMessage() bool            { return v.cfg.SpiderGroupMessage }
func (v *View) FileOrganizationEnabled() bool { return v.cfg.FileOrganizationEnabled }
func (v *View) CreateSubfolders() bool        { return v.cfg.FileOrganizationCreateSubfolders }
func (v *View) DownloadAcceleration() bool    { return v.cfg.SpiderEnableAcceleration }
func (v *View) DownloadThreads() int          { return v.cfg.SpiderDownloadThreads }
func (v *View) ChunkSize() int64              { return v.cfg.SpiderChunkSize }
func (v *View) MaxRetries() int               { return v.cfg.SpiderMaxRetries }
func (v *View) IngestionInterval() int        { return v.cfg.SpiderIngestionIntervalSec }

// SizeRange implements policy.SizeRangeLookup's contract: a per-channel
// override (filter.<kind>.<channelId>) takes precedence over the global
// default (filter.default.<kind>).
func (v *View) SizeRange(kind model.MediaKind, channelID string) (string, bool) {
	perChannel := fmt.Sprintf("%s.%s", channelID, kind)
	if s, ok := v.cfg.FilterRanges[perChannel]; ok {
		return s, true
	}
	defaultKey := fmt.Sprintf("default.%s", kind)
	if s, ok := v.cfg.FilterRanges[defaultKey]; ok {
		return s, true
	}
	return "", false
}

// MediasAllowed resolves spider.medias.<channelId>, falling back to
// spider.medias.default; "_" is a documentation placeholder meaning
// "nothing configured here, use the default".
func (v *View) MediasAllowed(channelID string) map[model.MediaKind]bool {
	raw, ok := v.cfg.MediasAllowed[channelID]
	if !ok || raw == "_" || strings.TrimSpace(raw) == "" {
		raw, ok = v.cfg.MediasAllowed["default"]
		if !ok {
			return nil
		}
	}
	return policy.ParseMediasAllowed(raw)
}

var _ policy.SizeRangeLookup = (*View)(nil).SizeRange
