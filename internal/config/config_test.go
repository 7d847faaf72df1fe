package config

import (
	"os"
	"testing"

	"github.com/tgmedia/crawler/internal/model"
)

func TestConfig_DataDirDefault(t *testing.T) {
	os.Unsetenv("DATA_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "./data")
	}
}

func TestConfig_DataDirFromEnv(t *testing.T) {
	os.Setenv("DATA_DIR", "/custom/path")
	defer os.Unsetenv("DATA_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != "/custom/path" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/custom/path")
	}
}

func TestConfig_SpiderDefaults(t *testing.T) {
	for _, k := range []string{"SPIDER_DOWNLOAD_THREADS", "SPIDER_CHUNK_SIZE", "SPIDER_MAX_RETRIES", "SPIDER_CONCURRENCY"} {
		os.Unsetenv(k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SpiderDownloadThreads != 5 {
		t.Errorf("SpiderDownloadThreads = %d, want 5", cfg.SpiderDownloadThreads)
	}
	if cfg.SpiderChunkSize != 512*1024 {
		t.Errorf("SpiderChunkSize = %d, want %d", cfg.SpiderChunkSize, 512*1024)
	}
	if cfg.SpiderMaxRetries != 3 {
		t.Errorf("SpiderMaxRetries = %d, want 3", cfg.SpiderMaxRetries)
	}
	if cfg.SpiderConcurrency != 5 {
		t.Errorf("SpiderConcurrency = %d, want 5", cfg.SpiderConcurrency)
	}
}

func TestConfig_FilterRangesKeyedByDottedPath(t *testing.T) {
	os.Setenv("FILTER_DEFAULT_VIDEO", "0-1048576")
	os.Setenv("FILTER_123_PHOTO", "0-2097152")
	defer os.Unsetenv("FILTER_DEFAULT_VIDEO")
	defer os.Unsetenv("FILTER_123_PHOTO")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.FilterRanges["default.video"]; got != "0-1048576" {
		t.Errorf(`FilterRanges["default.video"] = %q, want "0-1048576"`, got)
	}
	if got := cfg.FilterRanges["123.photo"]; got != "0-2097152" {
		t.Errorf(`FilterRanges["123.photo"] = %q, want "0-2097152"`, got)
	}
}

func TestView_SizeRangePrefersPerChannelOverDefault(t *testing.T) {
	cfg := &Config{FilterRanges: map[string]string{
		"default.video": "0-1048576",
		"c1.video":       "0-2097152",
	}}
	v := NewView(cfg)

	got, ok := v.SizeRange(model.KindVideo, "c1")
	if !ok || got != "0-2097152" {
		t.Errorf("SizeRange(video, c1) = (%q, %v), want (0-2097152, true)", got, ok)
	}

	got, ok = v.SizeRange(model.KindVideo, "c2")
	if !ok || got != "0-1048576" {
		t.Errorf("SizeRange(video, c2) = (%q, %v), want (0-1048576, true)", got, ok)
	}
}

func TestView_MediasAllowedFallsBackToDefault(t *testing.T) {
	cfg := &Config{MediasAllowed: map[string]string{
		"default": "photo,video",
		"c1":      "_",
	}}
	v := NewView(cfg)

	allowed := v.MediasAllowed("c1")
	if !allowed[model.KindPhoto] || !allowed[model.KindVideo] || allowed[model.KindAudio] {
		t.Errorf("MediasAllowed(c1) = %v, want {photo,video}", allowed)
	}
}
