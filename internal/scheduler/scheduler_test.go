package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tgmedia/crawler/internal/downloader"
	"github.com/tgmedia/crawler/internal/ingestor"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeIngestor struct {
	mu      sync.Mutex
	results map[string][]ingestor.Result
	calls   map[string]int
}

func (f *fakeIngestor) Fetch(ctx context.Context, channel model.Channel, state model.ChannelState, strategy ingestor.NewChannelStrategy) (ingestor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	queue := f.results[channel.ID]
	i := f.calls[channel.ID]
	f.calls[channel.ID] = i + 1
	if i >= len(queue) {
		return ingestor.Result{}, nil
	}
	return queue[i], nil
}

type fakeDownloader struct {
	mu      sync.Mutex
	fail    map[int]bool
	calls   []int
	active  int
	maxSeen int
}

func (f *fakeDownloader) Download(ctx context.Context, media model.Media, destPath string, progress downloader.ProgressFunc) error {
	f.mu.Lock()
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if progress != nil {
		progress(1, 1)
	}
	return nil
}

type fakeCheckpoint struct {
	mu    sync.Mutex
	saved map[string]int
}

func newFakeCheckpoint() *fakeCheckpoint { return &fakeCheckpoint{saved: map[string]int{}} }

func (c *fakeCheckpoint) Load(ctx context.Context, channelID string) (model.ChannelState, error) {
	return model.ChannelState{ChannelID: channelID}, nil
}

func (c *fakeCheckpoint) SaveLastID(ctx context.Context, channelID string, lastID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved[channelID] = lastID
	return nil
}

func (c *fakeCheckpoint) get(channelID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved[channelID]
}

func msgTask(id int, withMedia bool) model.Task {
	m := model.Message{ChannelID: "c1", MessageID: id}
	if withMedia {
		m.Media.Document = &model.Document{Size: 10, Attributes: []model.DocumentAttribute{{Filename: "f.bin"}}}
	}
	return model.Task{ChannelID: "c1", Message: m, AllowedKinds: []model.MediaKind{model.KindFile}}
}

func TestScheduler_CheckpointAdvancesOnSuccess(t *testing.T) {
	ing := &fakeIngestor{results: map[string][]ingestor.Result{
		"c1": {{Tasks: []model.Task{msgTask(1, true), msgTask(2, true)}}},
	}}
	dl := &fakeDownloader{}
	cp := newFakeCheckpoint()

	s, err := New(context.Background(), ing, dl, cp, PathConfig{DataDir: t.TempDir()}, nil, []ChannelSpec{
		{Channel: model.Channel{ID: "c1"}},
	}, Options{Concurrency: 2, IngestionInterval: time.Hour})
	require.NoError(t, err)

	s.mu.Lock()
	s.slots["c1"].queue = []model.Task{msgTask(1, true), msgTask(2, true)}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	require.Equal(t, 2, cp.get("c1"))
}

func TestScheduler_CheckpointUnchangedOnFailure(t *testing.T) {
	ing := &fakeIngestor{}
	dl := &failingDownloader{}
	cp := newFakeCheckpoint()

	s, err := New(context.Background(), ing, dl, cp, PathConfig{DataDir: t.TempDir()}, nil, []ChannelSpec{
		{Channel: model.Channel{ID: "c1"}},
	}, Options{Concurrency: 1, IngestionInterval: time.Hour})
	require.NoError(t, err)

	s.mu.Lock()
	s.slots["c1"].queue = []model.Task{msgTask(1, true)}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	require.Equal(t, 0, cp.get("c1"))
}

type failingDownloader struct{}

func (f *failingDownloader) Download(ctx context.Context, media model.Media, destPath string, progress downloader.ProgressFunc) error {
	return errFail
}

var errFail = &downloadErr{}

type downloadErr struct{}

func (e *downloadErr) Error() string { return "forced failure" }

func TestScheduler_PerChannelSerialization(t *testing.T) {
	ing := &fakeIngestor{}
	dl := &fakeDownloader{}
	cp := newFakeCheckpoint()

	s, err := New(context.Background(), ing, dl, cp, PathConfig{DataDir: t.TempDir()}, nil, []ChannelSpec{
		{Channel: model.Channel{ID: "c1"}},
	}, Options{Concurrency: 4, IngestionInterval: time.Hour})
	require.NoError(t, err)

	var tasks []model.Task
	for i := 1; i <= 6; i++ {
		tasks = append(tasks, msgTask(i, true))
	}
	s.mu.Lock()
	s.slots["c1"].queue = tasks
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	require.Equal(t, 1, dl.maxSeen, "a single channel must never have two downloads in flight")
	require.Equal(t, 6, cp.get("c1"))
}

func TestScheduler_CrossChannelParallelismBounded(t *testing.T) {
	ing := &fakeIngestor{}
	dl := &fakeDownloader{}
	cp := newFakeCheckpoint()

	specs := []ChannelSpec{
		{Channel: model.Channel{ID: "c1"}},
		{Channel: model.Channel{ID: "c2"}},
		{Channel: model.Channel{ID: "c3"}},
	}
	s, err := New(context.Background(), ing, dl, cp, PathConfig{DataDir: t.TempDir()}, nil, specs, Options{Concurrency: 2, IngestionInterval: time.Hour})
	require.NoError(t, err)

	s.mu.Lock()
	for _, id := range []string{"c1", "c2", "c3"} {
		s.slots[id].queue = []model.Task{msgTask(1, true), msgTask(2, true)}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	require.LessOrEqual(t, dl.maxSeen, 2)
}
