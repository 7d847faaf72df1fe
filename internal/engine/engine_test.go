package engine

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tgmedia/crawler/internal/config"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/telegram"
)

type fakeFacade struct{}

func (f *fakeFacade) IterDialogs(ctx context.Context, fn func(model.Channel) error) error { return nil }
func (f *fakeFacade) GetChannels(ctx context.Context, ids []int64) ([]model.Channel, error) {
	out := make([]model.Channel, 0, len(ids))
	for _, id := range ids {
		s := strconv.FormatInt(id, 10)
		out = append(out, model.Channel{ID: s, Title: "channel-" + s})
	}
	return out, nil
}
func (f *fakeFacade) GetSelfChannel(ctx context.Context) (model.Channel, error) {
	return model.Channel{ID: "me", Title: "Saved Messages"}, nil
}
func (f *fakeFacade) GetForumTopics(ctx context.Context, channel model.Channel) ([]model.Topic, error) {
	return nil, nil
}
func (f *fakeFacade) GetHistory(ctx context.Context, channel model.Channel, offsetID, addOffset, limit int) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeFacade) GetReplies(ctx context.Context, channel model.Channel, msgID, limit int) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeFacade) GetFile(ctx context.Context, loc telegram.FileLocation, offset, limit int64, precise bool) ([]byte, error) {
	return nil, nil
}
func (f *fakeFacade) SenderFor(ctx context.Context, dcID int) (telegram.Sender, error) {
	return nil, nil
}

type fakeCheckpoint struct{}

func (fakeCheckpoint) Load(ctx context.Context, channelID string) (model.ChannelState, error) {
	return model.ChannelState{ChannelID: channelID}, nil
}
func (fakeCheckpoint) SaveLastID(ctx context.Context, channelID string, lastID int) error {
	return nil
}

func TestEngine_NewWiresChannelsAndStatusReflectsThem(t *testing.T) {
	cfg := &config.Config{
		DataDir:                  t.TempDir(),
		SpiderChannels:           []config.ChannelSpec{{ID: "1"}, {ID: "2"}},
		SpiderConcurrency:        2,
		SpiderDownloadThreads:    5,
		SpiderChunkSize:          512 * 1024,
		SpiderMaxRetries:         3,
		SpiderIngestionIntervalSec: 3600,
	}

	eng, err := New(context.Background(), cfg, Deps{Checkpoint: fakeCheckpoint{}, Facade: &fakeFacade{}})
	require.NoError(t, err)

	status := eng.Status()
	require.Equal(t, 2, status.ChannelCount)
	require.False(t, status.Running)
}

func TestEngine_RunThenStopIsCooperative(t *testing.T) {
	cfg := &config.Config{
		DataDir:                    t.TempDir(),
		SpiderChannels:             []config.ChannelSpec{{ID: "1"}},
		SpiderConcurrency:          1,
		SpiderDownloadThreads:      5,
		SpiderChunkSize:            512 * 1024,
		SpiderMaxRetries:           3,
		SpiderIngestionIntervalSec: 3600,
	}

	eng, err := New(context.Background(), cfg, Deps{Checkpoint: fakeCheckpoint{}, Facade: &fakeFacade{}})
	require.NoError(t, err)

	eng.Run(context.Background())
	time.Sleep(20 * time.Millisecond)
	require.True(t, eng.Status().Running)

	eng.Stop()
	require.False(t, eng.Status().Running)
}
