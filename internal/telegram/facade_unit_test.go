package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"

	"github.com/tgmedia/crawler/internal/model"
)

func TestCheckFloodWait(t *testing.T) {
	cases := []struct {
		name string
		err  string
		want int
	}{
		{"no flood wait", "some other error", 0},
		{"plain", "rpc error: code 420: FLOOD_WAIT_15", 15},
		{"trailing text", "FLOOD_WAIT_7 (caused by MessagesGetHistory)", 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, checkFloodWait(errString(tc.err)))
		})
	}
}

func TestFileMigrateDC(t *testing.T) {
	assert.Equal(t, 4, fileMigrateDC(errString("rpc error: code 303: FILE_MIGRATE_4")))
	assert.Equal(t, 0, fileMigrateDC(errString("unrelated")))
}

type errString string

func (e errString) Error() string { return string(e) }

func TestInputPeerSelf(t *testing.T) {
	f := &facade{}
	peer, err := f.inputPeer(model.Channel{ID: "me"})
	assert.NoError(t, err)
	assert.IsType(t, &tg.InputPeerSelf{}, peer)
}

func TestInputPeerChannel(t *testing.T) {
	f := &facade{}
	peer, err := f.inputPeer(model.Channel{ID: "123", AccessHash: 456})
	assert.NoError(t, err)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 123, AccessHash: 456}, peer)
}
