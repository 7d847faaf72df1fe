package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

// ConvertToGotgprotoSession converts gotd session.Data to gotgproto storage.Session.
// storage.Session.Data holds the JSON that gotd's session.Loader reads back:
// session.Data wrapped as {"Version":1,"Data":{...}}.
func ConvertToGotgprotoSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}

	dataJSON, err := json.Marshal(struct {
		Version int
		Data    session.Data
	}{Version: 1, Data: *data})
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    dataJSON,
	}, nil
}
