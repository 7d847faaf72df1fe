package progress

import (
	"encoding/json"

	"github.com/tgmedia/crawler/internal/model"
)

// EventProgress is the single websocket event type this package emits: a
// progress tuple (channelId, fileName, downloadedBytes, totalBytes)
// carried as a typed WSEvent envelope, mirroring internal/web/events.go's
// shape.
const EventProgress = "download.progress"

// WSEvent is a structured websocket message.
type WSEvent struct {
	Type    string         `json:"type"`
	Payload model.Progress `json:"payload"`
}

// ProgressEvent marshals p into the wire event this package's clients
// expect.
func ProgressEvent(p model.Progress) []byte {
	b, _ := json.Marshal(WSEvent{Type: EventProgress, Payload: p})
	return b
}

// Publisher is the seam the scheduler's progress callback is adapted
// into: Broadcast fans an already-encoded event out to every connected
// client.
type Publisher interface {
	Broadcast(msg []byte)
}

// Adapter returns a func(model.Progress) suitable for scheduler.New's
// progress parameter, encoding and broadcasting through pub.
func Adapter(pub Publisher) func(model.Progress) {
	return func(p model.Progress) {
		pub.Broadcast(ProgressEvent(p))
	}
}
