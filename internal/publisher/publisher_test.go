package publisher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tgmedia/crawler/internal/model"
)

// MockNATSClient mocks the nats client operations we need
type MockNATSClient struct {
	PublishedSubject string
	PublishedData    []byte
	PublishError     error
}

func (m *MockNATSClient) Publish(subject string, data []byte) error {
	m.PublishedSubject = subject
	m.PublishedData = data
	return m.PublishError
}

func TestNATSPublisher_PublishProgress(t *testing.T) {
	mock := &MockNATSClient{}
	pub := &NATSPublisher{js: mock}

	event := model.Progress{ChannelID: "c1", FileName: "data/c1/200.jpg", DownloadedBytes: 1024, TotalBytes: 2048}

	err := pub.PublishProgress(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.PublishedSubject != "progress.c1" {
		t.Errorf("subject = %s, want progress.c1", mock.PublishedSubject)
	}

	var got model.Progress
	if err := json.Unmarshal(mock.PublishedData, &got); err != nil {
		t.Fatalf("unmarshal published data: %v", err)
	}
	if got != event {
		t.Errorf("published event = %+v, want %+v", got, event)
	}
}

func TestAdapter_PublishesAndSwallowsErrors(t *testing.T) {
	mock := &MockNATSClient{PublishError: errBoom}
	pub := &NATSPublisher{js: mock}

	fn := Adapter(context.Background(), pub)
	fn(model.Progress{ChannelID: "c1"}) // must not panic despite PublishError

	if mock.PublishedSubject != "progress.c1" {
		t.Errorf("subject = %s, want progress.c1", mock.PublishedSubject)
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
