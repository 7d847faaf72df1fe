package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeEngine struct {
	status  Status
	stopped bool
}

func (f *fakeEngine) Status() Status { return f.status }
func (f *fakeEngine) Stop()          { f.stopped = true }

func TestHandler_Health(t *testing.T) {
	handler := NewHandler(&fakeEngine{}, nil)
	router := NewRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Health() status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandler_Status(t *testing.T) {
	eng := &fakeEngine{status: Status{
		Running:      true,
		ChannelCount: 1,
		Channels:     []ChannelState{{ChannelID: "c1", LastID: 109, QueueDepth: 2, Downloading: true}},
	}}
	router := NewRouter(NewHandler(eng, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status() status = %d, want %d", rec.Code, http.StatusOK)
	}

	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.ChannelCount != 1 || got.Channels[0].LastID != 109 {
		t.Errorf("Status() body = %+v, want matching eng.status", got)
	}
}

func TestHandler_Stop(t *testing.T) {
	eng := &fakeEngine{}
	router := NewRouter(NewHandler(eng, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Stop() status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !eng.stopped {
		t.Error("Stop() did not call engine.Stop()")
	}
}
