package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/tgmedia/crawler/internal/config"
	"github.com/celestix/gotgproto"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// Setup in-memory DB for testing
func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		panic(err)
	}
	return db
}

type MockSession struct {
	SessionID string `gorm:"primaryKey"`
	Data      []byte
}

func (MockSession) TableName() string {
	return "sessions"
}

func TestDBSession(t *testing.T) {
	db := setupTestDB()
	// Manually migrate the session table to ensure it exists
	// In real app, gotgproto handles this, but here we want to maniplate it
	_ = db.AutoMigrate(&MockSession{})

	cfg := &config.Config{
		TGApiID:   12345,
		TGApiHash: "test_hash",
	}

	m := NewManager(cfg, db)

	// Manager.Init counts the rows of the sessions table: with none the
	// status is Unauthorized and no client is created; otherwise it calls
	// the client factory, which the second half of this test replaces.

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// 1. Empty DB -> Expect Unauthorized
	err := m.Init(ctx)
	assert.Nil(t, err)
	assert.Equal(t, StatusUnauthorized, m.GetStatus(), "Should be Unauthorized when DB is empty")

	// 2. Populated DB -> Expect Ready
	// Simulate a session
	db.Create(&MockSession{SessionID: "1", Data: []byte(`{"mock":"data"}`)})

	// NOTE: Real NewPersistentClient would try to connect here.
	// We MUST mock the client creation part to avoid network.
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		// Mock success - return a stub client
		return &gotgproto.Client{}, nil
	})

	err = m.Init(ctx)
	assert.Nil(t, err)
	assert.Equal(t, StatusReady, m.GetStatus(), "Should be Ready when DB has session")
}
