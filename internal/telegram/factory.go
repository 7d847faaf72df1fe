package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"gorm.io/gorm"

	"github.com/tgmedia/crawler/internal/config"
)

// NewPersistentClient creates a telegram client that uses the database for session storage.
// It will automatically persist session updates (auth key refreshes) back to the DB.
func NewPersistentClient(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	// 1. Configure the session constructor.
	// We use SqlSession, which will store session data and peers in the database.
	sessionConstructor := sessionMaker.SqlSession(db.Dialector)

	// 2. Initialize the client.
	// The session comes only from the SqlSession database storage; no
	// session string is imported here.

	clientOpts := &gotgproto.ClientOpts{
		Session:          sessionConstructor,
		DisableCopyright: true,
		InMemory:         false, // Essential: persistence enabled
	}

	// 3. Create the client
	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""), // Empty = use session
		clientOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	return client, nil
}
