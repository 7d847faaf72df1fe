package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/policy"
)

// ChannelStateRepository persists the core's only durable write: the
// per-channel checkpoint (lastId), plus the mediasAllowed override and
// downloading/lastDownload columns. The scheduler seeds its in-memory slots
// with lastId and mediasAllowed from Load at startup. Grounded on RangesRepository's upsert-keyed-by-id
// shape (internal/repository/ranges.go), adapted from a min/max message
// range to a single-cursor lastId model.
type ChannelStateRepository struct {
	pool *pgxpool.Pool
}

func NewChannelStateRepository(pool *pgxpool.Pool) *ChannelStateRepository {
	return &ChannelStateRepository{pool: pool}
}

// Load returns the persisted state for channelID, or a zero-value state
// (lastId=0) if the channel has never been seen before.
func (r *ChannelStateRepository) Load(ctx context.Context, channelID string) (model.ChannelState, error) {
	var lastID int
	var mediasRaw *string
	var downloading bool
	var lastDownload *time.Time

	err := r.pool.QueryRow(ctx, `
		SELECT last_id, medias_allowed, downloading, last_download
		FROM channel_state
		WHERE channel_id = $1
	`, channelID).Scan(&lastID, &mediasRaw, &downloading, &lastDownload)

	if err != nil {
		if err.Error() == "no rows in result set" {
			return model.ChannelState{ChannelID: channelID}, nil
		}
		return model.ChannelState{}, fmt.Errorf("load channel state %s: %w", channelID, err)
	}

	state := model.ChannelState{
		ChannelID:   channelID,
		LastID:      lastID,
		Downloading: downloading,
	}
	if mediasRaw != nil && strings.TrimSpace(*mediasRaw) != "" {
		state.MediasAllowed = policy.ParseMediasAllowed(*mediasRaw)
	}
	if lastDownload != nil {
		state.LastDownload = lastDownload.Unix()
	}
	return state, nil
}

// SaveLastID upserts the channel's checkpoint. This is the only write the
// core ever issues against this table: spider.lastIds.<channelId> and
// nothing else.
func (r *ChannelStateRepository) SaveLastID(ctx context.Context, channelID string, lastID int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO channel_state (channel_id, last_id)
		VALUES ($1, $2)
		ON CONFLICT (channel_id)
		DO UPDATE SET last_id = $2, updated_at = NOW()
	`, channelID, lastID)
	if err != nil {
		return fmt.Errorf("save last id for %s: %w", channelID, err)
	}
	return nil
}

// SeedMediasAllowed writes the configured allow-list for a channel the
// first time it is seen, without disturbing an existing checkpoint.
func (r *ChannelStateRepository) SeedMediasAllowed(ctx context.Context, channelID string, allowed map[model.MediaKind]bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO channel_state (channel_id, medias_allowed)
		VALUES ($1, $2)
		ON CONFLICT (channel_id) DO NOTHING
	`, channelID, formatMediasAllowed(allowed))
	if err != nil {
		return fmt.Errorf("seed medias allowed for %s: %w", channelID, err)
	}
	return nil
}

func formatMediasAllowed(allowed map[model.MediaKind]bool) string {
	if allowed == nil {
		return "_"
	}
	var kinds []string
	for _, k := range model.AllMediaKinds {
		if allowed[k] {
			kinds = append(kinds, string(k))
		}
	}
	if len(kinds) == 0 {
		return "_"
	}
	return strings.Join(kinds, ",")
}
