// Package ingestor implements the per-channel ingestor (spec component
// C): it converts the unbounded remote message stream into a bounded,
// ordered local queue of download tasks, one page per invocation.
package ingestor

import (
	"context"
	"fmt"

	"github.com/tgmedia/crawler/internal/logger"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/policy"
	"github.com/tgmedia/crawler/internal/telegram"
)

// repliesAllSentinel is the upstream "effectively unlimited" constant
// used as the page size when expanding a comment thread; the reply thread
// is fetched in one request rather than paged.
const repliesAllSentinel = 2_057_604

// NewChannelStrategy selects how a freshly-seen channel (lastId == 0) is
// anchored. -1 (default) anchors on the single newest message without
// downloading it; 0 anchors with no history at all; k>0 downloads the k
// most recent messages.
type NewChannelStrategy int

const DefaultNewChannelStrategy NewChannelStrategy = -1

// Ingestor fetches one page of tasks for a single channel per call: a
// single page per pass, never draining a channel's full backlog in one
// tick.
type Ingestor struct {
	facade telegram.Facade
	lookup policy.SizeRangeLookup
	log    *logger.Logger
}

func New(facade telegram.Facade, lookup policy.SizeRangeLookup) *Ingestor {
	return &Ingestor{facade: facade, lookup: lookup, log: logger.Get()}
}

// Result is the outcome of one ingestion pass. Anchor, when non-nil,
// instructs the caller to set the channel's lastId directly — no
// download is pending for it. Otherwise Tasks carries ordered,
// oldest-first work for the scheduler; the checkpoint advances only as
// the scheduler successfully processes each non-comment task.
type Result struct {
	Tasks  []model.Task
	Anchor *int
}

// Fetch performs one ingestion pass for channel given its persisted
// state. It never fetches more than one page of history.
func (ing *Ingestor) Fetch(ctx context.Context, channel model.Channel, state model.ChannelState, strategy NewChannelStrategy) (Result, error) {
	if state.LastID == 0 {
		return ing.fetchAnchor(ctx, channel, strategy, state)
	}
	return ing.fetchIncremental(ctx, channel, state)
}

func (ing *Ingestor) fetchAnchor(ctx context.Context, channel model.Channel, strategy NewChannelStrategy, state model.ChannelState) (Result, error) {
	switch {
	case strategy <= 0:
		// strategy 0 ("no history") and the default -1 ("anchor on the
		// newest message only") both resolve the newest id without
		// enqueueing a task for it.
		msgs, err := ing.facade.GetHistory(ctx, channel, 1, -1, 1)
		if err != nil {
			return Result{}, fmt.Errorf("anchor fetch for %s: %w", channel.ID, err)
		}
		if len(msgs) == 0 {
			return Result{}, nil
		}
		id := msgs[0].MessageID
		return Result{Anchor: &id}, nil

	default:
		k := int(strategy)
		msgs, err := ing.facade.GetHistory(ctx, channel, 1, -1, k)
		if err != nil {
			return Result{}, fmt.Errorf("anchor fetch (k=%d) for %s: %w", k, channel.ID, err)
		}
		if len(msgs) == 0 {
			return Result{}, nil
		}
		tasks, err := ing.buildTasks(ctx, channel, oldestFirst(msgs), state)
		if err != nil {
			return Result{}, err
		}
		return Result{Tasks: tasks}, nil
	}
}

func (ing *Ingestor) fetchIncremental(ctx context.Context, channel model.Channel, state model.ChannelState) (Result, error) {
	const limit = 100
	msgs, err := ing.facade.GetHistory(ctx, channel, state.LastID, -1-limit, limit)
	if err != nil {
		return Result{}, fmt.Errorf("history fetch for %s: %w", channel.ID, err)
	}
	if len(msgs) == 0 {
		return Result{}, nil
	}
	tasks, err := ing.buildTasks(ctx, channel, oldestFirst(msgs), state)
	if err != nil {
		return Result{}, err
	}
	return Result{Tasks: tasks}, nil
}

// oldestFirst reverses a newest-first page from the RPC facade.
func oldestFirst(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

// buildTasks turns a page of messages into ordered tasks, expanding
// comment threads in place after their parent. Every non-service message
// becomes a task, even one with no downloadable (or allowed) media —
// the scheduler still needs to see it to advance the checkpoint past it.
func (ing *Ingestor) buildTasks(ctx context.Context, channel model.Channel, msgs []model.Message, state model.ChannelState) ([]model.Task, error) {
	var tasks []model.Task

	for _, msg := range msgs {
		if msg.IsService {
			continue
		}

		tasks = append(tasks, ing.taskFor(msg, state))

		if msg.ReplyCount > 0 && msg.ReplyChan != "" {
			comments, err := ing.facade.GetReplies(ctx, channel, msg.MessageID, repliesAllSentinel)
			if err != nil {
				ing.log.Warn().Err(err).Int("msg_id", msg.MessageID).Msg("ingestor: comment fetch failed, treating as empty")
				comments = nil
			}
			for _, c := range comments {
				c.IsComment = true
				tasks = append(tasks, ing.taskFor(c, state))
			}
		}
	}

	return tasks, nil
}

// taskFor applies the filter policy and returns a task carrying only the
// accepted media kinds (nil if the message has no media, or none of its
// media kinds survive the filter).
func (ing *Ingestor) taskFor(msg model.Message, state model.ChannelState) model.Task {
	if msg.Media.None() {
		return model.Task{ChannelID: msg.ChannelID, Message: msg}
	}
	decisions := policy.Filter(msg, state, ing.lookup)
	var allowed []model.MediaKind
	for _, d := range decisions {
		if d.Accepted {
			allowed = append(allowed, d.Kind)
		}
	}
	return model.Task{ChannelID: msg.ChannelID, Message: msg, AllowedKinds: allowed}
}
