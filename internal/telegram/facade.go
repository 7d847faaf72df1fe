package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/tgmedia/crawler/internal/config"
	"github.com/tgmedia/crawler/internal/logger"
	"github.com/tgmedia/crawler/internal/model"
)

// senderReadyTimeout bounds how long SenderFor waits for a secondary-DC
// client to finish importing its exported authorization before giving up.
const senderReadyTimeout = 10 * time.Second

// FileMigrateError is the facade's typed surface for Telegram's
// "the file lives on another data center" fault: callers must switch to
// SenderFor(DCID) and retry the same chunk, never consuming a retry.
type FileMigrateError struct {
	DCID int
}

func (e *FileMigrateError) Error() string {
	return fmt.Sprintf("file migrated to dc %d", e.DCID)
}

// FileLocation is the facade-level description of a chunk read target,
// built from a model.Media by the downloader.
type FileLocation struct {
	DCID          int
	IsPhoto       bool
	ID            int64
	AccessHash    int64
	FileReference []byte
	ThumbSize     string // only meaningful when IsPhoto
}

func (l FileLocation) toInputLocation() tg.InputFileLocationClass {
	if l.IsPhoto {
		return &tg.InputPhotoFileLocation{
			ID:            l.ID,
			AccessHash:    l.AccessHash,
			FileReference: l.FileReference,
			ThumbSize:     l.ThumbSize,
		}
	}
	return &tg.InputDocumentFileLocation{
		ID:            l.ID,
		AccessHash:    l.AccessHash,
		FileReference: l.FileReference,
	}
}

// Sender is an RPC sender bound to a specific data center. Chunk reads
// issued after a FileMigrate fault must go through the Sender returned by
// SenderFor(newDc).
type Sender interface {
	GetFile(ctx context.Context, loc FileLocation, offset, limit int64, precise bool) ([]byte, error)
}

// Facade is the typed RPC surface the engine depends on. It never exposes
// the raw gotd/td client: every method returns either a domain result or
// a named error variant.
type Facade interface {
	IterDialogs(ctx context.Context, fn func(model.Channel) error) error
	GetChannels(ctx context.Context, ids []int64) ([]model.Channel, error)
	GetSelfChannel(ctx context.Context) (model.Channel, error)
	GetForumTopics(ctx context.Context, channel model.Channel) ([]model.Topic, error)
	GetHistory(ctx context.Context, channel model.Channel, offsetID, addOffset, limit int) ([]model.Message, error)
	GetReplies(ctx context.Context, channel model.Channel, msgID, limit int) ([]model.Message, error)
	GetFile(ctx context.Context, loc FileLocation, offset, limit int64, precise bool) ([]byte, error)
	SenderFor(ctx context.Context, dcID int) (Sender, error)
}

// facade implements Facade on top of a Manager-supplied tg.Client, the
// same layering internal/telegram/client.go used before it.
type facade struct {
	manager     *Manager
	cfg         *config.Config
	rateLimiter *RateLimiter
	log         *logger.Logger

	mu      sync.Mutex
	senders map[int]Sender // per-DC sender cache, keyed by dcId
}

// NewFacade builds the RPC facade on top of an already-initialized
// session Manager.
func NewFacade(manager *Manager, cfg *config.Config) Facade {
	return &facade{
		manager:     manager,
		cfg:         cfg,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get(),
		senders:     make(map[int]Sender),
	}
}

func (f *facade) api() (*tg.Client, error) {
	proto := f.manager.GetClient()
	if proto == nil {
		return nil, fmt.Errorf("telegram client not authorized")
	}
	return proto.API(), nil
}

func (f *facade) wait(ctx context.Context) error {
	return f.rateLimiter.Wait(ctx)
}

func (f *facade) noteFloodWait(err error) {
	if wait := checkFloodWait(err); wait > 0 {
		f.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
		f.rateLimiter.SetFloodWait(wait)
	}
}

// IterDialogs enumerates dialogs page by page. The upstream library has a
// known bug where a dialog entry with an absent Message aborts the whole
// iteration; the facade guards against it by skipping such entries
// instead of propagating whatever zero-value panic/error they'd cause.
func (f *facade) IterDialogs(ctx context.Context, fn func(model.Channel) error) error {
	api, err := f.api()
	if err != nil {
		return err
	}

	offsetDate, offsetID := 0, 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	for {
		if err := f.wait(ctx); err != nil {
			return err
		}

		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      100,
		})
		if err != nil {
			f.noteFloodWait(err)
			return fmt.Errorf("get dialogs: %w", err)
		}

		var dialogs []tg.DialogClass
		var chats []tg.ChatClass
		var messages []tg.MessageClass
		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			dialogs, chats, messages = d.Dialogs, d.Chats, d.Messages
		case *tg.MessagesDialogsSlice:
			dialogs, chats, messages = d.Dialogs, d.Chats, d.Messages
		default:
			return nil
		}
		if len(dialogs) == 0 {
			return nil
		}

		channelsByID := make(map[int64]*tg.Channel, len(chats))
		for _, c := range chats {
			if ch, ok := c.(*tg.Channel); ok {
				channelsByID[ch.ID] = ch
			}
		}

		for _, d := range dialogs {
			dlg, ok := d.(*tg.Dialog)
			if !ok {
				continue
			}
			// guard against the upstream "message absent" iteration bug:
			// a dialog whose TopMessage has no corresponding entry in
			// messages[] is skipped rather than treated as fatal.
			if !hasMessage(messages, dlg.TopMessage) {
				continue
			}
			peerChan, ok := dlg.Peer.(*tg.PeerChannel)
			if !ok {
				continue
			}
			ch, ok := channelsByID[peerChan.ChannelID]
			if !ok {
				continue
			}
			if err := fn(toModelChannel(ch)); err != nil {
				return err
			}
		}

		last := dialogs[len(dialogs)-1].(*tg.Dialog)
		offsetPeer = &tg.InputPeerChannel{ChannelID: last.Peer.(*tg.PeerChannel).ChannelID}
		offsetID = last.TopMessage
		if len(messages) > 0 {
			if last, ok := messages[len(messages)-1].(*tg.Message); ok {
				offsetDate = last.Date
			}
		}
		if len(dialogs) < 100 {
			return nil
		}
	}
}

func hasMessage(messages []tg.MessageClass, id int) bool {
	for _, m := range messages {
		if msg, ok := m.(*tg.Message); ok && msg.ID == id {
			return true
		}
	}
	return false
}

// selfChannelID is the reserved spider.channels[] identifier for the
// user's own saved-messages peer, resolved through GetSelfChannel rather
// than GetChannels.
const selfChannelID = "me"

// GetSelfChannel resolves the "me" channel spec to the logged-in user's
// own identity, the Telegram peer that backs "Saved Messages". It is not
// a broadcast channel and is never a forum.
func (f *facade) GetSelfChannel(ctx context.Context) (model.Channel, error) {
	if err := f.wait(ctx); err != nil {
		return model.Channel{}, err
	}
	api, err := f.api()
	if err != nil {
		return model.Channel{}, err
	}
	full, err := api.UsersGetFullUser(ctx, &tg.InputUserSelf{})
	if err != nil {
		f.noteFloodWait(err)
		return model.Channel{}, fmt.Errorf("resolve self: %w", err)
	}
	title := "Saved Messages"
	for _, u := range full.Users {
		if user, ok := u.(*tg.User); ok {
			if name := strings.TrimSpace(user.FirstName + " " + user.LastName); name != "" {
				title = name
			}
			break
		}
	}
	return model.Channel{ID: selfChannelID, Title: title}, nil
}

// GetChannels resolves channel descriptors for ids. On any error it
// bisects the id list and recurses on both halves, isolating a single
// corrupt id without failing the whole batch; a single-id failure
// returns an empty result for that id.
func (f *facade) GetChannels(ctx context.Context, ids []int64) ([]model.Channel, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	api, err := f.api()
	if err != nil {
		return nil, err
	}

	inputs := make([]tg.InputChannelClass, 0, len(ids))
	for _, id := range ids {
		inputs = append(inputs, &tg.InputChannel{ChannelID: id})
	}

	resp, err := api.ChannelsGetChannels(ctx, inputs)
	if err != nil {
		f.noteFloodWait(err)
		if len(ids) == 1 {
			f.log.Warn().Int64("channel_id", ids[0]).Err(err).Msg("telegram: dropping unresolvable channel id")
			return nil, nil
		}
		mid := len(ids) / 2
		left, _ := f.GetChannels(ctx, ids[:mid])
		right, _ := f.GetChannels(ctx, ids[mid:])
		return append(left, right...), nil
	}

	out := make([]model.Channel, 0, len(ids))
	for _, c := range resp.GetChats() {
		if ch, ok := c.(*tg.Channel); ok {
			out = append(out, toModelChannel(ch))
		}
	}
	return out, nil
}

func toModelChannel(ch *tg.Channel) model.Channel {
	return model.Channel{
		ID:         fmt.Sprintf("%d", ch.ID),
		AccessHash: ch.AccessHash,
		Title:      ch.Title,
		IsForum:    ch.Forum,
	}
}

func (f *facade) inputPeer(channel model.Channel) (tg.InputPeerClass, error) {
	if channel.ID == selfChannelID {
		return &tg.InputPeerSelf{}, nil
	}
	id, err := parseChannelID(channel.ID)
	if err != nil {
		return nil, err
	}
	return &tg.InputPeerChannel{ChannelID: id, AccessHash: channel.AccessHash}, nil
}

func (f *facade) inputChannel(channel model.Channel) (*tg.InputChannel, error) {
	id, err := parseChannelID(channel.ID)
	if err != nil {
		return nil, err
	}
	return &tg.InputChannel{ChannelID: id, AccessHash: channel.AccessHash}, nil
}

func parseChannelID(id string) (int64, error) {
	var v int64
	if _, err := fmt.Sscanf(id, "%d", &v); err != nil {
		return 0, fmt.Errorf("parse channel id %q: %w", id, err)
	}
	return v, nil
}

// GetForumTopics is best-effort: any error yields an empty topic list.
func (f *facade) GetForumTopics(ctx context.Context, channel model.Channel) ([]model.Topic, error) {
	if !channel.IsForum {
		return nil, nil
	}
	if err := f.wait(ctx); err != nil {
		return nil, nil
	}
	api, err := f.api()
	if err != nil {
		return nil, nil
	}
	peer, err := f.inputPeer(channel)
	if err != nil {
		return nil, nil
	}

	resp, err := api.MessagesGetForumTopics(ctx, &tg.MessagesGetForumTopicsRequest{
		Peer:  peer,
		Limit: 100,
	})
	if err != nil {
		f.noteFloodWait(err)
		return nil, nil
	}

	var out []model.Topic
	for _, t := range resp.Topics {
		if topic, ok := t.(*tg.ForumTopic); ok {
			out = append(out, model.Topic{ID: fmt.Sprintf("%d", topic.ID), Title: topic.Title})
		}
	}
	return out, nil
}

// GetHistory fetches one page of history. See internal/ingestor for the
// offsetId/addOffset paging policy; the facade just forwards the params.
func (f *facade) GetHistory(ctx context.Context, channel model.Channel, offsetID, addOffset, limit int) ([]model.Message, error) {
	if limit > 100 {
		limit = 100
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	api, err := f.api()
	if err != nil {
		return nil, err
	}
	peer, err := f.inputPeer(channel)
	if err != nil {
		return nil, err
	}

	resp, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      peer,
		OffsetID:  offsetID,
		AddOffset: addOffset,
		Limit:     limit,
	})
	if err != nil {
		f.noteFloodWait(err)
		return nil, fmt.Errorf("get history: %w", err)
	}

	return extractMessages(resp, channel)
}

// GetReplies fetches a comment thread. Errors are treated as empty per
// the facade contract — comment expansion is best-effort.
func (f *facade) GetReplies(ctx context.Context, channel model.Channel, msgID, limit int) ([]model.Message, error) {
	if err := f.wait(ctx); err != nil {
		return nil, nil
	}
	api, err := f.api()
	if err != nil {
		return nil, nil
	}
	peer, err := f.inputPeer(channel)
	if err != nil {
		return nil, nil
	}

	resp, err := api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
		Peer:  peer,
		MsgID: msgID,
		Limit: limit,
	})
	if err != nil {
		f.noteFloodWait(err)
		return nil, nil
	}

	msgs, _ := extractMessages(resp, channel)
	for i := range msgs {
		msgs[i].IsComment = true
	}
	return msgs, nil
}

func extractMessages(resp tg.MessagesMessagesClass, channel model.Channel) ([]model.Message, error) {
	var raw []tg.MessageClass
	switch h := resp.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	default:
		return nil, nil
	}

	out := make([]model.Message, 0, len(raw))
	for _, mc := range raw {
		switch m := mc.(type) {
		case *tg.Message:
			out = append(out, parseMessage(m, channel))
		case *tg.MessageService:
			out = append(out, model.Message{ChannelID: channel.ID, MessageID: m.ID, IsService: true})
		}
	}
	return out, nil
}

func parseMessage(m *tg.Message, channel model.Channel) model.Message {
	msg := model.Message{
		ChannelID: channel.ID,
		MessageID: m.ID,
		Date:      int64(m.Date),
		GroupedID: groupedIDString(m.GroupedID),
	}

	if channel.IsForum {
		msg.TopicID = "1"
		if replyHeader, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok && replyHeader.ForumTopic {
			msg.TopicID = fmt.Sprintf("%d", replyHeader.ReplyToMsgID)
		}
	}

	if replies, ok := m.GetReplies(); ok {
		msg.ReplyCount = replies.Replies
		if replies.Comments {
			msg.ReplyChan = fmt.Sprintf("%d", replies.ChannelID)
		}
	}

	if media, ok := m.Media.(*tg.MessageMediaPhoto); ok {
		if p, ok := media.Photo.(*tg.Photo); ok {
			msg.Media.Photo = toModelPhoto(p)
		}
	}
	if media, ok := m.Media.(*tg.MessageMediaDocument); ok {
		if d, ok := media.Document.(*tg.Document); ok {
			msg.Media.Document = toModelDocument(d)
		}
	}

	return msg
}

func groupedIDString(id int64) string {
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("%d", id)
}

func toModelPhoto(p *tg.Photo) *model.Photo {
	out := &model.Photo{
		ID:            p.ID,
		AccessHash:    p.AccessHash,
		FileReference: p.FileReference,
		DCID:          p.DCID,
	}
	for _, s := range p.Sizes {
		switch sz := s.(type) {
		case *tg.PhotoSize:
			out.Sizes = append(out.Sizes, model.PhotoSize{Type: sz.Type, Size: int64(sz.Size)})
		case *tg.PhotoSizeProgressive:
			lens := make([]int64, len(sz.Sizes))
			for i, v := range sz.Sizes {
				lens[i] = int64(v)
			}
			out.Sizes = append(out.Sizes, model.PhotoSize{Type: sz.Type, ProgressiveLen: lens})
		case *tg.PhotoCachedSize:
			out.Sizes = append(out.Sizes, model.PhotoSize{Type: sz.Type, Size: int64(len(sz.Bytes))})
		}
	}
	return out
}

func toModelDocument(d *tg.Document) *model.Document {
	out := &model.Document{
		ID:            d.ID,
		AccessHash:    d.AccessHash,
		FileReference: d.FileReference,
		DCID:          d.DCID,
		Size:          d.Size,
		MimeType:      d.MimeType,
	}
	for _, a := range d.Attributes {
		switch attr := a.(type) {
		case *tg.DocumentAttributeFilename:
			out.Attributes = append(out.Attributes, model.DocumentAttribute{Filename: attr.FileName})
		case *tg.DocumentAttributeAudio:
			out.Attributes = append(out.Attributes, model.DocumentAttribute{IsAudio: true})
		case *tg.DocumentAttributeVideo:
			out.Attributes = append(out.Attributes, model.DocumentAttribute{IsVideo: true})
		}
	}
	return out
}

// GetFile performs a single chunk read. A FileMigrateError is returned
// (not a generic error) when the bytes live on another data center.
func (f *facade) GetFile(ctx context.Context, loc FileLocation, offset, limit int64, precise bool) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	api, err := f.api()
	if err != nil {
		return nil, err
	}
	return doGetFile(ctx, api, loc, offset, limit, precise)
}

func doGetFile(ctx context.Context, api *tg.Client, loc FileLocation, offset, limit int64, precise bool) ([]byte, error) {
	resp, err := api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Precise:  precise,
		Location: loc.toInputLocation(),
		Offset:   offset,
		Limit:    int(limit),
	})
	if err != nil {
		var rpcErr *tgerr.Error
		if ok := tgerrAs(err, &rpcErr); ok && rpcErr.Message == "FILE_MIGRATE_X" {
			return nil, &FileMigrateError{DCID: rpcErr.Argument}
		}
		if dc := fileMigrateDC(err); dc > 0 {
			return nil, &FileMigrateError{DCID: dc}
		}
		return nil, fmt.Errorf("upload.getFile: %w", err)
	}

	switch f := resp.(type) {
	case *tg.UploadFile:
		return f.Bytes, nil
	default:
		return nil, fmt.Errorf("unexpected upload.getFile response %T", resp)
	}
}

func tgerrAs(err error, target **tgerr.Error) bool {
	for err != nil {
		if e, ok := err.(*tgerr.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// fileMigrateDC falls back to string scanning when the error does not
// unwrap cleanly to a *tgerr.Error — mirrors checkFloodWait's defensive
// string parsing for the same family of RPC faults.
func fileMigrateDC(err error) int {
	str := err.Error()
	if !strings.Contains(str, "FILE_MIGRATE_") {
		return 0
	}
	parts := strings.Split(str, "FILE_MIGRATE_")
	if len(parts) < 2 {
		return 0
	}
	var dc int
	_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &dc)
	return dc
}

func checkFloodWait(err error) int {
	if err == nil {
		return 0
	}
	str := err.Error()
	if !strings.Contains(str, "FLOOD_WAIT_") {
		return 0
	}
	parts := strings.Split(str, "FLOOD_WAIT_")
	if len(parts) < 2 {
		return 0
	}
	var seconds int
	_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds)
	return seconds
}

// SenderFor returns a Sender bound to dcID, creating and caching a
// dedicated connection to that data center on first use. Telegram
// requires an imported authorization before a secondary-DC connection
// may serve file requests for the current user.
func (f *facade) SenderFor(ctx context.Context, dcID int) (Sender, error) {
	f.mu.Lock()
	if s, ok := f.senders[dcID]; ok {
		f.mu.Unlock()
		return s, nil
	}
	f.mu.Unlock()

	homeAPI, err := f.api()
	if err != nil {
		return nil, err
	}

	exported, err := homeAPI.AuthExportAuthorization(ctx, dcID)
	if err != nil {
		return nil, fmt.Errorf("export authorization for dc %d: %w", dcID, err)
	}

	client := telegram.NewClient(f.cfg.TGApiID, f.cfg.TGApiHash, telegram.Options{
		Resolver: dcs.Plain(dcs.PlainOptions{}),
		DC:       dcID,
	})

	authDone := make(chan error, 1)
	runDone := make(chan error, 1)
	go func() {
		runDone <- client.Run(ctx, func(runCtx context.Context) error {
			_, err := client.API().AuthImportAuthorization(runCtx, &tg.AuthImportAuthorizationRequest{
				ID:    exported.ID,
				Bytes: exported.Bytes,
			})
			authDone <- err
			if err != nil {
				return fmt.Errorf("import authorization on dc %d: %w", dcID, err)
			}
			<-runCtx.Done()
			return nil
		})
	}()

	// Block until the secondary DC client has actually imported the
	// authorization — otherwise a caller that fetches the sender
	// immediately can race a GetFile against an as-yet-unauthorized
	// connection.
	select {
	case err := <-authDone:
		if err != nil {
			return nil, fmt.Errorf("import authorization on dc %d: %w", dcID, err)
		}
	case err := <-runDone:
		return nil, fmt.Errorf("connect to dc %d: %w", dcID, err)
	case <-time.After(senderReadyTimeout):
		return nil, fmt.Errorf("timed out waiting for dc %d authorization", dcID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sender := &dcSender{dcID: dcID, client: client}

	f.mu.Lock()
	f.senders[dcID] = sender
	f.mu.Unlock()

	return sender, nil
}

// dcSender is the Sender bound to one secondary data center.
type dcSender struct {
	dcID   int
	client *telegram.Client
}

func (s *dcSender) GetFile(ctx context.Context, loc FileLocation, offset, limit int64, precise bool) ([]byte, error) {
	return doGetFile(ctx, s.client.API(), loc, offset, limit, precise)
}
