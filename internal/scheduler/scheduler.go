// Package scheduler implements the download scheduler (spec component
// D): an ingestion tick that keeps each channel's queue topped up, and a
// bounded dispatcher pool that drains those queues with strict
// per-channel serialization and oldest-first fairness across channels.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tgmedia/crawler/internal/downloader"
	"github.com/tgmedia/crawler/internal/ingestor"
	"github.com/tgmedia/crawler/internal/logger"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/policy"
)

const defaultIngestionInterval = 10 * time.Second

// Ingestor is the narrow seam the scheduler depends on; *ingestor.Ingestor
// satisfies it, and tests supply a fake.
type Ingestor interface {
	Fetch(ctx context.Context, channel model.Channel, state model.ChannelState, strategy ingestor.NewChannelStrategy) (ingestor.Result, error)
}

// Downloader is the narrow seam the scheduler depends on; *downloader.Downloader
// satisfies it, and tests supply a fake.
type Downloader interface {
	Download(ctx context.Context, media model.Media, destPath string, progress downloader.ProgressFunc) error
}

// Checkpoint is the persistence seam for per-channel state. The core
// only ever writes back lastId; mediasAllowed is read-only configuration
// the engine is handed at startup.
type Checkpoint interface {
	Load(ctx context.Context, channelID string) (model.ChannelState, error)
	SaveLastID(ctx context.Context, channelID string, lastID int) error
}

// PathConfig mirrors the subset of the configuration surface the
// scheduler needs to compute a destination path.
type PathConfig struct {
	DataDir          string
	GroupMessage     bool
	FileOrganization bool
	CreateSubfolders bool
}

// ChannelSpec is one entry of spider.channels[] plus its per-channel
// overrides, as resolved by the configuration view before Run starts.
type ChannelSpec struct {
	Channel            model.Channel
	MediasAllowed      map[model.MediaKind]bool
	NewChannelStrategy ingestor.NewChannelStrategy
}

// Options configures a Scheduler. Zero values fall back to spec
// defaults.
type Options struct {
	Concurrency       int
	IngestionInterval time.Duration
}

func (o Options) normalized() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.IngestionInterval <= 0 {
		o.IngestionInterval = defaultIngestionInterval
	}
	return o
}

// Scheduler is the engine's component D.
type Scheduler struct {
	ing        Ingestor
	dl         Downloader
	checkpoint Checkpoint
	pathCfg    PathConfig
	progress   func(model.Progress)
	opts       Options
	log        *logger.Logger

	mu      sync.Mutex
	slots   map[string]*slot
	writes  chan checkpointWrite
	running atomic.Bool
}

type slot struct {
	channel      model.Channel
	state        model.ChannelState
	strategy     ingestor.NewChannelStrategy
	queue        []model.Task
	downloading  bool
	lastDownload time.Time
}

type checkpointWrite struct {
	channelID string
	lastID    int
}

// New builds a Scheduler. specs seeds one slot per configured channel,
// loading its persisted checkpoint through checkpoint.Load.
func New(ctx context.Context, ing Ingestor, dl Downloader, checkpoint Checkpoint, pathCfg PathConfig, progress func(model.Progress), specs []ChannelSpec, opts Options) (*Scheduler, error) {
	s := &Scheduler{
		ing:        ing,
		dl:         dl,
		checkpoint: checkpoint,
		pathCfg:    pathCfg,
		progress:   progress,
		opts:       opts.normalized(),
		log:        logger.Get(),
		slots:      make(map[string]*slot, len(specs)),
		writes:     make(chan checkpointWrite, 64),
	}

	for _, spec := range specs {
		state, err := checkpoint.Load(ctx, spec.Channel.ID)
		if err != nil {
			return nil, err
		}
		if state.MediasAllowed == nil {
			state.MediasAllowed = spec.MediasAllowed
		}
		s.slots[spec.Channel.ID] = &slot{
			channel:  spec.Channel,
			state:    state,
			strategy: spec.NewChannelStrategy,
		}
	}

	return s, nil
}

// Run blocks until ctx is canceled, driving the ingestion tick and a
// pool of opts.Concurrency dispatcher workers. Stop is cooperative: once
// ctx is canceled no new tasks are enqueued and in-flight work drains on
// its own; the checkpoint invariant holds regardless of how it ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runCheckpointWriter(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runIngestionTick(ctx)
	}()

	for i := 0; i < s.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runDispatcherWorker(ctx)
		}()
	}

	wg.Wait()
	return nil
}

func (s *Scheduler) runCheckpointWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-s.writes:
			if err := s.checkpoint.SaveLastID(ctx, w.channelID, w.lastID); err != nil {
				s.log.Error().Err(err).Str("channel_id", w.channelID).Msg("scheduler: persist checkpoint failed")
			}
		}
	}
}

func (s *Scheduler) persistAsync(channelID string, lastID int) {
	select {
	case s.writes <- checkpointWrite{channelID: channelID, lastID: lastID}:
	default:
		// the write buffer is full: this write is dropped, and the
		// channel's next successful task persists a newer lastId.
	}
}

func (s *Scheduler) runIngestionTick(ctx context.Context) {
	ticker := time.NewTicker(s.opts.IngestionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.running.Load() {
				continue
			}
			s.ingestAll(ctx)
		}
	}
}

func (s *Scheduler) ingestAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.slots))
	for id, sl := range s.slots {
		if len(sl.queue) == 0 {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		if !s.running.Load() || ctx.Err() != nil {
			return
		}
		s.ingestOne(ctx, id)
	}
}

func (s *Scheduler) ingestOne(ctx context.Context, channelID string) {
	s.mu.Lock()
	sl, ok := s.slots[channelID]
	if !ok || len(sl.queue) != 0 {
		s.mu.Unlock()
		return
	}
	channel, state, strategy := sl.channel, sl.state, sl.strategy
	s.mu.Unlock()

	result, err := s.ing.Fetch(ctx, channel, state, strategy)
	if err != nil {
		// ingestion failure: leave lastId unchanged, next tick retries.
		s.log.Error().Err(err).Str("channel_id", channelID).Msg("scheduler: ingestion fetch failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok = s.slots[channelID]
	if !ok {
		return
	}
	if result.Anchor != nil {
		sl.state.LastID = *result.Anchor
		s.persistAsync(channelID, sl.state.LastID)
		return
	}
	sl.queue = append(sl.queue, result.Tasks...)
}

func (s *Scheduler) runDispatcherWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, ok := s.pickChannel()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		s.processOne(ctx, id)
	}
}

// ChannelSnapshot is a point-in-time read of one channel's slot, for the
// control surface's status endpoint.
type ChannelSnapshot struct {
	ChannelID   string
	LastID      int
	QueueDepth  int
	Downloading bool
}

// Snapshot returns a point-in-time view of every configured channel.
func (s *Scheduler) Snapshot() []ChannelSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChannelSnapshot, 0, len(s.slots))
	for id, sl := range s.slots {
		out = append(out, ChannelSnapshot{
			ChannelID:   id,
			LastID:      sl.state.LastID,
			QueueDepth:  len(sl.queue),
			Downloading: sl.downloading,
		})
	}
	return out
}

// Running reports whether Run is currently active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// pickChannel selects the channel whose queue is non-empty, whose
// downloading flag is false, and whose lastDownload is smallest
// (oldest-first fairness), marking it downloading=true atomically with
// the selection.
func (s *Scheduler) pickChannel() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bestID string
	var best *slot
	for id, sl := range s.slots {
		if len(sl.queue) == 0 || sl.downloading {
			continue
		}
		if best == nil || sl.lastDownload.Before(best.lastDownload) {
			bestID, best = id, sl
		}
	}
	if best == nil {
		return "", false
	}
	best.downloading = true
	return bestID, true
}

func (s *Scheduler) processOne(ctx context.Context, channelID string) {
	s.mu.Lock()
	sl := s.slots[channelID]
	task := sl.queue[0]
	sl.queue = sl.queue[1:]
	channel := sl.channel
	s.mu.Unlock()

	ok := s.runTask(ctx, channel, task)

	s.mu.Lock()
	if ok && !task.Message.IsComment && task.Message.MessageID > sl.state.LastID {
		sl.state.LastID = task.Message.MessageID
		s.persistAsync(channelID, sl.state.LastID)
	}
	sl.downloading = false
	sl.lastDownload = time.Now()
	s.mu.Unlock()
}

// runTask invokes the downloader once per allowed media kind present on
// the message, sequentially in photo/video/audio/file order. All must
// succeed for the task to count as complete.
func (s *Scheduler) runTask(ctx context.Context, channel model.Channel, task model.Task) bool {
	allowed := make(map[model.MediaKind]bool, len(task.AllowedKinds))
	for _, k := range task.AllowedKinds {
		allowed[k] = true
	}

	kind, hasMedia := task.Message.Media.Kind()
	if !hasMedia || !allowed[kind] {
		return true // nothing to download; vacuously complete
	}

	rawName, _ := task.Message.Media.RawFileName()
	dest := policy.BuildPath(policy.PathOptions{
		DataDir:          s.pathCfg.DataDir,
		ChannelTitle:     channel.Title,
		ChannelID:        channel.ID,
		TopicID:          task.Message.TopicID,
		GroupMessage:     s.pathCfg.GroupMessage,
		GroupedID:        task.Message.GroupedID,
		FileOrganization: s.pathCfg.FileOrganization,
		CreateSubfolders: s.pathCfg.CreateSubfolders,
		MediaKind:        kind,
		MessageID:        task.Message.MessageID,
		RawFileName:      rawName,
		MimeType:         mimeTypeOf(task.Message),
	})

	err := s.dl.Download(ctx, task.Message.Media, dest, func(downloaded, total int64) {
		if s.progress != nil {
			s.progress(model.Progress{
				ChannelID:       channel.ID,
				FileName:        dest,
				DownloadedBytes: downloaded,
				TotalBytes:      total,
			})
		}
	})
	if err != nil {
		s.log.Error().Err(err).Str("channel_id", channel.ID).Int("msg_id", task.Message.MessageID).Msg("scheduler: download failed")
		return false
	}
	return true
}

func mimeTypeOf(msg model.Message) string {
	if msg.Media.Document != nil {
		return msg.Media.Document.MimeType
	}
	return ""
}
