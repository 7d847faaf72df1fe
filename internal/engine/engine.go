// Package engine wires config, telegram, the ingestor, downloader and
// scheduler, and the checkpoint store into a single value constructed
// once at startup: an explicit Engine value, no ambient globals. Grounded
// on cmd/collector/main.go's wiring order.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tgmedia/crawler/internal/config"
	"github.com/tgmedia/crawler/internal/control"
	"github.com/tgmedia/crawler/internal/downloader"
	"github.com/tgmedia/crawler/internal/ingestor"
	"github.com/tgmedia/crawler/internal/logger"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/progress"
	"github.com/tgmedia/crawler/internal/scheduler"
	"github.com/tgmedia/crawler/internal/telegram"
)

// Engine owns the whole crawler core for the lifetime of a process.
type Engine struct {
	cfg   *config.Config
	view  *config.View
	log   *logger.Logger
	hub   *progress.Hub
	sched *scheduler.Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps carries the already-constructed infrastructure the engine needs
// (database-backed repository, telegram manager, optional progress
// publisher) so main() retains ownership of their lifecycles.
type Deps struct {
	Checkpoint scheduler.Checkpoint
	Facade     telegram.Facade
	Hub        *progress.Hub
	ExtraSink  func(model.Progress) // e.g. the NATS publisher adapter; may be nil
}

// New resolves the configured channel list against the facade, builds the
// ingestor/downloader/scheduler stack, and returns an unstarted Engine.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Engine, error) {
	view := config.NewView(cfg)
	log := logger.Get()

	lookup := policySizeLookup(view)
	ing := ingestor.New(deps.Facade, lookup)
	dl := downloader.New(deps.Facade, downloader.Options{
		AccelerationEnabled: view.DownloadAcceleration(),
		ChunkSize:           view.ChunkSize(),
		DownloadThreads:     view.DownloadThreads(),
		MaxRetries:          view.MaxRetries(),
	})

	specs, err := resolveChannelSpecs(ctx, deps.Facade, view, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve configured channels: %w", err)
	}

	progressFn := fanOut(deps.Hub, deps.ExtraSink)

	sched, err := scheduler.New(ctx, ing, dl, deps.Checkpoint, scheduler.PathConfig{
		DataDir:          cfg.DataDir,
		GroupMessage:     view.GroupMessage(),
		FileOrganization: view.FileOrganizationEnabled(),
		CreateSubfolders: view.CreateSubfolders(),
	}, progressFn, specs, scheduler.Options{
		Concurrency:       view.Concurrency(),
		IngestionInterval: secondsToDuration(view.IngestionInterval()),
	})
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	return &Engine{cfg: cfg, view: view, log: log, hub: deps.Hub, sched: sched}, nil
}

// Run starts the scheduler in the background and returns immediately.
// Call Stop (directly, or via the /api/v1/stop control endpoint) to end
// it cooperatively.
func (e *Engine) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sched.Run(runCtx); err != nil {
			e.log.Error().Err(err).Msg("engine: scheduler exited with error")
		}
	}()
}

// Stop cancels the scheduler's run context and waits for it to drain.
// Satisfies control.Engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Status satisfies control.Engine for the /api/v1/status endpoint.
func (e *Engine) Status() control.Status {
	snapshot := e.sched.Snapshot()
	channels := make([]control.ChannelState, 0, len(snapshot))
	for _, c := range snapshot {
		channels = append(channels, control.ChannelState{
			ChannelID:   c.ChannelID,
			LastID:      c.LastID,
			QueueDepth:  c.QueueDepth,
			Downloading: c.Downloading,
		})
	}
	return control.Status{
		Running:      e.sched.Running(),
		ChannelCount: len(channels),
		Channels:     channels,
	}
}

func fanOut(hub *progress.Hub, extra func(model.Progress)) func(model.Progress) {
	return func(p model.Progress) {
		if hub != nil {
			hub.Broadcast(progress.ProgressEvent(p))
		}
		if extra != nil {
			extra(p)
		}
	}
}
