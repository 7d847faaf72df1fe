// Package downloader implements the chunk-parallel media downloader: it
// splits a file into fixed-size chunks, fetches them across up to
// T parallel connections, retries per chunk, follows Telegram's
// data-center migration fault, and writes chunks to disk in strict
// offset order while bounding memory to O(threads).
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tgmedia/crawler/internal/logger"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/telegram"
)

const (
	oneMiB = 1 << 20

	defaultChunkSize      = 512 * 1024
	defaultDownloadThread = 5
	minDownloadThreads    = 1
	maxDownloadThreads    = 8
	defaultMaxRetries     = 3
)

// Options configures a Downloader. Zero values are replaced with
// defaults by New.
type Options struct {
	AccelerationEnabled bool
	ChunkSize           int64
	DownloadThreads     int
	MaxRetries          int
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.DownloadThreads <= 0 {
		o.DownloadThreads = defaultDownloadThread
	}
	if o.DownloadThreads < minDownloadThreads {
		o.DownloadThreads = minDownloadThreads
	}
	if o.DownloadThreads > maxDownloadThreads {
		o.DownloadThreads = maxDownloadThreads
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

// ProgressFunc receives (bytesDownloaded, totalBytes) after every
// successfully written chunk. totalBytes is -1 when the source size
// could not be determined up front (single-shot fallback, unknown size).
type ProgressFunc func(downloaded, total int64)

// Downloader is the chunk-parallel media downloader.
type Downloader struct {
	facade telegram.Facade
	opts   Options
	log    *logger.Logger
}

// New builds a Downloader bound to facade.
func New(facade telegram.Facade, opts Options) *Downloader {
	return &Downloader{facade: facade, opts: opts.normalized(), log: logger.Get()}
}

// Download writes media's bytes to destPath. On success the file at
// destPath is byte-identical to the source; on error the stream is
// closed and a partial file may remain — callers must treat that as
// "not yet downloaded" (the checkpoint must not advance).
func (d *Downloader) Download(ctx context.Context, media model.Media, destPath string, progress ProgressFunc) error {
	if progress == nil {
		progress = func(int64, int64) {}
	}

	loc, err := locationFor(media)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(destPath), err)
	}

	size, sizeKnown := media.SizeBytes()

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer file.Close()

	useAccelerated := d.opts.AccelerationEnabled && sizeKnown && size >= oneMiB

	if !sizeKnown {
		return d.downloadUnknownSize(ctx, loc, file, progress)
	}
	if !useAccelerated {
		return d.downloadChunks(ctx, loc, file, size, 1, size, progress)
	}
	return d.downloadChunks(ctx, loc, file, size, d.opts.DownloadThreads, d.opts.ChunkSize, progress)
}

func locationFor(media model.Media) (telegram.FileLocation, error) {
	switch {
	case media.Photo != nil:
		return telegram.FileLocation{
			DCID:          media.Photo.DCID,
			IsPhoto:       true,
			ID:            media.Photo.ID,
			AccessHash:    media.Photo.AccessHash,
			FileReference: media.Photo.FileReference,
			ThumbSize:     media.Photo.ThumbSize(),
		}, nil
	case media.Document != nil:
		return telegram.FileLocation{
			DCID:          media.Document.DCID,
			ID:            media.Document.ID,
			AccessHash:    media.Document.AccessHash,
			FileReference: media.Document.FileReference,
		}, nil
	default:
		return telegram.FileLocation{}, errors.New("media carries no downloadable location")
	}
}

// downloadUnknownSize is the facade's single-shot fallback used when the
// total size cannot be determined: a strictly sequential read, one chunk
// at a time, stopping on a short (or empty) read.
func (d *Downloader) downloadUnknownSize(ctx context.Context, loc telegram.FileLocation, file *os.File, progress ProgressFunc) error {
	sender := newSenderState(d.facade, loc.DCID)
	var downloaded int64

	for {
		chunk := &model.Chunk{Offset: downloaded, Limit: d.opts.ChunkSize, Status: model.ChunkPending}
		if err := fetchChunkWithRetry(ctx, d.facade, sender, loc, chunk, d.opts.MaxRetries, d.log); err != nil {
			return fmt.Errorf("download offset %d: %w", chunk.Offset, err)
		}
		if len(chunk.Data) > 0 {
			if _, err := file.Write(chunk.Data); err != nil {
				return fmt.Errorf("write offset %d: %w", chunk.Offset, err)
			}
			downloaded += int64(len(chunk.Data))
			progress(downloaded, -1)
		}
		if int64(len(chunk.Data)) < chunk.Limit {
			return nil
		}
	}
}

// downloadChunks runs the general chunk-parallel path. threads == 1
// degenerates into a strictly sequential single-connection download,
// which is how the "fallback to standard download" branch is unified
// with the accelerated path: same code, same write-cursor, same
// progress events, different concurrency knobs.
func (d *Downloader) downloadChunks(ctx context.Context, loc telegram.FileLocation, file *os.File, size int64, threads int, chunkSize int64, progress ProgressFunc) error {
	specs := splitChunks(size, chunkSize)
	if len(specs) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sender := newSenderState(d.facade, loc.DCID)

	gate := make(chan struct{}, 2*threads)      // in-flight + buffered
	concurrency := make(chan struct{}, threads) // actual in-flight network calls
	results := make(chan *model.Chunk)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup
	var errOnce sync.Once
	reportErr := func(err error) {
		errOnce.Do(func() {
			errCh <- err
			cancel()
		})
	}

	go func() {
		for _, spec := range specs {
			select {
			case gate <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				close(results)
				return
			}

			wg.Add(1)
			go func(chunk *model.Chunk) {
				defer wg.Done()
				select {
				case concurrency <- struct{}{}:
				case <-ctx.Done():
					return
				}
				chunk.Status = model.ChunkInFlight
				err := fetchChunkWithRetry(ctx, d.facade, sender, loc, chunk, d.opts.MaxRetries, d.log)
				<-concurrency
				if err != nil {
					reportErr(fmt.Errorf("download offset %d: %w", chunk.Offset, err))
					return
				}
				chunk.Status = model.ChunkCompleted
				select {
				case results <- chunk:
				case <-ctx.Done():
				}
			}(spec)
		}
		wg.Wait()
		close(results)
	}()

	cursor := int64(0)
	buffered := make(map[int64][]byte)
	var downloaded int64

	for {
		select {
		case err := <-errCh:
			return err
		case res, ok := <-results:
			if !ok {
				if cursor >= size {
					return nil
				}
				select {
				case err := <-errCh:
					return err
				default:
					return fmt.Errorf("download incomplete: wrote %d of %d bytes", cursor, size)
				}
			}
			buffered[res.Offset] = res.Data
			for {
				data, ready := buffered[cursor]
				if !ready {
					break
				}
				if _, err := file.Write(data); err != nil {
					cancel()
					return fmt.Errorf("write offset %d: %w", cursor, err)
				}
				delete(buffered, cursor)
				cursor += int64(len(data))
				downloaded += int64(len(data))
				progress(downloaded, size)
				<-gate // chunk has left memory: release its in-flight+buffered slot
			}
		}
	}
}

func splitChunks(size, chunkSize int64) []*model.Chunk {
	if size <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = size
	}
	var out []*model.Chunk
	for offset := int64(0); offset < size; offset += chunkSize {
		limit := chunkSize
		if offset+limit > size {
			limit = size - offset
		}
		out = append(out, &model.Chunk{Offset: offset, Limit: limit, Status: model.ChunkPending})
	}
	return out
}

// senderState is the "home Sender initialized for the media's dcId", the
// per-file read state: swappable atomically on a FileMigrate fault so every
// in-flight and future chunk fetch observes the new data center.
type senderState struct {
	facade telegram.Facade
	mu     sync.RWMutex
	dcID   int
	sender telegram.Sender // nil until the first migration
}

func newSenderState(facade telegram.Facade, dcID int) *senderState {
	return &senderState{facade: facade, dcID: dcID}
}

func (s *senderState) get() (telegram.Sender, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sender, s.dcID
}

func (s *senderState) migrateTo(ctx context.Context, newDC int) error {
	sender, err := s.facade.SenderFor(ctx, newDC)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sender = sender
	s.dcID = newDC
	s.mu.Unlock()
	return nil
}

// fetchChunkWithRetry drives chunk's state machine: Pending -> InFlight
// -> (Completed | Retrying | Failed), writing the fetched bytes into
// chunk.Data on success. DC migration never consumes the retry budget
// (chunk.Retries is left untouched); any other error does, with a linear
// back-off of 1s * attempt and chunk.Status set to Retrying while it
// waits.
func fetchChunkWithRetry(ctx context.Context, facade telegram.Facade, sender *senderState, loc telegram.FileLocation, chunk *model.Chunk, maxRetries int, log *logger.Logger) error {
	chunk.Status = model.ChunkInFlight
	for {
		cur, dcID := sender.get()
		l := loc
		l.DCID = dcID

		var data []byte
		var err error
		if cur != nil {
			data, err = cur.GetFile(ctx, l, chunk.Offset, chunk.Limit, true)
		} else {
			data, err = facade.GetFile(ctx, l, chunk.Offset, chunk.Limit, true)
		}
		if err == nil {
			chunk.Data = data
			return nil
		}

		var migrate *telegram.FileMigrateError
		if errors.As(err, &migrate) {
			log.Warn().Int64("offset", chunk.Offset).Int("new_dc", migrate.DCID).Msg("downloader: file migrate, switching sender")
			if mErr := sender.migrateTo(ctx, migrate.DCID); mErr != nil {
				chunk.Status = model.ChunkFailed
				return fmt.Errorf("migrate to dc %d: %w", migrate.DCID, mErr)
			}
			continue // no retry budget consumed
		}

		chunk.Retries++
		if chunk.Retries > maxRetries {
			chunk.Status = model.ChunkFailed
			return fmt.Errorf("chunk at offset %d failed after %d retries: %w", chunk.Offset, maxRetries, err)
		}
		chunk.Status = model.ChunkRetrying
		log.Warn().Int64("offset", chunk.Offset).Int("attempt", chunk.Retries).Err(err).Msg("downloader: chunk fetch failed, retrying")
		select {
		case <-time.After(time.Duration(chunk.Retries) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
