// Package pipeline implements the per-file fetch-verify-install worker
// logic of spec §4.6: stream, incrementally digest, write, verify,
// atomically replace, update cache, classify errors, retry with backoff.
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sakurayuki-A/stardriver/internal/backoff"
	"github.com/Sakurayuki-A/stardriver/internal/bufpool"
	"github.com/Sakurayuki-A/stardriver/internal/cache"
	"github.com/Sakurayuki-A/stardriver/internal/errclass"
	"github.com/Sakurayuki-A/stardriver/internal/events"
	"github.com/Sakurayuki-A/stardriver/internal/health"
	"github.com/Sakurayuki-A/stardriver/internal/manifestclient"
	"github.com/Sakurayuki-A/stardriver/internal/model"
	"github.com/Sakurayuki-A/stardriver/internal/ratelimit"
)

const tmpSuffix = ".dtmp"

// progressByteStep and progressInterval rate-limit OnDownloadProgress
// notifications (spec §4.6e: "at most one event per 256 KiB or per 1 s,
// whichever comes first, plus one at completion").
const (
	progressByteStep = 256 * 1024
	progressInterval = time.Second
)

// Deps bundles a task's dependencies so Run's signature stays small.
type Deps struct {
	Opener     manifestclient.StreamOpener
	Cache      *cache.Cache
	Health     *health.Monitor
	Sink       events.Sink
	Limiter    *ratelimit.Limiter
	WorkerID   string
	MaxRetries int
	UseBackup  bool
	Log        zerolog.Logger
}

// Run executes the full fetch-verify-install state machine for one task
// (spec §4.6). It returns nil on success (task.Status() == Completed),
// the context error when cancelled (task.Status() == Cancelled), or the
// last classified error when retries are exhausted (task.Status() ==
// Failed).
func Run(ctx context.Context, task *model.DownloadTask, root model.RootDescriptor, deps Deps) error {
	task.SetStatus(model.StatusDownloading)
	tmpPath := task.DestPath + tmpSuffix

	if err := os.MkdirAll(filepath.Dir(task.DestPath), 0o755); err != nil {
		task.SetStatus(model.StatusFailed)
		task.SetLastError(err.Error())
		return errclass.MarkIOError(err)
	}

	maxAttempts := deps.MaxRetries + 1

	runErr := backoff.Do(ctx, maxAttempts, func(attempt int) error {
		if attempt > 0 {
			task.IncRetry()
		}
		task.SetStatus(model.StatusDownloading)
		return attemptOnce(ctx, task, tmpPath, root, deps)
	})

	if runErr == nil {
		return nil
	}

	kind := errclass.Classify(ctx, runErr)
	if kind == errclass.KindCancelled {
		task.SetStatus(model.StatusCancelled)
		task.SetLastError("cancelled")
		return runErr
	}

	task.SetStatus(model.StatusFailed)
	task.SetLastError(fmt.Sprintf("exceeded max retries: %v", runErr))
	os.Remove(tmpPath)
	deps.Sink.OnFileVerified(deps.WorkerID, task.Entry.RelPath(), false)
	return runErr
}

func attemptOnce(ctx context.Context, task *model.DownloadTask, tmpPath string, root model.RootDescriptor, deps Deps) (attemptErr error) {
	defer func() {
		if r := recover(); r != nil {
			deps.Health.RecordError(errclass.KindUnhandled)
			deps.Log.Error().Interface("panic", r).Str("file", task.Entry.RelPath()).Msg("unhandled exception in fetch attempt")
			attemptErr = fmt.Errorf("unhandled panic: %v", r)
		}
	}()

	stream, err := deps.Opener.OpenStream(ctx, root, task.Entry, deps.UseBackup)
	if err != nil {
		deps.Health.RecordError(errclass.Classify(ctx, err))
		return err
	}
	defer stream.Body.Close()

	expectedLen := stream.ContentLength
	if expectedLen <= 0 {
		expectedLen = task.Entry.Size
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		wrapped := errclass.MarkIOError(err)
		deps.Health.RecordError(errclass.KindIOError)
		return wrapped
	}
	fileOpen := true
	defer func() {
		if fileOpen {
			f.Close()
		}
	}()

	if expectedLen > 0 {
		_ = f.Truncate(expectedLen) // best-effort preallocation, not fatal if unsupported
	}

	var reader io.Reader = stream.Body
	if deps.Limiter != nil {
		reader = ratelimit.NewReader(reader, deps.Limiter)
	}

	digester := md5.New()
	buf := bufpool.Get()
	defer bufpool.Put(buf)

	var total int64
	lastEventAt := time.Now()
	var lastEventBytes int64

readLoop:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := reader.Read((*buf)[:bufpool.ChunkSize])
		if n > 0 {
			chunk := (*buf)[:n]

			var wg sync.WaitGroup
			var writeErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, writeErr = f.Write(chunk)
			}()
			digester.Write(chunk)
			wg.Wait()

			if writeErr != nil {
				return errclass.MarkIOError(writeErr)
			}

			total += int64(n)
			task.SetBytesDone(total)

			now := time.Now()
			if total-lastEventBytes >= progressByteStep || now.Sub(lastEventAt) >= progressInterval {
				deps.Sink.OnDownloadProgress(deps.WorkerID, task.Entry.RelPath(), total, expectedLen)
				lastEventAt = now
				lastEventBytes = total
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				break readLoop
			}
			return readErr
		}
	}

	deps.Sink.OnDownloadProgress(deps.WorkerID, task.Entry.RelPath(), total, expectedLen)

	if err := f.Sync(); err != nil {
		return errclass.MarkIOError(err)
	}
	fileOpen = false
	if err := f.Close(); err != nil {
		return errclass.MarkIOError(err)
	}

	task.SetStatus(model.StatusVerifying)
	digest := hex.EncodeToString(digester.Sum(nil))

	if !strings.EqualFold(digest, task.Entry.MD5) {
		os.Remove(tmpPath)
		deps.Health.RecordError(errclass.KindDigestMismatch)
		// backoff.Do applies errclass.KindDigestMismatch's delay before the
		// next attempt; sleeping here too would double it.
		return errclass.MarkDigestMismatch(fmt.Errorf("digest mismatch for %s: got %s want %s", task.Entry.RelPath(), digest, task.Entry.MD5))
	}

	if info, statErr := os.Stat(task.DestPath); statErr == nil && info.Mode()&0o200 == 0 {
		_ = os.Chmod(task.DestPath, info.Mode()|0o200)
	}

	if err := os.Rename(tmpPath, task.DestPath); err != nil {
		deps.Health.RecordError(errclass.KindIOError)
		return errclass.MarkIOError(err)
	}

	finalInfo, err := os.Stat(task.DestPath)
	if err != nil {
		return errclass.MarkIOError(err)
	}
	if deps.Cache != nil {
		deps.Cache.Record(task.Entry.RelPath(), digest, finalInfo.Size(), finalInfo.ModTime())
	}

	task.SetStatus(model.StatusCompleted)
	deps.Health.RecordSuccess()
	deps.Sink.OnFileVerified(deps.WorkerID, task.Entry.RelPath(), true)
	return nil
}
