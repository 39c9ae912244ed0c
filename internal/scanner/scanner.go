// Package scanner implements the parallel stat/hash walker of spec §4.4:
// for each manifest entry, decide whether to enqueue a download.
package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/Sakurayuki-A/stardriver/internal/cache"
	"github.com/Sakurayuki-A/stardriver/internal/events"
	"github.com/Sakurayuki-A/stardriver/internal/model"
)

// hashChunkSize is the streaming read size for local digest computation
// (spec §4.4: "streaming read, 80 KiB chunks").
const hashChunkSize = 80 * 1024

// progressEvery controls how often scan progress is emitted (spec §4.4:
// "every 100 entries and once at completion").
const progressEvery = 100

// Result is the download set the scanner produces: order is unspecified
// (spec §4.4, invariant I5).
type Result struct {
	Tasks []*model.DownloadTask
}

// Scan walks manifest in parallel with a concurrency ceiling of
// cpu_count x 2 (spec §4.4), consulting cache and applying policy, and
// returns the set of entries that need downloading.
func Scan(ctx context.Context, manifest []model.Entry, installRoot string, policy model.ScanPolicy, c *cache.Cache, sink events.Sink) (*Result, error) {
	if sink == nil {
		sink = events.NullSink{}
	}

	sem := semaphore.NewWeighted(int64(runtime.NumCPU() * 2))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var tasks []*model.DownloadTask
	var scanned atomic.Int64
	total := len(manifest)

	for _, entry := range manifest {
		entry := entry
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()

			enqueue := decide(entry, installRoot, policy, c)
			if enqueue {
				destPath := filepath.Join(installRoot, filepath.FromSlash(entry.RelPath()))
				mu.Lock()
				tasks = append(tasks, model.NewTask(entry, destPath))
				mu.Unlock()
			}

			n := scanned.Add(1)
			if n%progressEvery == 0 {
				sink.OnScanProgress(int(n), total)
			}
		}()
	}
	wg.Wait()
	sink.OnScanProgress(total, total)

	return &Result{Tasks: tasks}, nil
}

// decide implements the per-entry algorithm of spec §4.4 steps 1-6. Any
// exception during hashing forces enqueue.
func decide(entry model.Entry, installRoot string, policy model.ScanPolicy, c *cache.Cache) bool {
	destPath := filepath.Join(installRoot, filepath.FromSlash(entry.RelPath()))

	info, err := os.Stat(destPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true // step 1
		}
		return true // any stat exception forces enqueue, same as a hashing exception
	}

	if policy.Has(model.MissingOnly) {
		return false // step 2
	}

	if policy.Has(model.TrustCacheOnly) && c != nil && c.IsFresh(entry.RelPath(), info.ModTime(), info.Size()) {
		return false // step 3
	}

	if policy.Has(model.CompareSize) && info.Size() != entry.Size {
		return true // step 4
	}

	if policy.Has(model.CompareDigest) {
		digest, err := hashFile(destPath)
		if err != nil {
			return true // hashing exception forces enqueue
		}
		if c != nil {
			c.Record(entry.RelPath(), digest, info.Size(), info.ModTime())
		}
		return !strings.EqualFold(digest, entry.MD5)
	}

	return false // step 6
}

// hashFile computes the MD5 hex digest of a local file, streaming in
// 80 KiB chunks (spec §4.4).
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
