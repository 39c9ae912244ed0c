// Package model holds the data types shared across the download
// orchestrator: manifest entries, the root descriptor, scan policy flags,
// and the mutable download task that flows through the scheduler and the
// fetch-verify-install pipeline.
package model

import (
	"strings"
	"sync/atomic"
)

// Channel identifies which base-URL family an entry must be fetched from.
type Channel int

const (
	ChannelUnknown Channel = iota
	ChannelPatch
	ChannelMaster
)

// patSuffix is stripped from a manifest entry's name to produce the
// relative on-disk path.
const patSuffix = ".pat"

// Entry is one row of the de-duplicated manifest union.
type Entry struct {
	// Name is the raw manifest filename, suffix included.
	Name string
	// Size is the expected length in bytes.
	Size int64
	// MD5 is the expected digest, hex-encoded. Comparisons are
	// case-insensitive; NormalizedMD5 holds the lowercase form.
	MD5 string
	// Channel selects patch vs. master base URL. ChannelUnknown defers to
	// whatever the caller's default channel is.
	Channel Channel
	// Reboot marks the entry as belonging to the reboot dataset. It is
	// informational only and never affects scheduling or verification.
	Reboot bool
}

// RelPath returns the on-disk relative path: the manifest name with the
// trailing ".pat" suffix stripped.
func (e Entry) RelPath() string {
	return strings.TrimSuffix(e.Name, patSuffix)
}

// Key returns the case-insensitive de-duplication key for this entry:
// the normalized relative path, lower-cased.
func (e Entry) Key() string {
	return strings.ToLower(e.RelPath())
}

// NormalizedMD5 returns the expected digest lower-cased for
// case-insensitive comparison.
func (e Entry) NormalizedMD5() string {
	return strings.ToLower(e.MD5)
}

// RootDescriptor is the parsed `key=value` root document (spec §4.1).
type RootDescriptor struct {
	PatchURL       string
	MasterURL      string
	BackupPatchURL string
	BackupMasterURL string
	ThreadNum         int
	ParallelThreadNum int
	RetryNum          int
	TimeoutMS         int
}

// Defaults applied to any field absent from the root document.
const (
	DefaultThreadNum         = 1
	DefaultParallelThreadNum = 1
	DefaultRetryNum          = 10
	DefaultTimeoutMS         = 30000
)

// BaseURL picks the correct base URL for a channel + backup selection.
func (r RootDescriptor) BaseURL(ch Channel, useBackup bool) string {
	switch ch {
	case ChannelMaster:
		if useBackup {
			return r.BackupMasterURL
		}
		return r.MasterURL
	default: // patch and unknown default to the patch family
		if useBackup {
			return r.BackupPatchURL
		}
		return r.PatchURL
	}
}

// ClientSelection picks which sub-lists are unioned into the full dataset.
type ClientSelection int

const (
	FullDataset ClientSelection = iota
	MainOnly
	LauncherOnly
)

// ScanPolicy is a set of independent flags controlling how the scanner
// decides whether a local file needs downloading.
type ScanPolicy uint8

const (
	MissingOnly ScanPolicy = 1 << iota
	CompareSize
	CompareDigest
	ForceRehash
	TrustCacheOnly
)

// DefaultScanPolicy matches spec §3: "CompareSize | CompareDigest is the default."
const DefaultScanPolicy = CompareSize | CompareDigest

// Has reports whether every bit in flag is set in p.
func (p ScanPolicy) Has(flag ScanPolicy) bool {
	return p&flag == flag
}

// TaskStatus is the lifecycle state of a DownloadTask.
type TaskStatus int32

const (
	StatusPending TaskStatus = iota
	StatusDownloading
	StatusVerifying
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusVerifying:
		return "verifying"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Tier is one of the three size buckets the scheduler queues by.
type Tier int

const (
	TierLarge Tier = iota
	TierMedium
	TierSmall
)

func (t Tier) String() string {
	switch t {
	case TierLarge:
		return "large"
	case TierMedium:
		return "medium"
	case TierSmall:
		return "small"
	default:
		return "unknown"
	}
}

// Tier size thresholds (spec §4.5).
const (
	LargeThreshold  int64 = 50 * 1024 * 1024
	MediumThreshold int64 = 5 * 1024 * 1024
)

// TierOf classifies an expected file size into its scheduler tier.
func TierOf(size int64) Tier {
	switch {
	case size > LargeThreshold:
		return TierLarge
	case size >= MediumThreshold:
		return TierMedium
	default:
		return TierSmall
	}
}

// DownloadTask references one manifest entry as it flows through the
// scheduler and a worker's fetch-verify-install pipeline. Owned by the
// scheduler while queued, by a worker while in flight.
type DownloadTask struct {
	Entry   Entry
	DestPath string

	status     atomic.Int32
	bytesDone  atomic.Int64
	retryCount atomic.Int32
	lastErr    atomic.Value // string
}

// NewTask builds a pending task for entry at destPath.
func NewTask(entry Entry, destPath string) *DownloadTask {
	t := &DownloadTask{Entry: entry, DestPath: destPath}
	t.status.Store(int32(StatusPending))
	return t
}

func (t *DownloadTask) Status() TaskStatus { return TaskStatus(t.status.Load()) }

func (t *DownloadTask) SetStatus(s TaskStatus) { t.status.Store(int32(s)) }

func (t *DownloadTask) BytesDone() int64 { return t.bytesDone.Load() }

func (t *DownloadTask) AddBytes(n int64) { t.bytesDone.Add(n) }

func (t *DownloadTask) SetBytesDone(n int64) { t.bytesDone.Store(n) }

func (t *DownloadTask) RetryCount() int { return int(t.retryCount.Load()) }

func (t *DownloadTask) IncRetry() { t.retryCount.Add(1) }

func (t *DownloadTask) LastError() string {
	if v, ok := t.lastErr.Load().(string); ok {
		return v
	}
	return ""
}

func (t *DownloadTask) SetLastError(msg string) { t.lastErr.Store(msg) }

// Tier classifies this task by its entry's expected size.
func (t *DownloadTask) Tier() Tier { return TierOf(t.Entry.Size) }
