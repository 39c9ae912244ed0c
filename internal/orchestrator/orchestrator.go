// Package orchestrator drives one full synchronization pass end to end
// (spec §4.7): load the digest cache, fetch the manifest union, scan the
// install tree, schedule and run the fetch-verify-install pipeline across
// a fixed worker pool, then flush the cache and report a summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sakurayuki-A/stardriver/internal/cache"
	"github.com/Sakurayuki-A/stardriver/internal/events"
	"github.com/Sakurayuki-A/stardriver/internal/health"
	"github.com/Sakurayuki-A/stardriver/internal/manifestclient"
	"github.com/Sakurayuki-A/stardriver/internal/model"
	"github.com/Sakurayuki-A/stardriver/internal/pipeline"
	"github.com/Sakurayuki-A/stardriver/internal/ratelimit"
	"github.com/Sakurayuki-A/stardriver/internal/scanner"
	"github.com/Sakurayuki-A/stardriver/internal/scheduler"
)

// ErrAlreadyRunning guards against a second concurrent pass against the
// same Orchestrator (spec §4.7 invariant: "a run may not overlap itself").
var ErrAlreadyRunning = errors.New("orchestrator: a sync is already running")

// interListPause is the fixed pause between the three manifest sub-list
// GETs (spec §4.3: "500ms between list fetches").
const interListPause = 500 * time.Millisecond

// healthCheckInterval is how often the background cron job evaluates
// health.Monitor.ShouldResetPool (spec §4.7, §4.8).
const healthCheckInterval = "@every 30s"

// Options configures one Run call.
type Options struct {
	Opener      manifestclient.StreamOpener
	InstallRoot string
	CachePath   string
	Selection   model.ClientSelection
	Policy      model.ScanPolicy
	// MaxRetries overrides the per-task retry count. Zero means no
	// override: Run falls back to the root descriptor's advisory
	// RetryNum once it's fetched (spec §4.7 step 3).
	MaxRetries int
	UseBackup  bool
	Limiter    *ratelimit.Limiter
	Sink       events.Sink
	Log        zerolog.Logger
}

// Summary reports the outcome of a completed run (spec §4.7, property P6:
// Succeeded+Failed+Cancelled always equals the scanned download set size).
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
}

// Orchestrator runs synchronization passes. Its zero value is usable; New
// exists for symmetry with the rest of the package set.
type Orchestrator struct {
	running atomic.Bool
}

// New creates an idle Orchestrator.
func New() *Orchestrator { return &Orchestrator{} }

// Run executes one full pass (spec §4.7): cache.load -> fetch_root ->
// fetch manifest union -> scan -> schedule -> download -> cache.flush ->
// emit completed.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Summary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	sink := opts.Sink
	if sink == nil {
		sink = events.NullSink{}
	}
	runID := uuid.NewString()
	log := opts.Log.With().Str("run_id", runID).Logger()
	log.Info().Str("install_root", opts.InstallRoot).Msg("starting sync run")

	c := cache.New(opts.CachePath, log)
	if err := c.Load(); err != nil {
		return Summary{}, fmt.Errorf("loading digest cache: %w", err)
	}

	root, err := opts.Opener.FetchRoot(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetching root descriptor: %w", err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = root.RetryNum
		log.Info().Int("retry_num", maxRetries).Msg("no max-retries override configured, using the manifest's advisory retry count")
	}

	union, err := FetchManifestUnion(ctx, opts.Opener, root, opts.Selection)
	if err != nil {
		return Summary{}, fmt.Errorf("fetching manifest lists: %w", err)
	}

	scanResult, err := scanner.Scan(ctx, union, opts.InstallRoot, opts.Policy, c, sink)
	if err != nil {
		return Summary{}, fmt.Errorf("scanning install tree: %w", err)
	}

	total := len(scanResult.Tasks)
	if total == 0 {
		sink.OnDownloadCompleted(0, 0, 0)
		c.Flush()
		return Summary{}, nil
	}

	sink.OnDownloadStarted(total)

	sched := scheduler.New()
	for _, t := range scanResult.Tasks {
		sched.Enqueue(t)
	}

	monitor := health.New()

	cronSched := cron.New()
	_, _ = cronSched.AddFunc(healthCheckInterval, func() {
		if monitor.ShouldResetPool() {
			log.Warn().
				Int64("total_requests", monitor.TotalRequests()).
				Int64("total_errors", monitor.TotalErrors()).
				Msg("connection pool looks unhealthy, consider resetting the HTTP transport")
		}
	})
	cronSched.Start()
	defer cronSched.Stop()

	var succeeded, failed, cancelled atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for _, affinity := range workerAffinities() {
		affinity := affinity
		g.Go(func() error {
			runWorker(gctx, sched, affinity, root, c, monitor, sink, opts, maxRetries, log, &succeeded, &failed, &cancelled)
			return nil
		})
	}
	_ = g.Wait()

	c.Flush()

	summary := Summary{
		Total:     total,
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Cancelled: int(cancelled.Load()),
	}
	sink.OnDownloadCompleted(summary.Succeeded, summary.Failed, summary.Cancelled)
	return summary, nil
}

// workerAffinities returns one Tier per worker slot in the fixed 16/6/6
// split (spec §4.5). The tier split never changes at runtime regardless of
// the root descriptor's advertised thread counts (see DESIGN.md).
func workerAffinities() []model.Tier {
	affinities := make([]model.Tier, 0, scheduler.TotalWorkers)
	for i := 0; i < scheduler.LargeWorkers; i++ {
		affinities = append(affinities, model.TierLarge)
	}
	for i := 0; i < scheduler.MediumWorkers; i++ {
		affinities = append(affinities, model.TierMedium)
	}
	for i := 0; i < scheduler.SmallWorkers; i++ {
		affinities = append(affinities, model.TierSmall)
	}
	return affinities
}

// runWorker drains the scheduler until empty, running the
// fetch-verify-install pipeline for each acquired task.
func runWorker(ctx context.Context, sched *scheduler.Scheduler, affinity model.Tier, root model.RootDescriptor, c *cache.Cache, monitor *health.Monitor, sink events.Sink, opts Options, maxRetries int, log zerolog.Logger, succeeded, failed, cancelled *atomic.Int32) {
	workerID := fmt.Sprintf("%s-%s", affinity, uuid.NewString()[:8])
	deps := pipeline.Deps{
		Opener:     opts.Opener,
		Cache:      c,
		Health:     monitor,
		Sink:       sink,
		Limiter:    opts.Limiter,
		WorkerID:   workerID,
		MaxRetries: maxRetries,
		UseBackup:  opts.UseBackup,
		Log:        log,
	}

	for {
		task, ok := sched.Acquire(affinity)
		if !ok {
			return
		}

		_ = pipeline.Run(ctx, task, root, deps)

		switch task.Status() {
		case model.StatusCompleted:
			succeeded.Add(1)
		case model.StatusCancelled:
			cancelled.Add(1)
		default:
			failed.Add(1)
		}
	}
}

// FetchManifestUnion retrieves the three manifest sub-lists with a fixed
// pause between requests (spec §4.3) and unions them per selection. It is
// exported so callers that only need the scan (not a full download pass,
// e.g. the `scan` subcommand) can reuse the same sequencing.
func FetchManifestUnion(ctx context.Context, opener manifestclient.StreamOpener, root model.RootDescriptor, selection model.ClientSelection) ([]model.Entry, error) {
	prologue, _, err := opener.FetchList(ctx, root, manifestclient.ListPrologue, false)
	if err != nil {
		return nil, err
	}

	if err := sleepOrCancel(ctx, interListPause); err != nil {
		return nil, err
	}
	reboot, _, err := opener.FetchList(ctx, root, manifestclient.ListReboot, true)
	if err != nil {
		return nil, err
	}

	if err := sleepOrCancel(ctx, interListPause); err != nil {
		return nil, err
	}
	launcher, _, err := opener.FetchList(ctx, root, manifestclient.ListLauncher, false)
	if err != nil {
		return nil, err
	}

	return manifestclient.Union(selection, prologue, reboot, launcher), nil
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
