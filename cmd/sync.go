package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sakurayuki-A/stardriver/internal/config"
	"github.com/Sakurayuki-A/stardriver/internal/events"
	"github.com/Sakurayuki-A/stardriver/internal/manifestclient"
	"github.com/Sakurayuki-A/stardriver/internal/orchestrator"
	"github.com/Sakurayuki-A/stardriver/internal/ratelimit"
)

var (
	syncProgressJSON bool
	syncMaxRetries   int
	syncUseBackup    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the manifest union, scan the install tree, and download what's missing or changed",
	Long: `Fetches the root descriptor and the three manifest sub-lists, unions
them per the configured selection, scans the install tree against the
result, and runs the tiered fetch-verify-install pipeline over whatever
needs downloading.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = config.DefaultConfigPath()
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		maxRetries := cfg.Scheduler.MaxRetries
		if cmd.Flags().Changed("max-retries") {
			maxRetries = syncMaxRetries
		}

		var limiter *ratelimit.Limiter
		if cfg.Scheduler.BandwidthLimit != "" {
			bps, err := config.ParseBandwidthLimit(cfg.Scheduler.BandwidthLimit)
			if err != nil {
				return fmt.Errorf("parsing bandwidth_limit: %w", err)
			}
			if bps > 0 {
				limiter = ratelimit.NewLimiter(bps)
			}
		}

		var sink events.Sink = events.NullSink{}
		if syncProgressJSON {
			sink = events.NewJSONSink()
		}

		opener := manifestclient.NewClient(cfg.Manifest.RootURL)

		o := orchestrator.New()
		summary, err := o.Run(cmd.Context(), orchestrator.Options{
			Opener:      opener,
			InstallRoot: cfg.Install.InstallRoot,
			CachePath:   cfg.CachePath(),
			Selection:   cfg.SelectionValue(),
			Policy:      cfg.Policy(),
			MaxRetries:  maxRetries,
			UseBackup:   syncUseBackup || cfg.Manifest.UseBackup,
			Limiter:     limiter,
			Sink:        sink,
			Log:         log,
		})
		if err != nil {
			return err
		}

		if !syncProgressJSON {
			fmt.Printf("%d to sync: %d succeeded, %d failed, %d cancelled\n", summary.Total, summary.Succeeded, summary.Failed, summary.Cancelled)
		}
		if summary.Failed > 0 {
			return fmt.Errorf("sync finished with %d failed file(s)", summary.Failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncProgressJSON, "progress-json", false, "emit JSON progress events to stdout instead of a summary line")
	syncCmd.Flags().IntVar(&syncMaxRetries, "max-retries", 0, "override scheduler.max_retries from the config file (0 = use the manifest's advisory retry count)")
	syncCmd.Flags().BoolVar(&syncUseBackup, "use-backup", false, "fetch from the backup base URLs instead of the primary ones")
	rootCmd.AddCommand(syncCmd)
}
