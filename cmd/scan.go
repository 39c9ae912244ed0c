package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sakurayuki-A/stardriver/internal/cache"
	"github.com/Sakurayuki-A/stardriver/internal/config"
	"github.com/Sakurayuki-A/stardriver/internal/manifestclient"
	"github.com/Sakurayuki-A/stardriver/internal/orchestrator"
	"github.com/Sakurayuki-A/stardriver/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Audit the install tree against the remote manifest without downloading",
	Long: `Fetches the root descriptor and manifest union, scans the local install
tree against it, and lists what a sync would fetch. Nothing is
downloaded or written except the digest cache, which is updated with
every digest computed during the scan, whether or not it matches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = config.DefaultConfigPath()
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		opener := manifestclient.NewClient(cfg.Manifest.RootURL)

		root, err := opener.FetchRoot(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching root descriptor: %w", err)
		}

		union, err := orchestrator.FetchManifestUnion(cmd.Context(), opener, root, cfg.SelectionValue())
		if err != nil {
			return fmt.Errorf("fetching manifest lists: %w", err)
		}

		c := cache.New(cfg.CachePath(), log)
		if err := c.Load(); err != nil {
			return fmt.Errorf("loading digest cache: %w", err)
		}

		result, err := scanner.Scan(cmd.Context(), union, cfg.Install.InstallRoot, cfg.Policy(), c, nil)
		if err != nil {
			return fmt.Errorf("scanning install tree: %w", err)
		}
		c.Flush()

		if len(result.Tasks) == 0 {
			fmt.Println("Up to date.")
			return nil
		}

		fmt.Printf("%d file(s) would be fetched:\n", len(result.Tasks))
		for _, t := range result.Tasks {
			fmt.Printf("  %s (%d bytes)\n", t.Entry.RelPath(), t.Entry.Size)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
