package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sakurayuki-A/stardriver/internal/cache"
	"github.com/Sakurayuki-A/stardriver/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show digest cache statistics for this install",
	Long:  `Loads the local digest cache and reports how many entries it holds and its on-disk size, without contacting the remote manifest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = config.DefaultConfigPath()
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		cachePath := cfg.CachePath()
		c := cache.New(cachePath, log)
		if err := c.Load(); err != nil {
			return fmt.Errorf("loading digest cache: %w", err)
		}

		fmt.Printf("install root: %s\n", cfg.Install.InstallRoot)
		fmt.Printf("cache file:   %s\n", cachePath)
		fmt.Printf("entries:      %d\n", c.Len())

		if info, statErr := os.Stat(cachePath); statErr == nil {
			fmt.Printf("size:         %d bytes\n", info.Size())
		} else {
			fmt.Println("size:         (cache file not yet written)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
