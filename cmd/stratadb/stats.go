package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
)

var (
	statsDBPath     string
	statsConfigPath string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Open a database directory and print store and snapshot-pool counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(statsConfigPath)
		if err != nil {
			return err
		}
		e, err := engine.Open(statsDBPath, opts)
		if err != nil {
			return fmt.Errorf("open %s: %w", statsDBPath, err)
		}
		defer e.Close()

		s := e.Stats()
		fmt.Printf("version:               %d\n", s.Version)
		fmt.Printf("snapshots outstanding: %d\n", s.SnapshotsOutstanding)
		fmt.Println("entries by type:")

		types := make([]string, 0, len(s.EntriesByType))
		for t := range s.EntriesByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %-16s %d\n", t, s.EntriesByType[t])
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsDBPath, "path", "", "database directory (required)")
	statsCmd.Flags().StringVar(&statsConfigPath, "config", "", "path to a YAML config file (engine.DefaultOptions if omitted)")
	_ = statsCmd.MarkFlagRequired("path")
}
