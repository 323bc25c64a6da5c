package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage run lifecycle (begin, end)",
}

var (
	runDBPath     string
	runConfigPath string
	runTenant     string
	runApp        string
	runAgent      string
	runName       string
	runMetadata   []string
)

func namespaceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runDBPath, "path", "", "database directory (required)")
	cmd.Flags().StringVar(&runConfigPath, "config", "", "path to a YAML config file (engine.DefaultOptions if omitted)")
	cmd.Flags().StringVar(&runTenant, "tenant", "", "namespace tenant")
	cmd.Flags().StringVar(&runApp, "app", "", "namespace app")
	cmd.Flags().StringVar(&runAgent, "agent", "", "namespace agent")
	cmd.Flags().StringVar(&runName, "run", "", "namespace run component")
	_ = cmd.MarkFlagRequired("path")
}

func currentNamespace() keyspace.Namespace {
	return keyspace.Namespace{Tenant: runTenant, App: runApp, Agent: runAgent, Run: runName}
}

func openEngine() (*engine.Engine, error) {
	opts, err := loadOptions(runConfigPath)
	if err != nil {
		return nil, err
	}
	return engine.Open(runDBPath, opts)
}

var runBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Begin a new run and print its run id",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		md, err := parseMetadata(runMetadata)
		if err != nil {
			return err
		}

		runID, err := e.BeginRun(currentNamespace(), md)
		if err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		fmt.Println(runID.String())
		return nil
	},
}

var runEndStatus string

var runEndCmd = &cobra.Command{
	Use:   "end <run-id>",
	Short: "End a run with a terminal status (completed, failed, cancelled)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := keyspace.ParseRunId(args[0])
		if err != nil {
			return err
		}
		status, err := parseRunStatus(runEndStatus)
		if err != nil {
			return err
		}

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.EndRun(currentNamespace(), runID, status); err != nil {
			return fmt.Errorf("end run: %w", err)
		}
		fmt.Printf("run %s ended as %s\n", runID, status)
		return nil
	},
}

func init() {
	namespaceFlags(runBeginCmd)
	runBeginCmd.Flags().StringArrayVar(&runMetadata, "meta", nil, "metadata key=value pair, may repeat")

	namespaceFlags(runEndCmd)
	runEndCmd.Flags().StringVar(&runEndStatus, "status", "completed", "terminal status: completed, failed, cancelled")

	runCmd.AddCommand(runBeginCmd)
	runCmd.AddCommand(runEndCmd)
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", p)
		}
		md[k] = v
	}
	return md, nil
}

func parseRunStatus(s string) (engine.RunStatus, error) {
	switch strings.ToLower(s) {
	case "completed":
		return engine.RunCompleted, nil
	case "failed":
		return engine.RunFailed, nil
	case "cancelled", "canceled":
		return engine.RunCancelled, nil
	default:
		return 0, fmt.Errorf("invalid --status %q, want completed, failed, or cancelled", s)
	}
}
