package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/kiln/pkg/config"
	"github.com/cuemby/kiln/pkg/fallback"
	"github.com/cuemby/kiln/pkg/httpapi"
	"github.com/cuemby/kiln/pkg/log"
	"github.com/cuemby/kiln/pkg/pool"
	"github.com/cuemby/kiln/pkg/resources"
	"github.com/cuemby/kiln/pkg/runner"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kiln",
	Short:   "kiln multiplexes build actions over persistent worker processes",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("kiln version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var execCmd = &cobra.Command{
	Use:   "exec SPAWN_JSON",
	Short: "Run one action described by a spawn.json file through the runner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		execRoot, _ := cmd.Flags().GetString("exec-root")
		configPath, _ := cmd.Flags().GetString("config")
		cpu, _ := cmd.Flags().GetFloat64("cpu")
		memMB, _ := cmd.Flags().GetInt64("memory-mb")

		sf, err := loadSpawnFile(args[0])
		if err != nil {
			return err
		}

		var extras map[string][]string
		if configPath != "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			extras = cfg.MnemonicExtras
		}

		runID := uuid.NewString()
		runLog := log.WithRunID(runID)
		runLog.Info().Str("mnemonic", sf.Mnemonic).Msg("starting exec")

		r := &runner.Runner{
			ExecRoot:   execRoot,
			Pool:       pool.NewProcessPool(nil),
			Resources:  resources.NewSemaphoreManager(cpu, memMB),
			Fallback:   fallback.NewOneShotRunner(),
			ExtraFlags: extras,
		}

		spawn := &fileSpawn{sf: sf}
		policy := newFilePolicy(execRoot, sf, os.Stderr)

		result, err := r.Exec(cmd.Context(), spawn, policy)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	execCmd.Flags().String("exec-root", ".", "Executable root the spawn's paths resolve against")
	execCmd.Flags().String("config", "", "Path to kiln config.yaml (mnemonic extras, pool sizing)")
	execCmd.Flags().Float64("cpu", 4, "Local CPU budget available to this invocation")
	execCmd.Flags().Int64("memory-mb", 8192, "Local memory budget (MB) available to this invocation")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run kiln's status HTTP server (healthz/readyz/metrics/debug pool)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		p := pool.NewProcessPool(nil)
		srv := httpapi.NewServer(addr, p)

		errCh := make(chan error, 1)
		go func() {
			log.Info("status server listening on " + addr)
			if err := srv.Start(); err != nil {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		return p.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:9090", "Address for the status HTTP server")
}
