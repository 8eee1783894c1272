package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"time"

	"github.com/CN-TU/go-middlebox/config"
	"github.com/CN-TU/go-middlebox/util"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var runFlags struct {
	config     string
	workers    int
	deadline   time.Duration
	stats      bool
	cpuprofile string
	memprofile string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect and forward the configured connections",
	Long: `Read the content of every configured connection, split it into packets, and
forward the packets to the sink of their destination unless a filter blocks
them. Every decision is written to the configured audit trails.

The run stops once all sources are exhausted, the deadline is reached, or on
interrupt. Packets that were already produced are still forwarded.

A packet with a port outside of the configured range stops the run with an
error. The sink and the audit trails are finished in every case.

Example configuration:

  deadline: 5s
  ports: {min: 0, max: 1024}
  connections:
    - from: 1
      to: 2
      source: {type: file, options: {path: input1.txt}}
  filters:
    - type: ports
    - type: trigger
  sink: {type: file, options: {dir: output}}
  audit:
    - type: text
      options: {dir: output}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runFlags.config)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = runFlags.workers
		}
		if cmd.Flags().Changed("deadline") {
			cfg.Deadline = config.Duration(runFlags.deadline)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return run(cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.config, "config", "c", "config.yaml", "configuration file")
	f.IntVarP(&runFlags.workers, "workers", "n", 0, "number of workers (overrides the configuration)")
	f.DurationVar(&runFlags.deadline, "deadline", 0, "stop after this time, 0 runs until all sources are exhausted (overrides the configuration)")
	f.BoolVar(&runFlags.stats, "stats", false, "output statistics")
	f.StringVar(&runFlags.cpuprofile, "cpuprofile", "", "write cpu profile to file")
	f.StringVar(&runFlags.memprofile, "memprofile", "", "write memory profile to file")
	rootCmd.AddCommand(runCmd)
}

func run(cfg *config.Config) error {
	logger := slog.Default()
	if runFlags.cpuprofile != "" {
		f, err := os.Create(runFlags.cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start cpu profile: %w", err)
		}
		atexit.Register(pprof.StopCPUProfile)
		defer pprof.StopCPUProfile()
	}

	engine, modules, err := cfg.Engine(logger, func(m util.Module) {
		logger.Debug("created module", "id", m.ID())
	})
	if err != nil {
		return err
	}
	atexit.Register(func() {
		if err := modules.Finish(); err != nil {
			logger.Error("finishing modules failed", "error", err)
		}
	})

	cancel := make(chan os.Signal, 1)
	signal.Notify(cancel, os.Interrupt)
	go func() {
		<-cancel
		logger.Info("canceling")
		engine.Stop()
	}()

	err = engine.Run(context.Background())
	signal.Stop(cancel)

	if runFlags.memprofile != "" {
		if perr := writeHeapProfile(runFlags.memprofile); perr != nil {
			err = errors.Join(err, perr)
		}
	}
	if runFlags.stats {
		engine.PrintStats(os.Stderr)
	}
	return err
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create memory profile: %w", err)
	}
	defer f.Close()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}
	return nil
}
