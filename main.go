package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "go-middlebox",
	Short: "Inspect and forward packets between ports",
	Long: `go-middlebox reads the content of several connections, splits it into packets,
and forwards the packets through a shared ring buffer to a pool of workers.
Every packet is inspected by the configured filters and either forwarded to
the sink of its destination port or blocked. The packets of a source port are
forwarded in the order they were produced.

Examples:
  Run the middlebox with the connections in config.yaml
    go-middlebox run -c config.yaml

  List the available sinks and show the options of the badger sink
    go-middlebox sinks
    go-middlebox sinks badger`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		atexit.Exit(1)
	}
}
