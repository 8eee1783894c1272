package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
	"github.com/spf13/cobra"
)

type moduleDefinition struct {
	name, arghelp string
	help          func(string, io.Writer) error
	list          func() ([]util.ModuleDescription, error)
}

var modules = []moduleDefinition{
	{
		"source", "List available connection sources and options",
		packet.SourceHelp,
		packet.ListSources,
	},
	{
		"filter", "List available packet filters and options",
		packet.FilterHelp,
		packet.ListFilters,
	},
	{
		"sink", "List available sinks and options",
		middlebox.SinkHelp,
		middlebox.ListSinks,
	},
	{
		"audit", "List available audit trails and options",
		middlebox.AuditorHelp,
		middlebox.ListAuditors,
	},
}

// listModules writes a table of the modules of def to w.
func listModules(w io.Writer, def moduleDefinition) error {
	descs, err := def.list()
	if err != nil {
		return fmt.Errorf("no %ss registered", def.name)
	}
	t := tabwriter.NewWriter(w, 3, 4, 5, ' ', 0)
	for _, desc := range descs {
		fmt.Fprintf(t, "%s\t%s\n", desc.Name(), desc.Description())
	}
	return t.Flush()
}

func moduleCommand(def moduleDefinition) *cobra.Command {
	use := def.name + "s"
	return &cobra.Command{
		Use:   fmt.Sprintf("%s [%s]", use, def.name),
		Short: def.arghelp,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return def.help(args[0], os.Stdout)
			}
			fmt.Fprintf(os.Stderr, "List of %ss:\n\n", def.name)
			if err := listModules(os.Stderr, def); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\nTo query the options of a %s use:\n%s %s <%s>\n", def.name, rootCmd.Name(), use, def.name)
			return nil
		},
	}
}

func init() {
	for _, def := range modules {
		rootCmd.AddCommand(moduleCommand(def))
	}
}
