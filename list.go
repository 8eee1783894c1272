package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available modules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for i, def := range modules {
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			fmt.Fprintf(os.Stdout, "%ss:\n", def.name)
			if err := listModules(os.Stdout, def); err != nil {
				fmt.Fprintln(os.Stdout, "  none")
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
