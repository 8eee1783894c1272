package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/CN-TU/go-middlebox/modules/sinks/badger"
	"github.com/CN-TU/go-middlebox/packet"
	"github.com/spf13/cobra"
)

var dumpPort int64

var dumpCmd = &cobra.Command{
	Use:   "dump <dir>",
	Short: "Show the content stored by the badger sink",
	Long: `Without --port, list every destination stored in the badger database in dir
together with the number of chunks and bytes. With --port, write the content
forwarded to this destination to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := badger.Open(args[0], false)
		if err != nil {
			return err
		}
		defer db.Close()

		if dumpPort >= 0 {
			data, err := badger.ReadAll(db, packet.Port(dumpPort))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}

		dsts, err := badger.Destinations(db)
		if err != nil {
			return err
		}
		if len(dsts) == 0 {
			return errors.New("no content stored")
		}
		t := tabwriter.NewWriter(os.Stdout, 3, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(t, "port\tchunks\tbytes\t")
		for _, dst := range dsts {
			fmt.Fprintf(t, "%d\t%d\t%d\t\n", dst.Port, dst.Chunks, dst.Bytes)
		}
		return t.Flush()
	},
}

func init() {
	dumpCmd.Flags().Int64VarP(&dumpPort, "port", "p", -1, "write the content of this destination")
	rootCmd.AddCommand(dumpCmd)
}
