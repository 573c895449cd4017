// Command vinedb is a thin demonstration CLI over the embedded document
// engine: put/get/changes/compact against a single database file. It is
// ambient tooling, not an HTTP/REST front-end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vinedb/vinedb/internal/config"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "vinedb",
	Short: "Inspect and drive an embedded vinedb database from the command line",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "vinedb.sqlite", "path to the database file")
	rootCmd.AddCommand(putCmd, getCmd, changesCmd, compactCmd, viewsCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
