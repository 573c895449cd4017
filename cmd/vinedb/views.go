package main

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "Inspect registered map-index views",
}

var viewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered views and their indexing progress, as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Close()

		statuses, err := engine.ListViews(cmd.Context())
		if err != nil {
			return err
		}

		type manifestView struct {
			Version             string `toml:"version"`
			LastIndexedSequence int64  `toml:"last_indexed_sequence"`
		}
		manifest := struct {
			Views map[string]manifestView `toml:"views"`
		}{Views: make(map[string]manifestView, len(statuses))}
		for _, s := range statuses {
			manifest.Views[s.Name] = manifestView{Version: s.Version, LastIndexedSequence: s.LastIndexedSequence}
		}

		var buf bytes.Buffer
		encoder := toml.NewEncoder(&buf)
		if err := encoder.Encode(manifest); err != nil {
			return fmt.Errorf("encoding view manifest as TOML: %w", err)
		}
		fmt.Print(buf.String())
		return nil
	},
}

func init() {
	viewsCmd.AddCommand(viewsListCmd)
}
