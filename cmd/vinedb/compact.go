package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Drop non-current revision bodies, GC blobs, and vacuum",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Close()

		result, err := engine.Compact(cmd.Context())
		if err != nil {
			return err
		}
		out, _ := json.Marshal(result)
		fmt.Println(string(out))
		return nil
	},
}
