package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinedb/vinedb"
)

var (
	getIncludeAttachments bool
	getIncludeConflicts   bool
	getIncludeRevs        bool
	getRev                string
)

var getCmd = &cobra.Command{
	Use:   "get <doc-id>",
	Short: "Read a document's winning revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Close()

		opts := vinedb.EncodeOptions{
			IncludeAttachments: getIncludeAttachments,
			IncludeConflicts:   getIncludeConflicts,
			IncludeRevs:        getIncludeRevs,
		}

		var body map[string]interface{}
		if getRev != "" {
			body, err = engine.GetRev(cmd.Context(), args[0], getRev, opts)
		} else {
			body, err = engine.Get(cmd.Context(), args[0], opts)
		}
		if err != nil {
			return err
		}

		out, merr := json.MarshalIndent(body, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	getCmd.Flags().StringVar(&getRev, "rev", "", "specific revision to fetch (default: winning revision)")
	getCmd.Flags().BoolVar(&getIncludeAttachments, "attachments", false, "inline attachment data in the response")
	getCmd.Flags().BoolVar(&getIncludeConflicts, "conflicts", false, "include the _conflicts projection")
	getCmd.Flags().BoolVar(&getIncludeRevs, "revs", false, "include the _revisions projection")
}
