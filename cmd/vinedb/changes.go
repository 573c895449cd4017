package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	changesSince    int64
	changesContinue bool
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Print the change feed since a sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Close()

		feed := engine.Feed()

		if !changesContinue {
			for _, c := range feed.Since(changesSince) {
				printChange(c.Sequence, c.DocID, c.RevID, c.Deleted)
			}
			return nil
		}

		cur := feed.Subscribe(changesSince, nil)
		defer cur.Close()
		for {
			c, ok, err := cur.Next(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			printChange(c.Sequence, c.DocID, c.RevID, c.Deleted)
		}
	},
}

func printChange(seq int64, docID, revID string, deleted bool) {
	rec := map[string]interface{}{
		"seq":     seq,
		"id":      docID,
		"changes": []map[string]string{{"rev": revID}},
	}
	if deleted {
		rec["deleted"] = true
	}
	out, _ := json.Marshal(rec)
	fmt.Println(string(out))
}

func init() {
	changesCmd.Flags().Int64Var(&changesSince, "since", 0, "resume from this sequence")
	changesCmd.Flags().BoolVar(&changesContinue, "continuous", false, "keep the stream open and follow new changes")
}
