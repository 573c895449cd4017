package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinedb/vinedb"
	"github.com/vinedb/vinedb/internal/config"
	"github.com/vinedb/vinedb/internal/kvstore"
)

var (
	putDocID        string
	putPrevRev      string
	putAllowConfict bool
	putDeleted      bool
)

var putCmd = &cobra.Command{
	Use:   "put <json-body>",
	Short: "Write a new revision of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var body map[string]interface{}
		if err := json.Unmarshal([]byte(args[0]), &body); err != nil {
			return fmt.Errorf("invalid JSON body: %w", err)
		}

		engine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Close()

		result, err := engine.Put(cmd.Context(), &vinedb.NewRevision{
			DocID:   putDocID,
			Deleted: putDeleted,
			Body:    body,
		}, vinedb.PutOptions{
			PrevRevID:     putPrevRev,
			AllowConflict: putAllowConfict,
		})
		if err != nil {
			return err
		}

		out, _ := json.Marshal(map[string]interface{}{
			"id":  result.DocID,
			"rev": result.RevID,
			"seq": result.Sequence,
		})
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	putCmd.Flags().StringVar(&putDocID, "id", "", "document id (generated if omitted)")
	putCmd.Flags().StringVar(&putPrevRev, "rev", "", "revision this write is based on")
	putCmd.Flags().BoolVar(&putAllowConfict, "allow-conflict", false, "permit creating a sibling leaf instead of failing")
	putCmd.Flags().BoolVar(&putDeleted, "deleted", false, "write a tombstone")
}

func openEngine(ctx context.Context) (*vinedb.Engine, error) {
	opts := kvstore.OpenOptions{
		BusyTimeoutMillis: int(config.GetDuration("store.busy-timeout").Milliseconds()),
		WAL:               config.GetBool("store.wal"),
	}
	return vinedb.Open(ctx, dbPath,
		vinedb.WithStoreOptions(opts),
		vinedb.WithMaxConcurrentIndexUpdates(config.GetInt("query.max-concurrent-index-updates")),
	)
}
