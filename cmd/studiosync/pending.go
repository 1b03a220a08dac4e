package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/studiosync/internal/types"
)

var pendingCmd = &cobra.Command{
	Use:   "pending [collection]",
	Short: "List local edits not yet acknowledged by the remote",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPending,
}

// pendingRow joins a dirty record with its queued write.
type pendingRow struct {
	Collection types.Collection `json:"collection"`
	ID         string           `json:"id"`
	Delete     bool             `json:"delete"`
	Base       int64            `json:"base_version"`
	Attempts   int              `json:"attempts"`
	Failed     bool             `json:"failed"`
}

func runPending(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	collections, err := collectionsArg(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var rows []pendingRow
	for _, c := range collections {
		pending, err := st.ListPending(ctx, c)
		if err != nil {
			return fmt.Errorf("list pending %s: %w", c, err)
		}
		for _, pw := range pending {
			rows = append(rows, pendingRow{
				Collection: c,
				ID:         pw.RecordID,
				Delete:     pw.Delete,
				Base:       pw.BaseVersion,
				Attempts:   pw.AttemptCount,
				Failed:     pw.Failed,
			})
		}
	}

	if jsonOutput {
		if rows == nil {
			rows = []pendingRow{}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"pending": rows,
			"total":   len(rows),
		})
	}

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending edits.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "COLLECTION\tID\tOP\tBASE\tATTEMPTS\tSTATUS")
	for _, r := range rows {
		op := "edit"
		if r.Delete {
			op = "delete"
		}
		status := "queued"
		if r.Failed {
			status = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.Collection, r.ID, op, r.Base, r.Attempts, status)
	}
	w.Flush()

	return nil
}
