package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/studiosync/internal/types"
)

var exportCmd = &cobra.Command{
	Use:   "export <collection>",
	Short: "Replace a remote collection with the cached one",
	Long: `Upload every cached record of a collection through the REST gateway,
replacing the remote content. Records the remote has that the cache lacks are
removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := types.ParseCollection(args[0])
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

	records, err := st.List(ctx, c)
	if err != nil {
		return fmt.Errorf("list %s: %w", c, err)
	}

	result, err := newGateway(cfg).ExportCollection(ctx, c, records)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d %s records (version %d)\n", result.Count, result.Collection, result.Version)
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
