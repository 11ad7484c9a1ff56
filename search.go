package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Column widths for the digest table.
const (
	titleWidth        = 40
	participantsWidth = 40
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Print one page of search digests",
		Long: `Run a single search against the source and print the digests. Useful for
choosing query windows that stay under the server's result ceiling before
running export. The query defaults to search_query.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().String("rpc-url", "", "robot RPC endpoint (overrides rpc_url)")
	cmd.Flags().Int("index", 0, "offset of the first digest")
	cmd.Flags().Int("page-size", 0, "digests to request (overrides page_size)")
	addCredentialsFlag(cmd)

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := resolvedCfg.SearchQuery
	if len(args) == 1 {
		query = args[0]
	}

	index, err := cmd.Flags().GetInt("index")
	if err != nil {
		return err
	}

	if index < 0 {
		return fmt.Errorf("search: --index must be >= 0, got %d", index)
	}

	creds, err := loadSourceCredentials(cmd)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	logger := buildLogger(os.Stderr)
	ctx := shutdownContext(cmd.Context(), logger)

	session := newSourceSession(resolvedCfg, creds, logger)

	digests, err := session.client.Search(ctx, query, index, resolvedCfg.PageSize)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	rows := make([][]string, 0, len(digests))
	for _, d := range digests {
		rows = append(rows, []string{
			d.WaveID.String(),
			truncate(d.Title, titleWidth),
			truncate(strings.Join(d.Participants, ","), participantsWidth),
			formatTime(d.LastModified),
			strconv.Itoa(d.BlipCount),
			strconv.Itoa(d.UnreadCount),
		})
	}

	printTable(os.Stdout, []string{"WAVE ID", "TITLE", "PARTICIPANTS", "MODIFIED", "BLIPS", "UNREAD"}, rows)
	statusf("%d digests from offset %d for %q\n", len(digests), index, query)

	return nil
}
