package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quilldb/peersync/internal/record"
	"github.com/quilldb/peersync/internal/store"
)

// ConflictsOptions holds flags for the conflicts command.
type ConflictsOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// ConflictEntry is one queued conflict in the listing.
type ConflictEntry struct {
	ID        int64     `json:"id"`
	Table     string    `json:"table"`
	Key       string    `json:"key"`
	Type      string    `json:"type"`
	Strategy  string    `json:"strategy"`
	CreatedAt time.Time `json:"created_at"`
}

// ConflictListing holds the conflicts command output.
type ConflictListing struct {
	Conflicts []ConflictEntry `json:"conflicts"`
}

func (l ConflictListing) String() string {
	if len(l.Conflicts) == 0 {
		return "No unresolved conflicts."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d unresolved conflict(s):\n", len(l.Conflicts))
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTABLE\tKEY\tTYPE\tSTRATEGY\tDETECTED")
	for _, c := range l.Conflicts {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Table, c.Key, c.Type, c.Strategy,
			c.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConflictsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved conflicts",
		Long: `List conflicts awaiting resolution, oldest first.

Under the Manual strategy these wait for an operator; under automatic
strategies an unresolved entry means the process stopped between
detection and resolution and will be re-resolved by the running node.

Examples:
  peersync conflicts --db ./peersync.db
  peersync conflicts --db ./peersync.db --limit 20 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum conflicts to list (0 lists all)")

	return cmd
}

func runConflicts(opts *ConflictsOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	conflicts, err := st.ListUnresolved(context.Background(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list conflicts", err)
	}

	listing := ConflictListing{Conflicts: make([]ConflictEntry, 0, len(conflicts))}
	for _, c := range conflicts {
		listing.Conflicts = append(listing.Conflicts, conflictEntry(c))
	}
	return formatter.Success(listing)
}

func conflictEntry(c record.Conflict) ConflictEntry {
	return ConflictEntry{
		ID:        c.ID,
		Table:     c.TableName,
		Key:       c.RecordKey,
		Type:      string(c.Type),
		Strategy:  c.Strategy,
		CreatedAt: c.CreatedAt,
	}
}
