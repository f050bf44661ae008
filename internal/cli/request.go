package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/zeromonos/internal/httpapi"
	"github.com/mesh-intelligence/zeromonos/internal/lifecycle"
	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

const displayLayout = "2006-01-02 15:04"

// requestView is the --json shape of a request.
type requestView struct {
	Token        string          `json:"token"`
	Municipality string          `json:"municipality"`
	Datetime     time.Time       `json:"datetime"`
	Status       types.Status    `json:"requestStatus"`
	Residues     []types.Residue `json:"residues"`
	Statuses     []entryView     `json:"statuses"`
}

type entryView struct {
	Status    types.Status `json:"requestStatus"`
	Timestamp time.Time    `json:"datetime"`
}

func requestViewOf(r *types.Request) requestView {
	v := requestView{
		Token:        r.Token,
		Municipality: r.Municipality,
		Datetime:     r.Datetime,
		Status:       r.Status,
		Residues:     r.Residues,
		Statuses:     entryViewsOf(r.Statuses),
	}
	if v.Residues == nil {
		v.Residues = []types.Residue{}
	}
	return v
}

func entryViewsOf(entries []types.StatusEntry) []entryView {
	views := make([]entryView, len(entries))
	for i, e := range entries {
		views[i] = entryView{Status: e.Status, Timestamp: e.Timestamp}
	}
	return views
}

func newRequestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Manage collection requests",
	}
	cmd.AddCommand(
		newRequestCreateCmd(a),
		newRequestListCmd(a),
		newRequestGetCmd(a),
		newRequestDeleteCmd(a),
		newTransitionCmd(a, types.ActionAssign, "Assign a received request to a collection team"),
		newTransitionCmd(a, types.ActionStart, "Start collecting an assigned request"),
		newTransitionCmd(a, types.ActionComplete, "Mark a request in progress as completed"),
		newTransitionCmd(a, types.ActionCancel, "Cancel a received or assigned request"),
		newStatusesCmd(a),
	)
	return cmd
}

func newRequestCreateCmd(a *app) *cobra.Command {
	var (
		municipality string
		datetime     string
		residueIDs   []int64
	)
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a collection request for residues",
		Example: `  zeromonos request create --municipality Lisbon --datetime 2025-06-03T09:30 --residue 1 --residue 4`,
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := types.NewRequest{Municipality: municipality, ResidueIDs: residueIDs}
			if datetime != "" {
				at, err := httpapi.ParseDatetime(datetime)
				if err != nil {
					return err
				}
				n.Datetime = at
			}
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				token, err := e.CreateRequest(cmd.Context(), n)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]string{"token": token})
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&municipality, "municipality", "", "municipality of the collection")
	cmd.Flags().StringVar(&datetime, "datetime", "", "scheduled collection time (2006-01-02T15:04[:05] or RFC 3339)")
	cmd.Flags().Int64SliceVar(&residueIDs, "residue", nil, "residue id to collect (repeatable)")
	return cmd
}

func newRequestListCmd(a *app) *cobra.Command {
	var municipality string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				var (
					rs  []*types.Request
					err error
				)
				if municipality != "" {
					rs, err = e.ListRequestsByMunicipality(cmd.Context(), municipality)
				} else {
					rs, err = e.ListRequests(cmd.Context())
				}
				if err != nil {
					return err
				}
				return a.printRequests(cmd.OutOrStdout(), rs)
			})
		},
	}
	cmd.Flags().StringVar(&municipality, "municipality", "", "only requests for this municipality (case-insensitive)")
	return cmd
}

func newRequestGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <token>",
		Short: "Show a request with its residues and status history",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				r, err := e.GetRequest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printRequest(cmd.OutOrStdout(), r)
			})
		},
	}
}

func newRequestDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <token>",
		Short: "Delete a request and release its residues",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				if err := e.DeleteRequest(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted request %s\n", args[0])
				return nil
			})
		},
	}
}

func newTransitionCmd(a *app, action types.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <token>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				r, err := e.ApplyTransition(cmd.Context(), args[0], action)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), requestViewOf(r))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %s is now %s\n", r.Token, r.Status)
				return nil
			})
		},
	}
}

func newStatusesCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "statuses <token>",
		Short: "Show the status history of a request",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				entries, err := statusHistory(cmd.Context(), e, args[0], status)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), entryViewsOf(entries))
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only entries with this status")
	return cmd
}

func statusHistory(ctx context.Context, e *lifecycle.Engine, token, status string) ([]types.StatusEntry, error) {
	if status == "" {
		return e.Statuses(ctx, token)
	}
	st, err := types.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return e.StatusesWithStatus(ctx, token, st)
}

func (a *app) printRequest(out io.Writer, r *types.Request) error {
	if a.flags.jsonMode {
		return printJSON(out, requestViewOf(r))
	}
	fmt.Fprintf(out, "Token:        %s\n", r.Token)
	fmt.Fprintf(out, "Municipality: %s\n", r.Municipality)
	fmt.Fprintf(out, "Datetime:     %s\n", r.Datetime.Format(displayLayout))
	fmt.Fprintf(out, "Status:       %s\n", r.Status)
	fmt.Fprintf(out, "Residues:\n")
	for _, res := range r.Residues {
		fmt.Fprintf(out, "  %d  %s\n", res.ID, res.Name)
	}
	fmt.Fprintf(out, "History:\n")
	for _, e := range r.Statuses {
		fmt.Fprintf(out, "  %s  %s\n", e.Timestamp.Format(displayLayout), e.Status)
	}
	return nil
}

func (a *app) printRequests(out io.Writer, rs []*types.Request) error {
	if a.flags.jsonMode {
		views := make([]requestView, len(rs))
		for i, r := range rs {
			views[i] = requestViewOf(r)
		}
		return printJSON(out, views)
	}
	if len(rs) == 0 {
		fmt.Fprintln(out, "No requests found.")
		return nil
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tMUNICIPALITY\tDATETIME\tSTATUS\tRESIDUES")
	fmt.Fprintln(w, "-----\t------------\t--------\t------\t--------")
	for _, r := range rs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			shortToken(r.Token),
			truncate(r.Municipality, 30),
			r.Datetime.Format(displayLayout),
			r.Status,
			len(r.Residues),
		)
	}
	w.Flush()
	printLines(out, sb.String())
	fmt.Fprintf(out, "Total: %d request(s)\n", len(rs))
	return nil
}

func printEntries(out io.Writer, entries []types.StatusEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No status entries found.")
		return
	}
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tSTATUS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Status)
	}
	w.Flush()
	printLines(out, sb.String())
}
