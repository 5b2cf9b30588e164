package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aretw0/lattice/internal/presentation/tui"
	httpAdapter "github.com/aretw0/lattice/pkg/adapters/http"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
	Long:  `List, inspect, and remove sessions in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		refs, err := listSessions(cmd.Context(), a.store)
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}

		out := newOutput(cmd)
		if out.json {
			return out.encode(refs)
		}
		if len(refs) == 0 {
			out.note("No sessions found.")
			return nil
		}
		rows := make([][]string, 0, len(refs))
		for _, ref := range refs {
			expiry := "never"
			if exp, ok := ref.Expiry(); ok {
				expiry = exp.Format(time.RFC3339)
			}
			rows = append(rows, []string{
				ref.ID,
				ref.LastNode,
				fmt.Sprint(ref.Version),
				ref.LastAccessedAt.Format(time.RFC3339),
				expiry,
			})
		}
		out.table([]string{"ID", "OWNER", "VERSION", "LAST ACCESSED", "EXPIRES"}, rows)
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.store.Load(cmd.Context(), sessionID)
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", sessionID, err)
		}
		out := newOutput(cmd)
		if out.json {
			return out.encode(httpAdapter.NewSessionView(rec))
		}
		render, err := tui.NewRenderer()
		if err != nil {
			return err
		}
		text, err := render(describe(rec))
		if err != nil {
			return err
		}
		fmt.Fprint(out.w, text)
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var failed []string
		for _, sessionID := range args {
			if err := a.manager.Invalidate(cmd.Context(), sessionID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error removing '%s': %v\n", sessionID, err)
				failed = append(failed, sessionID)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", sessionID)
		}

		if len(failed) > 0 {
			return fmt.Errorf("failed to remove %d session(s): %s", len(failed), strings.Join(failed, ", "))
		}
		return nil
	},
}

// describe renders rec as a markdown report. Attribute values are shown
// verbatim when printable and by size otherwise.
func describe(rec domain.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session `%s`\n\n", rec.ID)
	fmt.Fprintf(&sb, "- **Owner:** %s\n", rec.LastNode)
	fmt.Fprintf(&sb, "- **Version:** %d\n", rec.Version)
	fmt.Fprintf(&sb, "- **Created:** %s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- **Last accessed:** %s\n", rec.LastAccessedAt.Format(time.RFC3339))
	if exp, ok := rec.Expiry(); ok {
		fmt.Fprintf(&sb, "- **Expires:** %s (after %s idle)\n", exp.Format(time.RFC3339), rec.MaxInactiveInterval)
	} else {
		sb.WriteString("- **Expires:** never\n")
	}

	names := slices.Sorted(maps.Keys(rec.Attributes))
	if len(names) == 0 {
		sb.WriteString("\n_No attributes._\n")
		return sb.String()
	}
	sb.WriteString("\n| Attribute | Value |\n|---|---|\n")
	for _, name := range names {
		v := rec.Attributes[name]
		cell := fmt.Sprintf("_%d bytes_", len(v))
		if utf8.Valid(v) && len(v) <= 64 && !strings.ContainsAny(string(v), "|`\n\r") {
			cell = "`" + string(v) + "`"
		}
		fmt.Fprintf(&sb, "| %s | %s |\n", name, cell)
	}
	return sb.String()
}

// listSessions walks every owner's records. Every record has exactly one
// owner hint, so the union is the whole store.
func listSessions(ctx context.Context, store ports.Store) ([]domain.RecordRef, error) {
	owners, err := store.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	refs, err := ports.Collect(store.QueryOwnedBy(ctx, owners))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(refs, func(a, b domain.RecordRef) int {
		return strings.Compare(a.ID, b.ID)
	})
	return refs, nil
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}
