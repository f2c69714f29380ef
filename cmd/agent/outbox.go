package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-paynotify/internal/agent/outbox"
)

func statusCmd(configPath *string) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show outbox counters and the most recent captures",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			counts, err := e.store.Counts(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Outbox Status")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "Database: %s\n", e.cfg.DBPath)
			fmt.Fprintf(out, "Backend:  %s\n", e.cfg.BackendURL)
			fmt.Fprintf(out, "Device:   %s\n\n", orNone(e.cfg.DeviceUUID))
			for _, s := range []outbox.Status{outbox.StatusPending, outbox.StatusSent, outbox.StatusFailed} {
				fmt.Fprintf(out, "  %-8s %d\n", s, counts[s])
			}

			if recent <= 0 {
				return nil
			}
			recs, err := e.store.List(cmd.Context(), "", recent)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nLast %d captures:\n", len(recs))
			for _, r := range recs {
				line := fmt.Sprintf("  #%d %s %-7s %s attempts=%d",
					r.ID,
					time.UnixMilli(r.CapturedAtEpochMs).UTC().Format(time.RFC3339),
					r.Status,
					r.PackageName,
					r.Attempts,
				)
				if r.FailureKind != outbox.FailureNone {
					line += " kind=" + string(r.FailureKind)
				}
				if r.LastError != "" {
					line += " error=" + r.LastError
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "number of recent captures to list")
	return cmd
}

func resetFailedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-failed",
		Short: "Move every FAILED capture back to PENDING",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.store.ResetFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d captures\n", n)
			return nil
		},
	}
}

func trimCmd(configPath *string) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Delete the oldest captures beyond the retention limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			if keep <= 0 {
				keep = e.cfg.Retention
			}
			if keep <= 0 {
				return fmt.Errorf("nothing to do: retention is %d", keep)
			}
			n, err := e.store.Trim(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d captures (kept %d)\n", n, keep)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "rows to keep (default: configured retention)")
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "(not registered)"
	}
	return s
}
