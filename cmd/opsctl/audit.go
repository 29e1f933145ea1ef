package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pitabwire/operations/internal/audit"
)

var (
	auditSubject   string
	auditSession   string
	auditOperation string
	auditRunID     string
	auditSince     time.Duration
	auditLimit     int
	auditJSON      bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recorded operation runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()
		if a.audit == nil {
			return errors.New("audit is disabled; set audit.enabled in the configuration")
		}

		filter := audit.Filter{
			SubjectID:    auditSubject,
			SessionID:    auditSession,
			OperationKey: auditOperation,
			RunID:        auditRunID,
			Limit:        auditLimit,
		}
		if auditSince > 0 {
			filter.Since = time.Now().Add(-auditSince)
		}
		entries, err := a.audit.List(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if auditJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		fmt.Println(auditTable(entries))
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditSubject, "subject", "", "only runs by this subject")
	auditCmd.Flags().StringVar(&auditSession, "session", "", "only runs in this session")
	auditCmd.Flags().StringVar(&auditOperation, "operation", "", "only runs of this operation key")
	auditCmd.Flags().StringVar(&auditRunID, "run", "", "only steps of this run id")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "only runs started within this duration")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print entries as JSON")
}

func auditTable(entries []audit.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.StartedAt.Local().Format(time.DateTime),
			e.OperationKey,
			e.SubjectID,
			e.Outcome,
			fmt.Sprint(e.Depth),
			e.Duration.Round(time.Millisecond).String(),
			e.Error,
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STARTED", "OPERATION", "SUBJECT", "OUTCOME", "DEPTH", "DURATION", "ERROR").
		Rows(rows...).
		String()
}
