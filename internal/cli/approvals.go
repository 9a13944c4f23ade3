package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/pkg/approval"
	"github.com/stewardhq/steward/pkg/audit"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests for a user",
	RunE:  runApprovalsList,
}

var approvalsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire overdue approval requests now",
	RunE:  runApprovalsExpire,
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent tool-call audit events for a user",
	RunE:  runHistory,
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsExpireCmd)
	rootCmd.AddCommand(approvalsCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of events to show")
	rootCmd.AddCommand(historyCmd)
}

func openApprovalStore() (*approval.SQLiteStore, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	dataDir, err := resolveDataDir(cfg)
	if err != nil {
		return nil, err
	}
	return approval.NewSQLiteStore(filepath.Join(dataDir, "approvals.db"), zerolog.Nop())
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	store, err := openApprovalStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	pending, err := store.ListPending(ctx, userID)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No pending approvals for %s\n", userID)
		return nil
	}

	for _, rec := range pending {
		remaining := rec.ExpiresAt.Sub(now).Round(time.Minute)
		state := fmt.Sprintf("expires in %s", remaining)
		if remaining <= 0 {
			state = "overdue"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s risk)  %s\n", rec.ID, rec.ToolName, rec.RiskLevel, state)
		if rec.Reasoning != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", rec.Reasoning)
		}
	}

	return nil
}

func runApprovalsExpire(cmd *cobra.Command, args []string) error {
	store, err := openApprovalStore()
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.ExpireOverdue(context.Background(), time.Now())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Expired %d overdue approval(s)\n", count)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	dataDir, err := resolveDataDir(cfg)
	if err != nil {
		return err
	}

	sink, err := audit.NewSQLiteSink(filepath.Join(dataDir, "audit.db"), zerolog.Nop())
	if err != nil {
		return err
	}
	defer sink.Close()

	events, err := sink.History(context.Background(), userID, historyLimit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No audit events for %s\n", userID)
		return nil
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-16s %s", ev.CreatedAt.Format(time.RFC3339), ev.Outcome, ev.ToolName)
		if ev.ErrorCode != "" {
			line += "  (" + ev.ErrorCode + ")"
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	return nil
}
