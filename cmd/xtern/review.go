package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sahmey2004/xtern/internal/review"
	"github.com/Sahmey2004/xtern/internal/types"
)

var (
	approveReviewer string
	approveAction   string
	approveNotes    string

	posStatus string
	posLimit  int

	logsRunID    string
	logsPONumber string
	logsLimit    int
)

var approveCmd = &cobra.Command{
	Use:   "approve <po_number>",
	Short: "Approve or reject a draft PO",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var posCmd = &cobra.Command{
	Use:   "pos",
	Short: "List purchase orders",
	Args:  cobra.NoArgs,
	RunE:  runPOs,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the decision log",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

func init() {
	approveCmd.Flags().StringVar(&approveReviewer, "reviewer", "", "Reviewer name (required)")
	approveCmd.Flags().StringVar(&approveAction, "action", "", "approve or reject (required)")
	approveCmd.Flags().StringVar(&approveNotes, "notes", "", "Review notes")
	_ = approveCmd.MarkFlagRequired("reviewer")
	_ = approveCmd.MarkFlagRequired("action")

	posCmd.Flags().StringVar(&posStatus, "status", review.DefaultPOStatus, "Filter by status")
	posCmd.Flags().IntVar(&posLimit, "limit", review.DefaultPOLimit, "Maximum POs to return")

	logsCmd.Flags().StringVar(&logsRunID, "run-id", "", "Filter by run ID")
	logsCmd.Flags().StringVar(&logsPONumber, "po-number", "", "Filter by PO number")
	logsCmd.Flags().IntVar(&logsLimit, "limit", review.DefaultLogLimit, "Maximum entries to return")

	rootCmd.AddCommand(approveCmd, posCmd, logsCmd)
}

// approvalRequest builds and validates the request before any process starts.
func approvalRequest() (types.ApprovalRequest, error) {
	req := types.ApprovalRequest{
		Reviewer: strings.TrimSpace(approveReviewer),
		Action:   types.ReviewAction(strings.ToLower(strings.TrimSpace(approveAction))),
		Notes:    approveNotes,
	}
	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("--action must be approve or reject and --reviewer is required: %w", err)
	}
	return req, nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	req, err := approvalRequest()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	decision, err := a.review.Approve(cmd.Context(), args[0], req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), decision.Response())
}

func runPOs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := a.review.ListPOs(cmd.Context(), posStatus, posLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}

func runLogs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := a.review.DecisionLog(cmd.Context(), review.LogQuery{
		RunID:    logsRunID,
		PONumber: logsPONumber,
		Limit:    logsLimit,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}
