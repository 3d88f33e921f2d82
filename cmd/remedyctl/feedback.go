package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// approveCmd records a human endorsement of a fix
var approveCmd = &cobra.Command{
	Use:   "approve <pattern-id> <fix-id>",
	Short: "Record a human endorsement of a fix",
	Long: `Record an approval for a knowledge-bank fix. Enough approvals with a
high success rate clear the fix for unattended execution.

Examples:
  remedyctl approve DOB_FUTURE fix_001`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFeedback(args[0], args[1], true)
	},
}

// rejectCmd records a human rejection of a fix
var rejectCmd = &cobra.Command{
	Use:   "reject <pattern-id> <fix-id>",
	Short: "Record a human rejection of a fix",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFeedback(args[0], args[1], false)
	},
}

// FeedbackRequest matches internal/http FeedbackRequest
type FeedbackRequest struct {
	PatternID string `json:"pattern_id"`
	FixID     string `json:"fix_id,omitempty"`
	Approved  *bool  `json:"approved,omitempty"`
}

// FeedbackResponse matches internal/http FeedbackResponse
type FeedbackResponse struct {
	PatternID string `json:"pattern_id"`
	FixID     string `json:"fix_id"`
	Recorded  string `json:"recorded"`
}

func runFeedback(patternID, fixID string, approved bool) error {
	var resp FeedbackResponse
	err := sendJSON("POST", "/api/v1/feedback", FeedbackRequest{
		PatternID: patternID,
		FixID:     fixID,
		Approved:  &approved,
	}, &resp)
	if err != nil {
		return err
	}

	fmt.Printf("Recorded %s for %s/%s\n", resp.Recorded, resp.PatternID, resp.FixID)
	return nil
}
