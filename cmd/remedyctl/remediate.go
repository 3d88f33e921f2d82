package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	remediateTable     string
	remediateSummary   string
	remediateDesc      string
	remediatePriority  string
	remediateDetection string
	remediateFixSQL    string
	remediateFixDesc   string
	remediatePattern   string
	remediateFixID     string
)

// remediateCmd runs one fix attempt through the lifecycle
var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Run one fix attempt through the remediation lifecycle",
	Long: `Run one fix attempt: safety gate, preview, apply, verification.

When --fix-sql is omitted the knowledge bank is consulted and the best
auto-approved fix for the matched pattern is run.

Examples:
  # Let the knowledge bank pick the fix
  remedyctl remediate --table policies \
    --summary "Future dates of birth" \
    --description "date of birth lies in the future" \
    --detection "SELECT * FROM {table} WHERE dob > CURRENT_DATE"

  # Supply the fix explicitly
  remedyctl remediate --table policies \
    --summary "Negative premiums" \
    --description "negative premium amount on policy" \
    --detection "SELECT * FROM {table} WHERE premium < 0" \
    --fix-sql "UPDATE {table} SET premium = 0 WHERE premium < 0"`,
	RunE: runRemediate,
}

func init() {
	remediateCmd.Flags().StringVar(&remediateTable, "table", "", "target table name (required)")
	remediateCmd.Flags().StringVar(&remediateSummary, "summary", "", "one-line issue summary")
	remediateCmd.Flags().StringVar(&remediateDesc, "description", "", "issue description, used for pattern matching (required)")
	remediateCmd.Flags().StringVar(&remediatePriority, "priority", "Medium", "issue priority, inherited by escalation tickets")
	remediateCmd.Flags().StringVar(&remediateDetection, "detection", "", "detection SQL template with {table} placeholder (required)")
	remediateCmd.Flags().StringVar(&remediateFixSQL, "fix-sql", "", "fix SQL template with {table} placeholder")
	remediateCmd.Flags().StringVar(&remediateFixDesc, "fix-description", "", "human-readable fix summary")
	remediateCmd.Flags().StringVar(&remediatePattern, "pattern-id", "", "knowledge-bank pattern the fix belongs to")
	remediateCmd.Flags().StringVar(&remediateFixID, "fix-id", "", "knowledge-bank fix id")
	_ = remediateCmd.MarkFlagRequired("table")
	_ = remediateCmd.MarkFlagRequired("description")
	_ = remediateCmd.MarkFlagRequired("detection")
}

// Issue matches internal/lifecycle Issue
type Issue struct {
	Summary      string `json:"summary"`
	Description  string `json:"description"`
	Priority     string `json:"priority"`
	DetectionSQL string `json:"detection_sql"`
}

// Fix matches internal/lifecycle Fix
type Fix struct {
	FixID       string `json:"fix_id,omitempty"`
	Description string `json:"description"`
	SQLTemplate string `json:"sql_template"`
}

// RemediateRequest matches internal/http RemediateRequest
type RemediateRequest struct {
	Table     string `json:"table"`
	Issue     Issue  `json:"issue"`
	Fix       *Fix   `json:"fix,omitempty"`
	PatternID string `json:"pattern_id,omitempty"`
}

// Attempt matches internal/lifecycle Attempt
type Attempt struct {
	ID                  string `json:"id"`
	Table               string `json:"table"`
	State               string `json:"state"`
	Statement           string `json:"statement,omitempty"`
	EstimatedRows       int64  `json:"estimated_rows"`
	AffectedRows        int64  `json:"affected_rows"`
	RemainingViolations int64  `json:"remaining_violations"`
	Reason              string `json:"reason,omitempty"`
	TicketID            string `json:"ticket_id,omitempty"`
}

// RemediateResponse matches internal/http RemediateResponse
type RemediateResponse struct {
	Attempt *Attempt `json:"attempt,omitempty"`
	Match   *Match   `json:"match,omitempty"`
	Message string   `json:"message,omitempty"`
}

// runRemediate handles the remediate command
func runRemediate(cmd *cobra.Command, args []string) error {
	req := RemediateRequest{
		Table: remediateTable,
		Issue: Issue{
			Summary:      remediateSummary,
			Description:  remediateDesc,
			Priority:     remediatePriority,
			DetectionSQL: remediateDetection,
		},
		PatternID: remediatePattern,
	}
	if remediateFixSQL != "" {
		req.Fix = &Fix{
			FixID:       remediateFixID,
			Description: remediateFixDesc,
			SQLTemplate: remediateFixSQL,
		}
	}

	var resp RemediateResponse
	if err := sendJSON("POST", "/api/v1/remediate", req, &resp); err != nil {
		return err
	}

	if resp.Attempt == nil {
		fmt.Printf("No attempt ran: %s\n", resp.Message)
		if resp.Match != nil {
			return printJSON(resp.Match)
		}
		return nil
	}

	a := resp.Attempt
	fmt.Printf("Attempt %s finished in state %s\n", a.ID, a.State)
	fmt.Printf("  estimated rows: %d, affected rows: %d, remaining violations: %d\n",
		a.EstimatedRows, a.AffectedRows, a.RemainingViolations)
	if a.Reason != "" {
		fmt.Printf("  reason: %s\n", a.Reason)
	}
	if a.TicketID != "" {
		fmt.Printf("  escalation ticket: %s\n", a.TicketID)
	}
	return nil
}
