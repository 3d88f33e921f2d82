package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// patternsCmd lists stored issue patterns
var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List knowledge-bank issue patterns",
	Long: `List all issue patterns stored in the knowledge bank with their fixes.

Examples:
  # List patterns
  remedyctl patterns`,
	RunE: runPatterns,
}

// searchCmd runs the matcher against a description
var searchCmd = &cobra.Command{
	Use:   "search <description>",
	Short: "Find the pattern most similar to a description",
	Long: `Match a free-text issue description against the knowledge bank.

Examples:
  # Search for a known pattern
  remedyctl search "date of birth lies in the future"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

// autoApprovedCmd lists fixes cleared for unattended execution
var autoApprovedCmd = &cobra.Command{
	Use:   "auto-approved",
	Short: "List fixes cleared for unattended execution",
	RunE:  runAutoApproved,
}

// HistoricalFix matches internal/knowledgebank HistoricalFix
type HistoricalFix struct {
	FixID          string  `json:"fix_id"`
	FixType        string  `json:"fix_type"`
	Action         string  `json:"action"`
	Description    string  `json:"description"`
	SuccessRate    float64 `json:"success_rate"`
	ApprovalCount  int     `json:"approval_count"`
	RejectionCount int     `json:"rejection_count"`
	AutoApprove    bool    `json:"auto_approve"`
	SQLTemplate    string  `json:"sql_template"`
}

// Pattern matches internal/knowledgebank Pattern
type Pattern struct {
	Pattern         string          `json:"pattern"`
	Description     string          `json:"description"`
	Dimension       string          `json:"dq_dimension"`
	HistoricalFixes []HistoricalFix `json:"historical_fixes"`
}

// PatternEntry matches internal/http PatternEntry
type PatternEntry struct {
	PatternID string `json:"pattern_id"`
	Pattern
}

// PatternsResponse matches internal/http PatternsResponse
type PatternsResponse struct {
	Patterns []PatternEntry `json:"patterns"`
	Metadata struct {
		TotalPatterns int `json:"total_patterns"`
		TotalFixes    int `json:"total_fixes"`
	} `json:"metadata"`
}

// Match matches internal/knowledgebank Match
type Match struct {
	PatternID       string          `json:"pattern_id"`
	Pattern         string          `json:"pattern"`
	Description     string          `json:"description"`
	Similarity      float64         `json:"similarity"`
	HistoricalFixes []HistoricalFix `json:"historical_fixes"`
}

// SearchRequest matches internal/http SearchRequest
type SearchRequest struct {
	Description string `json:"description"`
}

// runPatterns handles the patterns command
func runPatterns(cmd *cobra.Command, args []string) error {
	var resp PatternsResponse
	if err := getJSON("/api/v1/patterns", &resp); err != nil {
		return err
	}

	if len(resp.Patterns) == 0 {
		fmt.Println("No patterns stored yet.")
		return nil
	}

	for _, p := range resp.Patterns {
		fmt.Printf("%s  (%s)\n", p.PatternID, p.Dimension)
		fmt.Printf("  %s\n", p.Description)
		for _, f := range p.HistoricalFixes {
			marker := " "
			if f.AutoApprove {
				marker = "*"
			}
			fmt.Printf("  %s %s [%s] success=%.2f approvals=%d rejections=%d\n",
				marker, f.FixID, f.FixType, f.SuccessRate, f.ApprovalCount, f.RejectionCount)
		}
	}
	fmt.Printf("\n%d patterns, %d fixes (* = auto-approved)\n",
		resp.Metadata.TotalPatterns, resp.Metadata.TotalFixes)
	return nil
}

// runSearch handles the search command
func runSearch(cmd *cobra.Command, args []string) error {
	var match Match
	err := sendJSON("POST", "/api/v1/patterns/search", SearchRequest{
		Description: strings.Join(args, " "),
	}, &match)
	if err != nil {
		return err
	}

	fmt.Printf("Matched %s (similarity %.2f)\n", match.PatternID, match.Similarity)
	return printJSON(match)
}

// runAutoApproved handles the auto-approved command
func runAutoApproved(cmd *cobra.Command, args []string) error {
	var resp struct {
		Fixes []struct {
			PatternID string `json:"pattern_id"`
			HistoricalFix
		} `json:"fixes"`
	}
	if err := getJSON("/api/v1/patterns/auto-approved", &resp); err != nil {
		return err
	}

	if len(resp.Fixes) == 0 {
		fmt.Println("No fixes are cleared for unattended execution.")
		return nil
	}

	for _, f := range resp.Fixes {
		fmt.Printf("%s/%s  success=%.2f approvals=%d\n",
			f.PatternID, f.FixID, f.SuccessRate, f.ApprovalCount)
	}
	return nil
}
