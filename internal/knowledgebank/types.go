package knowledgebank

// FixType classifies a remediation strategy.
type FixType string

const (
	// FixDataRepair corrects values in place from a known-good source.
	FixDataRepair FixType = "data_repair"
	// FixStatisticalImputation fills gaps with derived statistics.
	FixStatisticalImputation FixType = "statistical_imputation"
	// FixDeletion removes violating rows.
	FixDeletion FixType = "deletion"
	// FixBusinessRuleDerivation derives values from business rules.
	FixBusinessRuleDerivation FixType = "business_rule_derivation"
	// FixEscalation hands the issue to a human.
	FixEscalation FixType = "escalation"
)

// Valid reports whether t is a known fix type.
func (t FixType) Valid() bool {
	switch t {
	case FixDataRepair, FixStatisticalImputation, FixDeletion,
		FixBusinessRuleDerivation, FixEscalation:
		return true
	}
	return false
}

// HistoricalFix is one remediation strategy tried against an issue pattern,
// with its tracked review statistics.
type HistoricalFix struct {
	FixID          string  `json:"fix_id"`
	FixType        FixType `json:"fix_type"`
	Action         string  `json:"action"`
	Description    string  `json:"description"`
	SuccessRate    float64 `json:"success_rate"`
	ApprovalCount  int     `json:"approval_count"`
	RejectionCount int     `json:"rejection_count"`
	AutoApprove    bool    `json:"auto_approve"`
	LastUsed       string  `json:"last_used"`
	SQLTemplate    string  `json:"sql_template"`
}

// Pattern is a recurring class of data-quality problem.
type Pattern struct {
	// Pattern is the SQL or structural signature of the issue.
	Pattern string `json:"pattern"`

	// Description is the free-text characterization used for matching.
	Description string `json:"description"`

	// Dimension is the data-quality dimension (completeness, accuracy, ...).
	Dimension string `json:"dq_dimension"`

	// HistoricalFixes is ordered by insertion, oldest first.
	HistoricalFixes []HistoricalFix `json:"historical_fixes"`
}

// Metadata holds store-wide counters and the auto-approval policy.
type Metadata struct {
	TotalPatterns        int     `json:"total_patterns"`
	TotalFixes           int     `json:"total_fixes"`
	LastUpdated          string  `json:"last_updated"`
	AutoApproveThreshold float64 `json:"auto_approve_threshold"`
	MinApprovalsForAuto  int     `json:"min_approval_count_for_auto"`
}

// Snapshot is the full persisted form of the knowledge bank.
type Snapshot struct {
	Metadata      Metadata            `json:"metadata"`
	IssuePatterns map[string]*Pattern `json:"issue_patterns"`
}

// NewFix carries the fields for recording a fresh remediation. Counters are
// intentionally absent: a new fix always starts with zero history.
type NewFix struct {
	FixID       string
	FixType     FixType
	Action      string
	Description string
	SQLTemplate string

	// Pattern fields, used only when the pattern does not exist yet.
	Pattern            string
	PatternDescription string
	Dimension          string
}

// Match is the result of a similarity lookup against the store.
type Match struct {
	PatternID       string          `json:"pattern_id"`
	Pattern         string          `json:"pattern"`
	Description     string          `json:"description"`
	Similarity      float64         `json:"similarity"`
	HistoricalFixes []HistoricalFix `json:"historical_fixes"`
}

// EligibleFix is a fix currently cleared for auto-application, annotated with
// its parent pattern.
type EligibleFix struct {
	PatternID          string `json:"pattern_id"`
	PatternDescription string `json:"pattern_description"`
	HistoricalFix
}
