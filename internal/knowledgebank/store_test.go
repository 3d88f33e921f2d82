package knowledgebank

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "knowledge_bank.json")
	return cfg
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewFileStore(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	return store
}

func dobFix(id string) NewFix {
	return NewFix{
		FixID:              id,
		FixType:            FixDataRepair,
		Action:             "NULL out future dates of birth",
		Description:        "Set dob to NULL where it lies in the future",
		SQLTemplate:        "UPDATE {table} SET dob = NULL WHERE dob > CURRENT_DATE",
		Pattern:            "dob > CURRENT_DATE",
		PatternDescription: "future date of birth check",
		Dimension:          "accuracy",
	}
}

func TestNewFileStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(t *testing.T) *Config
		wantErr bool
	}{
		{
			name: "creates empty store when file missing",
			cfg:  testConfig,
		},
		{
			name: "nil config falls back to defaults path",
			cfg: func(t *testing.T) *Config {
				// Default path is relative; point it into a temp dir so the
				// test does not litter the working directory.
				cfg := DefaultConfig()
				cfg.Path = filepath.Join(t.TempDir(), "kb.json")
				return cfg
			},
		},
		{
			name: "empty path rejected",
			cfg: func(t *testing.T) *Config {
				return &Config{}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewFileStore(tt.cfg(t), zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, store)
		})
	}
}

func TestNewFileStore_CorruptFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Path, []byte("{not json"), 0o600))

	_, err := NewFileStore(cfg, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestAddFix_CreatesPatternOnFirstUse(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))

	fix, err := store.GetFix("DOB_FUTURE", "fix_001")
	require.NoError(t, err)
	assert.Equal(t, FixDataRepair, fix.FixType)
	assert.Zero(t, fix.ApprovalCount)
	assert.Zero(t, fix.RejectionCount)
	assert.Zero(t, fix.SuccessRate)
	assert.False(t, fix.AutoApprove)

	snap := store.Snapshot()
	assert.Equal(t, 1, snap.Metadata.TotalPatterns)
	assert.Equal(t, 1, snap.Metadata.TotalFixes)
	assert.Equal(t, "future date of birth check", snap.IssuePatterns["DOB_FUTURE"].Description)
}

func TestAddFix_AppendsInInsertionOrder(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))
	second := dobFix("fix_002")
	second.FixType = FixDeletion
	require.NoError(t, store.AddFix("DOB_FUTURE", second))

	snap := store.Snapshot()
	fixes := snap.IssuePatterns["DOB_FUTURE"].HistoricalFixes
	require.Len(t, fixes, 2)
	assert.Equal(t, "fix_001", fixes[0].FixID)
	assert.Equal(t, "fix_002", fixes[1].FixID)
	assert.Equal(t, 2, snap.Metadata.TotalFixes)
	assert.Equal(t, 1, snap.Metadata.TotalPatterns)
}

func TestAddFix_RejectsUnknownFixType(t *testing.T) {
	store := newTestStore(t)

	fix := dobFix("fix_001")
	fix.FixType = "guesswork"
	err := store.AddFix("DOB_FUTURE", fix)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fix type")
}

func TestUpdateOutcome_RecomputesDerivedFields(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))

	require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", true))
	require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", true))
	require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", false))

	fix, err := store.GetFix("DOB_FUTURE", "fix_001")
	require.NoError(t, err)
	assert.Equal(t, 2, fix.ApprovalCount)
	assert.Equal(t, 1, fix.RejectionCount)
	assert.InDelta(t, 2.0/3.0, fix.SuccessRate, 1e-9)
	assert.False(t, fix.AutoApprove)
	assert.NotEmpty(t, fix.LastUsed)
}

func TestUpdateOutcome_AutoApproveThresholdCrossing(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))

	// Two approvals: perfect rate but below the minimum approval count.
	require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", true))
	require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", true))
	fix, err := store.GetFix("DOB_FUTURE", "fix_001")
	require.NoError(t, err)
	assert.Equal(t, 1.0, fix.SuccessRate)
	assert.False(t, fix.AutoApprove)

	// Third approval satisfies both conditions.
	require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", true))
	fix, err = store.GetFix("DOB_FUTURE", "fix_001")
	require.NoError(t, err)
	assert.True(t, fix.AutoApprove)

	// A single rejection at 3/4 = 0.75 drops below the 0.85 threshold.
	require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", false))
	fix, err = store.GetFix("DOB_FUTURE", "fix_001")
	require.NoError(t, err)
	assert.False(t, fix.AutoApprove)
}

func TestUpdateOutcome_MonotonicCounters(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))

	prevTotal := 0
	outcomes := []bool{true, false, false, true, true, false, true}
	for _, approved := range outcomes {
		require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", approved))

		fix, err := store.GetFix("DOB_FUTURE", "fix_001")
		require.NoError(t, err)

		total := fix.ApprovalCount + fix.RejectionCount
		assert.Greater(t, total, prevTotal)
		assert.InDelta(t, float64(fix.ApprovalCount)/float64(total), fix.SuccessRate, 1e-9)
		prevTotal = total
	}
}

func TestUpdateOutcome_UnknownIDs(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))

	tests := []struct {
		name      string
		patternID string
		fixID     string
	}{
		{name: "unknown pattern", patternID: "NO_SUCH", fixID: "fix_001"},
		{name: "unknown fix", patternID: "DOB_FUTURE", fixID: "fix_999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpdateOutcome(tt.patternID, tt.fixID, true)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestGetFix_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetFix("NO_SUCH", "fix_001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutoApproveEligible(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_002")))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", true))
	}

	eligible := store.AutoApproveEligible()
	require.Len(t, eligible, 1)
	assert.Equal(t, "fix_001", eligible[0].FixID)
	assert.Equal(t, "DOB_FUTURE", eligible[0].PatternID)
	assert.Equal(t, "future date of birth check", eligible[0].PatternDescription)
}

func TestPersistenceRoundTrip(t *testing.T) {
	cfg := testConfig(t)

	store, err := NewFileStore(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))
	require.NoError(t, store.UpdateOutcome("DOB_FUTURE", "fix_001", true))

	// Reopen from disk and verify everything survived.
	reopened, err := NewFileStore(cfg, zap.NewNop())
	require.NoError(t, err)

	fix, err := reopened.GetFix("DOB_FUTURE", "fix_001")
	require.NoError(t, err)
	assert.Equal(t, 1, fix.ApprovalCount)
	assert.Equal(t, 1.0, fix.SuccessRate)

	snap := reopened.Snapshot()
	assert.Equal(t, 1, snap.Metadata.TotalPatterns)
	assert.Equal(t, time.Now().Format("2006-01-02"), snap.Metadata.LastUpdated)
}

func TestPersistedFormMatchesSchema(t *testing.T) {
	cfg := testConfig(t)
	store, err := NewFileStore(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))

	raw, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "metadata")
	assert.Contains(t, doc, "issue_patterns")

	var patterns map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["issue_patterns"], &patterns))
	require.Contains(t, patterns, "DOB_FUTURE")
	assert.Contains(t, patterns["DOB_FUTURE"], "dq_dimension")
	assert.Contains(t, patterns["DOB_FUTURE"], "historical_fixes")
}

func TestSnapshotIsACopy(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))

	snap := store.Snapshot()
	snap.IssuePatterns["DOB_FUTURE"].HistoricalFixes[0].ApprovalCount = 99

	fix, err := store.GetFix("DOB_FUTURE", "fix_001")
	require.NoError(t, err)
	assert.Zero(t, fix.ApprovalCount)
}
