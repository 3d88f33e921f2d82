package knowledgebank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "identical descriptions score 1.0",
			a:    "future date of birth check",
			b:    "future date of birth check",
			want: 1.0,
		},
		{
			name: "case insensitive",
			a:    "FUTURE Date OF birth CHECK",
			b:    "future date of birth check",
			want: 1.0,
		},
		{
			name: "disjoint descriptions score 0.0",
			a:    "negative premium amount",
			b:    "missing customer email",
			want: 0.0,
		},
		{
			name: "partial overlap",
			// tokens: {date, of, birth, in, future} vs {future, date, of, birth, check}
			// intersection 4, union 6
			a:    "date of birth in future",
			b:    "future date of birth check",
			want: 4.0 / 6.0,
		},
		{
			name: "both empty score 0.0",
			a:    "",
			b:    "",
			want: 0.0,
		},
		{
			name: "one empty scores 0.0",
			a:    "",
			b:    "future date of birth check",
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestMatch(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddFix("DOB_FUTURE", dobFix("fix_001")))

	premium := NewFix{
		FixID:              "fix_001",
		FixType:            FixStatisticalImputation,
		Action:             "Replace negative premiums with the median",
		Description:        "Impute premium from table median",
		SQLTemplate:        "UPDATE {table} SET premium = 120.0 WHERE premium < 0",
		Pattern:            "premium < 0",
		PatternDescription: "negative premium amount on policy",
		Dimension:          "accuracy",
	}
	require.NoError(t, store.AddFix("PREMIUM_NEGATIVE", premium))

	t.Run("best pattern wins above threshold", func(t *testing.T) {
		m := store.Match("date of birth in future")
		require.NotNil(t, m)
		assert.Equal(t, "DOB_FUTURE", m.PatternID)
		assert.Greater(t, m.Similarity, 0.3)
		require.Len(t, m.HistoricalFixes, 1)
		assert.Equal(t, "fix_001", m.HistoricalFixes[0].FixID)
	})

	t.Run("no match below threshold", func(t *testing.T) {
		assert.Nil(t, store.Match("duplicate rows across weekly loads"))
	})

	t.Run("empty query returns no match", func(t *testing.T) {
		assert.Nil(t, store.Match(""))
	})

	t.Run("match result is a copy", func(t *testing.T) {
		m := store.Match("date of birth in future")
		require.NotNil(t, m)
		m.HistoricalFixes[0].ApprovalCount = 42

		fix, err := store.GetFix("DOB_FUTURE", "fix_001")
		require.NoError(t, err)
		assert.Zero(t, fix.ApprovalCount)
	})
}

func TestMatch_EmptyStore(t *testing.T) {
	store, err := NewFileStore(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	assert.Nil(t, store.Match("anything at all"))
}

func TestMatch_TieKeepsFirstSortedPattern(t *testing.T) {
	store := newTestStore(t)

	a := dobFix("fix_001")
	a.PatternDescription = "orphaned policy rows"
	require.NoError(t, store.AddFix("B_PATTERN", a))

	b := dobFix("fix_001")
	b.PatternDescription = "orphaned policy rows"
	require.NoError(t, store.AddFix("A_PATTERN", b))

	m := store.Match("orphaned policy rows")
	require.NotNil(t, m)
	assert.Equal(t, "A_PATTERN", m.PatternID)
}
