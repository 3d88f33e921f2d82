package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/datastore"
	"github.com/fyrsmithlabs/remedyd/internal/ticket"
)

// fakeStore scripts query and mutation behavior per statement fragment.
type fakeStore struct {
	queryRows    map[string][]datastore.Row // keyed by substring of the statement
	queryErr     map[string]error
	mutationErr  error
	affectedRows int64

	queries   []string
	mutations []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		queryRows: make(map[string][]datastore.Row),
		queryErr:  make(map[string]error),
	}
}

func (f *fakeStore) ExecuteQuery(ctx context.Context, stmt string) ([]datastore.Row, error) {
	f.queries = append(f.queries, stmt)
	for frag, err := range f.queryErr {
		if strings.Contains(stmt, frag) {
			return nil, err
		}
	}
	for frag, rows := range f.queryRows {
		if strings.Contains(stmt, frag) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ExecuteMutation(ctx context.Context, stmt string) (int64, error) {
	f.mutations = append(f.mutations, stmt)
	if f.mutationErr != nil {
		return 0, f.mutationErr
	}
	return f.affectedRows, nil
}

// fakeSink records created tickets.
type fakeSink struct {
	created   []*ticket.CreateRequest
	createErr error
	nextID    int
}

func (f *fakeSink) Create(req *ticket.CreateRequest) (*ticket.Ticket, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	f.nextID++
	return &ticket.Ticket{TicketID: "DQ-0001", Status: ticket.StatusOpen}, nil
}

func (f *fakeSink) Get(string) (*ticket.Ticket, error)    { return nil, ticket.ErrNotFound }
func (f *fakeSink) List(string) ([]*ticket.Ticket, error) { return nil, nil }
func (f *fakeSink) AddComment(_, _, _ string) error       { return nil }
func (f *fakeSink) UpdateStatus(_, _ string) error        { return nil }

func validRequest() *Request {
	return &Request{
		Issue: Issue{
			Summary:      "future date of birth",
			Description:  "dob values after today on policy records",
			Priority:     "High",
			DetectionSQL: "SELECT * FROM {table} WHERE dob > CURRENT_DATE",
		},
		Fix: Fix{
			FixID:       "fix_001",
			Description: "NULL out future dates of birth",
			SQLTemplate: "UPDATE {table} SET dob = NULL WHERE dob > CURRENT_DATE",
		},
		Table: "policies_week1",
	}
}

func newTestController(t *testing.T, store datastore.Store, sink ticket.Sink) Controller {
	t.Helper()
	c, err := NewController(DefaultConfig(), store, sink, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(nil, nil, &fakeSink{}, zap.NewNop())
	require.Error(t, err)

	_, err = NewController(nil, newFakeStore(), nil, zap.NewNop())
	require.Error(t, err)

	c, err := NewController(nil, newFakeStore(), &fakeSink{}, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestRun_VerifiedHappyPath(t *testing.T) {
	store := newFakeStore()
	store.affectedRows = 5
	store.queryRows["COUNT(*)"] = []datastore.Row{{"total": int64(5)}}
	store.queryRows["LIMIT 100"] = []datastore.Row{{"id": int64(1)}, {"id": int64(2)}}
	// Detection rule after apply returns no violations (no entry -> nil rows).

	sink := &fakeSink{}
	c := newTestController(t, store, sink)

	attempt, err := c.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StateVerified, attempt.State)
	assert.True(t, attempt.State.Terminal())
	assert.True(t, attempt.State.Success())
	assert.EqualValues(t, 5, attempt.EstimatedRows)
	assert.EqualValues(t, 5, attempt.AffectedRows)
	assert.Zero(t, attempt.RemainingViolations)
	assert.Len(t, attempt.SampleRows, 2)
	assert.Empty(t, sink.created)

	// Preview strictly precedes apply, which strictly precedes verify.
	require.Len(t, store.mutations, 1)
	assert.Equal(t, "UPDATE policies_week1 SET dob = NULL WHERE dob > CURRENT_DATE", store.mutations[0])
	require.GreaterOrEqual(t, len(store.queries), 3)
	assert.Contains(t, store.queries[0], "LIMIT 100")
	assert.Contains(t, store.queries[1], "COUNT(*)")
	assert.Contains(t, store.queries[2], "dob > CURRENT_DATE")
}

func TestRun_UnsafeFixRejectedWithoutStoreAccess(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	c := newTestController(t, store, sink)

	req := validRequest()
	req.Fix.SQLTemplate = "UPDATE {table} SET dob = NULL"

	attempt, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StateRejected, attempt.State)
	assert.Contains(t, attempt.Reason, "scoping predicate")
	assert.Empty(t, attempt.TicketID, "rejection must not open a ticket")
	assert.Empty(t, store.queries, "rejected fix must never reach the data store")
	assert.Empty(t, store.mutations)
	assert.Empty(t, sink.created)
}

func TestRun_UnresolvedPlaceholderRejected(t *testing.T) {
	store := newFakeStore()
	c := newTestController(t, store, &fakeSink{})

	req := validRequest()
	req.Fix.SQLTemplate = "UPDATE {table} SET premium = {median} WHERE premium < 0"

	attempt, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, attempt.State)
	assert.Contains(t, attempt.Reason, "placeholder")
	assert.Empty(t, store.mutations)
}

func TestRun_ApplyFailureEscalates(t *testing.T) {
	store := newFakeStore()
	store.queryRows["COUNT(*)"] = []datastore.Row{{"total": int64(5)}}
	store.mutationErr = &datastore.ExecError{Op: "mutation", Err: errors.New("quota exceeded")}

	sink := &fakeSink{}
	c := newTestController(t, store, sink)

	attempt, err := c.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StateEscalated, attempt.State)
	assert.Contains(t, attempt.Reason, "quota exceeded")
	assert.Equal(t, "DQ-0001", attempt.TicketID)

	require.Len(t, sink.created, 1)
	created := sink.created[0]
	assert.Equal(t, "Fix failed: future date of birth", created.Summary)
	assert.Equal(t, "High", created.Priority)
	assert.Contains(t, created.Description, "quota exceeded")
	assert.Contains(t, created.MutationText, "UPDATE policies_week1")
	assert.EqualValues(t, 5, created.AffectedRows)
}

func TestRun_PreviewFailureEscalates(t *testing.T) {
	store := newFakeStore()
	store.queryErr["LIMIT 100"] = &datastore.ExecError{Op: "query", Err: errors.New("permission denied")}

	sink := &fakeSink{}
	c := newTestController(t, store, sink)

	attempt, err := c.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StateEscalated, attempt.State)
	assert.Empty(t, store.mutations, "a failed preview must block the mutation")
	require.Len(t, sink.created, 1)
}

func TestRun_PartialVerification(t *testing.T) {
	store := newFakeStore()
	store.affectedRows = 3
	store.queryRows["COUNT(*)"] = []datastore.Row{{"total": int64(5)}}
	store.queryRows["dob > CURRENT_DATE"] = []datastore.Row{{"id": int64(9)}, {"id": int64(10)}}

	sink := &fakeSink{}
	c := newTestController(t, store, sink)

	req := validRequest()
	// Make preview and detection distinguishable so only the detection rule
	// returns violations.
	req.Fix.SQLTemplate = "UPDATE {table} SET dob = NULL WHERE dob IS NOT NULL AND dob > DATE('now')"

	attempt, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatePartiallyVerified, attempt.State)
	assert.True(t, attempt.State.Terminal())
	assert.False(t, attempt.State.Success())
	assert.EqualValues(t, 2, attempt.RemainingViolations)
	assert.Contains(t, attempt.Reason, "2 violations remain")
	assert.Empty(t, sink.created, "partial verification is not a failure")
}

func TestRun_VerificationFailureEscalates(t *testing.T) {
	store := newFakeStore()
	store.affectedRows = 5
	store.queryRows["COUNT(*)"] = []datastore.Row{{"total": int64(5)}}
	store.queryErr["dob > CURRENT_DATE"] = &datastore.ExecError{Op: "query", Err: errors.New("timeout")}

	sink := &fakeSink{}
	c := newTestController(t, store, sink)

	req := validRequest()
	req.Fix.SQLTemplate = "UPDATE {table} SET dob = NULL WHERE dob IS NOT NULL"

	attempt, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateEscalated, attempt.State)
	assert.Contains(t, attempt.Reason, "verification failed")
}

func TestRun_EscalationFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	store.mutationErr = errors.New("disk full")
	store.queryRows["COUNT(*)"] = []datastore.Row{{"total": int64(1)}}

	sink := &fakeSink{createErr: errors.New("ticket log unwritable")}
	c := newTestController(t, store, sink)

	attempt, err := c.Run(context.Background(), validRequest())
	require.Error(t, err)
	assert.Equal(t, StateFailed, attempt.State)
	assert.Empty(t, attempt.TicketID)
}

func TestRun_InvalidRequests(t *testing.T) {
	c := newTestController(t, newFakeStore(), &fakeSink{})

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{name: "missing table", mutate: func(r *Request) { r.Table = "" }},
		{name: "missing fix template", mutate: func(r *Request) { r.Fix.SQLTemplate = "" }},
		{name: "missing detection rule", mutate: func(r *Request) { r.Issue.DetectionSQL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			_, err := c.Run(context.Background(), req)
			require.Error(t, err)
		})
	}
}

// Every attempt must end in exactly one terminal state, regardless of which
// step fails.
func TestRun_Totality(t *testing.T) {
	scenarios := []struct {
		name  string
		setup func(*fakeStore, *Request)
	}{
		{name: "happy path", setup: func(s *fakeStore, r *Request) {
			s.queryRows["COUNT(*)"] = []datastore.Row{{"total": int64(1)}}
		}},
		{name: "unsafe fix", setup: func(s *fakeStore, r *Request) {
			r.Fix.SQLTemplate = "DELETE FROM {table}"
		}},
		{name: "apply error", setup: func(s *fakeStore, r *Request) {
			s.queryRows["COUNT(*)"] = []datastore.Row{{"total": int64(1)}}
			s.mutationErr = errors.New("boom")
		}},
		{name: "violations remain", setup: func(s *fakeStore, r *Request) {
			s.queryRows["COUNT(*)"] = []datastore.Row{{"total": int64(1)}}
			r.Fix.SQLTemplate = "UPDATE {table} SET dob = NULL WHERE dob IS NOT NULL"
			s.queryRows["dob > CURRENT_DATE"] = []datastore.Row{{"id": int64(1)}}
		}},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			store := newFakeStore()
			req := validRequest()
			sc.setup(store, req)

			c := newTestController(t, store, &fakeSink{})
			attempt, err := c.Run(context.Background(), req)
			require.NoError(t, err)
			assert.True(t, attempt.State.Terminal(),
				"attempt finished in non-terminal state %s", attempt.State)
			assert.False(t, attempt.FinishedAt.IsZero())
		})
	}
}

func TestRunDetection(t *testing.T) {
	store := newFakeStore()
	store.queryRows["dob > CURRENT_DATE"] = []datastore.Row{{"id": int64(1)}, {"id": int64(2)}}

	c := newTestController(t, store, &fakeSink{})

	count, rows, err := c.RunDetection(context.Background(),
		"SELECT * FROM {table} WHERE dob > CURRENT_DATE", "policies_week1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.Len(t, rows, 2)

	_, _, err = c.RunDetection(context.Background(),
		"SELECT * FROM policies WHERE dob > CURRENT_DATE", "policies_week1")
	require.Error(t, err, "detection rule without placeholder must be rejected")
}
