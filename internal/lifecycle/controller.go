// Package lifecycle drives a fix attempt through its state machine:
// Proposed -> Previewed -> Applied -> Verified, with Rejected, Escalated and
// PartiallyVerified as the other terminals.
//
// Two guarantees hold for every attempt:
//   - no mutation is issued before the safety gate has passed the statement
//   - no Applied attempt is reported done without re-running the detection
//     rule that found the issue
//
// An attempt always runs synchronously to exactly one terminal state.
// Retries are a new attempt, never a resumption.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/datastore"
	"github.com/fyrsmithlabs/remedyd/internal/safety"
	"github.com/fyrsmithlabs/remedyd/internal/ticket"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/lifecycle"

// Controller runs fix attempts.
type Controller interface {
	// Run drives one attempt to a terminal state. The returned attempt
	// always carries exactly one of the terminal states; the error is
	// non-nil only for invalid requests or when escalation itself failed.
	Run(ctx context.Context, req *Request) (*Attempt, error)

	// RunDetection executes a detection rule against a table and reports
	// the violation count with a sample of violating rows.
	RunDetection(ctx context.Context, detectionSQL, table string) (int64, []datastore.Row, error)
}

// Config configures the controller.
type Config struct {
	// PreviewSampleLimit caps preview sample rows (default: 100).
	PreviewSampleLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PreviewSampleLimit: safety.DefaultSampleLimit,
	}
}

// controller implements the Controller interface.
type controller struct {
	config *Config
	store  datastore.Store
	sink   ticket.Sink
	logger *zap.Logger

	// Telemetry
	tracer            trace.Tracer
	meter             metric.Meter
	attemptCounter    metric.Int64Counter
	escalationCounter metric.Int64Counter
}

// NewController creates a lifecycle controller.
func NewController(cfg *Config, store datastore.Store, sink ticket.Sink, logger *zap.Logger) (Controller, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("data store is required")
	}
	if sink == nil {
		return nil, errors.New("ticket sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &controller{
		config: cfg,
		store:  store,
		sink:   sink,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	c.initMetrics()

	return c, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (c *controller) initMetrics() {
	var err error

	c.attemptCounter, err = c.meter.Int64Counter(
		"remedyd.lifecycle.attempts_total",
		metric.WithDescription("Total number of fix attempts by terminal state"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		c.logger.Warn("failed to create attempt counter", zap.Error(err))
	}

	c.escalationCounter, err = c.meter.Int64Counter(
		"remedyd.lifecycle.escalations_total",
		metric.WithDescription("Total number of attempts escalated to a ticket"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		c.logger.Warn("failed to create escalation counter", zap.Error(err))
	}
}

// Run drives one fix attempt to a terminal state.
func (c *controller) Run(ctx context.Context, req *Request) (*Attempt, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.run")
	defer span.End()

	if err := validateRequest(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("table", req.Table),
		attribute.String("fix_id", req.Fix.FixID),
	)

	attempt := &Attempt{
		ID:        uuid.New().String(),
		Table:     req.Table,
		State:     StateProposed,
		StartedAt: time.Now(),
	}
	defer func() {
		attempt.FinishedAt = time.Now()
		span.SetAttributes(attribute.String("terminal_state", string(attempt.State)))
		if c.attemptCounter != nil {
			c.attemptCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("state", string(attempt.State)),
			))
		}
	}()

	// Proposed -> Previewed. The gate must pass before anything touches
	// the data store.
	plan, err := safety.BuildPlan(req.Fix.SQLTemplate, req.Table, c.config.PreviewSampleLimit)
	if err != nil {
		attempt.State = StateRejected
		attempt.Reason = err.Error()
		c.logger.Warn("fix rejected by safety gate",
			zap.String("attempt_id", attempt.ID),
			zap.String("table", req.Table),
			zap.Error(err),
		)
		return attempt, nil
	}

	attempt.Statement = plan.Statement
	attempt.PreviewSQL = plan.PreviewSQL

	sample, err := c.store.ExecuteQuery(ctx, plan.PreviewSQL)
	if err != nil {
		return c.escalate(ctx, attempt, req, plan, fmt.Errorf("preview failed: %w", err))
	}
	attempt.SampleRows = sample

	count, err := c.queryCount(ctx, plan.CountSQL)
	if err != nil {
		return c.escalate(ctx, attempt, req, plan, fmt.Errorf("preview count failed: %w", err))
	}
	attempt.EstimatedRows = count
	attempt.State = StatePreviewed

	c.logger.Info("fix previewed",
		zap.String("attempt_id", attempt.ID),
		zap.String("table", req.Table),
		zap.Int64("estimated_rows", count),
	)

	// Previewed -> Applied.
	affected, err := c.store.ExecuteMutation(ctx, plan.Statement)
	if err != nil {
		return c.escalate(ctx, attempt, req, plan, fmt.Errorf("apply failed: %w", err))
	}
	attempt.AffectedRows = affected
	attempt.State = StateApplied

	// Applied -> Verified / PartiallyVerified. Mandatory: once applied, the
	// detection rule is always re-run before the attempt is reported done.
	remaining, _, err := c.RunDetection(ctx, req.Issue.DetectionSQL, req.Table)
	if err != nil {
		return c.escalate(ctx, attempt, req, plan, fmt.Errorf("verification failed: %w", err))
	}
	attempt.RemainingViolations = remaining

	if remaining == 0 {
		attempt.State = StateVerified
		c.logger.Info("fix verified",
			zap.String("attempt_id", attempt.ID),
			zap.String("table", req.Table),
			zap.Int64("affected_rows", affected),
		)
		return attempt, nil
	}

	attempt.State = StatePartiallyVerified
	attempt.Reason = fmt.Sprintf("%d violations remain after apply", remaining)
	c.logger.Warn("fix partially verified",
		zap.String("attempt_id", attempt.ID),
		zap.String("table", req.Table),
		zap.Int64("remaining_violations", remaining),
	)
	return attempt, nil
}

// RunDetection executes a detection rule against a table. Zero returned
// rows means the data is compliant.
func (c *controller) RunDetection(ctx context.Context, detectionSQL, table string) (int64, []datastore.Row, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.run_detection")
	defer span.End()

	resolved, err := safety.ResolveTemplate(detectionSQL, table)
	if err != nil {
		span.RecordError(err)
		return 0, nil, err
	}

	rows, err := c.store.ExecuteQuery(ctx, resolved)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, nil, err
	}

	span.SetAttributes(attribute.Int("violations", len(rows)))
	return int64(len(rows)), rows, nil
}

// escalate moves a failed attempt to its terminal state by opening a ticket
// carrying the issue context, the failed fix and the error summary.
func (c *controller) escalate(ctx context.Context, attempt *Attempt, req *Request, plan *safety.Plan, cause error) (*Attempt, error) {
	attempt.State = StateFailed
	attempt.Reason = cause.Error()

	c.logger.Error("fix attempt failed",
		zap.String("attempt_id", attempt.ID),
		zap.String("table", req.Table),
		zap.Error(cause),
	)

	tk, err := c.sink.Create(&ticket.CreateRequest{
		Summary:      fmt.Sprintf("Fix failed: %s", req.Issue.Summary),
		Description:  fmt.Sprintf("%s\n\nFix: %s\nError: %v", req.Issue.Description, req.Fix.Description, cause),
		Priority:     req.Issue.Priority,
		AffectedRows: attempt.EstimatedRows,
		MutationText: plan.Statement,
	})
	if err != nil {
		// The attempt stays Failed; the caller learns that escalation
		// itself could not be recorded.
		return attempt, fmt.Errorf("failed to create escalation ticket: %w", err)
	}

	attempt.State = StateEscalated
	attempt.TicketID = tk.TicketID

	if c.escalationCounter != nil {
		c.escalationCounter.Add(ctx, 1)
	}

	c.logger.Info("attempt escalated",
		zap.String("attempt_id", attempt.ID),
		zap.String("ticket_id", tk.TicketID),
	)
	return attempt, nil
}

// queryCount runs a count query and extracts its single value.
func (c *controller) queryCount(ctx context.Context, countSQL string) (int64, error) {
	rows, err := c.store.ExecuteQuery(ctx, countSQL)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			return int64(n), nil
		}
	}
	return 0, fmt.Errorf("count query returned no numeric column: %s", countSQL)
}

func validateRequest(req *Request) error {
	if req == nil {
		return errors.New("request is required")
	}
	if req.Table == "" {
		return errors.New("target table is required")
	}
	if req.Fix.SQLTemplate == "" {
		return errors.New("fix template is required")
	}
	if req.Issue.DetectionSQL == "" {
		return errors.New("detection rule is required for verification")
	}
	return nil
}
