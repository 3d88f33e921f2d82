// Package feedback translates remediation outcomes into knowledge-bank
// updates.
//
// Two distinct signals feed the same counters: a human endorsing or
// rejecting a fix for reuse, and the lifecycle's own verification of whether
// the fix worked. Keeping them separate at the API lets callers reason about
// which one moved a counter, even though the stored statistics do not
// distinguish them.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/knowledgebank"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/feedback"

// Tracker records remediation outcomes into the knowledge bank.
type Tracker interface {
	// Approve records a human endorsement of a fix.
	Approve(ctx context.Context, patternID, fixID string) error

	// Reject records a human rejection of a fix.
	Reject(ctx context.Context, patternID, fixID string) error

	// RecordVerification records the lifecycle's verification outcome for a
	// fix that came from the knowledge bank.
	RecordVerification(ctx context.Context, patternID, fixID string, verified bool) error

	// RecordNovelFix stores a fix that had no knowledge-bank precedent.
	// Only for issues the matcher returned no match for; the caller
	// supplies the pattern id, which may be newly minted. Returns the fix
	// id, minted when the request leaves it empty.
	RecordNovelFix(ctx context.Context, req *NovelFixRequest) (string, error)
}

// NovelFixRequest carries a fix with no prior pattern match.
type NovelFixRequest struct {
	PatternID          string
	Pattern            string
	PatternDescription string
	Dimension          string

	FixID       string
	FixType     knowledgebank.FixType
	Action      string
	Description string
	SQLTemplate string
}

// tracker implements the Tracker interface.
type tracker struct {
	store  knowledgebank.Store
	logger *zap.Logger

	// Telemetry
	tracer          trace.Tracer
	meter           metric.Meter
	outcomeCounter  metric.Int64Counter
	novelFixCounter metric.Int64Counter
}

// NewTracker creates a feedback tracker backed by the given store.
func NewTracker(store knowledgebank.Store, logger *zap.Logger) (Tracker, error) {
	if store == nil {
		return nil, errors.New("knowledge bank store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &tracker{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	t.initMetrics()

	return t, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (t *tracker) initMetrics() {
	var err error

	t.outcomeCounter, err = t.meter.Int64Counter(
		"remedyd.feedback.outcomes_total",
		metric.WithDescription("Total number of recorded fix outcomes"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		t.logger.Warn("failed to create outcome counter", zap.Error(err))
	}

	t.novelFixCounter, err = t.meter.Int64Counter(
		"remedyd.feedback.novel_fixes_total",
		metric.WithDescription("Total number of novel fixes recorded"),
		metric.WithUnit("{fix}"),
	)
	if err != nil {
		t.logger.Warn("failed to create novel fix counter", zap.Error(err))
	}
}

// Approve records a human endorsement of a fix.
func (t *tracker) Approve(ctx context.Context, patternID, fixID string) error {
	return t.recordOutcome(ctx, patternID, fixID, true, "review")
}

// Reject records a human rejection of a fix.
func (t *tracker) Reject(ctx context.Context, patternID, fixID string) error {
	return t.recordOutcome(ctx, patternID, fixID, false, "review")
}

// RecordVerification records a verification outcome. Verification success is
// deliberately not an automatic promotion to "approved for reuse": it feeds
// the same counters, but as its own signal.
func (t *tracker) RecordVerification(ctx context.Context, patternID, fixID string, verified bool) error {
	return t.recordOutcome(ctx, patternID, fixID, verified, "verification")
}

func (t *tracker) recordOutcome(ctx context.Context, patternID, fixID string, approved bool, signal string) error {
	ctx, span := t.tracer.Start(ctx, "feedback.record_outcome")
	defer span.End()

	span.SetAttributes(
		attribute.String("pattern_id", patternID),
		attribute.String("fix_id", fixID),
		attribute.Bool("approved", approved),
		attribute.String("signal", signal),
	)

	if err := t.store.UpdateOutcome(patternID, fixID, approved); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	if t.outcomeCounter != nil {
		t.outcomeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("approved", approved),
			attribute.String("signal", signal),
		))
	}

	return nil
}

// RecordNovelFix stores a fix that had no knowledge-bank precedent.
func (t *tracker) RecordNovelFix(ctx context.Context, req *NovelFixRequest) (string, error) {
	ctx, span := t.tracer.Start(ctx, "feedback.record_novel_fix")
	defer span.End()

	if req == nil {
		return "", errors.New("novel fix request is required")
	}
	if req.PatternID == "" {
		return "", errors.New("pattern id is required")
	}

	fixID := req.FixID
	if fixID == "" {
		fixID = "fix_" + strings.Split(uuid.New().String(), "-")[0]
	}

	span.SetAttributes(
		attribute.String("pattern_id", req.PatternID),
		attribute.String("fix_id", fixID),
		attribute.String("fix_type", string(req.FixType)),
	)

	err := t.store.AddFix(req.PatternID, knowledgebank.NewFix{
		FixID:              fixID,
		FixType:            req.FixType,
		Action:             req.Action,
		Description:        req.Description,
		SQLTemplate:        req.SQLTemplate,
		Pattern:            req.Pattern,
		PatternDescription: req.PatternDescription,
		Dimension:          req.Dimension,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to record novel fix: %w", err)
	}

	if t.novelFixCounter != nil {
		t.novelFixCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("fix_type", string(req.FixType)),
		))
	}

	t.logger.Info("novel fix recorded",
		zap.String("pattern_id", req.PatternID),
		zap.String("fix_id", fixID),
	)
	return fixID, nil
}
