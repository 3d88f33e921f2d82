package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/feedback"
	"github.com/fyrsmithlabs/remedyd/internal/knowledgebank"
	"github.com/fyrsmithlabs/remedyd/internal/lifecycle"
	"github.com/fyrsmithlabs/remedyd/internal/ticket"
)

// RemediateRequest is the request body for POST /api/v1/remediate.
//
// When Fix is absent the knowledge bank is consulted: the issue description
// is matched against stored patterns and the best auto-approved fix is run.
// A match without an auto-approved fix is returned for human review instead
// of being executed.
type RemediateRequest struct {
	Table string          `json:"table"`
	Issue lifecycle.Issue `json:"issue"`

	// Fix, when set, bypasses matching and runs as given.
	Fix *lifecycle.Fix `json:"fix,omitempty"`

	// PatternID ties a caller-supplied fix back to its knowledge-bank
	// pattern so verification outcomes are recorded against it.
	PatternID string `json:"pattern_id,omitempty"`
}

// RemediateResponse is the response body for POST /api/v1/remediate.
type RemediateResponse struct {
	Attempt *lifecycle.Attempt   `json:"attempt,omitempty"`
	Match   *knowledgebank.Match `json:"match,omitempty"`

	// Message explains responses that carry no attempt.
	Message string `json:"message,omitempty"`
}

// handleRemediate runs one fix attempt through the lifecycle.
func (s *Server) handleRemediate(c echo.Context) error {
	var req RemediateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid remediate request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Table == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "table field is required")
	}

	fix := req.Fix
	patternID := req.PatternID
	var match *knowledgebank.Match

	if fix == nil {
		match = s.bank.Match(req.Issue.Description)
		if match == nil {
			return c.JSON(http.StatusNotFound, RemediateResponse{
				Message: "no known pattern matches this issue",
			})
		}
		patternID = match.PatternID

		auto := bestAutoApprovedFix(match)
		if auto == nil {
			// Known pattern, but nothing cleared for unattended execution.
			return c.JSON(http.StatusConflict, RemediateResponse{
				Match:   match,
				Message: "matched pattern has no auto-approved fix; supply one explicitly",
			})
		}
		fix = &lifecycle.Fix{
			FixID:       auto.FixID,
			Description: auto.Description,
			SQLTemplate: auto.SQLTemplate,
		}
	}

	attempt, err := s.controller.Run(c.Request().Context(), &lifecycle.Request{
		Issue: req.Issue,
		Fix:   *fix,
		Table: req.Table,
	})
	if err != nil {
		if attempt == nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		// Escalation itself failed; the attempt is stuck in Failed.
		s.logger.Error("remediation escalation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, RemediateResponse{
			Attempt: attempt,
			Match:   match,
			Message: err.Error(),
		})
	}

	s.recordVerificationOutcome(c, patternID, fix.FixID, attempt)

	return c.JSON(http.StatusOK, RemediateResponse{
		Attempt: attempt,
		Match:   match,
	})
}

// recordVerificationOutcome feeds a verification terminal back into the
// knowledge bank for fixes that came from it. Failures are logged, not
// surfaced; the attempt already ran.
func (s *Server) recordVerificationOutcome(c echo.Context, patternID, fixID string, attempt *lifecycle.Attempt) {
	if patternID == "" || fixID == "" {
		return
	}

	var verified bool
	switch attempt.State {
	case lifecycle.StateVerified:
		verified = true
	case lifecycle.StatePartiallyVerified:
		verified = false
	default:
		return
	}

	if err := s.tracker.RecordVerification(c.Request().Context(), patternID, fixID, verified); err != nil {
		s.logger.Warn("failed to record verification outcome",
			zap.String("pattern_id", patternID),
			zap.String("fix_id", fixID),
			zap.Error(err),
		)
	}
}

// bestAutoApprovedFix picks the auto-approved fix with the highest success
// rate. Earlier fixes win ties.
func bestAutoApprovedFix(match *knowledgebank.Match) *knowledgebank.HistoricalFix {
	var best *knowledgebank.HistoricalFix
	for i := range match.HistoricalFixes {
		f := &match.HistoricalFixes[i]
		if !f.AutoApprove {
			continue
		}
		if best == nil || f.SuccessRate > best.SuccessRate {
			best = f
		}
	}
	return best
}

// PatternEntry is one pattern with its id.
type PatternEntry struct {
	PatternID string `json:"pattern_id"`
	*knowledgebank.Pattern
}

// PatternsResponse is the response body for GET /api/v1/patterns.
type PatternsResponse struct {
	Patterns []PatternEntry         `json:"patterns"`
	Metadata knowledgebank.Metadata `json:"metadata"`
}

// handleListPatterns lists all stored patterns in id order.
func (s *Server) handleListPatterns(c echo.Context) error {
	ids, patterns := s.bank.Patterns()

	entries := make([]PatternEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, PatternEntry{PatternID: id, Pattern: patterns[id]})
	}

	return c.JSON(http.StatusOK, PatternsResponse{
		Patterns: entries,
		Metadata: s.bank.Snapshot().Metadata,
	})
}

// SearchRequest is the request body for POST /api/v1/patterns/search.
type SearchRequest struct {
	Description string `json:"description"`
}

// handleSearchPatterns runs the matcher against a free-text description.
func (s *Server) handleSearchPatterns(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Description == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description field is required")
	}

	match := s.bank.Match(req.Description)
	if match == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no pattern matches the description")
	}

	return c.JSON(http.StatusOK, match)
}

// AutoApprovedResponse is the response body for GET /api/v1/patterns/auto-approved.
type AutoApprovedResponse struct {
	Fixes []knowledgebank.EligibleFix `json:"fixes"`
}

// handleAutoApproved lists fixes cleared for unattended execution.
func (s *Server) handleAutoApproved(c echo.Context) error {
	fixes := s.bank.AutoApproveEligible()
	if fixes == nil {
		fixes = []knowledgebank.EligibleFix{}
	}
	return c.JSON(http.StatusOK, AutoApprovedResponse{Fixes: fixes})
}

// NovelFixBody describes a fix with no knowledge-bank precedent.
type NovelFixBody struct {
	Pattern            string `json:"pattern"`
	PatternDescription string `json:"pattern_description"`
	Dimension          string `json:"dq_dimension"`
	FixType            string `json:"fix_type"`
	Action             string `json:"action"`
	Description        string `json:"description"`
	SQLTemplate        string `json:"sql_template"`
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
//
// Exactly one of two shapes applies: an approval or rejection of an existing
// fix (pattern_id, fix_id, approved), or a novel fix recording (pattern_id,
// novel_fix).
type FeedbackRequest struct {
	PatternID string        `json:"pattern_id"`
	FixID     string        `json:"fix_id,omitempty"`
	Approved  *bool         `json:"approved,omitempty"`
	NovelFix  *NovelFixBody `json:"novel_fix,omitempty"`
}

// FeedbackResponse is the response body for POST /api/v1/feedback.
type FeedbackResponse struct {
	PatternID string `json:"pattern_id"`
	FixID     string `json:"fix_id"`
	Recorded  string `json:"recorded"`
}

// handleFeedback records review outcomes and novel fixes.
func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatternID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern_id field is required")
	}

	ctx := c.Request().Context()

	if req.NovelFix != nil {
		fixID, err := s.tracker.RecordNovelFix(ctx, &feedback.NovelFixRequest{
			PatternID:          req.PatternID,
			Pattern:            req.NovelFix.Pattern,
			PatternDescription: req.NovelFix.PatternDescription,
			Dimension:          req.NovelFix.Dimension,
			FixID:              req.FixID,
			FixType:            knowledgebank.FixType(req.NovelFix.FixType),
			Action:             req.NovelFix.Action,
			Description:        req.NovelFix.Description,
			SQLTemplate:        req.NovelFix.SQLTemplate,
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusCreated, FeedbackResponse{
			PatternID: req.PatternID,
			FixID:     fixID,
			Recorded:  "novel_fix",
		})
	}

	if req.FixID == "" || req.Approved == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "fix_id and approved fields are required")
	}

	var err error
	recorded := "rejection"
	if *req.Approved {
		recorded = "approval"
		err = s.tracker.Approve(ctx, req.PatternID, req.FixID)
	} else {
		err = s.tracker.Reject(ctx, req.PatternID, req.FixID)
	}
	if err != nil {
		if errors.Is(err, knowledgebank.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, FeedbackResponse{
		PatternID: req.PatternID,
		FixID:     req.FixID,
		Recorded:  recorded,
	})
}

// TicketsResponse is the response body for GET /api/v1/tickets.
type TicketsResponse struct {
	Tickets []*ticket.Ticket `json:"tickets"`
}

// handleListTickets lists tickets, optionally filtered by ?status=.
func (s *Server) handleListTickets(c echo.Context) error {
	tickets, err := s.tickets.List(c.QueryParam("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if tickets == nil {
		tickets = []*ticket.Ticket{}
	}
	return c.JSON(http.StatusOK, TicketsResponse{Tickets: tickets})
}

// CreateTicketRequest is the request body for POST /api/v1/tickets.
type CreateTicketRequest struct {
	Summary      string `json:"summary"`
	Description  string `json:"description"`
	Priority     string `json:"priority"`
	Assignee     string `json:"assignee"`
	AffectedRows int64  `json:"affected_rows"`
	MutationText string `json:"mutation_text"`
}

// handleCreateTicket opens a ticket directly, outside the lifecycle.
func (s *Server) handleCreateTicket(c echo.Context) error {
	var req CreateTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Summary == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "summary field is required")
	}

	tk, err := s.tickets.Create(&ticket.CreateRequest{
		Summary:      req.Summary,
		Description:  req.Description,
		Priority:     req.Priority,
		Assignee:     req.Assignee,
		AffectedRows: req.AffectedRows,
		MutationText: req.MutationText,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, tk)
}

// handleGetTicket retrieves one ticket.
func (s *Server) handleGetTicket(c echo.Context) error {
	tk, err := s.tickets.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tk)
}

// AddCommentRequest is the request body for POST /api/v1/tickets/:id/comments.
type AddCommentRequest struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

// handleAddComment appends a comment to a ticket.
func (s *Server) handleAddComment(c echo.Context) error {
	var req AddCommentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	if err := s.tickets.AddComment(c.Param("id"), req.Text, req.Author); err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}

// UpdateStatusRequest is the request body for PATCH /api/v1/tickets/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdateTicketStatus changes a ticket's status.
func (s *Server) handleUpdateTicketStatus(c echo.Context) error {
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status field is required")
	}

	if err := s.tickets.UpdateStatus(c.Param("id"), req.Status); err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}
