// Package ticket provides the append-only escalation log.
//
// Tickets are created when automated remediation cannot proceed safely and a
// human has to intervene. A ticket is never deleted or merged; duplicate
// escalations for the same root cause simply produce multiple tickets.
package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a ticket id is unknown.
var ErrNotFound = errors.New("ticket not found")

// StatusOpen is the status every new ticket starts in.
const StatusOpen = "OPEN"

// Comment is one append-only note on a ticket.
type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment carries the failed mutation text for the assignee.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Ticket is one immutable escalation record. Status and comments may change
// after creation; nothing else does.
type Ticket struct {
	TicketID     string      `json:"ticket_id"`
	Summary      string      `json:"summary"`
	Description  string      `json:"description"`
	Priority     string      `json:"priority"`
	AffectedRows int64       `json:"affected_rows"`
	Status       string      `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at,omitempty"`
	Assignee     string      `json:"assignee"`
	Labels       []string    `json:"labels"`
	Comments     []Comment   `json:"comments"`
	Attachment   *Attachment `json:"attachment,omitempty"`
}

// CreateRequest carries the fields for a new ticket.
type CreateRequest struct {
	Summary      string
	Description  string
	Priority     string
	AffectedRows int64

	// MutationText, when set, is attached as fix_sql.sql.
	MutationText string

	// Assignee defaults to DQ-Team.
	Assignee string
}

// Sink records escalations durably.
type Sink interface {
	// Create opens a new ticket with the next sequential id.
	Create(req *CreateRequest) (*Ticket, error)

	// Get retrieves a ticket by id.
	Get(ticketID string) (*Ticket, error)

	// List returns all tickets, optionally filtered by status.
	List(status string) ([]*Ticket, error)

	// AddComment appends a comment to a ticket.
	AddComment(ticketID, text, author string) error

	// UpdateStatus changes a ticket's status in place.
	UpdateStatus(ticketID, newStatus string) error
}

// Config configures a file-backed sink.
type Config struct {
	// Path is the JSON ticket log location (default: tickets.json).
	Path string

	// IDPrefix prefixes every ticket id (default: DQ).
	IDPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:     "tickets.json",
		IDPrefix: "DQ",
	}
}

// ticketLog is the persisted form of the sink.
type ticketLog struct {
	Metadata struct {
		LastTicketID int `json:"last_ticket_id"`
	} `json:"metadata"`
	Tickets []*Ticket `json:"tickets"`
}

// fileSink implements Sink over a single JSON file.
type fileSink struct {
	config *Config
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	data *ticketLog
}

// NewFileSink opens the ticket log at cfg.Path, creating an empty log if the
// file does not exist.
func NewFileSink(cfg *Config, logger *zap.Logger) (Sink, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		return nil, errors.New("ticket log path is required")
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "DQ"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &fileSink{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	s.data = data

	return s, nil
}

func (s *fileSink) load() (*ticketLog, error) {
	raw, err := os.ReadFile(s.config.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &ticketLog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket log: %w", err)
	}

	var log ticketLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("ticket log is corrupt: %w", err)
	}
	return &log, nil
}

// save persists the full log. Caller must hold the write lock.
func (s *fileSink) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ticket log: %w", err)
	}

	dir := filepath.Dir(s.config.Path)
	tmp, err := os.CreateTemp(dir, ".tickets-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ticket log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.config.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ticket log: %w", err)
	}
	return nil
}

// Create opens a new ticket with the next sequential id.
func (s *fileSink) Create(req *CreateRequest) (*Ticket, error) {
	if req == nil {
		return nil, errors.New("create request is required")
	}
	if req.Summary == "" {
		return nil, errors.New("summary is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Metadata.LastTicketID++
	priority := req.Priority
	if priority == "" {
		priority = "Medium"
	}
	assignee := req.Assignee
	if assignee == "" {
		assignee = "DQ-Team"
	}

	t := &Ticket{
		TicketID:     fmt.Sprintf("%s-%04d", s.config.IDPrefix, s.data.Metadata.LastTicketID),
		Summary:      req.Summary,
		Description:  req.Description,
		Priority:     priority,
		AffectedRows: req.AffectedRows,
		Status:       StatusOpen,
		CreatedAt:    s.now(),
		Assignee:     assignee,
		Labels:       []string{"data-quality", "auto-generated"},
		Comments:     []Comment{},
	}
	if req.MutationText != "" {
		t.Attachment = &Attachment{Name: "fix_sql.sql", Content: req.MutationText}
	}

	s.data.Tickets = append(s.data.Tickets, t)

	if err := s.save(); err != nil {
		// Roll back the in-memory append so a failed persist cannot leak
		// a ticket that was never durably recorded.
		s.data.Tickets = s.data.Tickets[:len(s.data.Tickets)-1]
		s.data.Metadata.LastTicketID--
		return nil, err
	}

	s.logger.Info("ticket created",
		zap.String("ticket_id", t.TicketID),
		zap.String("priority", t.Priority),
		zap.Int64("affected_rows", t.AffectedRows),
	)

	cp := *t
	return &cp, nil
}

// Get retrieves a ticket by id.
func (s *fileSink) Get(ticketID string) (*Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.findLocked(ticketID)
	if t == nil {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, ErrNotFound)
	}
	cp := *t
	cp.Comments = append([]Comment(nil), t.Comments...)
	return &cp, nil
}

// List returns tickets in creation order, optionally filtered by status.
func (s *fileSink) List(status string) ([]*Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Ticket, 0, len(s.data.Tickets))
	for _, t := range s.data.Tickets {
		if status != "" && t.Status != status {
			continue
		}
		cp := *t
		cp.Comments = append([]Comment(nil), t.Comments...)
		out = append(out, &cp)
	}
	return out, nil
}

// AddComment appends a comment to a ticket.
func (s *fileSink) AddComment(ticketID, text, author string) error {
	if text == "" {
		return errors.New("comment text is required")
	}
	if author == "" {
		author = "System"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(ticketID)
	if t == nil {
		return fmt.Errorf("ticket %q: %w", ticketID, ErrNotFound)
	}

	t.Comments = append(t.Comments, Comment{
		Author:    author,
		Text:      text,
		CreatedAt: s.now(),
	})
	t.UpdatedAt = s.now()

	return s.save()
}

// UpdateStatus changes a ticket's status in place.
func (s *fileSink) UpdateStatus(ticketID, newStatus string) error {
	if newStatus == "" {
		return errors.New("status is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(ticketID)
	if t == nil {
		return fmt.Errorf("ticket %q: %w", ticketID, ErrNotFound)
	}

	t.Status = newStatus
	t.UpdatedAt = s.now()

	if err := s.save(); err != nil {
		return err
	}

	s.logger.Info("ticket status updated",
		zap.String("ticket_id", ticketID),
		zap.String("status", newStatus),
	)
	return nil
}

// findLocked returns the live ticket record. Caller must hold a lock.
func (s *fileSink) findLocked(ticketID string) *Ticket {
	for _, t := range s.data.Tickets {
		if t.TicketID == ticketID {
			return t
		}
	}
	return nil
}
