package knowledgebank

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const dateFormat = "2006-01-02"

var (
	// ErrNotFound is returned when a referenced pattern or fix does not exist.
	ErrNotFound = errors.New("pattern or fix not found")

	// ErrCorruptStore is returned when the persisted snapshot cannot be read.
	ErrCorruptStore = errors.New("knowledge bank file is corrupt")
)

// Store provides read and write access to the knowledge bank.
type Store interface {
	// Snapshot returns a deep copy of the current store contents.
	Snapshot() *Snapshot

	// Patterns returns pattern ids in sorted order with their patterns.
	Patterns() ([]string, map[string]*Pattern)

	// GetFix retrieves one fix. Returns ErrNotFound if either id is unknown.
	GetFix(patternID, fixID string) (*HistoricalFix, error)

	// AddFix appends a fix, creating the pattern on first use of its id.
	AddFix(patternID string, fix NewFix) error

	// UpdateOutcome records an approval or rejection for a fix and recomputes
	// its success rate and auto-approve eligibility.
	UpdateOutcome(patternID, fixID string, approved bool) error

	// Match finds the stored pattern most similar to the description, or nil.
	Match(description string) *Match

	// AutoApproveEligible lists fixes currently cleared for auto-application.
	AutoApproveEligible() []EligibleFix
}

// Config configures a file-backed store.
type Config struct {
	// Path is the JSON snapshot location (default: knowledge_bank.json).
	Path string

	// AutoApproveThreshold is the minimum success rate for auto-approval
	// (default: 0.85).
	AutoApproveThreshold float64

	// MinApprovalsForAuto is the minimum approval count for auto-approval
	// (default: 3).
	MinApprovalsForAuto int

	// MatchThreshold is the minimum Jaccard similarity for a match
	// (default: 0.3).
	MatchThreshold float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:                 "knowledge_bank.json",
		AutoApproveThreshold: 0.85,
		MinApprovalsForAuto:  3,
		MatchThreshold:       0.3,
	}
}

// fileStore implements Store over a single JSON file.
//
// All mutations run under one mutex and persist the whole snapshot before
// returning. This makes the single-writer assumption explicit instead of
// relying on callers to serialize access.
type fileStore struct {
	config *Config
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	data *Snapshot
}

// NewFileStore opens the store at cfg.Path, creating an empty snapshot if the
// file does not exist. Returns ErrCorruptStore if the file exists but cannot
// be decoded.
func NewFileStore(cfg *Config, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &fileStore{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	s.data = data

	logger.Info("knowledge bank loaded",
		zap.String("path", cfg.Path),
		zap.Int("patterns", data.Metadata.TotalPatterns),
		zap.Int("fixes", data.Metadata.TotalFixes),
	)

	return s, nil
}

// load reads the snapshot from disk, or builds an empty one.
func (s *fileStore) load() (*Snapshot, error) {
	raw, err := os.ReadFile(s.config.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &Snapshot{
			Metadata: Metadata{
				AutoApproveThreshold: s.config.AutoApproveThreshold,
				MinApprovalsForAuto:  s.config.MinApprovalsForAuto,
			},
			IssuePatterns: make(map[string]*Pattern),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge bank: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if snap.IssuePatterns == nil {
		snap.IssuePatterns = make(map[string]*Pattern)
	}
	if snap.Metadata.AutoApproveThreshold == 0 {
		snap.Metadata.AutoApproveThreshold = s.config.AutoApproveThreshold
	}
	if snap.Metadata.MinApprovalsForAuto == 0 {
		snap.Metadata.MinApprovalsForAuto = s.config.MinApprovalsForAuto
	}

	return &snap, nil
}

// save persists the full snapshot. Caller must hold the write lock.
func (s *fileStore) save() error {
	s.data.Metadata.LastUpdated = s.now().Format(dateFormat)

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode knowledge bank: %w", err)
	}

	// Write to a temp file in the same directory, then rename, so a crash
	// mid-write never leaves a truncated snapshot behind.
	dir := filepath.Dir(s.config.Path)
	tmp, err := os.CreateTemp(dir, ".knowledge_bank-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write knowledge bank: %w", err)
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
		return fmt.Errorf("failed to replace knowledge bank: %w", err)
	}

	return nil
}

// Snapshot returns a deep copy of the store contents.
func (s *fileStore) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &Snapshot{
		Metadata:      s.data.Metadata,
		IssuePatterns: make(map[string]*Pattern, len(s.data.IssuePatterns)),
	}
	for id, p := range s.data.IssuePatterns {
		cp := *p
		cp.HistoricalFixes = append([]HistoricalFix(nil), p.HistoricalFixes...)
		out.IssuePatterns[id] = &cp
	}
	return out
}

// Patterns returns sorted pattern ids alongside a copy of the patterns.
func (s *fileStore) Patterns() ([]string, map[string]*Pattern) {
	snap := s.Snapshot()

	ids := make([]string, 0, len(snap.IssuePatterns))
	for id := range snap.IssuePatterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, snap.IssuePatterns
}

// GetFix retrieves one fix by pattern and fix id.
func (s *fileStore) GetFix(patternID, fixID string) (*HistoricalFix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data.IssuePatterns[patternID]
	if !ok {
		return nil, fmt.Errorf("pattern %q: %w", patternID, ErrNotFound)
	}
	for i := range p.HistoricalFixes {
		if p.HistoricalFixes[i].FixID == fixID {
			fix := p.HistoricalFixes[i]
			return &fix, nil
		}
	}
	return nil, fmt.Errorf("fix %q in pattern %q: %w", fixID, patternID, ErrNotFound)
}

// AddFix appends a new fix, creating the pattern if this is its first fix.
func (s *fileStore) AddFix(patternID string, fix NewFix) error {
	if patternID == "" {
		return errors.New("pattern id is required")
	}
	if fix.FixID == "" {
		return errors.New("fix id is required")
	}
	if !fix.FixType.Valid() {
		return fmt.Errorf("unknown fix type %q", fix.FixType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data.IssuePatterns[patternID]
	if !ok {
		p = &Pattern{
			Pattern:     fix.Pattern,
			Description: fix.PatternDescription,
			Dimension:   fix.Dimension,
		}
		if p.Dimension == "" {
			p.Dimension = "Unknown"
		}
		s.data.IssuePatterns[patternID] = p
	}

	p.HistoricalFixes = append(p.HistoricalFixes, HistoricalFix{
		FixID:       fix.FixID,
		FixType:     fix.FixType,
		Action:      fix.Action,
		Description: fix.Description,
		LastUsed:    s.now().Format(dateFormat),
		SQLTemplate: fix.SQLTemplate,
	})

	s.recountLocked()

	if err := s.save(); err != nil {
		return err
	}

	s.logger.Info("fix recorded",
		zap.String("pattern_id", patternID),
		zap.String("fix_id", fix.FixID),
		zap.String("fix_type", string(fix.FixType)),
	)
	return nil
}

// UpdateOutcome increments the approval or rejection counter on a fix and
// recomputes its derived fields.
//
// Unknown ids return ErrNotFound; swallowing them would make a failed
// recording indistinguishable from a successful one.
func (s *fileStore) UpdateOutcome(patternID, fixID string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data.IssuePatterns[patternID]
	if !ok {
		return fmt.Errorf("pattern %q: %w", patternID, ErrNotFound)
	}

	for i := range p.HistoricalFixes {
		fix := &p.HistoricalFixes[i]
		if fix.FixID != fixID {
			continue
		}

		if approved {
			fix.ApprovalCount++
		} else {
			fix.RejectionCount++
		}

		total := fix.ApprovalCount + fix.RejectionCount
		fix.SuccessRate = 0
		if total > 0 {
			fix.SuccessRate = float64(fix.ApprovalCount) / float64(total)
		}
		fix.AutoApprove = fix.SuccessRate >= s.data.Metadata.AutoApproveThreshold &&
			fix.ApprovalCount >= s.data.Metadata.MinApprovalsForAuto
		fix.LastUsed = s.now().Format(dateFormat)

		if err := s.save(); err != nil {
			return err
		}

		s.logger.Info("fix outcome recorded",
			zap.String("pattern_id", patternID),
			zap.String("fix_id", fixID),
			zap.Bool("approved", approved),
			zap.Float64("success_rate", fix.SuccessRate),
			zap.Bool("auto_approve", fix.AutoApprove),
		)
		return nil
	}

	return fmt.Errorf("fix %q in pattern %q: %w", fixID, patternID, ErrNotFound)
}

// AutoApproveEligible lists all fixes currently cleared for auto-application.
func (s *fileStore) AutoApproveEligible() []EligibleFix {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data.IssuePatterns))
	for id := range s.data.IssuePatterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var eligible []EligibleFix
	for _, id := range ids {
		p := s.data.IssuePatterns[id]
		for _, fix := range p.HistoricalFixes {
			if fix.AutoApprove {
				eligible = append(eligible, EligibleFix{
					PatternID:          id,
					PatternDescription: p.Description,
					HistoricalFix:      fix,
				})
			}
		}
	}
	return eligible
}

// recountLocked refreshes store-wide counters. Caller must hold the write lock.
func (s *fileStore) recountLocked() {
	s.data.Metadata.TotalPatterns = len(s.data.IssuePatterns)
	total := 0
	for _, p := range s.data.IssuePatterns {
		total += len(p.HistoricalFixes)
	}
	s.data.Metadata.TotalFixes = total
}
