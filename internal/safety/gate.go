// Package safety validates proposed mutations and derives their non-mutating
// preview form.
//
// Every function here is pure: the same (template, table) input always yields
// the same output, and nothing touches the data store. The gate enforces the
// engine's primary invariant: a row-mutating statement without a scoping
// predicate never reaches execution.
package safety

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Placeholder is the table token a template must carry. Substitution is
// deliberately narrow: only this exact token is replaced, never arbitrary
// identifier shapes.
const Placeholder = "{table}"

// DefaultSampleLimit caps the rows a preview query returns for display.
const DefaultSampleLimit = 100

var (
	// ErrUnsafeMutation marks a row-mutating statement without a scoping
	// predicate. Never retried: the proposed fix itself is broken.
	ErrUnsafeMutation = errors.New("mutation lacks a scoping predicate")

	// ErrUnresolvedPlaceholder marks a template that still carries a
	// placeholder after substitution.
	ErrUnresolvedPlaceholder = errors.New("statement contains an unresolved placeholder")

	// ErrUnsupportedStatement marks a statement the gate cannot derive a
	// row-level preview for.
	ErrUnsupportedStatement = errors.New("statement is not an update or delete")
)

// StatementKind is the mutation class of a statement.
type StatementKind string

const (
	KindUpdate StatementKind = "update"
	KindDelete StatementKind = "delete"
)

// Plan is the validated, resolved form of a proposed mutation together with
// its preview queries.
type Plan struct {
	// Kind is the mutation class.
	Kind StatementKind

	// Table is the resolved target identifier.
	Table string

	// Statement is the executable mutation with the placeholder resolved.
	Statement string

	// Predicate is the scoping clause, starting at WHERE.
	Predicate string

	// PreviewSQL selects a capped sample of the rows the mutation would touch.
	PreviewSQL string

	// CountSQL counts every row the mutation would touch, uncapped.
	CountSQL string
}

var (
	placeholderRe = regexp.MustCompile(`\{[A-Za-z0-9_]+\}`)
	whereRe       = regexp.MustCompile(`(?i)\bWHERE\b`)
	updateRe      = regexp.MustCompile(`(?i)^\s*UPDATE\b`)
	deleteRe      = regexp.MustCompile(`(?i)^\s*DELETE\b`)
)

// ResolveTemplate substitutes the table placeholder with the target
// identifier. The template must reference the placeholder, and nothing
// placeholder-shaped may survive substitution.
func ResolveTemplate(template, table string) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", errors.New("statement template is empty")
	}
	if strings.TrimSpace(table) == "" {
		return "", errors.New("target table is required")
	}
	if !strings.Contains(template, Placeholder) {
		return "", fmt.Errorf("%w: template has no %s token", ErrUnresolvedPlaceholder, Placeholder)
	}

	resolved := strings.ReplaceAll(template, Placeholder, table)
	if leftover := placeholderRe.FindString(resolved); leftover != "" {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, leftover)
	}
	return resolved, nil
}

// BuildPlan validates a mutation template against the target table and
// derives its preview form. sampleLimit caps the preview row count; values
// below one fall back to DefaultSampleLimit.
//
// Returns ErrUnsafeMutation for an update or delete without a WHERE clause,
// ErrUnresolvedPlaceholder for incomplete substitution, and
// ErrUnsupportedStatement for statements that are neither update nor delete.
func BuildPlan(template, table string, sampleLimit int) (*Plan, error) {
	if sampleLimit < 1 {
		sampleLimit = DefaultSampleLimit
	}

	resolved, err := ResolveTemplate(template, table)
	if err != nil {
		return nil, err
	}
	resolved = strings.TrimSpace(resolved)

	var kind StatementKind
	switch {
	case updateRe.MatchString(resolved):
		kind = KindUpdate
	case deleteRe.MatchString(resolved):
		kind = KindDelete
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStatement, firstWord(resolved))
	}

	loc := whereRe.FindStringIndex(resolved)
	if loc == nil {
		return nil, fmt.Errorf("%w: %s statement on %s", ErrUnsafeMutation, kind, table)
	}
	predicate := strings.TrimSpace(resolved[loc[0]:])

	return &Plan{
		Kind:       kind,
		Table:      table,
		Statement:  resolved,
		Predicate:  predicate,
		PreviewSQL: fmt.Sprintf("SELECT * FROM %s %s LIMIT %d", table, predicate, sampleLimit),
		CountSQL:   fmt.Sprintf("SELECT COUNT(*) AS total FROM %s %s", table, predicate),
	}, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
