// Package knowledgebank provides storage and retrieval of historical
// data-quality fix patterns with success-rate tracking.
//
// The knowledge bank is a keyed collection of issue patterns. Each pattern
// holds the remediations tried against it before, together with approval and
// rejection counters. Counters drive two derived values that are recomputed
// on every write, never stored stale:
//   - success rate = approvals / (approvals + rejections)
//   - auto-approve eligibility = rate >= threshold AND approvals >= minimum
//
// # Usage
//
// Open a store and look up precedent for a new issue:
//
//	store, err := knowledgebank.NewFileStore(cfg, logger)
//
//	match := store.Match("date of birth in future")
//	if match != nil {
//	    // match.HistoricalFixes holds previously successful remediations
//	}
//
//	// Record a review decision
//	err = store.UpdateOutcome("DOB_FUTURE", "fix_001", true)
//
// # Concurrency
//
// The store is a single-writer design: one mutex guards every mutation, and
// each mutating call persists the full snapshot before returning. Concurrent
// processes pointed at the same file will lose updates; run one store per
// file.
package knowledgebank
