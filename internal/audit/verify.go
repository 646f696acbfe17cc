package audit

import (
	"fmt"

	"github.com/foch-qualite/sequad/internal/shared/types"
)

// VerifyResult is the outcome of a chain verification.
type VerifyResult struct {
	Valid          bool              `json:"valid"`
	Checked        int               `json:"checked"`
	ContentInvalid int               `json:"content_invalid"`
	LinkageInvalid int               `json:"linkage_invalid"`
	Violations     []string          `json:"violations,omitempty"`
	Runs           []VerifyRunResult `json:"runs,omitempty"`
}

// VerifyRunResult is the verification of a single run.
type VerifyRunResult struct {
	ID            types.ID `json:"id"`
	Sequence      int64    `json:"sequence"`
	ContentValid  bool     `json:"content_valid"`
	LinkageValid  bool     `json:"linkage_valid"`
	ViolationType string   `json:"violation_type,omitempty"` // content, linkage or both
}

// Verify checks runs given newest first. Each run must hash to its stored
// hash, and its hash must be the prev_hash of the run that follows it.
func Verify(runs []Run) *VerifyResult {
	result := &VerifyResult{Valid: true}

	// prev_hash of the run just after the current one in time.
	var expected string
	for i, run := range runs {
		entry := VerifyRunResult{ID: run.ID, Sequence: run.Sequence, ContentValid: true, LinkageValid: true}

		if !run.VerifyHash() {
			entry.ContentValid = false
			entry.ViolationType = "content"
			result.ContentInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("run %s (seq %d): stored hash does not match content", run.ID, run.Sequence))
		}

		if i > 0 && run.Hash != expected {
			entry.LinkageValid = false
			if entry.ViolationType == "content" {
				entry.ViolationType = "both"
			} else {
				entry.ViolationType = "linkage"
			}
			result.LinkageInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("run %s (seq %d): hash does not match the next run's prev_hash", run.ID, run.Sequence))
		}

		if entry.ViolationType != "" {
			result.Valid = false
			result.Runs = append(result.Runs, entry)
		}
		expected = run.PrevHash
		result.Checked++
	}

	return result
}
