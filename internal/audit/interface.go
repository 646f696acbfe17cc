package audit

import (
	"context"

	"github.com/foch-qualite/sequad/internal/shared/types"
)

// RunRepository stores report runs.
type RunRepository interface {
	// Append chains run to the last stored run and stores it.
	Append(ctx context.Context, run *Run) error

	FindByID(ctx context.Context, id types.ID) (*Run, error)

	// List returns one page of runs, newest first, and the total match count.
	List(ctx context.Context, filter ListRunsFilter) ([]Run, int, error)

	// VerifyChain checks the content and linkage of the latest limit runs.
	VerifyChain(ctx context.Context, limit int) (*VerifyResult, error)
}

var _ RunRepository = (*Repository)(nil)
