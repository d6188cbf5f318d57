package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aerocert/internal/certification/domain"
	"gorm.io/gorm"
)

// maxChainLength bounds chain walks independently of cycle detection.
const maxChainLength = 1000

// ancestors walks RenewedFromID links from start back to the root and returns
// them oldest first, start included.
func ancestors(ctx context.Context, repo domain.Repository, db *gorm.DB, start domain.TrainingRecord) ([]domain.TrainingRecord, error) {
	seen := map[snowflake.ID]struct{}{start.ID: {}}
	chain := []domain.TrainingRecord{start}

	current := start
	for current.RenewedFromID != nil {
		parentID := *current.RenewedFromID
		if _, dup := seen[parentID]; dup {
			return nil, fmt.Errorf("%w: cycle at %s", domain.ErrChainIntegrity, parentID)
		}
		if len(chain) >= maxChainLength {
			return nil, fmt.Errorf("%w: chain longer than %d", domain.ErrChainIntegrity, maxChainLength)
		}
		parent, err := repo.FindRecordByID(ctx, db, parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: %s links to missing record %s", domain.ErrChainIntegrity, current.ID, parentID)
		}
		if parent.SupersededByID != nil && *parent.SupersededByID != current.ID {
			return nil, fmt.Errorf("%w: %s is superseded by %s, not %s", domain.ErrChainIntegrity, parent.ID, *parent.SupersededByID, current.ID)
		}
		seen[parentID] = struct{}{}
		chain = append(chain, *parent)
		current = *parent
	}

	slices.Reverse(chain)
	return chain, nil
}

// descendants follows SupersededByID links after start, newest last.
func descendants(ctx context.Context, repo domain.Repository, db *gorm.DB, start domain.TrainingRecord, seen map[snowflake.ID]struct{}) ([]domain.TrainingRecord, error) {
	var chain []domain.TrainingRecord

	current := start
	for current.SupersededByID != nil {
		childID := *current.SupersededByID
		if _, dup := seen[childID]; dup {
			return nil, fmt.Errorf("%w: cycle at %s", domain.ErrChainIntegrity, childID)
		}
		if len(seen) >= maxChainLength {
			return nil, fmt.Errorf("%w: chain longer than %d", domain.ErrChainIntegrity, maxChainLength)
		}
		child, err := repo.FindRecordByID(ctx, db, childID)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, fmt.Errorf("%w: %s superseded by missing record %s", domain.ErrChainIntegrity, current.ID, childID)
		}
		if child.RenewedFromID == nil || *child.RenewedFromID != current.ID {
			return nil, fmt.Errorf("%w: %s does not renew %s", domain.ErrChainIntegrity, child.ID, current.ID)
		}
		seen[childID] = struct{}{}
		chain = append(chain, *child)
		current = *child
	}
	return chain, nil
}

// loadChain returns the full renewal history containing id, root first.
func loadChain(ctx context.Context, repo domain.Repository, db *gorm.DB, id snowflake.ID) ([]domain.TrainingRecord, error) {
	record, err := repo.FindRecordByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrRecordNotFound
	}

	back, err := ancestors(ctx, repo, db, *record)
	if err != nil {
		return nil, err
	}
	seen := make(map[snowflake.ID]struct{}, len(back))
	for _, r := range back {
		seen[r.ID] = struct{}{}
	}
	forward, err := descendants(ctx, repo, db, *record, seen)
	if err != nil {
		return nil, err
	}
	return append(back, forward...), nil
}

// checkSuccessorLink validates the chain a new successor will extend: the
// predecessor's history must be intact and must not already contain the
// successor.
func checkSuccessorLink(ctx context.Context, repo domain.Repository, db *gorm.DB, predecessor domain.TrainingRecord, successorID snowflake.ID) error {
	if successorID == predecessor.ID {
		return fmt.Errorf("%w: record cannot renew itself", domain.ErrChainIntegrity)
	}
	history, err := ancestors(ctx, repo, db, predecessor)
	if err != nil {
		return err
	}
	for _, r := range history {
		if r.ID == successorID {
			return fmt.Errorf("%w: cycle through %s", domain.ErrChainIntegrity, successorID)
		}
	}
	return nil
}
