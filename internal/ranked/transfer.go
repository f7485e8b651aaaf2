package ranked

import (
	"context"
	"fmt"

	"agora.org/internal/obs"
)

// TransferManager is the only path that changes the owner of a dependent.
type TransferManager struct{}

// Transfer re-parents every dependent of source onto target, collection by
// collection. It returns the number of members moved per collection.
func (m *TransferManager) Transfer(ctx context.Context, tx Tx, spec KindSpec, source, target Entity) (map[Collection]int, error) {
	if source.Kind != spec.Kind || target.Kind != spec.Kind {
		return nil, fmt.Errorf("%w: transfer between %s and %s over %s collections", ErrInvalidInput, source.Kind, target.Kind, spec.Kind)
	}
	if source.ID == target.ID {
		return nil, fmt.Errorf("%w: cannot transfer %s %s onto itself", ErrConflict, spec.Kind, source.ID)
	}
	moved := make(map[Collection]int, len(spec.Collections))
	for _, c := range spec.Collections {
		n, err := tx.MoveMembers(ctx, c, source.ID, target.ID)
		if err != nil {
			return nil, fmt.Errorf("move %s from %s %s: %w", c, spec.Kind, source.ID, err)
		}
		moved[c] = n
		obs.DependentsMoved(string(spec.Kind), string(c), n)
	}
	return moved, nil
}

// Cascade destroys every dependent of source.
func (m *TransferManager) Cascade(ctx context.Context, tx Tx, spec KindSpec, source Entity) (map[Collection]int, error) {
	removed := make(map[Collection]int, len(spec.Collections))
	for _, c := range spec.Collections {
		n, err := tx.DeleteMembers(ctx, c, source.ID)
		if err != nil {
			return nil, fmt.Errorf("cascade %s of %s %s: %w", c, spec.Kind, source.ID, err)
		}
		removed[c] = n
		obs.DependentsCascaded(string(spec.Kind), string(c), n)
	}
	return removed, nil
}
