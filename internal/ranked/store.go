package ranked

import "context"

// Store runs units of work against the persisted ranked collections.
//
// WithinTx must serialize calls for the same kind for the whole duration of
// fn, and must roll back every write made through the Tx when fn returns an
// error.
type Store interface {
	WithinTx(ctx context.Context, kind Kind, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a transactional view scoped to one kind.
//
// Writes are validated for name and ordinal uniqueness as they happen; a
// colliding Save returns an error wrapping ErrConflict.
type Tx interface {
	Kind() Kind

	Get(ctx context.Context, id string) (Entity, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	ExistsByOrdinal(ctx context.Context, ordinal int) (bool, error)
	FindByName(ctx context.Context, name string) (Entity, error)
	FindByOrdinal(ctx context.Context, ordinal int) (Entity, error)
	// List returns every entity ordered by ordinal ascending.
	List(ctx context.Context) ([]Entity, error)

	// Save inserts e when e.ID is empty, assigning its id and timestamps,
	// and updates name, ordinal and description otherwise. The owner of an
	// existing entity is never changed by Save.
	Save(ctx context.Context, e *Entity) error
	Delete(ctx context.Context, id string) error
	// Flush makes pending writes visible to subsequent reads.
	Flush(ctx context.Context) error

	// MemberCounts returns the number of dependents per owner id.
	MemberCounts(ctx context.Context, c Collection) (map[string]int, error)
	// MoveMembers re-parents every dependent of fromID onto toID.
	MoveMembers(ctx context.Context, c Collection, fromID, toID string) (int, error)
	// DeleteMembers destroys every dependent of ownerID.
	DeleteMembers(ctx context.Context, c Collection, ownerID string) (int, error)

	// Peer returns a view of another kind inside the same transaction.
	Peer(kind Kind) Tx
}

// UniquenessDeferrer is implemented by transactions able to postpone the
// name and ordinal uniqueness checks to commit time. When available the
// reconciliation engine writes final values directly.
type UniquenessDeferrer interface {
	DeferUniqueness(ctx context.Context) error
}
