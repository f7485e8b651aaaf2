package mem

import (
	"context"
	"fmt"
	"sort"

	"agora.org/internal/ids"
	"agora.org/internal/ranked"
)

var _ ranked.Tx = (*tx)(nil)

type tx struct {
	store *Store
	state *state
	kind  ranked.Kind
}

func (t *tx) Kind() ranked.Kind { return t.kind }

func (t *tx) Peer(kind ranked.Kind) ranked.Tx {
	return &tx{store: t.store, state: t.state, kind: kind}
}

func (t *tx) byID() map[string]ranked.Entity { return t.state.entities[t.kind] }

func (t *tx) Get(ctx context.Context, id string) (ranked.Entity, error) {
	ent, ok := t.byID()[id]
	if !ok {
		return ranked.Entity{}, fmt.Errorf("%w: %s %s", ranked.ErrNotFound, t.kind, id)
	}
	return t.withOwner(ent), nil
}

func (t *tx) ExistsByName(ctx context.Context, name string) (bool, error) {
	_, err := t.FindByName(ctx, name)
	return err == nil, nil
}

func (t *tx) ExistsByOrdinal(ctx context.Context, ordinal int) (bool, error) {
	_, err := t.FindByOrdinal(ctx, ordinal)
	return err == nil, nil
}

func (t *tx) FindByName(ctx context.Context, name string) (ranked.Entity, error) {
	for _, ent := range t.byID() {
		if ent.Name == name {
			return t.withOwner(ent), nil
		}
	}
	return ranked.Entity{}, fmt.Errorf("%w: %s named %q", ranked.ErrNotFound, t.kind, name)
}

func (t *tx) FindByOrdinal(ctx context.Context, ordinal int) (ranked.Entity, error) {
	for _, ent := range t.byID() {
		if ent.Ordinal == ordinal {
			return t.withOwner(ent), nil
		}
	}
	return ranked.Entity{}, fmt.Errorf("%w: %s with ordinal %d", ranked.ErrNotFound, t.kind, ordinal)
}

func (t *tx) List(ctx context.Context) ([]ranked.Entity, error) {
	out := make([]ranked.Entity, 0, len(t.byID()))
	for _, ent := range t.byID() {
		out = append(out, t.withOwner(ent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (t *tx) Save(ctx context.Context, e *ranked.Entity) error {
	if e.ID == "" {
		e.ID = ids.New()
		e.Kind = t.kind
		e.CreatedAt = t.store.now()
		e.UpdatedAt = e.CreatedAt
		return t.insert(e)
	}
	cur, ok := t.byID()[e.ID]
	if !ok {
		return fmt.Errorf("%w: %s %s", ranked.ErrNotFound, t.kind, e.ID)
	}
	if err := t.checkUnique(e.ID, e.Name, e.Ordinal); err != nil {
		return err
	}
	cur.Name = e.Name
	cur.Ordinal = e.Ordinal
	cur.Description = e.Description
	cur.UpdatedAt = t.store.now()
	t.byID()[e.ID] = cur

	e.UpdatedAt = cur.UpdatedAt
	e.CreatedAt = cur.CreatedAt
	e.OwnerID = t.withOwner(cur).OwnerID
	return nil
}

func (t *tx) insert(e *ranked.Entity) error {
	if err := t.checkUnique(e.ID, e.Name, e.Ordinal); err != nil {
		return err
	}
	spec, err := ranked.SpecFor(t.kind)
	if err != nil {
		return err
	}
	if spec.OwnerKind != "" {
		if _, ok := t.state.entities[spec.OwnerKind][e.OwnerID]; !ok {
			return fmt.Errorf("%w: owning %s %q", ranked.ErrNotFound, spec.OwnerKind, e.OwnerID)
		}
	}
	stored := *e
	stored.Kind = t.kind
	stored.OwnerID = ""
	t.byID()[e.ID] = stored
	if c, ok := ownedAs(t.kind); ok {
		t.state.link(c, e.ID, e.OwnerID)
	}
	return nil
}

func (t *tx) checkUnique(id, name string, ordinal int) error {
	for _, other := range t.byID() {
		if other.ID == id {
			continue
		}
		if other.Name == name {
			return fmt.Errorf("%w: %s name %q is taken by %s", ranked.ErrConflict, t.kind, name, other.ID)
		}
		if other.Ordinal == ordinal {
			return fmt.Errorf("%w: %s ordinal %d is taken by %s", ranked.ErrConflict, t.kind, ordinal, other.ID)
		}
	}
	return nil
}

// Delete refuses to orphan dependents, like a restricting foreign key.
func (t *tx) Delete(ctx context.Context, id string) error {
	if _, ok := t.byID()[id]; !ok {
		return fmt.Errorf("%w: %s %s", ranked.ErrNotFound, t.kind, id)
	}
	spec, err := ranked.SpecFor(t.kind)
	if err != nil {
		return err
	}
	for _, c := range spec.Collections {
		if n := len(t.state.members[c][id]); n > 0 {
			return fmt.Errorf("%w: %s %s still owns %d %s", ranked.ErrConflict, t.kind, id, n, c)
		}
	}
	delete(t.byID(), id)
	if c, ok := ownedAs(t.kind); ok {
		t.state.unlink(c, id)
	}
	return nil
}

// Flush is a no-op: every write is visible to the next read.
func (t *tx) Flush(ctx context.Context) error { return nil }

func (t *tx) MemberCounts(ctx context.Context, c ranked.Collection) (map[string]int, error) {
	if err := t.owns(c); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(t.state.members[c]))
	for owner, set := range t.state.members[c] {
		out[owner] = len(set)
	}
	return out, nil
}

func (t *tx) MoveMembers(ctx context.Context, c ranked.Collection, fromID, toID string) (int, error) {
	if err := t.owns(c); err != nil {
		return 0, err
	}
	if _, ok := t.byID()[toID]; !ok {
		return 0, fmt.Errorf("%w: %s %s", ranked.ErrNotFound, t.kind, toID)
	}
	moved := 0
	for member := range t.state.members[c][fromID] {
		t.state.unlink(c, member)
		t.state.link(c, member, toID)
		moved++
	}
	return moved, nil
}

func (t *tx) DeleteMembers(ctx context.Context, c ranked.Collection, ownerID string) (int, error) {
	if err := t.owns(c); err != nil {
		return 0, err
	}
	if c == ranked.CollectionBoards {
		return 0, fmt.Errorf("%w: boards are removed through their own kind", ranked.ErrInvalidInput)
	}
	removed := 0
	for member := range t.state.members[c][ownerID] {
		t.state.unlink(c, member)
		removed++
	}
	return removed, nil
}

func (t *tx) owns(c ranked.Collection) error {
	owner, err := ranked.OwnerOf(c)
	if err != nil {
		return err
	}
	if owner != t.kind {
		return fmt.Errorf("%w: %s does not own %s", ranked.ErrInvalidInput, t.kind, c)
	}
	return nil
}

func (t *tx) withOwner(ent ranked.Entity) ranked.Entity {
	if c, ok := ownedAs(t.kind); ok {
		ent.OwnerID = t.state.owners[c][ent.ID]
	}
	return ent
}

// ownedAs reports the collection entities of kind belong to as dependents.
func ownedAs(kind ranked.Kind) (ranked.Collection, bool) {
	if kind == ranked.KindBoard {
		return ranked.CollectionBoards, true
	}
	return "", false
}
