package ranked

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// engine applies operations for one kind inside one transaction. The single
// item operations and the batch reconciliation share it.
type engine struct {
	tx        Tx
	spec      KindSpec
	transfers *TransferManager
}

func (e *engine) load(ctx context.Context, id string) (Entity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entity{}, fmt.Errorf("%w: %s id is required", ErrInvalidInput, e.spec.Kind)
	}
	return e.tx.Get(ctx, id)
}

// remove deletes id, handing its dependents to the default target or
// destroying them according to the kind's delete policy.
func (e *engine) remove(ctx context.Context, id string) error {
	ent, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	all, err := e.tx.List(ctx)
	if err != nil {
		return err
	}
	if len(all) <= e.spec.MinCount {
		return fmt.Errorf("%w: cannot delete the last %s %s", ErrConflict, e.spec.Kind, ent.ID)
	}

	switch e.spec.OnDelete {
	case Reassign:
		target, ok := lowestExcept(all, ent.ID)
		if !ok {
			return fmt.Errorf("%w: no %s left to inherit dependents of %s", ErrConflict, e.spec.Kind, ent.ID)
		}
		if _, err := e.transfers.Transfer(ctx, e.tx, e.spec, ent, target); err != nil {
			return err
		}
	case Cascade:
		if _, err := e.transfers.Cascade(ctx, e.tx, e.spec, ent); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%s: unsupported delete policy %s", e.spec.Kind, e.spec.OnDelete)
	}
	return e.tx.Delete(ctx, ent.ID)
}

// move merges the dependents of the source into the target and deletes the
// source.
func (e *engine) move(ctx context.Context, req MoveRequest) (Entity, error) {
	sourceID := strings.TrimSpace(req.SourceID)
	targetID := strings.TrimSpace(req.TargetID)
	if sourceID == "" || targetID == "" {
		return Entity{}, fmt.Errorf("%w: source_id and target_id are required", ErrInvalidInput)
	}
	if sourceID == targetID {
		return Entity{}, fmt.Errorf("%w: cannot move %s %s into itself", ErrConflict, e.spec.Kind, sourceID)
	}
	source, err := e.load(ctx, sourceID)
	if err != nil {
		return Entity{}, err
	}
	target, err := e.load(ctx, targetID)
	if err != nil {
		return Entity{}, err
	}
	if _, err := e.transfers.Transfer(ctx, e.tx, e.spec, source, target); err != nil {
		return Entity{}, err
	}
	if err := e.tx.Delete(ctx, source.ID); err != nil {
		return Entity{}, err
	}
	return target, nil
}

// update changes a single entity. Its own current values never count as a
// collision.
func (e *engine) update(ctx context.Context, req UpdateRequest) (Entity, error) {
	req, err := e.normalizeUpdate(req)
	if err != nil {
		return Entity{}, err
	}
	ent, err := e.load(ctx, req.ID)
	if err != nil {
		return Entity{}, err
	}
	if err := e.claim(ctx, ent.ID, req.Name, req.Ordinal); err != nil {
		return Entity{}, err
	}
	apply(&ent, req)
	if err := e.tx.Save(ctx, &ent); err != nil {
		return Entity{}, err
	}
	return ent, nil
}

// updateAll applies a set of updates whose final values may be a permutation
// of the current ones.
func (e *engine) updateAll(ctx context.Context, reqs []UpdateRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	planned := make([]UpdateRequest, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		req, err := e.normalizeUpdate(req)
		if err != nil {
			return err
		}
		if _, dup := seen[req.ID]; dup {
			return fmt.Errorf("%w: %s %s updated twice in one batch", ErrInvalidInput, e.spec.Kind, req.ID)
		}
		seen[req.ID] = struct{}{}
		planned = append(planned, req)
	}

	current := make([]Entity, len(planned))
	for i, req := range planned {
		ent, err := e.load(ctx, req.ID)
		if err != nil {
			return err
		}
		current[i] = ent
	}
	if err := e.checkFinal(ctx, planned); err != nil {
		return err
	}

	if d, ok := e.tx.(UniquenessDeferrer); ok {
		if err := d.DeferUniqueness(ctx); err != nil {
			return err
		}
		for i, req := range planned {
			apply(&current[i], req)
			if err := e.tx.Save(ctx, &current[i]); err != nil {
				return err
			}
		}
		return nil
	}

	// Park every updated entity on values no live entity can hold so that
	// the final values below never meet a stale one.
	for i := range current {
		staged := current[i]
		staged.Name = stagedName(current[i].Name)
		staged.Ordinal = stagedOrdinal(current[i].Ordinal)
		if err := e.tx.Save(ctx, &staged); err != nil {
			return fmt.Errorf("stage %s %s: %w", e.spec.Kind, staged.ID, err)
		}
	}
	if err := e.tx.Flush(ctx); err != nil {
		return err
	}

	for i, req := range planned {
		if err := e.claim(ctx, req.ID, req.Name, req.Ordinal); err != nil {
			return err
		}
		apply(&current[i], req)
		if err := e.tx.Save(ctx, &current[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) create(ctx context.Context, req CreateRequest) (Entity, error) {
	name, err := e.spec.normalizeName(req.Name)
	if err != nil {
		return Entity{}, err
	}
	if err := e.spec.checkOrdinal(req.Ordinal); err != nil {
		return Entity{}, err
	}
	taken, err := e.tx.ExistsByName(ctx, name)
	if err != nil {
		return Entity{}, err
	}
	if taken {
		return Entity{}, fmt.Errorf("%w: %s name %q already exists", ErrConflict, e.spec.Kind, name)
	}
	taken, err = e.tx.ExistsByOrdinal(ctx, req.Ordinal)
	if err != nil {
		return Entity{}, err
	}
	if taken {
		return Entity{}, fmt.Errorf("%w: %s %s %d already exists", ErrConflict, e.spec.Kind, e.spec.OrdinalLabel, req.Ordinal)
	}
	ownerID, err := e.resolveOwner(ctx, req.OwnerID)
	if err != nil {
		return Entity{}, err
	}
	ent := Entity{
		Kind:        e.spec.Kind,
		Name:        name,
		Ordinal:     req.Ordinal,
		Description: strings.TrimSpace(req.Description),
		OwnerID:     ownerID,
	}
	if err := e.tx.Save(ctx, &ent); err != nil {
		return Entity{}, err
	}
	return ent, nil
}

func (e *engine) resolveOwner(ctx context.Context, ownerID string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if e.spec.OwnerKind == "" {
		if ownerID != "" {
			return "", fmt.Errorf("%w: %s has no owner", ErrInvalidInput, e.spec.Kind)
		}
		return "", nil
	}
	peer := e.tx.Peer(e.spec.OwnerKind)
	if ownerID == "" {
		owners, err := peer.List(ctx)
		if err != nil {
			return "", err
		}
		if len(owners) == 0 {
			return "", fmt.Errorf("%w: no %s available to own %s", ErrNotFound, e.spec.OwnerKind, e.spec.Kind)
		}
		return owners[0].ID, nil
	}
	owner, err := peer.Get(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return owner.ID, nil
}

// claim fails when name or ordinal is held by an entity other than selfID.
func (e *engine) claim(ctx context.Context, selfID, name string, ordinal int) error {
	other, err := e.tx.FindByName(ctx, name)
	switch {
	case err == nil && other.ID != selfID:
		return fmt.Errorf("%w: %s name %q already used by %s", ErrConflict, e.spec.Kind, name, other.ID)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}
	other, err = e.tx.FindByOrdinal(ctx, ordinal)
	switch {
	case err == nil && other.ID != selfID:
		return fmt.Errorf("%w: %s %s %d already used by %s", ErrConflict, e.spec.Kind, e.spec.OrdinalLabel, ordinal, other.ID)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}
	return nil
}

// checkFinal verifies that the planned values are unique among themselves
// and against every entity the batch leaves untouched.
func (e *engine) checkFinal(ctx context.Context, planned []UpdateRequest) error {
	all, err := e.tx.List(ctx)
	if err != nil {
		return err
	}
	updated := make(map[string]struct{}, len(planned))
	for _, req := range planned {
		updated[req.ID] = struct{}{}
	}
	names := make(map[string]string, len(all))
	ordinals := make(map[int]string, len(all))
	for _, ent := range all {
		if _, ok := updated[ent.ID]; ok {
			continue
		}
		names[ent.Name] = ent.ID
		ordinals[ent.Ordinal] = ent.ID
	}
	for _, req := range planned {
		if holder, ok := names[req.Name]; ok {
			return fmt.Errorf("%w: %s name %q requested for %s is used by %s", ErrConflict, e.spec.Kind, req.Name, req.ID, holder)
		}
		if holder, ok := ordinals[req.Ordinal]; ok {
			return fmt.Errorf("%w: %s %s %d requested for %s is used by %s", ErrConflict, e.spec.Kind, e.spec.OrdinalLabel, req.Ordinal, req.ID, holder)
		}
		names[req.Name] = req.ID
		ordinals[req.Ordinal] = req.ID
	}
	return nil
}

func (e *engine) normalizeUpdate(req UpdateRequest) (UpdateRequest, error) {
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return req, fmt.Errorf("%w: %s id is required", ErrInvalidInput, e.spec.Kind)
	}
	name, err := e.spec.normalizeName(req.Name)
	if err != nil {
		return req, err
	}
	req.Name = name
	if err := e.spec.checkOrdinal(req.Ordinal); err != nil {
		return req, err
	}
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		req.Description = &desc
	}
	return req, nil
}

// views lists the whole collection with dependent counts.
func (e *engine) views(ctx context.Context) ([]View, error) {
	all, err := e.tx.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := e.counts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(all))
	for _, ent := range all {
		out = append(out, e.view(ent, counts))
	}
	return out, nil
}

func (e *engine) viewOf(ctx context.Context, ent Entity) (View, error) {
	counts, err := e.counts(ctx)
	if err != nil {
		return View{}, err
	}
	return e.view(ent, counts), nil
}

func (e *engine) counts(ctx context.Context) (map[Collection]map[string]int, error) {
	counts := make(map[Collection]map[string]int, len(e.spec.Collections))
	for _, c := range e.spec.Collections {
		byOwner, err := e.tx.MemberCounts(ctx, c)
		if err != nil {
			return nil, err
		}
		counts[c] = byOwner
	}
	return counts, nil
}

func (e *engine) view(ent Entity, counts map[Collection]map[string]int) View {
	v := View{
		ID:          ent.ID,
		Kind:        ent.Kind,
		Name:        ent.Name,
		Ordinal:     ent.Ordinal,
		Description: ent.Description,
		OwnerID:     ent.OwnerID,
		Dependents:  make(map[Collection]int, len(e.spec.Collections)),
		CreatedAt:   ent.CreatedAt,
		UpdatedAt:   ent.UpdatedAt,
	}
	for _, c := range e.spec.Collections {
		n := counts[c][ent.ID]
		v.Dependents[c] = n
		v.DependentCount += n
	}
	return v
}

func apply(ent *Entity, req UpdateRequest) {
	ent.Name = req.Name
	ent.Ordinal = req.Ordinal
	if req.Description != nil {
		ent.Description = *req.Description
	}
}

// lowestExcept returns the lowest-ordinal entity other than id. all must be
// ordered by ordinal.
func lowestExcept(all []Entity, id string) (Entity, bool) {
	for _, ent := range all {
		if ent.ID != id {
			return ent, true
		}
	}
	return Entity{}, false
}
