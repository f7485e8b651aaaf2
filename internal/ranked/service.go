package ranked

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agora.org/internal/obs"
)

// Service exposes the ranked collection operations to the API layer. Every
// call runs in a single store transaction.
type Service struct {
	store     Store
	transfers *TransferManager
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("ranked store is required")
	}
	return &Service{store: store, transfers: &TransferManager{}}, nil
}

func (s *Service) List(ctx context.Context, kind Kind) ([]View, error) {
	var views []View
	err := s.run(ctx, kind, "list", func(ctx context.Context, e *engine) error {
		var err error
		views, err = e.views(ctx)
		return err
	})
	return views, err
}

func (s *Service) Create(ctx context.Context, kind Kind, req CreateRequest) (View, error) {
	var view View
	err := s.run(ctx, kind, "create", func(ctx context.Context, e *engine) error {
		ent, err := e.create(ctx, req)
		if err != nil {
			return err
		}
		view, err = e.viewOf(ctx, ent)
		return err
	})
	return view, err
}

func (s *Service) Update(ctx context.Context, kind Kind, req UpdateRequest) (View, error) {
	var view View
	err := s.run(ctx, kind, "update", func(ctx context.Context, e *engine) error {
		ent, err := e.update(ctx, req)
		if err != nil {
			return err
		}
		view, err = e.viewOf(ctx, ent)
		return err
	})
	return view, err
}

// Delete removes id. Roles hand their dependents to the lowest-level
// surviving role; boards take their posts with them.
func (s *Service) Delete(ctx context.Context, kind Kind, id string) error {
	return s.run(ctx, kind, "delete", func(ctx context.Context, e *engine) error {
		return e.remove(ctx, id)
	})
}

// DeleteAndMove merges the dependents of sourceID into targetID, deletes the
// source and returns the target.
func (s *Service) DeleteAndMove(ctx context.Context, kind Kind, sourceID, targetID string) (View, error) {
	var view View
	err := s.run(ctx, kind, "move", func(ctx context.Context, e *engine) error {
		target, err := e.move(ctx, MoveRequest{SourceID: sourceID, TargetID: targetID})
		if err != nil {
			return err
		}
		view, err = e.viewOf(ctx, target)
		return err
	})
	return view, err
}

// BatchReconcile applies deletes, moves, updates and creates, in that order,
// as one unit and returns the resulting collection ordered by ordinal.
func (s *Service) BatchReconcile(ctx context.Context, kind Kind, req BatchRequest) ([]View, error) {
	var views []View
	err := s.run(ctx, kind, "batch", func(ctx context.Context, e *engine) error {
		for _, id := range req.Deletes {
			if err := e.remove(ctx, id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
		}
		for _, mv := range req.Moves {
			if _, err := e.move(ctx, mv); err != nil {
				return fmt.Errorf("move %s into %s: %w", mv.SourceID, mv.TargetID, err)
			}
		}
		if err := e.updateAll(ctx, req.Updates); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		for _, cr := range req.Creates {
			if _, err := e.create(ctx, cr); err != nil {
				return fmt.Errorf("create %q: %w", cr.Name, err)
			}
		}
		var err error
		views, err = e.views(ctx)
		return err
	})
	if err == nil {
		obs.Logger().Info().
			Str("kind", string(kind)).
			Int("deletes", len(req.Deletes)).
			Int("moves", len(req.Moves)).
			Int("updates", len(req.Updates)).
			Int("creates", len(req.Creates)).
			Int("size", len(views)).
			Msg("ranked.reconciled")
	}
	return views, err
}

func (s *Service) run(ctx context.Context, kind Kind, op string, fn func(context.Context, *engine) error) error {
	spec, err := SpecFor(kind)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.store.WithinTx(ctx, kind, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &engine{tx: tx, spec: spec, transfers: s.transfers})
	})
	outcome := Outcome(err)
	obs.ObserveOperation(string(kind), op, outcome, time.Since(start))
	if err != nil {
		obs.Logger().Warn().Err(err).
			Str("kind", string(kind)).
			Str("op", op).
			Str("outcome", outcome).
			Msg("ranked.failed")
	}
	return err
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	}
	return "error"
}
