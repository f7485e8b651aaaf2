// Package mem is an in-process ranked.Store. It enforces the same eager
// uniqueness and foreign key rules as the PostgreSQL schema.
package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agora.org/internal/ids"
	"agora.org/internal/ranked"
)

var _ ranked.Store = (*Store)(nil)

// Store keeps all kinds behind one mutex; a transaction works on a private
// copy that replaces the live state on success.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

type state struct {
	entities map[ranked.Kind]map[string]ranked.Entity
	// owners maps member id to owner id, per collection.
	owners map[ranked.Collection]map[string]string
	// members maps owner id to its member ids, per collection.
	members map[ranked.Collection]map[string]map[string]struct{}
}

func New() *Store {
	return &Store{
		state: newState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func newState() *state {
	return &state{
		entities: map[ranked.Kind]map[string]ranked.Entity{
			ranked.KindRole:  {},
			ranked.KindBoard: {},
		},
		owners: map[ranked.Collection]map[string]string{
			ranked.CollectionUsers:  {},
			ranked.CollectionBoards: {},
			ranked.CollectionPosts:  {},
		},
		members: map[ranked.Collection]map[string]map[string]struct{}{
			ranked.CollectionUsers:  {},
			ranked.CollectionBoards: {},
			ranked.CollectionPosts:  {},
		},
	}
}

func (s *state) clone() *state {
	out := newState()
	for kind, byID := range s.entities {
		for id, ent := range byID {
			out.entities[kind][id] = ent
		}
	}
	for c, byMember := range s.owners {
		for member, owner := range byMember {
			out.owners[c][member] = owner
		}
	}
	for c, byOwner := range s.members {
		for owner, set := range byOwner {
			cp := make(map[string]struct{}, len(set))
			for member := range set {
				cp[member] = struct{}{}
			}
			out.members[c][owner] = cp
		}
	}
	return out
}

// link records member under owner on both sides of the relation.
func (s *state) link(c ranked.Collection, memberID, ownerID string) {
	s.owners[c][memberID] = ownerID
	set, ok := s.members[c][ownerID]
	if !ok {
		set = make(map[string]struct{})
		s.members[c][ownerID] = set
	}
	set[memberID] = struct{}{}
}

func (s *state) unlink(c ranked.Collection, memberID string) {
	owner, ok := s.owners[c][memberID]
	if !ok {
		return
	}
	delete(s.owners[c], memberID)
	if set, ok := s.members[c][owner]; ok {
		delete(set, memberID)
		if len(set) == 0 {
			delete(s.members[c], owner)
		}
	}
}

// WithinTx runs fn against a snapshot and publishes it only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, kind ranked.Kind, fn func(ctx context.Context, tx ranked.Tx) error) error {
	if _, err := ranked.SpecFor(kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{store: s, state: work, kind: kind}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Seed inserts ent as-is, keeping a caller supplied id. It is meant for
// fixtures and demo data and applies the same uniqueness checks as Save.
func (s *Store) Seed(ent ranked.Entity) (ranked.Entity, error) {
	err := s.WithinTx(context.Background(), ent.Kind, func(ctx context.Context, t ranked.Tx) error {
		mt := t.(*tx)
		if ent.ID == "" {
			ent.ID = ids.New()
		}
		if _, exists := mt.state.entities[ent.Kind][ent.ID]; exists {
			return fmt.Errorf("%w: %s %s already exists", ranked.ErrConflict, ent.Kind, ent.ID)
		}
		if ent.CreatedAt.IsZero() {
			if at, err := ids.Time(ent.ID); err == nil {
				ent.CreatedAt = at
			} else {
				ent.CreatedAt = s.now()
			}
		}
		if ent.UpdatedAt.IsZero() {
			ent.UpdatedAt = ent.CreatedAt
		}
		return mt.insert(&ent)
	})
	return ent, err
}

// Attach adds a plain dependent (a user or a post) owned by ownerID.
func (s *Store) Attach(c ranked.Collection, memberID, ownerID string) error {
	kind, err := ranked.OwnerOf(c)
	if err != nil {
		return err
	}
	if c == ranked.CollectionBoards {
		return fmt.Errorf("%w: boards are attached by creating them", ranked.ErrInvalidInput)
	}
	return s.WithinTx(context.Background(), kind, func(ctx context.Context, t ranked.Tx) error {
		mt := t.(*tx)
		if _, ok := mt.state.entities[kind][ownerID]; !ok {
			return fmt.Errorf("%w: %s %s", ranked.ErrNotFound, kind, ownerID)
		}
		if _, ok := mt.state.owners[c][memberID]; ok {
			return fmt.Errorf("%w: %s member %s already attached", ranked.ErrConflict, c, memberID)
		}
		mt.state.link(c, memberID, ownerID)
		return nil
	})
}

// Owner reports the owner of memberID in c.
func (s *Store) Owner(c ranked.Collection, memberID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.state.owners[c][memberID]
	return owner, ok
}

// Members lists the members of ownerID in c, sorted.
func (s *Store) Members(c ranked.Collection, ownerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for member := range s.state.members[c][ownerID] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out
}
