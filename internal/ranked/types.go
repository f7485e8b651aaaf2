package ranked

import (
	"fmt"
	"strings"
	"time"
)

// Kind names one of the ranked collections.
type Kind string

const (
	KindRole  Kind = "role"
	KindBoard Kind = "board"
)

// ParseKind accepts the singular or plural kind name.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "role", "roles":
		return KindRole, nil
	case "board", "boards":
		return KindBoard, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, raw)
}

// Collection names a set of dependents owned by a ranked entity.
type Collection string

const (
	CollectionUsers  Collection = "users"
	CollectionBoards Collection = "boards"
	CollectionPosts  Collection = "posts"
)

// Entity is a role or a board as persisted by the store.
type Entity struct {
	ID          string
	Kind        Kind
	Name        string
	Ordinal     int
	Description string
	// OwnerID is the owning role of a board. Empty for roles.
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// View is the outward representation of an entity.
type View struct {
	ID             string             `json:"id" yaml:"id"`
	Kind           Kind               `json:"kind" yaml:"kind"`
	Name           string             `json:"name" yaml:"name"`
	Ordinal        int                `json:"ordinal" yaml:"ordinal"`
	Description    string             `json:"description,omitempty" yaml:"description,omitempty"`
	OwnerID        string             `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Dependents     map[Collection]int `json:"dependents" yaml:"dependents"`
	DependentCount int                `json:"dependent_count" yaml:"dependent_count"`
	CreatedAt      time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" yaml:"updated_at"`
}

type CreateRequest struct {
	Name        string `json:"name" yaml:"name"`
	Ordinal     int    `json:"ordinal" yaml:"ordinal"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// OwnerID selects the owning role of a new board; the lowest-level role
	// is used when empty.
	OwnerID string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
}

type UpdateRequest struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Ordinal     int     `json:"ordinal" yaml:"ordinal"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
}

type MoveRequest struct {
	SourceID string `json:"source_id" yaml:"source_id"`
	TargetID string `json:"target_id" yaml:"target_id"`
}

// BatchRequest is one reconciliation unit for a single kind.
type BatchRequest struct {
	Updates []UpdateRequest `json:"updates,omitempty" yaml:"updates,omitempty"`
	Creates []CreateRequest `json:"creates,omitempty" yaml:"creates,omitempty"`
	Deletes []string        `json:"deletes,omitempty" yaml:"deletes,omitempty"`
	Moves   []MoveRequest   `json:"moves,omitempty" yaml:"moves,omitempty"`
}

func (r BatchRequest) Empty() bool {
	return len(r.Updates) == 0 && len(r.Creates) == 0 && len(r.Deletes) == 0 && len(r.Moves) == 0
}
