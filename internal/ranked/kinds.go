package ranked

import (
	"fmt"
	"strings"
)

// DeletePolicy decides what happens to the dependents of an entity deleted
// without an explicit target.
type DeletePolicy int

const (
	// Reassign moves dependents to the surviving entity with the lowest ordinal.
	Reassign DeletePolicy = iota + 1
	// Cascade destroys dependents together with their owner.
	Cascade
)

func (p DeletePolicy) String() string {
	switch p {
	case Reassign:
		return "reassign"
	case Cascade:
		return "cascade"
	}
	return fmt.Sprintf("DeletePolicy(%d)", int(p))
}

// KindSpec holds everything kind-specific the engine needs.
type KindSpec struct {
	Kind Kind
	// OrdinalLabel is the domain name of the ordinal ("level", "priority").
	OrdinalLabel string
	Collections  []Collection
	OnDelete     DeletePolicy
	// MinCount is the number of entities that must survive any deletion.
	MinCount int
	// OwnerKind is the kind owning entities of this kind, if any.
	OwnerKind Kind
}

var (
	RoleSpec = KindSpec{
		Kind:         KindRole,
		OrdinalLabel: "level",
		Collections:  []Collection{CollectionUsers, CollectionBoards},
		OnDelete:     Reassign,
		MinCount:     1,
	}
	BoardSpec = KindSpec{
		Kind:         KindBoard,
		OrdinalLabel: "priority",
		Collections:  []Collection{CollectionPosts},
		OnDelete:     Cascade,
		OwnerKind:    KindRole,
	}
)

// SpecFor returns the adapter of kind.
func SpecFor(kind Kind) (KindSpec, error) {
	switch kind {
	case KindRole:
		return RoleSpec, nil
	case KindBoard:
		return BoardSpec, nil
	}
	return KindSpec{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
}

// OwnerOf returns the kind owning members of c.
func OwnerOf(c Collection) (Kind, error) {
	for _, spec := range []KindSpec{RoleSpec, BoardSpec} {
		for _, owned := range spec.Collections {
			if owned == c {
				return spec.Kind, nil
			}
		}
	}
	return "", fmt.Errorf("%w: unknown collection %q", ErrInvalidInput, c)
}

// stagingPrefix marks names parked during the detune phase. Caller supplied
// names may not start with it.
const stagingPrefix = "~staged~"

func stagedName(name string) string { return stagingPrefix + name }

// stagedOrdinal maps a live ordinal to a distinct negative one.
func stagedOrdinal(ordinal int) int { return -ordinal - 1 }

func (s KindSpec) normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: %s name is required", ErrInvalidInput, s.Kind)
	}
	if strings.HasPrefix(name, stagingPrefix) {
		return "", fmt.Errorf("%w: %s name may not start with %q", ErrInvalidInput, s.Kind, stagingPrefix)
	}
	return name, nil
}

func (s KindSpec) checkOrdinal(ordinal int) error {
	if ordinal < 0 {
		return fmt.Errorf("%w: %s %s must be >= 0, got %d", ErrInvalidInput, s.Kind, s.OrdinalLabel, ordinal)
	}
	return nil
}
