package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"agora.org/internal/ranked"
	"agora.org/internal/store/mem"
)

// BatchFile is the YAML form of a reconciliation batch.
type BatchFile struct {
	Kind    string      `yaml:"kind"`
	Deletes []string    `yaml:"deletes"`
	Moves   []MoveDoc   `yaml:"moves"`
	Updates []UpdateDoc `yaml:"updates"`
	Creates []CreateDoc `yaml:"creates"`
}

type MoveDoc struct {
	SourceID string `yaml:"source_id"`
	TargetID string `yaml:"target_id"`
}

type UpdateDoc struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Ordinal     *int    `yaml:"ordinal"`
	Description *string `yaml:"description"`
}

type CreateDoc struct {
	Name        string `yaml:"name"`
	Ordinal     *int   `yaml:"ordinal"`
	Description string `yaml:"description"`
	RoleID      string `yaml:"role_id"`
}

// SeedFile describes the initial content of an in-memory store.
type SeedFile struct {
	Roles  []RoleSeed  `yaml:"roles"`
	Boards []BoardSeed `yaml:"boards"`
}

type RoleSeed struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Level       int      `yaml:"level"`
	Description string   `yaml:"description"`
	Users       []string `yaml:"users"`
}

type BoardSeed struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Priority    int    `yaml:"priority"`
	Description string `yaml:"description"`
	// Role is the id or the name of the owning role.
	Role  string   `yaml:"role"`
	Posts []string `yaml:"posts"`
}

func LoadBatch(path string) (BatchFile, error) {
	var b BatchFile
	if err := decodeFile(path, &b); err != nil {
		return BatchFile{}, err
	}
	return b, nil
}

func LoadSeed(path string) (SeedFile, error) {
	var s SeedFile
	if err := decodeFile(path, &s); err != nil {
		return SeedFile{}, err
	}
	return s, nil
}

func decodeFile(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := decodeYAML(f, dst); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// decodeYAML rejects unknown keys. An empty document decodes to the zero value.
func decodeYAML(r io.Reader, dst any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Request converts the document into a batch request.
func (b BatchFile) Request() (ranked.BatchRequest, error) {
	req := ranked.BatchRequest{Deletes: b.Deletes}
	for _, mv := range b.Moves {
		req.Moves = append(req.Moves, ranked.MoveRequest{SourceID: mv.SourceID, TargetID: mv.TargetID})
	}
	for i, up := range b.Updates {
		if up.Ordinal == nil {
			return ranked.BatchRequest{}, fmt.Errorf("%w: updates[%d]: ordinal is required", ranked.ErrInvalidInput, i)
		}
		req.Updates = append(req.Updates, ranked.UpdateRequest{
			ID:          up.ID,
			Name:        up.Name,
			Ordinal:     *up.Ordinal,
			Description: up.Description,
		})
	}
	for i, cr := range b.Creates {
		if cr.Ordinal == nil {
			return ranked.BatchRequest{}, fmt.Errorf("%w: creates[%d]: ordinal is required", ranked.ErrInvalidInput, i)
		}
		req.Creates = append(req.Creates, ranked.CreateRequest{
			Name:        cr.Name,
			Ordinal:     *cr.Ordinal,
			Description: cr.Description,
			OwnerID:     cr.RoleID,
		})
	}
	return req, nil
}

// Apply loads the seed into store. Boards without a role belong to the
// lowest-level role.
func (s SeedFile) Apply(store *mem.Store) error {
	roleIDs := make(map[string]string, len(s.Roles))
	var lowest *ranked.Entity
	for _, rs := range s.Roles {
		ent, err := store.Seed(ranked.Entity{
			ID:          rs.ID,
			Kind:        ranked.KindRole,
			Name:        rs.Name,
			Ordinal:     rs.Level,
			Description: rs.Description,
		})
		if err != nil {
			return fmt.Errorf("seed role %q: %w", rs.Name, err)
		}
		roleIDs[ent.Name] = ent.ID
		roleIDs[ent.ID] = ent.ID
		if lowest == nil || ent.Ordinal < lowest.Ordinal {
			e := ent
			lowest = &e
		}
		for _, u := range rs.Users {
			if err := store.Attach(ranked.CollectionUsers, u, ent.ID); err != nil {
				return fmt.Errorf("seed user %q: %w", u, err)
			}
		}
	}
	for _, bs := range s.Boards {
		owner := strings.TrimSpace(bs.Role)
		switch {
		case owner == "" && lowest != nil:
			owner = lowest.ID
		case roleIDs[owner] != "":
			owner = roleIDs[owner]
		}
		ent, err := store.Seed(ranked.Entity{
			ID:          bs.ID,
			Kind:        ranked.KindBoard,
			Name:        bs.Name,
			Ordinal:     bs.Priority,
			Description: bs.Description,
			OwnerID:     owner,
		})
		if err != nil {
			return fmt.Errorf("seed board %q: %w", bs.Name, err)
		}
		for _, p := range bs.Posts {
			if err := store.Attach(ranked.CollectionPosts, p, ent.ID); err != nil {
				return fmt.Errorf("seed post %q: %w", p, err)
			}
		}
	}
	return nil
}
