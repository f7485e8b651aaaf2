package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agora.org/internal/ids"
	"agora.org/internal/ranked"
)

var (
	_ ranked.Tx                 = (*txn)(nil)
	_ ranked.UniquenessDeferrer = (*txn)(nil)
)

type txn struct {
	tx   *sql.Tx
	kind ranked.Kind
	now  func() time.Time
}

func (t *txn) Kind() ranked.Kind { return t.kind }

func (t *txn) Peer(kind ranked.Kind) ranked.Tx {
	return &txn{tx: t.tx, kind: kind, now: t.now}
}

func (t *txn) table() table { return tables[t.kind] }

func (t *txn) columns() string {
	tb := t.table()
	cols := "id, name, " + tb.ordinal + ", description, created_at, updated_at"
	if tb.owner != "" {
		cols += ", " + tb.owner
	}
	return cols
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *txn) scan(row scanner) (ranked.Entity, error) {
	ent := ranked.Entity{Kind: t.kind}
	dest := []any{&ent.ID, &ent.Name, &ent.Ordinal, &ent.Description, &ent.CreatedAt, &ent.UpdatedAt}
	if t.table().owner != "" {
		dest = append(dest, &ent.OwnerID)
	}
	if err := row.Scan(dest...); err != nil {
		return ranked.Entity{}, err
	}
	return ent, nil
}

func (t *txn) selectOne(ctx context.Context, where string, arg any, missing string) (ranked.Entity, error) {
	query := fmt.Sprintf(`select %s from %s where %s = $1`, t.columns(), t.table().name, where)
	ent, err := t.scan(t.tx.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return ranked.Entity{}, fmt.Errorf("%w: %s %s", ranked.ErrNotFound, t.kind, missing)
	}
	return ent, err
}

func (t *txn) Get(ctx context.Context, id string) (ranked.Entity, error) {
	return t.selectOne(ctx, "id", id, id)
}

func (t *txn) FindByName(ctx context.Context, name string) (ranked.Entity, error) {
	return t.selectOne(ctx, "name", name, fmt.Sprintf("named %q", name))
}

func (t *txn) FindByOrdinal(ctx context.Context, ordinal int) (ranked.Entity, error) {
	return t.selectOne(ctx, t.table().ordinal, ordinal, fmt.Sprintf("with %s %d", t.table().ordinal, ordinal))
}

func (t *txn) exists(ctx context.Context, column string, arg any) (bool, error) {
	var found bool
	query := fmt.Sprintf(`select exists(select 1 from %s where %s = $1)`, t.table().name, column)
	if err := t.tx.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (t *txn) ExistsByName(ctx context.Context, name string) (bool, error) {
	return t.exists(ctx, "name", name)
}

func (t *txn) ExistsByOrdinal(ctx context.Context, ordinal int) (bool, error) {
	return t.exists(ctx, t.table().ordinal, ordinal)
}

func (t *txn) List(ctx context.Context) ([]ranked.Entity, error) {
	query := fmt.Sprintf(`select %s from %s order by %s asc`, t.columns(), t.table().name, t.table().ordinal)
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ranked.Entity
	for rows.Next() {
		ent, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *txn) Save(ctx context.Context, e *ranked.Entity) error {
	if e.ID == "" {
		return t.insert(ctx, e)
	}
	tb := t.table()
	now := t.now()
	returning := "created_at"
	if tb.owner != "" {
		returning += ", " + tb.owner
	}
	query := fmt.Sprintf(`
		update %s set name = $2, %s = $3, description = $4, updated_at = $5
		where id = $1
		returning %s`, tb.name, tb.ordinal, returning)
	dest := []any{&e.CreatedAt}
	if tb.owner != "" {
		dest = append(dest, &e.OwnerID)
	}
	err := t.tx.QueryRowContext(ctx, query, e.ID, e.Name, e.Ordinal, e.Description, now).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ranked.ErrNotFound, t.kind, e.ID)
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: %s %s", ranked.ErrConflict, t.kind, pgErr.ConstraintName)
		}
		return err
	}
	e.UpdatedAt = now
	return nil
}

func (t *txn) insert(ctx context.Context, e *ranked.Entity) error {
	tb := t.table()
	now := t.now()
	id := ids.New()
	var err error
	if tb.owner == "" {
		_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
			insert into %s(id, name, %s, description, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $5)`, tb.name, tb.ordinal),
			id, e.Name, e.Ordinal, e.Description, now)
	} else {
		_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
			insert into %s(id, name, %s, description, created_at, updated_at, %s)
			values ($1, $2, $3, $4, $5, $5, $6)`, tb.name, tb.ordinal, tb.owner),
			id, e.Name, e.Ordinal, e.Description, now, e.OwnerID)
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: %s %s", ranked.ErrConflict, t.kind, pgErr.ConstraintName)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: owner of %s %q", ranked.ErrNotFound, t.kind, e.Name)
			}
		}
		return err
	}
	e.ID = id
	e.Kind = t.kind
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (t *txn) Delete(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where id = $1`, t.table().name), id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: %s %s still has dependents", ranked.ErrConflict, t.kind, id)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ranked.ErrNotFound, t.kind, id)
	}
	return nil
}

// Flush is a no-op: statements run as they are issued.
func (t *txn) Flush(ctx context.Context) error { return nil }

// DeferUniqueness postpones the name and ordinal constraints of the kind's
// table to commit time.
func (t *txn) DeferUniqueness(ctx context.Context) error {
	tb := t.table()
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(`set constraints %s_name_key, %s_%s_key deferred`, tb.name, tb.name, tb.ordinal))
	return err
}

func (t *txn) membership(c ranked.Collection) (membership, error) {
	owner, err := ranked.OwnerOf(c)
	if err != nil {
		return membership{}, err
	}
	if owner != t.kind {
		return membership{}, fmt.Errorf("%w: %s does not own %s", ranked.ErrInvalidInput, t.kind, c)
	}
	return memberships[c], nil
}

func (t *txn) MemberCounts(ctx context.Context, c ranked.Collection) (map[string]int, error) {
	m, err := t.membership(c)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf(`select %s, count(*) from %s group by %s`, m.column, m.table, m.column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var owner string
		var n int
		if err := rows.Scan(&owner, &n); err != nil {
			return nil, err
		}
		out[owner] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *txn) MoveMembers(ctx context.Context, c ranked.Collection, fromID, toID string) (int, error) {
	m, err := t.membership(c)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`update %s set %s = $2 where %s = $1`, m.table, m.column, m.column), fromID, toID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return 0, fmt.Errorf("%w: %s %s", ranked.ErrNotFound, t.kind, toID)
		}
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *txn) DeleteMembers(ctx context.Context, c ranked.Collection, ownerID string) (int, error) {
	m, err := t.membership(c)
	if err != nil {
		return 0, err
	}
	if c == ranked.CollectionBoards {
		return 0, fmt.Errorf("%w: boards are removed through their own kind", ranked.ErrInvalidInput)
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where %s = $1`, m.table, m.column), ownerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
