package ranked_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora.org/internal/ids"
	"agora.org/internal/ranked"
	"agora.org/internal/store/mem"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *mem.Store
	svc   *ranked.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := mem.New()
	svc, err := ranked.NewService(store)
	require.NoError(t, err)
	return &fixture{t: t, ctx: context.Background(), store: store, svc: svc}
}

func (f *fixture) role(name string, level int) ranked.View {
	f.t.Helper()
	v, err := f.svc.Create(f.ctx, ranked.KindRole, ranked.CreateRequest{Name: name, Ordinal: level})
	require.NoError(f.t, err)
	return v
}

func (f *fixture) board(name string, priority int, roleID string) ranked.View {
	f.t.Helper()
	v, err := f.svc.Create(f.ctx, ranked.KindBoard, ranked.CreateRequest{Name: name, Ordinal: priority, OwnerID: roleID})
	require.NoError(f.t, err)
	return v
}

func (f *fixture) attach(c ranked.Collection, ownerID string, n int) []string {
	f.t.Helper()
	members := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := ids.New()
		require.NoError(f.t, f.store.Attach(c, id, ownerID))
		members = append(members, id)
	}
	return members
}

func (f *fixture) list(kind ranked.Kind) []ranked.View {
	f.t.Helper()
	views, err := f.svc.List(f.ctx, kind)
	require.NoError(f.t, err)
	return views
}

func byName(views []ranked.View) map[string]ranked.View {
	out := make(map[string]ranked.View, len(views))
	for _, v := range views {
		out[v.Name] = v
	}
	return out
}

func assertInvariants(t *testing.T, views []ranked.View) {
	t.Helper()
	names := map[string]bool{}
	ordinals := map[int]bool{}
	for i, v := range views {
		assert.False(t, names[v.Name], "duplicate name %q", v.Name)
		assert.False(t, ordinals[v.Ordinal], "duplicate ordinal %d", v.Ordinal)
		assert.GreaterOrEqual(t, v.Ordinal, 0)
		if i > 0 {
			assert.Less(t, views[i-1].Ordinal, v.Ordinal, "views not ordered")
		}
		names[v.Name] = true
		ordinals[v.Ordinal] = true
	}
}

func TestBatchReconcileEmptyLeavesCollectionUnchanged(t *testing.T) {
	f := newFixture(t)
	f.role("member", 1)
	f.role("admin", 0)
	f.role("moderator", 2)
	before := f.list(ranked.KindRole)

	after, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
	require.Len(t, after, 3)
	assert.Equal(t, []string{"admin", "member", "moderator"}, []string{after[0].Name, after[1].Name, after[2].Name})
}

func TestDeleteLastRoleConflicts(t *testing.T) {
	f := newFixture(t)
	only := f.role("admin", 0)

	err := f.svc.Delete(f.ctx, ranked.KindRole, only.ID)
	require.ErrorIs(t, err, ranked.ErrConflict)

	_, err = f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{Deletes: []string{only.ID}})
	require.ErrorIs(t, err, ranked.ErrConflict)
	assert.Len(t, f.list(ranked.KindRole), 1)
}

func TestBatchDeletingEveryRoleConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.role("a", 0)
	b := f.role("b", 1)

	_, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{Deletes: []string{a.ID, b.ID}})
	require.ErrorIs(t, err, ranked.ErrConflict)
	assert.Len(t, f.list(ranked.KindRole), 2, "failed batch must not delete anything")
}

func TestBoardsMayBecomeEmpty(t *testing.T) {
	f := newFixture(t)
	role := f.role("member", 0)
	b := f.board("general", 0, role.ID)

	require.NoError(t, f.svc.Delete(f.ctx, ranked.KindBoard, b.ID))
	assert.Empty(t, f.list(ranked.KindBoard))
}

func TestBatchSwapsOrdinals(t *testing.T) {
	f := newFixture(t)
	a := f.role("A", 0)
	b := f.role("B", 1)

	views, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{
		Updates: []ranked.UpdateRequest{
			{ID: a.ID, Name: "A", Ordinal: 1},
			{ID: b.ID, Name: "B", Ordinal: 0},
		},
	})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, b.ID, views[0].ID)
	assert.Equal(t, 0, views[0].Ordinal)
	assert.Equal(t, a.ID, views[1].ID)
	assert.Equal(t, 1, views[1].Ordinal)
}

func TestBatchSwapsNames(t *testing.T) {
	f := newFixture(t)
	a := f.role("alpha", 0)
	b := f.role("beta", 1)

	views, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{
		Updates: []ranked.UpdateRequest{
			{ID: a.ID, Name: "beta", Ordinal: 0},
			{ID: b.ID, Name: "alpha", Ordinal: 1},
		},
	})
	require.NoError(t, err)
	got := byName(views)
	assert.Equal(t, a.ID, got["beta"].ID)
	assert.Equal(t, b.ID, got["alpha"].ID)
}

func TestBatchRotatesManyOrdinals(t *testing.T) {
	f := newFixture(t)
	var roles []ranked.View
	for i := 0; i < 6; i++ {
		roles = append(roles, f.role(fmt.Sprintf("r%d", i), i))
	}
	var updates []ranked.UpdateRequest
	for i, r := range roles {
		updates = append(updates, ranked.UpdateRequest{ID: r.ID, Name: r.Name, Ordinal: (i + 1) % len(roles)})
	}

	views, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{Updates: updates})
	require.NoError(t, err)
	assertInvariants(t, views)
	assert.Equal(t, "r5", views[0].Name)
	assert.Equal(t, "r0", views[1].Name)
}

func TestSingleUpdateMayKeepItsOwnValues(t *testing.T) {
	f := newFixture(t)
	a := f.role("admin", 0)
	desc := "  full access "

	v, err := f.svc.Update(f.ctx, ranked.KindRole, ranked.UpdateRequest{ID: a.ID, Name: "admin", Ordinal: 0, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "full access", v.Description)
}

func TestSingleUpdateRejectsTakenValues(t *testing.T) {
	f := newFixture(t)
	a := f.role("admin", 0)
	f.role("member", 1)

	_, err := f.svc.Update(f.ctx, ranked.KindRole, ranked.UpdateRequest{ID: a.ID, Name: "member", Ordinal: 5})
	require.ErrorIs(t, err, ranked.ErrConflict)
	_, err = f.svc.Update(f.ctx, ranked.KindRole, ranked.UpdateRequest{ID: a.ID, Name: "root", Ordinal: 1})
	require.ErrorIs(t, err, ranked.ErrConflict)
}

func TestBatchUpdateCollidingWithUntouchedEntityConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.role("A", 0)
	f.role("B", 1)

	_, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{
		Updates: []ranked.UpdateRequest{{ID: a.ID, Name: "A", Ordinal: 1}},
	})
	require.ErrorIs(t, err, ranked.ErrConflict)

	views := f.list(ranked.KindRole)
	assert.Equal(t, "A", views[0].Name, "staged values must be rolled back")
	assert.Equal(t, 0, views[0].Ordinal)
}

func TestBatchUpdatesCollidingWithEachOtherConflict(t *testing.T) {
	f := newFixture(t)
	a := f.role("A", 0)
	b := f.role("B", 1)

	_, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{
		Updates: []ranked.UpdateRequest{
			{ID: a.ID, Name: "C", Ordinal: 3},
			{ID: b.ID, Name: "C", Ordinal: 4},
		},
	})
	require.ErrorIs(t, err, ranked.ErrConflict)
}

func TestBatchUpdateMissingEntityNotFound(t *testing.T) {
	f := newFixture(t)
	f.role("A", 0)

	_, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{
		Updates: []ranked.UpdateRequest{{ID: "missing", Name: "X", Ordinal: 3}},
	})
	require.ErrorIs(t, err, ranked.ErrNotFound)

	err = f.svc.Delete(f.ctx, ranked.KindRole, "missing")
	require.ErrorIs(t, err, ranked.ErrNotFound)
}

func TestBatchUpdatingDeletedEntityNotFound(t *testing.T) {
	f := newFixture(t)
	f.role("A", 0)
	b := f.role("B", 1)

	_, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{
		Deletes: []string{b.ID},
		Updates: []ranked.UpdateRequest{{ID: b.ID, Name: "B", Ordinal: 2}},
	})
	require.ErrorIs(t, err, ranked.ErrNotFound)
	assert.Len(t, f.list(ranked.KindRole), 2)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	f.role("admin", 0)

	cases := []struct {
		name string
		req  ranked.CreateRequest
		want error
	}{
		{name: "duplicate name", req: ranked.CreateRequest{Name: "admin", Ordinal: 4}, want: ranked.ErrConflict},
		{name: "duplicate ordinal", req: ranked.CreateRequest{Name: "root", Ordinal: 0}, want: ranked.ErrConflict},
		{name: "blank name", req: ranked.CreateRequest{Name: "  ", Ordinal: 1}, want: ranked.ErrInvalidInput},
		{name: "negative ordinal", req: ranked.CreateRequest{Name: "guest", Ordinal: -1}, want: ranked.ErrInvalidInput},
		{name: "staging prefix", req: ranked.CreateRequest{Name: "~staged~guest", Ordinal: 2}, want: ranked.ErrInvalidInput},
		{name: "role owner", req: ranked.CreateRequest{Name: "guest", Ordinal: 2, OwnerID: "x"}, want: ranked.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(f.ctx, ranked.KindRole, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBatchCreatesAreCheckedAgainstEachOther(t *testing.T) {
	f := newFixture(t)
	f.role("admin", 0)

	_, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{
		Creates: []ranked.CreateRequest{{Name: "a", Ordinal: 1}, {Name: "b", Ordinal: 1}},
	})
	require.ErrorIs(t, err, ranked.ErrConflict)
	assert.Len(t, f.list(ranked.KindRole), 1)
}

func TestBatchCreateMayTakeValuesVacatedByUpdates(t *testing.T) {
	f := newFixture(t)
	a := f.role("admin", 0)

	views, err := f.svc.BatchReconcile(f.ctx, ranked.KindRole, ranked.BatchRequest{
		Updates: []ranked.UpdateRequest{{ID: a.ID, Name: "owner", Ordinal: 1}},
		Creates: []ranked.CreateRequest{{Name: "admin", Ordinal: 0}},
	})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "admin", views[0].Name)
	assert.NotEqual(t, a.ID, views[0].ID)
	assert.Equal(t, a.ID, views[1].ID)
}

func TestDeleteRoleReassignsToLowestSurvivor(t *testing.T) {
	f := newFixture(t)
	r0 := f.role("r0", 0)
	r1 := f.role("r1", 1)
	r2 := f.role("r2", 2)
	users := f.attach(ranked.CollectionUsers, r0.ID, 3)
	f.attach(ranked.CollectionUsers, r1.ID, 1)
	f.attach(ranked.CollectionUsers, r2.ID, 2)
	board := f.board("general", 0, r0.ID)

	require.NoError(t, f.svc.Delete(f.ctx, ranked.KindRole, r0.ID))

	for _, u := range users {
		owner, ok := f.store.Owner(ranked.CollectionUsers, u)
		require.True(t, ok)
		assert.Equal(t, r1.ID, owner)
	}
	views := byName(f.list(ranked.KindRole))
	assert.NotContains(t, views, "r0")
	assert.Equal(t, 4, views["r1"].Dependents[ranked.CollectionUsers])
	assert.Equal(t, 1, views["r1"].Dependents[ranked.CollectionBoards])
	assert.Equal(t, 5, views["r1"].DependentCount)
	assert.Equal(t, 2, views["r2"].DependentCount)

	boards := f.list(ranked.KindBoard)
	require.Len(t, boards, 1)
	assert.Equal(t, board.ID, boards[0].ID)
	assert.Equal(t, r1.ID, boards[0].OwnerID)
}

func TestDeleteAndMoveBoardMergesPosts(t *testing.T) {
	f := newFixture(t)
	role := f.role("member", 0)
	x := f.board("X", 0, role.ID)
	y := f.board("Y", 1, role.ID)
	posts := f.attach(ranked.CollectionPosts, x.ID, 5)

	target, err := f.svc.DeleteAndMove(f.ctx, ranked.KindBoard, x.ID, y.ID)
	require.NoError(t, err)
	assert.Equal(t, y.ID, target.ID)
	assert.Equal(t, 5, target.Dependents[ranked.CollectionPosts])

	boards := f.list(ranked.KindBoard)
	require.Len(t, boards, 1)
	assert.Equal(t, y.ID, boards[0].ID)
	assert.Equal(t, 5, boards[0].DependentCount)
	assert.ElementsMatch(t, posts, f.store.Members(ranked.CollectionPosts, y.ID))
}

func TestDeleteAndMoveRejectsSelfAndMissing(t *testing.T) {
	f := newFixture(t)
	a := f.role("a", 0)

	_, err := f.svc.DeleteAndMove(f.ctx, ranked.KindRole, a.ID, a.ID)
	require.ErrorIs(t, err, ranked.ErrConflict)
	_, err = f.svc.DeleteAndMove(f.ctx, ranked.KindRole, a.ID, "missing")
	require.ErrorIs(t, err, ranked.ErrNotFound)
	_, err = f.svc.DeleteAndMove(f.ctx, ranked.KindRole, "", a.ID)
	require.ErrorIs(t, err, ranked.ErrInvalidInput)
	assert.Len(t, f.list(ranked.KindRole), 1)
}

func TestDeleteBoardCascadesPosts(t *testing.T) {
	f := newFixture(t)
	role := f.role("member", 0)
	b := f.board("general", 0, role.ID)
	posts := f.attach(ranked.CollectionPosts, b.ID, 4)

	require.NoError(t, f.svc.Delete(f.ctx, ranked.KindBoard, b.ID))
	for _, p := range posts {
		_, ok := f.store.Owner(ranked.CollectionPosts, p)
		assert.False(t, ok, "post %s survived its board", p)
	}
	roles := f.list(ranked.KindRole)
	assert.Equal(t, 0, roles[0].Dependents[ranked.CollectionBoards])
}

func TestCreateBoardOwner(t *testing.T) {
	f := newFixture(t)
	f.role("member", 5)
	low := f.role("guest", 1)

	b := f.board("general", 0, "")
	assert.Equal(t, low.ID, b.OwnerID)

	_, err := f.svc.Create(f.ctx, ranked.KindBoard, ranked.CreateRequest{Name: "other", Ordinal: 1, OwnerID: "missing"})
	require.ErrorIs(t, err, ranked.ErrNotFound)
}

func TestCreateBoardWithoutRolesNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.ctx, ranked.KindBoard, ranked.CreateRequest{Name: "general", Ordinal: 0})
	require.ErrorIs(t, err, ranked.ErrNotFound)
}

func TestBoardBatchScenario(t *testing.T) {
	f := newFixture(t)
	role := f.role("member", 0)
	boards := make([]ranked.View, 7)
	for i := range boards {
		boards[i] = f.board(fmt.Sprintf("b%d", i), i, role.ID)
		f.attach(ranked.CollectionPosts, boards[i].ID, i+1)
	}

	var updates []ranked.UpdateRequest
	for i := 0; i <= 4; i++ {
		updates = append(updates, ranked.UpdateRequest{ID: boards[i].ID, Name: boards[i].Name, Ordinal: i + 1})
	}
	views, err := f.svc.BatchReconcile(f.ctx, ranked.KindBoard, ranked.BatchRequest{
		Deletes: []string{boards[5].ID},
		Moves:   []ranked.MoveRequest{{SourceID: boards[6].ID, TargetID: boards[0].ID}},
		Updates: updates,
		Creates: []ranked.CreateRequest{{Name: "announcements", Ordinal: 0}},
	})
	require.NoError(t, err)
	assertInvariants(t, views)

	require.Len(t, views, 6)
	assert.Equal(t, "announcements", views[0].Name)
	assert.Equal(t, 0, views[0].Ordinal)
	assert.Equal(t, 0, views[0].DependentCount)
	assert.Equal(t, role.ID, views[0].OwnerID)

	wantPosts := []int{1 + 7, 2, 3, 4, 5}
	for i := 0; i <= 4; i++ {
		v := views[i+1]
		assert.Equal(t, boards[i].ID, v.ID)
		assert.Equal(t, i+1, v.Ordinal)
		assert.Equal(t, wantPosts[i], v.Dependents[ranked.CollectionPosts], "posts of %s", v.Name)
	}
	assert.Empty(t, f.store.Members(ranked.CollectionPosts, boards[5].ID))
	assert.Empty(t, f.store.Members(ranked.CollectionPosts, boards[6].ID))

	roles := f.list(ranked.KindRole)
	assert.Equal(t, 6, roles[0].Dependents[ranked.CollectionBoards])
}

func TestFailedBatchRollsBackEveryPhase(t *testing.T) {
	f := newFixture(t)
	role := f.role("member", 0)
	a := f.board("a", 0, role.ID)
	b := f.board("b", 1, role.ID)
	c := f.board("c", 2, role.ID)
	f.attach(ranked.CollectionPosts, a.ID, 2)
	f.attach(ranked.CollectionPosts, b.ID, 3)
	before := f.list(ranked.KindBoard)

	_, err := f.svc.BatchReconcile(f.ctx, ranked.KindBoard, ranked.BatchRequest{
		Deletes: []string{a.ID},
		Moves:   []ranked.MoveRequest{{SourceID: b.ID, TargetID: c.ID}},
		Updates: []ranked.UpdateRequest{{ID: c.ID, Name: "c", Ordinal: 0}},
		Creates: []ranked.CreateRequest{{Name: "c", Ordinal: 9}},
	})
	require.ErrorIs(t, err, ranked.ErrConflict)
	assert.Equal(t, before, f.list(ranked.KindBoard))
	assert.Len(t, f.store.Members(ranked.CollectionPosts, a.ID), 2)
}

func TestUnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.List(f.ctx, ranked.Kind("thread"))
	require.ErrorIs(t, err, ranked.ErrInvalidInput)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := ranked.NewService(nil)
	require.Error(t, err)
}
