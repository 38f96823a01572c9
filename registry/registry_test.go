package registry

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindtastic/roster"
	"github.com/mindtastic/roster/store/memory"
)

func openRegistry(t *testing.T, store roster.Store, opts ...Option) *Registry {
	t.Helper()
	r, err := Open(context.Background(), store, opts...)
	require.NoError(t, err)
	return r
}

func defaultsFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data/users", 0755))
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, "/data/users/"+name, []byte(body), 0644))
	}
	return fs
}

func TestOpen_DefaultAdmin(t *testing.T) {
	fs := defaultsFS(t, map[string]string{"adminX": "100\n"})
	r := openRegistry(t, memory.New(), WithDefaults(fs, "/data/users"))

	u, ok := r.Get(100)
	require.True(t, ok)
	assert.Equal(t, roster.RoleAdmin, u.Role)
	assert.Equal(t, roster.StatusApproved, u.Status)
}

func TestOpen_PersistedOverridesDefault(t *testing.T) {
	fs := defaultsFS(t, map[string]string{"userX": "5\n"})
	persisted := roster.NewUser(5)
	persisted.Role = roster.RoleAdmin
	persisted.Status = roster.StatusDeclined

	r := openRegistry(t, memory.New(persisted), WithDefaults(fs, "/data/users"))

	u, ok := r.Get(5)
	require.True(t, ok)
	assert.Equal(t, roster.RoleAdmin, u.Role)
	assert.Equal(t, roster.StatusDeclined, u.Status)
	assert.Equal(t, 1, r.Len())
}

func TestOpen_DefaultsAreNotFlushed(t *testing.T) {
	store := memory.New()
	openRegistry(t, store, WithDefaultUsers(roster.NewDefaultUser(7, roster.RoleUser)))

	assert.Equal(t, 0, store.Flushes())
	stored, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestOpen_RejectsInvalidPersistedUser(t *testing.T) {
	bad := roster.NewUser(1)
	bad.Role = "owner"

	_, err := Open(context.Background(), memory.New(bad))
	assert.ErrorIs(t, err, roster.ErrInvalidRole)
}

func TestOpen_DefaultsMalformedID(t *testing.T) {
	fs := defaultsFS(t, map[string]string{"users": "12\nnope\n"})

	_, err := Open(context.Background(), memory.New(), WithDefaults(fs, "/data/users"))
	assert.ErrorContains(t, err, `invalid user id "nope"`)
}

func TestGetUnknown(t *testing.T) {
	r := openRegistry(t, memory.New(roster.NewUser(1)))

	_, ok := r.Get(2)
	assert.False(t, ok)
	assert.False(t, r.Contains(2))
	assert.True(t, r.Contains(1))
}

func TestGetReturnsCopy(t *testing.T) {
	r := openRegistry(t, memory.New(roster.NewUser(1)))

	u, _ := r.Get(1)
	u.Status = roster.StatusDeclined
	u.AttachAccount("github", 9)

	again, _ := r.Get(1)
	assert.Equal(t, roster.StatusWaitApprove, again.Status)
	assert.Empty(t, again.AddedAccounts)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := openRegistry(t, store)

	created, err := r.Create(ctx, roster.User{ID: 42, Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, roster.RoleUser, created.Role)
	assert.Equal(t, roster.StatusWaitApprove, created.Status)
	assert.Equal(t, 1, store.Flushes())

	got, ok := r.Get(42)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username)
}

func TestCreate_DuplicateAccount(t *testing.T) {
	store := memory.New()
	r := openRegistry(t, store)

	_, err := r.Create(context.Background(), roster.User{
		ID:            42,
		AddedAccounts: map[string][]int64{"github": {9, 9}},
	})
	assert.ErrorIs(t, err, roster.ErrDuplicateAccount)
	assert.False(t, r.Contains(42))
	assert.Equal(t, 0, store.Flushes())
}

func TestCreate_ExistingRequestsApprovalAgain(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := openRegistry(t, store, WithDefaultUsers(roster.NewDefaultUser(42, roster.RoleAdmin)))

	again, err := r.Create(ctx, roster.User{ID: 42, Username: "mallory", Role: roster.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, roster.StatusWaitApprove, again.Status)
	assert.Equal(t, roster.RoleAdmin, again.Role, "payload fields other than id are ignored")
	assert.Empty(t, again.Username)
	assert.Equal(t, 1, store.Flushes())
}

func TestCreate_InvalidRole(t *testing.T) {
	store := memory.New()
	r := openRegistry(t, store)

	_, err := r.Create(context.Background(), roster.User{ID: 1, Role: "root"})
	assert.ErrorIs(t, err, roster.ErrInvalidRole)
	assert.False(t, r.Contains(1))
	assert.Equal(t, 0, store.Flushes())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := memory.New(roster.NewUser(1))
	r := openRegistry(t, store)

	name := "bob"
	role := roster.RoleAdmin
	u, err := r.Update(ctx, 1, roster.Patch{Username: &name, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, roster.RoleAdmin, u.Role)
	assert.Equal(t, roster.StatusWaitApprove, u.Status)
	assert.Equal(t, 1, store.Flushes())
}

func TestUpdate_Unknown(t *testing.T) {
	store := memory.New()
	r := openRegistry(t, store)

	name := "bob"
	_, err := r.Update(context.Background(), 1, roster.Patch{Username: &name})
	assert.ErrorIs(t, err, roster.ErrNotFound)
	assert.Equal(t, 0, store.Flushes())
}

func TestUpdate_InvalidStatus(t *testing.T) {
	store := memory.New(roster.NewUser(1))
	r := openRegistry(t, store)

	status := roster.Status("banned")
	_, err := r.Update(context.Background(), 1, roster.Patch{Status: &status})
	assert.ErrorIs(t, err, roster.ErrInvalidStatus)
	assert.Equal(t, 0, store.Flushes())

	u, _ := r.Get(1)
	assert.Equal(t, roster.StatusWaitApprove, u.Status)
}

func TestUpdate_DuplicateAccount(t *testing.T) {
	store := memory.New(roster.NewUser(1))
	r := openRegistry(t, store)

	_, err := r.Update(context.Background(), 1, roster.Patch{
		AddedAccounts: map[string][]int64{"github": {7, 7}},
	})
	assert.ErrorIs(t, err, roster.ErrDuplicateAccount)
	assert.Equal(t, 0, store.Flushes())

	u, _ := r.Get(1)
	assert.Empty(t, u.AddedAccounts)
}

func TestOpen_RejectsDuplicateAccount(t *testing.T) {
	u := roster.NewUser(1)
	u.AddedAccounts["github"] = []int64{3, 3}

	_, err := Open(context.Background(), memory.New(u))
	assert.ErrorIs(t, err, roster.ErrDuplicateAccount)
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	r := openRegistry(t, memory.New(roster.NewUser(1)))

	require.NoError(t, r.Approve(ctx, 1))
	u, _ := r.Get(1)
	assert.Equal(t, roster.StatusApproved, u.Status)

	assert.ErrorIs(t, r.Approve(ctx, 2), roster.ErrNotFound)
}

func TestToggleRole(t *testing.T) {
	ctx := context.Background()
	r := openRegistry(t, memory.New(roster.NewUser(1)))

	role, err := r.ToggleRole(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, roster.RoleAdmin, role)

	role, err = r.ToggleRole(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, roster.RoleUser, role)

	u, _ := r.Get(1)
	assert.Equal(t, roster.RoleUser, u.Role)

	_, err = r.ToggleRole(ctx, 2)
	assert.ErrorIs(t, err, roster.ErrNotFound)
}

func TestBanOrUnban(t *testing.T) {
	ctx := context.Background()
	approved := roster.NewDefaultUser(1, roster.RoleUser)
	r := openRegistry(t, memory.New(approved))

	status, err := r.BanOrUnban(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, roster.StatusDeclined, status)

	status, err = r.BanOrUnban(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, roster.StatusApproved, status)
}

func TestBanOrUnban_WaitingApproval(t *testing.T) {
	store := memory.New(roster.NewUser(1))
	r := openRegistry(t, store)

	_, err := r.BanOrUnban(context.Background(), 1)
	assert.ErrorIs(t, err, roster.ErrAwaitingApproval)
	assert.Equal(t, 0, store.Flushes())

	u, _ := r.Get(1)
	assert.Equal(t, roster.StatusWaitApprove, u.Status)

	_, err = r.BanOrUnban(context.Background(), 2)
	assert.ErrorIs(t, err, roster.ErrNotFound)
}

func TestSetStatusAndRole_Invalid(t *testing.T) {
	ctx := context.Background()
	store := memory.New(roster.NewUser(1))
	r := openRegistry(t, store)

	assert.ErrorIs(t, r.SetStatus(ctx, 1, "banned"), roster.ErrInvalidStatus)
	assert.ErrorIs(t, r.SetRole(ctx, 1, "owner"), roster.ErrInvalidRole)
	assert.ErrorIs(t, r.SetStatus(ctx, 9, roster.StatusApproved), roster.ErrNotFound)
	assert.ErrorIs(t, r.SetRole(ctx, 9, roster.RoleAdmin), roster.ErrNotFound)
	assert.Equal(t, 0, store.Flushes())

	u, _ := r.Get(1)
	assert.Equal(t, roster.RoleUser, u.Role)
	assert.Equal(t, roster.StatusWaitApprove, u.Status)

	require.NoError(t, r.SetStatus(ctx, 1, roster.StatusDeclined))
	require.NoError(t, r.SetRole(ctx, 1, roster.RoleAdmin))
	assert.Equal(t, 2, store.Flushes())
}

func TestPendingApproval(t *testing.T) {
	ctx := context.Background()
	r := openRegistry(t, memory.New(), WithDefaultUsers(roster.NewDefaultUser(10, roster.RoleAdmin)))

	_, err := r.Create(ctx, roster.User{ID: 1})
	require.NoError(t, err)
	_, err = r.Create(ctx, roster.User{ID: 2})
	require.NoError(t, err)

	pending := r.PendingApproval()
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID)
	assert.Equal(t, int64(2), pending[1].ID)
	for _, u := range pending {
		assert.Equal(t, roster.StatusWaitApprove, u.Status)
	}
}

func TestAttachAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.New(roster.NewUser(42))
	r := openRegistry(t, store)

	require.NoError(t, r.AttachAccount(ctx, "github", 42, 7))
	require.NoError(t, r.AttachAccount(ctx, "github", 42, 7))
	require.NoError(t, r.AttachAccount(ctx, "github", 42, 3))
	require.NoError(t, r.AttachAccount(ctx, "bloom", 42, 7))

	u, _ := r.Get(42)
	assert.Equal(t, []int64{7, 3}, u.AddedAccounts["github"])
	assert.Equal(t, []int64{7}, u.AddedAccounts["bloom"])
	assert.Equal(t, 4, store.Flushes())

	assert.ErrorIs(t, r.AttachAccount(ctx, "github", 1, 7), roster.ErrNotFound)
	assert.Equal(t, 4, store.Flushes())
}

func TestList(t *testing.T) {
	ctx := context.Background()
	var persisted []roster.User
	for id := int64(1000); id < 1060; id++ {
		persisted = append(persisted, roster.NewUser(id))
	}
	r := openRegistry(t, memory.New(persisted...),
		WithDefaultUsers(roster.NewDefaultUser(1003, roster.RoleAdmin), roster.NewDefaultUser(5, roster.RoleAdmin)))

	all := r.List(0)
	require.Len(t, all, DefaultListLimit)
	// Defaults come first; the persisted 1003 keeps the slot its default took.
	assert.Equal(t, int64(1003), all[0].ID)
	assert.Equal(t, roster.StatusWaitApprove, all[0].Status)
	assert.Equal(t, int64(5), all[1].ID)
	assert.Equal(t, int64(1000), all[2].ID)
	assert.Equal(t, int64(1004), all[5].ID)

	assert.Len(t, r.List(3), 3)
	assert.Len(t, r.List(500), 61)

	_, err := r.Create(ctx, roster.User{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.List(100)[61].ID)
}

func TestFailedFlushLeavesRegistryUnchanged(t *testing.T) {
	ctx := context.Background()
	store := memory.New(roster.NewDefaultUser(1, roster.RoleUser))
	r := openRegistry(t, store)

	store.FailNext()
	_, err := r.Create(ctx, roster.User{ID: 2})
	assert.ErrorIs(t, err, memory.ErrInjected)
	assert.False(t, r.Contains(2))

	store.FailNext()
	_, err = r.BanOrUnban(ctx, 1)
	assert.ErrorIs(t, err, memory.ErrInjected)
	u, _ := r.Get(1)
	assert.Equal(t, roster.StatusApproved, u.Status)

	store.FailNext()
	assert.ErrorIs(t, r.AttachAccount(ctx, "github", 1, 7), memory.ErrInjected)
	u, _ = r.Get(1)
	assert.Empty(t, u.AddedAccounts)
}

func TestFlushReloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := defaultsFS(t, map[string]string{"adminX": "100\n", "userX": "5\n6\n"})
	store := memory.New()
	r := openRegistry(t, store, WithDefaults(fs, "/data/users"))

	_, err := r.Create(ctx, roster.User{ID: 1, Username: "new"})
	require.NoError(t, err)
	_, err = r.ToggleRole(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, r.AttachAccount(ctx, "github", 6, 77))

	reloaded := openRegistry(t, store, WithDefaults(fs, "/data/users"))
	assert.Equal(t, r.List(0), reloaded.List(0))

	// Without the defaults the store alone reproduces the same state.
	storeOnly := openRegistry(t, store)
	assert.Equal(t, r.List(0), storeOnly.List(0))
}

func TestFlush(t *testing.T) {
	store := memory.New()
	r := openRegistry(t, store, WithDefaultUsers(roster.NewDefaultUser(7, roster.RoleAdmin)))

	require.NoError(t, r.Flush(context.Background()))

	stored, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(7), stored[0].ID)
}
