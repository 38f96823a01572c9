package logstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindtastic/roster"
	"github.com/mindtastic/roster/registry"
)

func newRecordStore(t *testing.T) *RecordStore {
	t.Helper()
	rs, err := OpenRecordStore(t.TempDir())
	require.NoError(t, err)
	return rs
}

func user(id int64, status roster.Status) roster.User {
	u := roster.NewUser(id)
	u.Status = status
	return u
}

func TestRecordStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rs := newRecordStore(t)

	empty, err := rs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	a := user(1, roster.StatusApproved)
	a.AttachAccount("github", 7)
	users := []roster.User{a, user(2, roster.StatusWaitApprove), user(3, roster.StatusDeclined)}
	require.NoError(t, rs.ReplaceAll(ctx, users))

	got, err := rs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, users, got)
}

func TestRecordStore_AppendsOnlyChanges(t *testing.T) {
	ctx := context.Background()
	rs := newRecordStore(t)

	users := []roster.User{user(1, roster.StatusApproved), user(2, roster.StatusWaitApprove)}
	require.NoError(t, rs.ReplaceAll(ctx, users))
	_, before, err := rs.Log().Stats()
	require.NoError(t, err)

	// unchanged collection: nothing written
	require.NoError(t, rs.ReplaceAll(ctx, users))
	_, total, err := rs.Log().Stats()
	require.NoError(t, err)
	assert.Equal(t, before, total)

	// one changed user, one new user: two records plus the commit
	users[1].Status = roster.StatusApproved
	users = append(users, user(3, roster.StatusWaitApprove))
	require.NoError(t, rs.ReplaceAll(ctx, users))
	_, total, err = rs.Log().Stats()
	require.NoError(t, err)
	assert.Equal(t, before+3, total)

	got, err := rs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, users, got)
}

func TestRecordStore_RemovesAndReorders(t *testing.T) {
	ctx := context.Background()
	rs := newRecordStore(t)

	require.NoError(t, rs.ReplaceAll(ctx, []roster.User{
		user(1, roster.StatusApproved), user(2, roster.StatusApproved), user(3, roster.StatusApproved),
	}))

	dropped := []roster.User{user(1, roster.StatusApproved), user(3, roster.StatusApproved)}
	require.NoError(t, rs.ReplaceAll(ctx, dropped))
	got, err := rs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, dropped, got)

	reordered := []roster.User{user(3, roster.StatusApproved), user(1, roster.StatusDeclined)}
	require.NoError(t, rs.ReplaceAll(ctx, reordered))
	got, err = rs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, reordered, got)

	require.NoError(t, rs.ReplaceAll(ctx, nil))
	got, err = rs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordStore_Compacts(t *testing.T) {
	ctx := context.Background()
	rs := newRecordStore(t)

	u := user(1, roster.StatusApproved)
	for i := int64(0); i < compactMinRecords; i++ {
		u.AttachAccount("github", i)
		require.NoError(t, rs.ReplaceAll(ctx, []roster.User{u}))
	}

	live, total, err := rs.Log().Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, live)
	assert.Less(t, total, compactMinRecords)

	got, err := rs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []roster.User{u}, got)
}

func TestRecordStore_CompactionFailureKeepsWrite(t *testing.T) {
	ctx := context.Background()
	rs := newRecordStore(t)
	attempts := 0
	rs.compact = func() error {
		attempts++
		return errors.New("disk full")
	}

	reg, err := registry.Open(ctx, rs)
	require.NoError(t, err)
	_, err = reg.Create(ctx, roster.NewUser(1))
	require.NoError(t, err)
	for i := int64(0); i < compactMinRecords; i++ {
		require.NoError(t, reg.AttachAccount(ctx, "github", 1, i))
	}
	assert.Positive(t, attempts)

	_, total, err := rs.Log().Stats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, compactMinRecords)

	want, _ := reg.Get(1)
	got, err := rs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []roster.User{want}, got)

	reopened, err := registry.Open(ctx, rs)
	require.NoError(t, err)
	assert.Equal(t, reg.List(0), reopened.List(0))
}

func TestRecordStore_InvalidKey(t *testing.T) {
	rs := newRecordStore(t)
	require.NoError(t, rs.Log().Set("not-a-number", []byte(`{}`)))

	_, err := rs.LoadAll(context.Background())
	assert.True(t, IsInvalidKeyError(err), "error = %v", err)
}
