package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/termpilot/termpilot/internal/common/errors"
	"github.com/termpilot/termpilot/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	s, err := New(pool)
	require.NoError(t, err)
	return s
}

func newRecord(id string, lastActivity time.Time) Record {
	return Record{
		ID:           id,
		Name:         "session " + id,
		WorkingDir:   "/tmp/" + id,
		LastActivity: lastActivity,
		CreatedAt:    lastActivity,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Create(ctx, newRecord("s1", now)))

	rec, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "session s1", rec.Name)
	assert.Equal(t, "/tmp/s1", rec.WorkingDir)
	assert.Empty(t, rec.ExternalID())
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

func TestListOrdersByActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.Create(ctx, newRecord("old", base.Add(-time.Hour))))
	require.NoError(t, s.Create(ctx, newRecord("new", base)))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "old", records[1].ID)
}

func TestBindAndClearExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRecord("s1", time.Now())))
	require.NoError(t, s.BindExternalID(ctx, "s1", "ext-abc"))

	rec, err := s.FindByExternalID(ctx, "ext-abc")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, "ext-abc", rec.ExternalID())

	require.NoError(t, s.ClearExternalID(ctx, "s1"))

	_, err = s.FindByExternalID(ctx, "ext-abc")
	assert.Error(t, err)

	rec, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, rec.ExternalID())
}

func TestTouchActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	require.NoError(t, s.Create(ctx, newRecord("s1", base)))

	later := base.Add(30 * time.Minute)
	require.NoError(t, s.TouchActivity(ctx, "s1", later))

	rec, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, rec.LastActivity.After(base))

	err = s.TouchActivity(ctx, "missing", later)
	_, ok := apperrors.IsAppError(err)
	assert.True(t, ok)
}

func TestDeleteInactiveBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, newRecord("stale", now.Add(-10*24*time.Hour))))
	require.NoError(t, s.Create(ctx, newRecord("fresh", now)))

	pruned, err := s.DeleteInactiveBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].ID)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRecord("s1", time.Now())))
	require.NoError(t, s.Delete(ctx, "s1"))

	err := s.Delete(ctx, "s1")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

// brokenResult simulates a driver that cannot report affected rows.
type brokenResult struct{}

func (brokenResult) LastInsertId() (int64, error) { return 0, nil }
func (brokenResult) RowsAffected() (int64, error) {
	return 0, errors.New("rows affected not supported")
}

func TestRequireRowPropagatesDriverError(t *testing.T) {
	err := requireRow(brokenResult{}, "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected not supported")
}
