package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "reader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	applied, err := Migrate(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, applied)

	applied, err = Migrate(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetUser(ctx, "anon_missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{
		UserID: "anon_1", Username: "anon-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	got, err = repo.GetUser(ctx, "anon_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "anon-1", got.Username)
	assert.True(t, got.LastSeenAt.Equal(now))
}

func TestReaderSessionRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	session := &domain.ReaderSession{
		UserID:          "anon_1",
		ActiveSectionID: "myokines",
		ActivePersona:   "mentor",
		OnboardingSeen:  true,
	}
	session.Append(
		domain.NewTextMessage(domain.RoleUser, "¿Qué es BDNF?"),
		domain.NewImageMessage("Visualización: x", []byte{0x89, 0x50, 0x4e, 0x47}, "image/png"),
	)
	session.SaveInsight("El músculo no es opcional.", "intro")
	require.NoError(t, repo.UpsertReaderSession(ctx, session))

	got, err := repo.GetReaderSession(ctx, "anon_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "myokines", got.ActiveSectionID)
	assert.Equal(t, "mentor", got.ActivePersona)
	assert.True(t, got.OnboardingSeen)
	require.Len(t, got.History, 2)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, got.History[1].ImageData)
	require.Len(t, got.Insights, 1)
	assert.Equal(t, "intro", got.Insights[0].Module)
}

func TestEmailVerifiedIsSticky(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertReaderSession(ctx, &domain.ReaderSession{UserID: "anon_1", EmailVerified: true}))
	require.NoError(t, repo.UpsertReaderSession(ctx, &domain.ReaderSession{UserID: "anon_1", EmailVerified: false}))

	got, err := repo.GetReaderSession(ctx, "anon_1")
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
}

func TestStaleUsersAndDelete(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{UserID: "old", Username: "o", LastSeenAt: old, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{UserID: "fresh", Username: "f", LastSeenAt: fresh, CreatedAt: fresh, UpdatedAt: fresh}))
	require.NoError(t, repo.UpsertReaderSession(ctx, &domain.ReaderSession{UserID: "old"}))

	stale, err := repo.GetStaleUsers(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].UserID)

	require.NoError(t, repo.DeleteUser(ctx, "old"))
	got, err := repo.GetReaderSession(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
	u, err := repo.GetUser(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, u)
}
