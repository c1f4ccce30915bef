package anihive

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupProfilesDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	up, err := fs.ReadFile(GetMigrationsFS(), "20241016120000_create_profiles.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(up))
	require.NoError(t, err)

	return db, func() {
		_ = db.Close()
	}
}

func TestProfilesRepositoryFindProfile(t *testing.T) {
	db, cleanup := setupProfilesDB(t)
	defer cleanup()

	ctx := context.Background()
	repos := NewRepositoryManager(db)
	require.NoError(t, repos.Validate())

	id := uuid.New()
	avatar := "https://cdn.example.com/levi.png"
	_, err := repos.Profiles().Create(ctx, &Profile{ID: id, Username: "levi", Avatar: &avatar})
	require.NoError(t, err)

	profile, err := repos.Profiles().FindProfile(ctx, id.String())
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "levi", profile.Username)
	assert.Equal(t, avatar, profile.AvatarURL())
	assert.True(t, profile.BelongsTo(id.String()))
}

func TestProfilesRepositoryMissingProfile(t *testing.T) {
	db, cleanup := setupProfilesDB(t)
	defer cleanup()

	profile, err := NewProfilesRepository(db).FindProfile(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestProfilesRepositoryInvalidUserID(t *testing.T) {
	db, cleanup := setupProfilesDB(t)
	defer cleanup()

	_, err := NewProfilesRepository(db).FindProfile(context.Background(), "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user id")
}

func TestRepositoryManagerRunInTx(t *testing.T) {
	db, cleanup := setupProfilesDB(t)
	defer cleanup()

	ctx := context.Background()
	repos := NewRepositoryManager(db)

	err := repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&Profile{ID: uuid.New(), Username: "hange"}).Exec(ctx)
		return err
	})
	require.NoError(t, err)

	count, err := db.NewSelect().Model((*Profile)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, repos.RunInTx(cancelled, nil, func(context.Context, bun.Tx) error { return nil }), context.Canceled)

	assert.Error(t, mngr{}.Validate())
}
