package sqlite

import (
	"context"
	"testing"

	"github.com/accrue-dev/accrue/sqlite/test_migrations"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUp(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)
	ctx := context.Background()

	// a new database should have a user_version of 0
	v, err := store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 0, v)

	migrator := NewMigrator(store, zaptest.NewLogger(t))
	require.NoError(t, migrator.Up(ctx, test_migrations.All))

	// user_version should now be 3 after applying the migrations
	v, err = store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 3, v)

	tables, err := store.tableNames()
	require.NoError(t, err)
	require.Equal(t, []string{"test_table_1", "test_table_2"}, tables)
}

func TestUpIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)
	ctx := context.Background()

	migrator := NewMigrator(store, zaptest.NewLogger(t))
	require.NoError(t, migrator.Up(ctx, test_migrations.All))
	require.NoError(t, migrator.Up(ctx, test_migrations.All))

	v, err := store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestScriptVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		want     int
		wantErr  bool
	}{
		{
			"single digit number",
			"0001_some_file_name.sql",
			1,
			false,
		},
		{
			"larger number",
			"0921_another_file.sql",
			921,
			false,
		},
		{
			"bad name",
			"not_numbered_correctly.sql",
			0,
			true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := scriptVersion(tt.filename)
			require.Equal(t, tt.want, got)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
