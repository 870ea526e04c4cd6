package db

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"migrations/002_sessions.sql": {Data: []byte("CREATE TABLE sessions (id UUID)")},
		"migrations/001_accounts.sql": {Data: []byte("CREATE TABLE accounts (id UUID)")},
		"migrations/README.md":        {Data: []byte("ignored")},
	}
}

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	database, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`(?s)SELECT EXISTS\(SELECT 1 FROM schema_migrations WHERE version = \$1\)`).
		WithArgs("001_accounts.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery(`(?s)SELECT EXISTS\(SELECT 1 FROM schema_migrations WHERE version = \$1\)`).
		WithArgs("002_sessions.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE sessions`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations \(version\) VALUES \(\$1\)`).
		WithArgs("002_sessions.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runMigrations(context.Background(), database, testFiles())
	require.NoError(t, err)
	assert.Equal(t, []string{"002_sessions.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RollsBackFailedScript(t *testing.T) {
	database, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("001_accounts.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE accounts`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := runMigrations(context.Background(), database, testFiles())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 001_accounts.sql")
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrations(t *testing.T) {
	versions, err := migrationVersions(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, "001_identity.sql", versions[0])
}
