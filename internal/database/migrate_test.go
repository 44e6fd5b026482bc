package database

import (
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	goose.SetBaseFS(migrationsFS)
	t.Cleanup(func() { goose.SetBaseFS(nil) })

	ms, err := goose.CollectMigrations("migrations", 0, goose.MaxVersion)
	require.NoError(t, err)
	require.Len(t, ms, 3)
	for i, m := range ms {
		assert.Equal(t, int64(i+1), m.Version, "версии идут подряд")
	}
}

func TestMigrations_TelegramNamesFit(t *testing.T) {
	raw, err := migrationsFS.ReadFile("migrations/00003_widen_text_columns.sql")
	require.NoError(t, err)
	sql := string(raw)

	// имя и фамилия в телеге до 64 символов
	for _, col := range []string{"first_name", "last_name", "username"} {
		assert.Contains(t, sql, "ALTER COLUMN "+col+" TYPE VARCHAR(255)")
	}
	for _, col := range []string{"title", "extension", "path"} {
		assert.Contains(t, sql, "ALTER TABLE files ALTER COLUMN "+col+" TYPE TEXT")
	}
}
