package main

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srecha/srecha-invoice/migrations"
)

func TestDiscoverOrdersAndRejectsDuplicates(t *testing.T) {
	list, err := discover(fstest.MapFS{
		"0002_indexes.sql": {Data: []byte("CREATE INDEX x ON y (z);")},
		"0001_init.sql":    {Data: []byte("CREATE TABLE y (z int);")},
		"README.md":        {Data: []byte("ignored")},
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "0001", list[0].Version)
	assert.Equal(t, "0002_indexes.sql", list[1].Filename)
	assert.Len(t, list[0].Checksum, 64)

	_, err = discover(fstest.MapFS{
		"0001_a.sql": {Data: []byte("")},
		"0001_b.sql": {Data: []byte("")},
	})
	assert.ErrorContains(t, err, "duplicate")

	_, err = discover(fstest.MapFS{"init.sql": {Data: []byte("")}})
	assert.Error(t, err)
}

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	list, err := discover(migrations.Files)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, "0001_init.sql", list[0].Filename)
}

func TestCreateMigrationNumbersSequentially(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0003_old.sql"), []byte("--"), 0o644))

	path, err := createMigration(dir, "Add Invoice Notes!")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "0004_add_invoice_notes.sql"), path)

	_, err = createMigration(dir, "!!!")
	assert.Error(t, err)
}
