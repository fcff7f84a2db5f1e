package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/migrations"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add brands table", "add_brands_table"},
		{"Add-Brands-Table", "add_brands_table"},
		{"ADD_BRANDS_TABLE", "add_brands_table"},
		{"add__brands__table", "add_brands_table"},
		{"Stock Index 2", "stock_index_2"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"_leading", "leading"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreate(t *testing.T) {
	t.Run("numbers sequentially", func(t *testing.T) {
		dir := t.TempDir()

		first, err := Create(dir, "catalog tables", "initial schema")
		require.NoError(t, err)
		second, err := Create(dir, "stock index", "")
		require.NoError(t, err)

		assert.Equal(t, uint(1), first.Version)
		assert.Equal(t, uint(2), second.Version)
		assert.Equal(t, filepath.Join(dir, "000002_stock_index.up.sql"), second.UpPath)
		assert.Equal(t, filepath.Join(dir, "000002_stock_index.down.sql"), second.DownPath)

		up, err := os.ReadFile(first.UpPath)
		require.NoError(t, err)
		assert.Contains(t, string(up), "catalog_tables")
		assert.Contains(t, string(up), "initial schema")

		down, err := os.ReadFile(first.DownPath)
		require.NoError(t, err)
		assert.Contains(t, string(down), "Rollback")
	})

	t.Run("continues after the highest version", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "000007_old.up.sql"), nil, 0o644))

		f, err := Create(dir, "next", "")
		require.NoError(t, err)
		assert.Equal(t, uint(8), f.Version)
	})

	t.Run("rejects an empty name", func(t *testing.T) {
		_, err := Create(t.TempDir(), "!!!", "")
		assert.Error(t, err)
	})
}

func TestList(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_skus.up.sql":     {},
		"000001_brands.up.sql":   {},
		"000001_brands.down.sql": {},
		"README.md":              {},
		"notes.sql":              {},
		"000003_x.sideways.sql":  {},
	}

	got, err := List(fsys)
	require.NoError(t, err)
	assert.Equal(t, []Migration{
		{Version: 1, Name: "brands", HasDown: true},
		{Version: 2, Name: "skus"},
	}, got)
	assert.Equal(t, "000001_brands", got[0].String())
}

func TestList_Embedded(t *testing.T) {
	got, err := List(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, Migration{Version: 1, Name: "catalog_tables", HasDown: true}, got[0])
}
