package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagedb/enginecore/internal/page"
)

func TestLoad_AppliesPartialOverridesOnTopOfDefaults(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		// trailing comments and commas are allowed
		"collation": "de-DE/IgnoreCase",
		"limit_size": 1073741824,
	}`)

	got, err := Load(data, page.DefaultPragmas())
	require.NoError(t, err)

	want := page.DefaultPragmas()
	want.Collation = "de-DE/IgnoreCase"
	want.LimitSize = 1 << 30

	require.Equal(t, want, got)
}

func TestLoad_EmptyDocumentReturnsBaseUnchanged(t *testing.T) {
	t.Parallel()

	got, err := Load(nil, page.DefaultPragmas())
	require.NoError(t, err)
	require.Equal(t, page.DefaultPragmas(), got)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Load([]byte(`{"not_a_real_pragma": 1}`), page.DefaultPragmas())
	require.Error(t, err)
}

func TestLoadFile_MissingFileReturnsBaseUnchanged(t *testing.T) {
	t.Parallel()

	got, err := LoadFile(filepath.Join(t.TempDir(), "missing.jsonc"), page.DefaultPragmas())
	require.NoError(t, err)
	require.Equal(t, page.DefaultPragmas(), got)
}

func TestFormat_RendersPragmasAsJSON(t *testing.T) {
	t.Parallel()

	s, err := Format(page.DefaultPragmas())
	require.NoError(t, err)
	require.Contains(t, s, "Collation")
}
