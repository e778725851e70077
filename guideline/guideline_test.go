package guideline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `[
	{"id": "test_create_token", "required": true, "flagged": false},
	{"id": "test_old_name", "required": true, "flagged": true, "aliases": ["test_new_name"]},
	{"id": "test_list_servers", "required": false, "flagged": false}
]`

func newFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return NewFetcher(Config{})
}

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guideline.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	entries, err := newFetcher(t).Fetch(context.Background(), path, Options{
		IncludeAliases: true,
		IncludeFlagged: true,
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "test_create_token", entries[0].ID)
	assert.True(t, entries[0].Required)
	assert.Equal(t, []string{"test_new_name"}, entries[1].Aliases)
}

func TestFetchRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleManifest))
	}))
	defer srv.Close()

	entries, err := newFetcher(t).Fetch(context.Background(), srv.URL, Options{
		IncludeFlagged: true,
	})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFetchRemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newFetcher(t).Fetch(context.Background(), srv.URL, Options{})
	require.Error(t, err)
}

func TestFetchMissingFile(t *testing.T) {
	_, err := newFetcher(t).Fetch(context.Background(), "/nonexistent/guideline.json", Options{})
	require.Error(t, err)
}

func TestParseDropsMalformedEntriesIndividually(t *testing.T) {
	manifest := `[
		{"id": "test_good", "required": true},
		{"id": 42, "required": "nope"},
		{"required": true},
		{"id": "test_also_good", "required": false}
	]`
	path := filepath.Join(t.TempDir(), "guideline.json")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	entries, err := newFetcher(t).Fetch(context.Background(), path, Options{IncludeFlagged: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "test_good", entries[0].ID)
	assert.Equal(t, "test_also_good", entries[1].ID)
}

func TestParseRejectsNonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guideline.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": "x"}`), 0o644))

	_, err := newFetcher(t).Fetch(context.Background(), path, Options{})
	require.Error(t, err)
}

func TestParseRejectsAllEntriesInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guideline.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"required": true}]`), 0o644))

	_, err := newFetcher(t).Fetch(context.Background(), path, Options{})
	require.Error(t, err)
}

func TestFilter(t *testing.T) {
	entries := []Entry{
		{ID: "test_a", Required: true},
		{ID: "test_b", Required: false},
		{ID: "test_c", Required: true, Flagged: true, Aliases: []string{"test_c_new"}},
		{ID: "test_d", Required: true, Target: "object"},
	}

	t.Run("required only", func(t *testing.T) {
		got := filter(entries, Options{Type: TypeRequired, IncludeFlagged: true, IncludeAliases: true})
		require.Len(t, got, 3)
		assert.Equal(t, "test_a", got[0].ID)
	})

	t.Run("optional only", func(t *testing.T) {
		got := filter(entries, Options{Type: TypeOptional})
		require.Len(t, got, 1)
		assert.Equal(t, "test_b", got[0].ID)
	})

	t.Run("flagged excluded by default", func(t *testing.T) {
		got := filter(entries, Options{})
		for _, entry := range got {
			assert.False(t, entry.Flagged)
		}
	})

	t.Run("aliases stripped unless requested", func(t *testing.T) {
		got := filter(entries, Options{IncludeFlagged: true})
		for _, entry := range got {
			assert.Nil(t, entry.Aliases)
		}
	})

	t.Run("target filter", func(t *testing.T) {
		got := filter(entries, Options{Target: "object", IncludeFlagged: true})
		// Entries without a target apply to every program.
		require.Len(t, got, 4)
		assert.Equal(t, "test_d", got[3].ID)
	})
}
