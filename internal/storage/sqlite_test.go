package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notebook-gateway/backend/internal/model"
	"github.com/notebook-gateway/backend/internal/notebook"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "notebooks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteReadMissing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Read(ctx, "missing.ipynb", false)
	assert.True(t, errors.Is(err, model.ErrNotebookNotFound))

	doc, err := store.Read(ctx, "missing.ipynb", true)
	require.NoError(t, err)
	require.Len(t, doc.Worksheets, 1)

	// createIfMissing does not persist; the path is still empty.
	_, err = store.Read(ctx, "missing.ipynb", false)
	assert.True(t, errors.Is(err, model.ErrNotebookNotFound))
}

func TestSQLiteWriteReadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := notebook.NewDocument()
	ws := doc.Worksheets[0]
	ws.Cells[0].Source = "x = 1"
	ws.Cells[0].Outputs = []notebook.Output{{Type: "stdout", Mimetypes: map[string]string{"text/plain": "1\n"}}}

	require.NoError(t, store.Write(ctx, "a.ipynb", doc))

	got, err := store.Read(ctx, "a.ipynb", false)
	require.NoError(t, err)
	require.Len(t, got.Worksheets, 1)
	assert.Equal(t, "x = 1", got.Worksheets[0].Cells[0].Source)
	require.Len(t, got.Worksheets[0].Cells[0].Outputs, 1)
	assert.Equal(t, "1\n", got.Worksheets[0].Cells[0].Outputs[0].Mimetypes["text/plain"])
}

func TestSQLiteWriteOverwrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := notebook.NewDocument()
	require.NoError(t, store.Write(ctx, "a.ipynb", doc))

	doc.Worksheets[0].Cells[0].Source = "second version"
	require.NoError(t, store.Write(ctx, "a.ipynb", doc))

	got, err := store.Read(ctx, "a.ipynb", false)
	require.NoError(t, err)
	assert.Equal(t, "second version", got.Worksheets[0].Cells[0].Source)
}

func TestSQLiteRename(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := notebook.NewDocument()
	doc.Worksheets[0].Cells[0].Source = "moved"
	require.NoError(t, store.Write(ctx, "old.ipynb", doc))

	require.NoError(t, store.Rename(ctx, "old.ipynb", "new.ipynb"))

	_, err := store.Read(ctx, "old.ipynb", false)
	assert.True(t, errors.Is(err, model.ErrNotebookNotFound))
	got, err := store.Read(ctx, "new.ipynb", false)
	require.NoError(t, err)
	assert.Equal(t, "moved", got.Worksheets[0].Cells[0].Source)

	// Renaming a never-saved notebook is a no-op.
	assert.NoError(t, store.Rename(ctx, "ghost.ipynb", "elsewhere.ipynb"))
}

func TestMemoryStoreIsolatesSnapshots(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	doc := notebook.NewDocument()
	require.NoError(t, store.Write(ctx, "a.ipynb", doc))
	doc.Worksheets[0].Cells[0].Source = "mutated after write"

	got, err := store.Read(ctx, "a.ipynb", false)
	require.NoError(t, err)
	assert.Empty(t, got.Worksheets[0].Cells[0].Source)
}
