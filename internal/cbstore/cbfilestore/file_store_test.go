package cbfilestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/cbstore"
)

var logger = logrus.New()

func testDoc() *cbstore.Document {
	doc := cbstore.NewDocument()
	doc.Threads = append(doc.Threads, &cbstore.Thread{
		ID:    "t1",
		Title: "a thread",
		Tags:  []string{"tag1"},
		Posts: []*cbstore.Post{{ID: "p1", Body: "hello"}},
		Likes: map[string]string{},
		Views: []string{},
	})
	return doc
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(logger, filepath.Join(t.TempDir(), "corkboard.json"))

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, cbstore.NewDocument(), doc)
}

func TestFileStoreLoadCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corkboard.json")
	require.NoError(t, os.WriteFile(path, []byte("{ definitely not json"), 0o600))

	store := NewFileStore(logger, path)

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, cbstore.NewDocument(), doc)
}

func TestFileStoreSaveThenLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "corkboard.json")
	store := NewFileStore(logger, path)

	require.NoError(t, store.Save(ctx, testDoc()))

	// The snapshot comes back equal through the cache ...
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, testDoc(), loaded)

	// ... and through a cold store reading the file itself.
	coldLoaded, err := NewFileStore(logger, path).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, testDoc(), coldLoaded)

	// No temp files are left lying around next to the document.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "corkboard.json", entries[0].Name())

	// The file is indented for hand inspection.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\n  \"threads\"")
}

func TestFileStoreSaveFailureKeepsResultVisible(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(logger, filepath.Join(t.TempDir(), "corkboard.json"))
	store.renameFile = func(_, _ string) error { return xerrors.New("disk on fire") }

	err := store.Save(ctx, testDoc())

	var persistenceErr *cbstore.PersistenceError
	require.ErrorAs(t, err, &persistenceErr)

	// The failed save still updated the cache: readers keep seeing the new
	// state for the life of the process.
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, testDoc(), loaded)
}

func TestFileStoreSaveRetries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "corkboard.json")
	store := NewFileStore(logger, path)

	// Fail the first two attempts, then let the real rename through.
	var attempts int
	store.renameFile = func(oldpath, newpath string) error {
		attempts++
		if attempts <= 2 {
			return xerrors.New("transient failure")
		}
		return os.Rename(oldpath, newpath)
	}

	require.NoError(t, store.Save(ctx, testDoc()))
	require.Equal(t, 3, attempts)

	var doc cbstore.Document
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "t1", doc.Threads[0].ID)
}

func TestFileStoreSaveExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(logger, filepath.Join(t.TempDir(), "corkboard.json"))

	var attempts int
	store.renameFile = func(_, _ string) error {
		attempts++
		return xerrors.New("persistent failure")
	}

	err := store.Save(ctx, testDoc())

	var persistenceErr *cbstore.PersistenceError
	require.ErrorAs(t, err, &persistenceErr)
	require.Equal(t, 1+writeRetries, attempts)
}

func TestFileStoreAtomicReplace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corkboard.json")
	store := NewFileStore(logger, path)

	require.NoError(t, store.Save(ctx, testDoc()))

	updated := testDoc()
	updated.Threads[0].Title = "replaced"
	require.NoError(t, store.Save(ctx, updated))

	// The file on disk is the complete second document.
	var doc cbstore.Document
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "replaced", doc.Threads[0].Title)
	require.Len(t, doc.Threads, 1)
}
