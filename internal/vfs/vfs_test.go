package vfs

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStagesNewRecord(t *testing.T) {
	fs := New(afero.NewMemMapFs())
	require.NoError(t, fs.Write("src/app.txt", []byte("hello")))

	data, ok := fs.Read("src/app.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))

	pending := fs.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, StateNew, pending[0].State)
	assert.True(t, fs.Dirty())
}

func TestWriteOverExistingIsModified(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "app.txt", []byte("old"), 0o644))
	fs := New(base)
	require.NoError(t, fs.Write("app.txt", []byte("new")))

	pending := fs.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, StateModified, pending[0].State)
}

func TestReadFallsBackToBase(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "on-disk.txt", []byte("disk"), 0o644))
	fs := New(base)

	data, ok := fs.Read("on-disk.txt")
	require.True(t, ok)
	assert.Equal(t, "disk", string(data))
	assert.Empty(t, fs.Pending())
}

func TestDeleteStagesDeletion(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "gone.txt", []byte("x"), 0o644))
	fs := New(base)
	require.NoError(t, fs.Delete("gone.txt"))

	_, ok := fs.Read("gone.txt")
	assert.False(t, ok)
	pending := fs.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, StateDeleted, pending[0].State)
}

func TestPendingPreservesFirstWriteOrder(t *testing.T) {
	fs := New(afero.NewMemMapFs())
	require.NoError(t, fs.Write("b.txt", []byte("1")))
	require.NoError(t, fs.Write("a.txt", []byte("2")))
	require.NoError(t, fs.Write("b.txt", []byte("3")))

	pending := fs.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "b.txt", pending[0].Path)
	assert.Equal(t, "a.txt", pending[1].Path)
	assert.Equal(t, "3", string(pending[0].Contents))
}

func TestClearDirty(t *testing.T) {
	fs := New(afero.NewMemMapFs())
	require.NoError(t, fs.Write("a.txt", nil))
	fs.ClearDirty()
	assert.False(t, fs.Dirty())
	require.NoError(t, fs.Write("a.txt", []byte("again")))
	assert.True(t, fs.Dirty())
}

func TestClearedRecordLeavesPending(t *testing.T) {
	fs := New(afero.NewMemMapFs())
	require.NoError(t, fs.Write("a.txt", []byte("x")))
	rec := fs.Pending()[0]
	rec.Clear()
	assert.Empty(t, fs.Pending())
}

func TestEmptyPathRejected(t *testing.T) {
	fs := New(afero.NewMemMapFs())
	assert.Error(t, fs.Write("", nil))
	assert.Error(t, fs.Delete("."))
}
