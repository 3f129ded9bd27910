package dvr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListReturnsFilesNewestFirst(t *testing.T) {
	base := t.TempDir()
	outID := uuid.New()
	dir := filepath.Join(base, "live", outID.String())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "100.flv"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "200.flv"), []byte("bb"), 0o644))

	s := New(base)
	files, err := s.List("live", outID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "200.flv", files[0].Name)
}

func TestListReturnsEmptyForMissingDir(t *testing.T) {
	s := New(t.TempDir())
	files, err := s.List("nope", uuid.New())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRemoveRejectsPathTraversal(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.resolve("../escape", uuid.New(), "")
	assert.Error(t, err)

	_, err = s.resolve("live", uuid.New(), "../../etc/passwd")
	assert.Error(t, err)
}

func TestRemoveDeletesFile(t *testing.T) {
	base := t.TempDir()
	outID := uuid.New()
	dir := filepath.Join(base, "live", outID.String())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "100.flv"), []byte("a"), 0o644))

	s := New(base)
	require.NoError(t, s.Remove("live", outID, "100.flv"))

	_, err := os.Stat(filepath.Join(dir, "100.flv"))
	assert.True(t, os.IsNotExist(err))
}
