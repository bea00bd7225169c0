package history

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartFinishAndRecent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Start("https://example.com/a", "/tmp/a.bin", "a.bin")
	require.NoError(t, err)
	require.NoError(t, s.Finish(id, "completed", 1024, nil))

	id2, err := s.Start("https://example.com/b", "/tmp/b.bin", "b.bin")
	require.NoError(t, err)
	require.NoError(t, s.Finish(id2, "error", 0, errors.New("boom")))

	runs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "b.bin", runs[0].Filename)
	assert.Equal(t, "error", runs[0].Status)
	assert.Equal(t, "boom", runs[0].Err)

	assert.Equal(t, "a.bin", runs[1].Filename)
	assert.Equal(t, "completed", runs[1].Status)
	assert.Equal(t, int64(1024), runs[1].TotalSize)
}

func TestRecentRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		id, err := s.Start("https://example.com/x", "/tmp/x.bin", "x.bin")
		require.NoError(t, err)
		require.NoError(t, s.Finish(id, "completed", 1, nil))
	}

	runs, err := s.Recent(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
