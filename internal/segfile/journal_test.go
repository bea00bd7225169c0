package segfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteWidth(t *testing.T) {
	assert.Equal(t, 1, byteWidth(0))
	assert.Equal(t, 2, byteWidth(200))
	assert.Equal(t, 4, byteWidth(1<<20))
}

func TestJournalCreateAndWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	j, err := Open(path, 1000, 4)
	require.NoError(t, err)

	wantLen := int64(1 + j.width*(j.parts+1))
	info, err := os.Stat(j.journalPath)
	require.NoError(t, err)
	assert.Equal(t, wantLen, info.Size())

	segs := j.Segments()
	require.Len(t, segs, 4)
	assert.Equal(t, int64(0), segs[0].From)
	assert.Equal(t, int64(999), segs[3].To)

	w, err := j.Writer(0)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte("hello")))
	assert.Equal(t, int64(5), w.Cur())

	cur, err := j.CurPos(0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cur)

	require.NoError(t, j.Close())
}

func TestJournalResume(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	j1, err := Open(path, 100, 2)
	require.NoError(t, err)
	w, err := j1.Writer(0)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte("abcde")))
	require.NoError(t, j1.Close())

	j2, err := Open(path, 100, 2)
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, 2, j2.Parts())
	cur, err := j2.CurPos(0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cur)
}

func TestJournalSizeMismatchRecreates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	j1, err := Open(path, 100, 2)
	require.NoError(t, err)
	w, err := j1.Writer(0)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte("abcde")))
	require.NoError(t, j1.Close())

	j2, err := Open(path, 200, 2)
	require.NoError(t, err)
	defer j2.Close()

	cur, err := j2.CurPos(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur)
	assert.Equal(t, int64(200), j2.TotalSize())
}

func TestJournalZeroSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	j, err := Open(path, 0, 4)
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, int64(0), j.DownloadedBytes())
	for _, seg := range j.Segments() {
		assert.LessOrEqual(t, seg.Size(), int64(1))
	}
}

func TestJournalLocksConcurrentOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	j1, err := Open(path, 10, 1)
	require.NoError(t, err)
	defer j1.Close()

	_, err = Open(path, 10, 1)
	assert.Error(t, err)
}
