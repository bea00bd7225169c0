package linkcache

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func link(tm time.Time) string {
	return fmt.Sprintf("https://example.com/dl?tm=%d&id=abc", tm.Unix())
}

func TestAppendAndGetAllValid(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "file.bin"), 5*time.Second)

	future := link(time.Now().Add(time.Hour))
	past := link(time.Now().Add(-time.Hour))

	require.NoError(t, c.Append(future))
	require.NoError(t, c.Append(past))

	valid, err := c.GetAllValid()
	require.NoError(t, err)
	assert.Equal(t, []string{future}, valid)
}

func TestGetAllValidMissingFile(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "file.bin"), time.Second)

	valid, err := c.GetAllValid()
	require.NoError(t, err)
	assert.Empty(t, valid)
}

func TestSafetyMarginExcludesNearExpiry(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "file.bin"), 10*time.Second)

	near := link(time.Now().Add(5 * time.Second))
	require.NoError(t, c.Append(near))

	valid, err := c.GetAllValid()
	require.NoError(t, err)
	assert.Empty(t, valid)
}

func TestCompactDropsExpired(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "file.bin"), time.Second)

	future := link(time.Now().Add(time.Hour))
	past := link(time.Now().Add(-time.Hour))
	require.NoError(t, c.Append(future))
	require.NoError(t, c.Append(past))

	require.NoError(t, c.Compact())

	valid, err := c.GetAllValid()
	require.NoError(t, err)
	assert.Equal(t, []string{future}, valid)
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "file.bin"), time.Second)
	require.NoError(t, c.Append(link(time.Now().Add(time.Hour))))
	require.NoError(t, c.Delete())

	valid, err := c.GetAllValid()
	require.NoError(t, err)
	assert.Empty(t, valid)
}
