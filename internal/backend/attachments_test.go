package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/domain"
)

func TestNormalizeAttachmentsDecodesBase64(t *testing.T) {
	dir := t.TempDir()
	f := &Factory{BaseDir: dir}

	materialized, cleanup, err := f.normalizeAttachments("coder", []domain.Attachment{
		{Base64: "aGVsbG8=", Filename: "hello.txt"},
	})
	require.NoError(t, err)
	require.Len(t, materialized, 1)
	assert.True(t, materialized[0].created)

	data, err := os.ReadFile(materialized[0].path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	cleanup()
	_, err = os.Stat(materialized[0].path)
	assert.True(t, os.IsNotExist(err))
}

func TestNormalizeAttachmentsPassesThroughInBaseDirPaths(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	f := &Factory{BaseDir: dir}
	materialized, cleanup, err := f.normalizeAttachments("coder", []domain.Attachment{
		{Path: existing},
	})
	require.NoError(t, err)
	require.Len(t, materialized, 1)
	assert.False(t, materialized[0].created)
	assert.Equal(t, existing, materialized[0].path)

	cleanup()
	_, err = os.Stat(existing)
	assert.NoError(t, err, "cleanup must never remove an attachment it didn't create")
}

func TestNormalizeAttachmentsCopiesOutOfBaseDirPaths(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	src := filepath.Join(outside, "report.txt")
	require.NoError(t, os.WriteFile(src, []byte("report"), 0o644))

	f := &Factory{BaseDir: dir}
	materialized, cleanup, err := f.normalizeAttachments("coder", []domain.Attachment{
		{Path: src},
	})
	require.NoError(t, err)
	require.Len(t, materialized, 1)
	assert.True(t, materialized[0].created)
	assert.NotEqual(t, src, materialized[0].path)

	data, err := os.ReadFile(materialized[0].path)
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))

	cleanup()
	_, err = os.Stat(src)
	assert.NoError(t, err, "cleanup must not remove the original source file")
}

func TestNormalizeAttachmentsEmptyIsNoop(t *testing.T) {
	f := &Factory{BaseDir: t.TempDir()}
	materialized, cleanup, err := f.normalizeAttachments("coder", nil)
	require.NoError(t, err)
	assert.Nil(t, materialized)
	cleanup()
}
