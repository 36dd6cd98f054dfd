package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
)

func TestLoadDefaultsPopulatesKnownRoles(t *testing.T) {
	r := NewRegistry(logger.Default())
	require.NoError(t, r.LoadDefaults())

	for _, id := range []string{"coder", "architect", "docs-researcher", "vision-analyzer", "memory-curator"} {
		p, ok := r.Get(id)
		require.Truef(t, ok, "expected profile %q to be loaded", id)
		assert.Equal(t, id, p.ID)
		assert.NotEmpty(t, p.Model)
	}

	all := r.List()
	assert.Len(t, all, 5)
}

func TestListEnabledExcludesDisabledProfiles(t *testing.T) {
	r := NewRegistry(logger.Default())
	require.NoError(t, r.LoadDefaults())
	require.NoError(t, r.Register(&domain.WorkerProfile{
		ID: "retired", Name: "Retired", Kind: domain.KindAgent, Enabled: false,
	}))

	enabled := r.ListEnabled()
	for _, p := range enabled {
		assert.NotEqual(t, "retired", p.ID)
	}
	_, ok := r.Get("retired")
	assert.True(t, ok)
}

func TestRegisterRejectsInvalidProfile(t *testing.T) {
	r := NewRegistry(logger.Default())

	err := r.Register(&domain.WorkerProfile{ID: "", Name: "No ID"})
	assert.Error(t, err)

	err = r.Register(&domain.WorkerProfile{ID: "no-name", Name: ""})
	assert.Error(t, err)

	err = r.Register(&domain.WorkerProfile{ID: "bad-kind", Name: "Bad Kind", Kind: "bogus"})
	assert.Error(t, err)
}

func TestRegisterOverridesExistingID(t *testing.T) {
	r := NewRegistry(logger.Default())
	require.NoError(t, r.LoadDefaults())

	require.NoError(t, r.Register(&domain.WorkerProfile{
		ID: "coder", Name: "Coder v2", Kind: domain.KindServer, Enabled: true,
	}))

	p, ok := r.Get("coder")
	require.True(t, ok)
	assert.Equal(t, "Coder v2", p.Name)
}

func TestLoadFileMergesAdditionalProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.yaml")
	content := `
profiles:
  - id: release-manager
    name: Release Manager
    purpose: Cut release notes and tag versions.
    whenToUse: Use at the end of a milestone.
    model: "node:fast"
    kind: agent
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	r := NewRegistry(logger.Default())
	require.NoError(t, r.LoadDefaults())
	require.NoError(t, r.LoadFile(path))

	p, ok := r.Get("release-manager")
	require.True(t, ok)
	assert.Equal(t, "Release Manager", p.Name)
	assert.Len(t, r.List(), 6)
}

func TestLoadFileSkipsInvalidEntriesButLoadsRest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mixed.yaml")
	content := `
profiles:
  - id: ""
    name: Missing ID
    kind: agent
  - id: good-one
    name: Good One
    kind: server
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	r := NewRegistry(logger.Default())
	require.NoError(t, r.LoadFile(path))

	_, ok := r.Get("good-one")
	assert.True(t, ok)
	assert.Len(t, r.List(), 1)
}

func TestLoadFileReturnsErrorForMissingPath(t *testing.T) {
	r := NewRegistry(logger.Default())
	err := r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateProfileRequiresIDNameAndKind(t *testing.T) {
	assert.Error(t, ValidateProfile(&domain.WorkerProfile{Name: "No ID", Kind: domain.KindAgent}))
	assert.Error(t, ValidateProfile(&domain.WorkerProfile{ID: "x", Kind: domain.KindAgent}))
	assert.Error(t, ValidateProfile(&domain.WorkerProfile{ID: "x", Name: "X", Kind: "weird"}))
	assert.NoError(t, ValidateProfile(&domain.WorkerProfile{ID: "x", Name: "X", Kind: domain.KindSubagent}))
}
