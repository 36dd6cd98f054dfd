package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/occlient"
)

// fakeVisionClient is a minimal occlient.Client stub that only implements
// ConfigModel, for exercising Resolve's step-5 fallback.
type fakeVisionClient struct {
	occlient.Client
	model *occlient.Model
	err   error
}

func (f *fakeVisionClient) ConfigModel(ctx context.Context, directory, model string) (*occlient.Model, error) {
	return f.model, f.err
}

func snapshotFixture() *occlient.ProviderSnapshot {
	return &occlient.ProviderSnapshot{
		Config: occlient.ConfigDefaults{
			Model:      "",
			SmallModel: "",
		},
		Providers: []occlient.Provider{
			{
				ID:     "opencode",
				Source: occlient.SourceConfig,
				Models: []occlient.Model{
					{ID: "gpt-5-nano", Name: "GPT-5 Nano", CostPerToken: 0.0001},
					{ID: "gpt-5-mini", Name: "GPT-5 Mini", CostPerToken: 0.0005},
					{ID: "gpt-5-vision", Name: "GPT-5 Vision", CostPerToken: 0.002, Capabilities: occlient.ModelCapabilities{InputImage: true, ContextChars: 200000}},
				},
			},
			{
				ID:     "anthropic",
				Source: occlient.SourceAPI,
				Key:    "sk-test",
				Models: []occlient.Model{
					{ID: "claude-docs", Name: "Claude Docs", CostPerToken: 0.003, Capabilities: occlient.ModelCapabilities{ToolCall: true, Reasoning: true, ContextChars: 500000}},
				},
			},
			{
				ID:     "noauth",
				Source: occlient.SourceAPI,
				Key:    "",
				Models: []occlient.Model{
					{ID: "cheap-model", Name: "Cheap", CostPerToken: 0.00001},
				},
			},
		},
	}
}

func TestResolveFastPrefersMiniNaming(t *testing.T) {
	res, err := Resolve(context.Background(), tagFast, false, snapshotFixture(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "opencode/gpt-5-mini", res.ResolvedModel)
}

func TestResolveDocsPrefersToolAndReasoning(t *testing.T) {
	res, err := Resolve(context.Background(), tagDocs, false, snapshotFixture(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-docs", res.ResolvedModel)
}

func TestResolveVisionPicksCapableModel(t *testing.T) {
	res, err := Resolve(context.Background(), tagVision, true, snapshotFixture(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "opencode/gpt-5-vision", res.ResolvedModel)
}

func TestResolveVisionFailsHardWhenNoneAvailable(t *testing.T) {
	snap := snapshotFixture()
	snap.Providers[0].Models = snap.Providers[0].Models[:2] // drop the vision-capable model
	_, err := Resolve(context.Background(), tagVision, true, snap, nil, "")
	require.Error(t, err)
}

func TestResolveExcludesNoKeyAPIProvider(t *testing.T) {
	res, err := Resolve(context.Background(), tagFast, false, snapshotFixture(), nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, "noauth/cheap-model", res.ResolvedModel)
}

func TestResolveExplicitReferenceMustExist(t *testing.T) {
	_, err := Resolve(context.Background(), "missing/model", false, snapshotFixture(), nil, "")
	require.Error(t, err)
}

func TestResolveExplicitReferenceTrusted(t *testing.T) {
	res, err := Resolve(context.Background(), "opencode/gpt-5-nano", false, snapshotFixture(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "opencode/gpt-5-nano", res.ResolvedModel)
	assert.Equal(t, "configured", res.Reason)
}

func TestResolveAutoFallsBackToHardcodedDefault(t *testing.T) {
	res, err := Resolve(context.Background(), tagAuto, false, snapshotFixture(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "opencode/gpt-5-nano", res.ResolvedModel)
}

func TestResolveRequireVisionOnNonVisionTagFails(t *testing.T) {
	snap := snapshotFixture()
	snap.Providers[0].Models = snap.Providers[0].Models[:1] // only gpt-5-nano, no vision
	_, err := Resolve(context.Background(), tagFast, true, snap, nil, "")
	require.Error(t, err)
}

func TestVerifyVisionFallsBackWhenModelMissingFromSnapshot(t *testing.T) {
	client := &fakeVisionClient{model: &occlient.Model{ID: "ghost", Capabilities: occlient.ModelCapabilities{InputImage: true}}}
	err := verifyVision(context.Background(), client, "/work", "opencode/ghost", nil)
	require.NoError(t, err)
}

func TestVerifyVisionFallbackFailsWhenConfigModelAlsoLacksVision(t *testing.T) {
	client := &fakeVisionClient{model: &occlient.Model{ID: "ghost"}}
	err := verifyVision(context.Background(), client, "/work", "opencode/ghost", nil)
	require.Error(t, err)
}

func TestVerifyVisionWithoutClientFailsWhenModelMissing(t *testing.T) {
	err := verifyVision(context.Background(), nil, "/work", "opencode/ghost", nil)
	require.Error(t, err)
}
