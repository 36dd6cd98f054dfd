// Package model resolves abstract model tags (node:fast, node:docs,
// node:vision, auto) and explicit provider/model references into a
// concrete, usable model for a worker profile.
package model

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/occlient"
)

// Resolution is the output of Resolve: the chosen model and a
// human-readable explanation of how it was picked.
type Resolution struct {
	ResolvedModel string
	Reason        string
}

const (
	tagFast   = "node:fast"
	tagDocs   = "node:docs"
	tagVision = "node:vision"
	tagAuto   = "auto"
)

func isTag(model string) bool {
	return model == tagFast || model == tagDocs || model == tagVision || strings.HasPrefix(model, tagAuto)
}

// Resolve produces {resolvedModel, reason} for a profile given the
// OCServer-discovered provider/config snapshot. client and directory are
// used only as the step-5 fallback when the snapshot's catalog has no
// entry at all for the resolved model; pass a nil client
// to skip the fallback (e.g. in tests that don't care about it).
func Resolve(ctx context.Context, profileModel string, requireVision bool, snapshot *occlient.ProviderSnapshot, client occlient.Client, directory string) (*Resolution, error) {
	if !isTag(profileModel) {
		// Explicit provider/model reference: trust it, resolve against all
		// providers without the "usable" filter.
		if !validateAgainst(profileModel, snapshot.Providers) {
			return nil, apperr.ResolutionError(fmt.Sprintf("explicit model %q not found among discovered providers", profileModel))
		}
		res := &Resolution{ResolvedModel: profileModel, Reason: "configured"}
		if requireVision {
			if err := verifyVision(ctx, client, directory, profileModel, snapshot.Providers); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	usable := usableProviders(snapshot.Providers)

	var resolution *Resolution
	switch profileModel {
	case tagFast:
		resolution = resolveFast(snapshot.Config.SmallModel, usable)
	case tagDocs:
		resolution = resolveDocs(usable)
	case tagVision:
		resolution = resolveVision(usable)
		if resolution == nil {
			return nil, apperr.ResolutionError("no vision-capable model available among usable providers")
		}
	default: // "auto" or "auto*"
		resolution = resolveFallback(snapshot.Config, snapshot.Providers)
	}

	if resolution == nil {
		resolution = resolveFallback(snapshot.Config, snapshot.Providers)
	}
	if resolution == nil {
		return nil, apperr.ResolutionError(fmt.Sprintf("no usable model could be resolved for tag %q", profileModel))
	}

	if requireVision && profileModel != tagVision {
		if err := verifyVision(ctx, client, directory, resolution.ResolvedModel, snapshot.Providers); err != nil {
			return nil, err
		}
	}

	return resolution, nil
}

// verifyVision checks the snapshot's catalog entry for ref, falling back to
// a live OCServer config.model query when the snapshot carries no catalog
// entry for ref at all (so there is no capability data to trust either
// way) and a client is available.
func verifyVision(ctx context.Context, client occlient.Client, directory, ref string, providers []occlient.Provider) error {
	if isVisionCapable(ref, providers) {
		return nil
	}
	if _, found := findModel(ref, providers); found {
		return apperr.ResolutionError(fmt.Sprintf("model %q does not support vision input", ref))
	}
	if client == nil {
		return apperr.ResolutionError(fmt.Sprintf("model %q does not support vision input", ref))
	}

	m, err := client.ConfigModel(ctx, directory, ref)
	if err != nil || m == nil || !(m.Capabilities.InputImage || m.Capabilities.Attachment) {
		return apperr.ResolutionError(fmt.Sprintf("model %q does not support vision input", ref))
	}
	return nil
}

func findModel(ref string, providers []occlient.Provider) (occlient.Model, bool) {
	for _, e := range flatten(providers) {
		if qualify(e.providerID, e.model.ID) == ref {
			return e.model, true
		}
	}
	return occlient.Model{}, false
}

// usableProviders includes a provider iff id == "opencode", or its source
// is config/custom/env, or it is an api-sourced provider with a non-empty
// key.
func usableProviders(providers []occlient.Provider) []occlient.Provider {
	var out []occlient.Provider
	for _, p := range providers {
		if p.ID == "opencode" {
			out = append(out, p)
			continue
		}
		switch p.Source {
		case occlient.SourceConfig, occlient.SourceCustom, occlient.SourceEnv:
			out = append(out, p)
		case occlient.SourceAPI:
			if p.Key != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

type catalogEntry struct {
	providerID string
	model      occlient.Model
}

func flatten(providers []occlient.Provider) []catalogEntry {
	var out []catalogEntry
	for _, p := range providers {
		for _, m := range p.Models {
			out = append(out, catalogEntry{providerID: p.ID, model: m})
		}
	}
	return out
}

func qualify(providerID, modelID string) string {
	return providerID + "/" + modelID
}

func validateAgainst(ref string, providers []occlient.Provider) bool {
	for _, e := range flatten(providers) {
		if qualify(e.providerID, e.model.ID) == ref {
			return true
		}
	}
	return false
}

func isVisionCapable(ref string, providers []occlient.Provider) bool {
	m, found := findModel(ref, providers)
	return found && (m.Capabilities.InputImage || m.Capabilities.Attachment)
}

// resolveFast prefers config.small_model if it resolves against usable
// providers; else scores by cost and fast-sounding names.
func resolveFast(smallModel string, usable []occlient.Provider) *Resolution {
	if smallModel != "" && validateAgainst(smallModel, usable) {
		return &Resolution{ResolvedModel: smallModel, Reason: "configured small_model"}
	}

	catalog := flatten(usable)
	if len(catalog) == 0 {
		return nil
	}

	fastHints := []string{"mini", "small", "flash", "fast", "haiku"}
	sort.SliceStable(catalog, func(i, j int) bool {
		si := fastScore(catalog[i].model, fastHints)
		sj := fastScore(catalog[j].model, fastHints)
		if si != sj {
			return si > sj
		}
		return catalog[i].model.CostPerToken < catalog[j].model.CostPerToken
	})

	best := catalog[0]
	return &Resolution{
		ResolvedModel: qualify(best.providerID, best.model.ID),
		Reason:        "auto-selected from configured models (node:fast)",
	}
}

func fastScore(m occlient.Model, hints []string) int {
	name := strings.ToLower(m.Name + " " + m.ID)
	score := 0
	for _, h := range hints {
		if strings.Contains(name, h) {
			score++
		}
	}
	if m.Capabilities.ContextChars > 0 {
		score++
	}
	return score
}

// resolveDocs scores by tool-call support, reasoning, and context length.
func resolveDocs(usable []occlient.Provider) *Resolution {
	catalog := flatten(usable)
	if len(catalog) == 0 {
		return nil
	}

	sort.SliceStable(catalog, func(i, j int) bool {
		return docsScore(catalog[i].model) > docsScore(catalog[j].model)
	})

	best := catalog[0]
	return &Resolution{
		ResolvedModel: qualify(best.providerID, best.model.ID),
		Reason:        "auto-selected from configured models (node:docs)",
	}
}

func docsScore(m occlient.Model) int {
	score := 0
	if m.Capabilities.ToolCall {
		score += 2
	}
	if m.Capabilities.Reasoning {
		score += 2
	}
	score += m.Capabilities.ContextChars / 100000
	return score
}

// resolveVision requires input.image or attachment capability and never
// downgrades: returns nil if nothing qualifies.
func resolveVision(usable []occlient.Provider) *Resolution {
	catalog := flatten(usable)
	var candidates []catalogEntry
	for _, e := range catalog {
		if e.model.Capabilities.InputImage || e.model.Capabilities.Attachment {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].model.CostPerToken < candidates[j].model.CostPerToken
	})

	best := candidates[0]
	return &Resolution{
		ResolvedModel: qualify(best.providerID, best.model.ID),
		Reason:        "auto-selected vision-capable model (node:vision)",
	}
}

// resolveFallback tries config.model, then opencode/<defaults.opencode>,
// then the hardcoded default, validated against the full provider set
// (not just usable providers).
func resolveFallback(cfg occlient.ConfigDefaults, allProviders []occlient.Provider) *Resolution {
	if cfg.Model != "" && validateAgainst(cfg.Model, allProviders) {
		return &Resolution{ResolvedModel: cfg.Model, Reason: "configured default model"}
	}

	if cfg.Defaults.Opencode != "" {
		candidate := qualify("opencode", cfg.Defaults.Opencode)
		if validateAgainst(candidate, allProviders) {
			return &Resolution{ResolvedModel: candidate, Reason: "fallback to default model (auto)"}
		}
	}

	const hardcodedDefault = "opencode/gpt-5-nano"
	if validateAgainst(hardcodedDefault, allProviders) {
		return &Resolution{ResolvedModel: hardcodedDefault, Reason: "fallback to default model (auto)"}
	}

	return nil
}
