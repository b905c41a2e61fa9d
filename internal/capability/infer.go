package capability

import (
	"context"

	"github.com/conarylabs/conary/pkg/log"
)

// Policy controls which tiers Infer is allowed to run, and how Tier 4
// is sized. SkipConfigScan/SkipBinaryAnalysis let a caller trade
// accuracy for speed (or avoid touching file content at all); Tier 3 can
// be skipped by policy the same way.
type Policy struct {
	SkipConfigScan      bool
	SkipBinaryAnalysis  bool
	Tier4WorkerPoolSize int
}

// Infer runs the tiered pipeline for one package: well-known lookup,
// then heuristics, then (unless skipped) config scan, then (unless
// skipped) ELF binary analysis — each later tier's findings are merged
// into, and can only strengthen, the earlier tiers' profile. A Tier 1
// hit short-circuits everything after it.
func Infer(ctx context.Context, logger *log.Logger, meta PackageMetadata, files []PackageFile, policy Policy) InferredCapabilities {
	if profile, ok := InferWellKnown(meta.Name); ok {
		return profile
	}

	result := InferHeuristic(files, meta)

	if !policy.SkipConfigScan {
		result = mergeProfile(result, InferConfigScan(files))
	}

	if !policy.SkipBinaryAnalysis {
		binaryResult, err := InferBinary(files, policy.Tier4WorkerPoolSize)
		if err != nil && logger != nil {
			logger.WithComponent("capability").Debug("binary analysis partially failed", map[string]interface{}{"error": err.Error()})
		}
		result = mergeProfile(result, binaryResult)
	}

	return result
}

// mergeProfile folds a later tier's findings into an earlier tier's
// profile. The later tier's tier_used/source win (it ran more
// specific analysis), but evidence and positive findings accumulate —
// a later tier can only add confidence, never erase what an earlier
// one already found.
func mergeProfile(base, overlay InferredCapabilities) InferredCapabilities {
	merged := base
	merged.Network.ListenPorts = mergeUnique(merged.Network.ListenPorts, overlay.Network.ListenPorts...)
	merged.Network.OutboundPorts = mergeUnique(merged.Network.OutboundPorts, overlay.Network.OutboundPorts...)
	if !overlay.Network.NoNetwork {
		merged.Network.NoNetwork = false
	}
	if overlay.Network.Confidence.rank() > merged.Network.Confidence.rank() {
		merged.Network.Confidence = overlay.Network.Confidence
	}

	merged.Filesystem.ReadPaths = mergeUnique(merged.Filesystem.ReadPaths, overlay.Filesystem.ReadPaths...)
	merged.Filesystem.WritePaths = mergeUnique(merged.Filesystem.WritePaths, overlay.Filesystem.WritePaths...)
	merged.Filesystem.ExecutePaths = mergeUnique(merged.Filesystem.ExecutePaths, overlay.Filesystem.ExecutePaths...)
	if overlay.Filesystem.Confidence.rank() > merged.Filesystem.Confidence.rank() {
		merged.Filesystem.Confidence = overlay.Filesystem.Confidence
	}

	if overlay.SyscallProfile != "" {
		merged.SyscallProfile = overlay.SyscallProfile
	}
	if overlay.Confidence.rank() > merged.Confidence.rank() {
		merged.Confidence = overlay.Confidence
	}
	merged.Evidence = mergeUnique(merged.Evidence, overlay.Evidence...)
	if overlay.TierUsed > merged.TierUsed {
		merged.TierUsed = overlay.TierUsed
		merged.Source = overlay.Source
		merged.Rationale = overlay.Rationale
	}
	return merged
}

// MeetsThreshold reports whether a profile's confidence is strong
// enough to act on automatically, per the configured auto-apply
// threshold: the confidence tag dominates the auto-apply decision once it
// clears the configured threshold. threshold is expressed on the
// same 0..1 scale as config.CapabilityConfig.ConfidenceThreshold.
func MeetsThreshold(c InferredCapabilities, threshold float64) bool {
	return confidenceScore(c.Confidence) >= threshold
}

func confidenceScore(c Confidence) float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMedium:
		return 0.6
	case ConfidenceLow:
		return 0.2
	default:
		return 0.0
	}
}
