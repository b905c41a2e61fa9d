package capability

import (
	"context"
	"testing"
)

func TestInferShortCircuitsOnWellKnownHit(t *testing.T) {
	meta := PackageMetadata{Name: "nginx", Version: "1.24"}
	result := Infer(context.Background(), nil, meta, nil, Policy{})
	if result.TierUsed != 1 || result.Source != SourceWellKnown {
		t.Fatalf("expected tier 1 short-circuit, got %+v", result)
	}
}

func TestInferFallsThroughToHeuristicsOnMiss(t *testing.T) {
	meta := PackageMetadata{Name: "myservice-server", Dependencies: []string{"libssl3"}}
	files := []PackageFile{{Path: "/etc/myservice/config.conf"}}
	result := Infer(context.Background(), nil, meta, files, Policy{SkipConfigScan: true, SkipBinaryAnalysis: true})
	if result.TierUsed != 2 || result.Source != SourceHeuristic {
		t.Fatalf("got %+v", result)
	}
}

func TestInferMergesConfigScanOverHeuristics(t *testing.T) {
	meta := PackageMetadata{Name: "myapp"}
	files := []PackageFile{
		{Path: "/etc/myapp/myapp.conf", Content: []byte("listen = 9000\n")},
	}
	result := Infer(context.Background(), nil, meta, files, Policy{SkipBinaryAnalysis: true})
	if result.TierUsed != 3 || result.Source != SourceConfig {
		t.Fatalf("expected config scan to be the dominant tier, got %+v", result)
	}
	if !contains(result.Network.ListenPorts, "9000") {
		t.Fatalf("got listen ports %v", result.Network.ListenPorts)
	}
	// heuristic's filesystem read-path evidence should survive the merge
	if !contains(result.Filesystem.ReadPaths, "/etc/myapp") {
		t.Fatalf("got read paths %v", result.Filesystem.ReadPaths)
	}
}

func TestMeetsThreshold(t *testing.T) {
	high := InferredCapabilities{Confidence: ConfidenceHigh}
	low := InferredCapabilities{Confidence: ConfidenceLow}
	if !MeetsThreshold(high, 0.8) {
		t.Fatalf("expected high confidence to meet an 0.8 threshold")
	}
	if MeetsThreshold(low, 0.5) {
		t.Fatalf("expected low confidence not to meet an 0.5 threshold")
	}
}
