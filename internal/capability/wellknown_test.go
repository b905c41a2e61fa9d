package capability

import "testing"

func TestInferWellKnownHit(t *testing.T) {
	profile, ok := InferWellKnown("nginx")
	if !ok {
		t.Fatalf("expected a well-known hit for nginx")
	}
	if profile.TierUsed != 1 || profile.Source != SourceWellKnown {
		t.Fatalf("got %+v", profile)
	}
	if profile.Confidence != ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", profile.Confidence)
	}
	if len(profile.Network.ListenPorts) == 0 {
		t.Fatalf("expected nginx to declare listen ports")
	}
}

func TestInferWellKnownMiss(t *testing.T) {
	if _, ok := InferWellKnown("some-obscure-utility"); ok {
		t.Fatalf("expected a miss for an unlisted package name")
	}
}
