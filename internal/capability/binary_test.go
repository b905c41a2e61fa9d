package capability

import "testing"

func TestAnalyzeLibraries(t *testing.T) {
	libs := map[string]bool{"libssl.so.3": true, "libcurl.so.4": true, "libpq.so.5": true}
	hints := analyzeLibraries(libs)
	if !hints.hasNetwork || !hints.hasSSL || !hints.hasDatabase || hints.hasGUI {
		t.Fatalf("got %+v", hints)
	}
}

func TestAnalyzeLibrariesGUI(t *testing.T) {
	libs := map[string]bool{"libgtk-3.so.0": true, "libX11.so.6": true}
	hints := analyzeLibraries(libs)
	if !hints.hasGUI {
		t.Fatalf("expected GUI library detection")
	}
}

func TestAnalyzeSymbols(t *testing.T) {
	symbols := map[string]bool{"socket": true, "connect": true, "fork": true}
	hints := analyzeSymbols(symbols)
	if !hints.usesSockets || hints.usesPrivileged || !hints.usesExec {
		t.Fatalf("got %+v", hints)
	}
}

func TestLooksLikeELF(t *testing.T) {
	if !looksLikeELF([]byte{0x7f, 'E', 'L', 'F', 0x02}) {
		t.Fatalf("expected ELF magic to be detected")
	}
	if looksLikeELF([]byte("#!/bin/sh\n")) {
		t.Fatalf("expected a shell script not to be detected as ELF")
	}
}

// No real binary fixtures are hand-assembled here (a valid ELF with a
// populated dynamic symbol table is impractical to construct without a
// linker); InferBinary's empty-input behavior and the pure
// library/symbol classifiers above cover its logic.
func TestInferBinaryEmptyInput(t *testing.T) {
	result, err := InferBinary(nil, 2)
	if err != nil {
		t.Fatalf("InferBinary: %v", err)
	}
	if !result.Network.NoNetwork {
		t.Fatalf("expected no_network=true as the default assumption with no evidence")
	}
	if result.Source != SourceBinary || result.TierUsed != 4 {
		t.Fatalf("got %+v", result)
	}
}

func TestInferBinaryDefaultsPoolSize(t *testing.T) {
	result, err := InferBinary([]PackageFile{{Path: "/bin/x", Content: []byte("not an elf")}}, 0)
	if err != nil {
		t.Fatalf("InferBinary: %v", err)
	}
	if !result.Network.NoNetwork {
		t.Fatalf("expected non-ELF content to be skipped, leaving no evidence")
	}
}
