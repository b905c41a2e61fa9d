package capability

import "regexp"

// Tier 3 scans shipped configuration file content for literal evidence
// heuristics can't see from file paths alone: bound ports, interface
// bindings, and database connection strings.
var (
	configPortRE    = regexp.MustCompile(`(?i)\b(?:port|listen)\s*[:=]\s*(\d{1,5})\b`)
	configBindAllRE = regexp.MustCompile(`(?i)\b(?:0\.0\.0\.0|::|\*)\s*[:,]`)
	configDBConnRE  = regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb|redis)://`)
)

// InferConfigScan runs Tier 3 over the subset of files that look like
// shipped configuration (living under /etc/<name> per Tier 2's path
// heuristic, or carrying a recognized config suffix). Policy may skip
// this tier entirely; callers decide whether to invoke it at all.
func InferConfigScan(files []PackageFile) InferredCapabilities {
	var eb evidenceBuilder
	network := Network{NoNetwork: true}
	var filesystem Filesystem
	var rationale []string

	for _, f := range files {
		if f.Content == nil || !looksLikeConfig(f.Path) {
			continue
		}
		text := string(f.Content)

		if configDBConnRE.MatchString(text) {
			network.NoNetwork = false
			m := configDBConnRE.FindStringSubmatch(text)
			eb.addNetwork("Config file contains a "+m[1]+" connection string", ConfidenceMedium)
			rationale = append(rationale, "Database connection string found in "+f.Path)
		}

		for _, m := range configPortRE.FindAllStringSubmatch(text, -1) {
			network.ListenPorts = mergeUnique(network.ListenPorts, m[1])
			network.NoNetwork = false
		}
		if len(configPortRE.FindAllStringSubmatch(text, -1)) > 0 {
			eb.addNetwork("Config file declares a port literal", ConfidenceMedium)
			rationale = append(rationale, "Port literal found in "+f.Path)
		}

		if configBindAllRE.MatchString(text) {
			network.NoNetwork = false
			eb.addNetwork("Config file binds to all interfaces", ConfidenceMedium)
			rationale = append(rationale, "Wildcard interface binding found in "+f.Path)
		}

		filesystem.ReadPaths = mergeUnique(filesystem.ReadPaths, f.Path)
	}

	if len(network.ListenPorts) == 0 && network.NoNetwork {
		network.Confidence = ConfidenceLow
	} else {
		network.Confidence = ConfidenceMedium
	}
	if len(filesystem.ReadPaths) == 0 {
		filesystem.Confidence = ConfidenceLow
	} else {
		filesystem.Confidence = ConfidenceMedium
	}

	confidence, evidence := eb.build()
	if len(rationale) == 0 {
		rationale = append(rationale, "Config scan found no strong indicators")
	}

	return InferredCapabilities{
		Network:    network,
		Filesystem: filesystem,
		Confidence: confidence,
		TierUsed:   3,
		Rationale:  joinRationale(rationale),
		Evidence:   evidence,
		Source:     SourceConfig,
	}
}

// looksLikeConfig approximates "shipped configuration file" without a
// content-type sniffer: under /etc, or carrying a recognized extension.
func looksLikeConfig(path string) bool {
	if len(path) >= 5 && path[:5] == "/etc/" {
		return true
	}
	for _, suffix := range []string{".conf", ".cfg", ".ini", ".yaml", ".yml", ".toml", ".json"} {
		if len(path) > len(suffix) && path[len(path)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

func joinRationale(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "; " + p
	}
	return out
}
