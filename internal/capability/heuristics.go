package capability

import (
	"regexp"
	"strings"
)

// Tier 2 regex patterns, carried over verbatim (pattern and intent) from
// the reference inference engine's heuristic module.
var (
	configDirRE   = regexp.MustCompile(`^/etc/([^/]+)`)
	logPathRE     = regexp.MustCompile(`^/var/log/([^/]+)`)
	varLibRE      = regexp.MustCompile(`^/var/lib/([^/]+)`)
	serviceNetRE  = regexp.MustCompile(`(?i)(After|Wants|Requires)=.*network`)
	servicePortRE = regexp.MustCompile(`(?i)(?:Listen(?:Stream|Datagram|SequentialPacket)?|Port)[=:]?\s*(\d{1,5})`)
	privateNetRE  = regexp.MustCompile(`PrivateNetwork\s*=\s*true`)
)

// InferHeuristic runs Tier 2: path-pattern, dependency, and embedded
// systemd-unit analysis. It never errors — absence of evidence simply
// yields a low/medium-confidence profile.
func InferHeuristic(files []PackageFile, meta PackageMetadata) InferredCapabilities {
	var eb evidenceBuilder
	var network Network
	var filesystem Filesystem
	var syscallProfile string
	var rationale []string

	nameHints := analyzePackageName(meta.Name)
	if nameHints.isServer {
		syscallProfile = "network-server"
		eb.addNetwork("Package name suggests server", ConfidenceMedium)
		rationale = append(rationale, "Package name '"+meta.Name+"' suggests network server")
	}

	paths := analyzeFilePaths(files)
	if paths.hasSbinExecutables {
		if syscallProfile == "" {
			syscallProfile = "system-daemon"
		}
		eb.addSyscall("Has /sbin or /usr/sbin executables", ConfidenceMedium)
		rationale = append(rationale, "Contains system binaries (sbin)")
	}
	if len(paths.configDirs) > 0 {
		filesystem.ReadPaths = mergeUnique(filesystem.ReadPaths, paths.configDirs...)
		eb.addFilesystem("Has configuration directories", ConfidenceHigh)
	}
	if len(paths.logPaths) > 0 {
		filesystem.WritePaths = mergeUnique(filesystem.WritePaths, paths.logPaths...)
		eb.addFilesystem("Has log directories", ConfidenceHigh)
	}
	if len(paths.varLibPaths) > 0 {
		filesystem.WritePaths = mergeUnique(filesystem.WritePaths, paths.varLibPaths...)
		eb.addFilesystem("Has /var/lib data directories", ConfidenceHigh)
	}

	for _, f := range files {
		if !isSystemdService(f.Path) || f.Content == nil {
			continue
		}
		svc := analyzeSystemdService(string(f.Content))
		if svc.hasNetwork {
			network.NoNetwork = false
			eb.addNetwork("Systemd service uses network", ConfidenceHigh)
		}
		if len(svc.ports) > 0 {
			network.ListenPorts = mergeUnique(network.ListenPorts, svc.ports...)
			eb.addNetwork("Systemd service specifies ports", ConfidenceHigh)
		}
		if svc.isDaemon {
			if syscallProfile == "" {
				syscallProfile = "system-daemon"
			}
			rationale = append(rationale, "Systemd service file found")
		}
	}

	depHints := analyzeDependencies(meta.Dependencies)
	if depHints.hasNetworkLibs {
		network.NoNetwork = false
		if depHints.hasSSL {
			network.OutboundPorts = mergeUnique(network.OutboundPorts, "443")
		}
		eb.addNetwork("Dependencies include networking libraries", ConfidenceMedium)
	}
	if depHints.hasDatabaseLibs {
		for _, d := range meta.Dependencies {
			lower := strings.ToLower(d)
			if strings.Contains(lower, "pq") || strings.Contains(lower, "postgres") {
				network.OutboundPorts = mergeUnique(network.OutboundPorts, "5432")
			}
			if strings.Contains(lower, "mysql") {
				network.OutboundPorts = mergeUnique(network.OutboundPorts, "3306")
			}
		}
		eb.addNetwork("Dependencies include database libraries", ConfidenceMedium)
	}
	if depHints.hasGUILibs {
		syscallProfile = "gui-app"
		eb.addSyscall("Dependencies include GUI libraries", ConfidenceHigh)
	}

	if len(network.ListenPorts) == 0 && len(network.OutboundPorts) == 0 && !depHints.hasNetworkLibs && !nameHints.isServer {
		network.NoNetwork = true
		network.Confidence = ConfidenceLow
	} else {
		network.Confidence = ConfidenceMedium
	}

	if len(filesystem.ReadPaths) == 0 && len(filesystem.WritePaths) == 0 {
		filesystem.Confidence = ConfidenceLow
	} else {
		filesystem.Confidence = ConfidenceMedium
	}

	confidence, evidence := eb.build()
	if len(rationale) == 0 {
		rationale = append(rationale, "Heuristic analysis found no strong indicators")
	}

	return InferredCapabilities{
		Network:        network,
		Filesystem:     filesystem,
		SyscallProfile: syscallProfile,
		Confidence:     confidence,
		TierUsed:       2,
		Rationale:      strings.Join(rationale, "; "),
		Evidence:       evidence,
		Source:         SourceHeuristic,
	}
}

type nameHints struct {
	isServer bool
	isClient bool
	isLib    bool
	isDev    bool
}

func analyzePackageName(name string) nameHints {
	lower := strings.ToLower(name)
	return nameHints{
		isServer: strings.HasSuffix(lower, "-server") ||
			(strings.HasSuffix(lower, "d") && !strings.HasSuffix(lower, "lib")) ||
			strings.Contains(lower, "daemon") ||
			strings.Contains(lower, "service"),
		isClient: strings.HasSuffix(lower, "-client") || strings.HasSuffix(lower, "-cli"),
		isLib:    strings.HasPrefix(lower, "lib") || strings.HasSuffix(lower, "-libs"),
		isDev:    strings.HasSuffix(lower, "-dev") || strings.HasSuffix(lower, "-devel"),
	}
}

type pathAnalysis struct {
	hasSbinExecutables bool
	configDirs         []string
	logPaths           []string
	varLibPaths        []string
}

func analyzeFilePaths(files []PackageFile) pathAnalysis {
	var result pathAnalysis
	for _, f := range files {
		if strings.HasPrefix(f.Path, "/sbin/") || strings.HasPrefix(f.Path, "/usr/sbin/") {
			result.hasSbinExecutables = true
		}
		if m := configDirRE.FindStringSubmatch(f.Path); m != nil {
			result.configDirs = mergeUnique(result.configDirs, "/etc/"+m[1])
		}
		if m := logPathRE.FindStringSubmatch(f.Path); m != nil {
			result.logPaths = mergeUnique(result.logPaths, "/var/log/"+m[1])
		}
		if m := varLibRE.FindStringSubmatch(f.Path); m != nil {
			result.varLibPaths = mergeUnique(result.varLibPaths, "/var/lib/"+m[1])
		}
	}
	return result
}

func isSystemdService(path string) bool {
	return strings.HasPrefix(path, "/lib/systemd/system/") ||
		strings.HasPrefix(path, "/usr/lib/systemd/system/") ||
		strings.HasPrefix(path, "/etc/systemd/system/")
}

type serviceAnalysis struct {
	isDaemon   bool
	hasNetwork bool
	ports      []string
}

func analyzeSystemdService(content string) serviceAnalysis {
	result := serviceAnalysis{isDaemon: true}
	if serviceNetRE.MatchString(content) && !privateNetRE.MatchString(content) {
		result.hasNetwork = true
	}
	for _, m := range servicePortRE.FindAllStringSubmatch(content, -1) {
		result.ports = mergeUnique(result.ports, m[1])
	}
	return result
}

type dependencyHints struct {
	hasNetworkLibs  bool
	hasSSL          bool
	hasDatabaseLibs bool
	hasGUILibs      bool
}

func analyzeDependencies(deps []string) dependencyHints {
	var hints dependencyHints
	for _, dep := range deps {
		lower := strings.ToLower(dep)
		if strings.Contains(lower, "curl") || strings.Contains(lower, "http") ||
			strings.Contains(lower, "socket") || strings.Contains(lower, "net") ||
			strings.Contains(lower, "network") {
			hints.hasNetworkLibs = true
		}
		if strings.Contains(lower, "ssl") || strings.Contains(lower, "tls") || strings.Contains(lower, "crypto") {
			hints.hasSSL = true
			hints.hasNetworkLibs = true
		}
		if strings.Contains(lower, "pq") || strings.Contains(lower, "postgres") ||
			strings.Contains(lower, "mysql") || strings.Contains(lower, "sqlite") ||
			strings.Contains(lower, "mariadb") || strings.Contains(lower, "odbc") {
			hints.hasDatabaseLibs = true
		}
		if strings.Contains(lower, "gtk") || strings.Contains(lower, "qt") ||
			strings.Contains(lower, "x11") || strings.Contains(lower, "wayland") ||
			strings.Contains(lower, "xcb") {
			hints.hasGUILibs = true
		}
	}
	return hints
}
