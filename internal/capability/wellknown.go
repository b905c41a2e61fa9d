package capability

// wellKnownProfiles is the Tier 1 static table, keyed by canonical
// package name. A hit short-circuits the pipeline with a high-
// confidence profile; the remaining tiers never run.
var wellKnownProfiles = map[string]InferredCapabilities{
	"nginx": {
		Network:        Network{ListenPorts: []string{"80", "443"}, Confidence: ConfidenceHigh},
		Filesystem:     Filesystem{ReadPaths: []string{"/etc/nginx"}, WritePaths: []string{"/var/log/nginx", "/var/lib/nginx"}, Confidence: ConfidenceHigh},
		SyscallProfile: "network-server",
	},
	"openssh-server": {
		Network:        Network{ListenPorts: []string{"22"}, Confidence: ConfidenceHigh},
		Filesystem:     Filesystem{ReadPaths: []string{"/etc/ssh"}, WritePaths: []string{"/var/log"}, Confidence: ConfidenceHigh},
		SyscallProfile: "network-server",
	},
	"postgresql": {
		Network:        Network{ListenPorts: []string{"5432"}, Confidence: ConfidenceHigh},
		Filesystem:     Filesystem{ReadPaths: []string{"/etc/postgresql"}, WritePaths: []string{"/var/lib/postgresql", "/var/log/postgresql"}, Confidence: ConfidenceHigh},
		SyscallProfile: "network-server",
	},
	"mysql-server": {
		Network:        Network{ListenPorts: []string{"3306"}, Confidence: ConfidenceHigh},
		Filesystem:     Filesystem{ReadPaths: []string{"/etc/mysql"}, WritePaths: []string{"/var/lib/mysql", "/var/log/mysql"}, Confidence: ConfidenceHigh},
		SyscallProfile: "network-server",
	},
	"redis-server": {
		Network:        Network{ListenPorts: []string{"6379"}, Confidence: ConfidenceHigh},
		Filesystem:     Filesystem{ReadPaths: []string{"/etc/redis"}, WritePaths: []string{"/var/lib/redis", "/var/log/redis"}, Confidence: ConfidenceHigh},
		SyscallProfile: "network-server",
	},
	"coreutils": {
		Network:        Network{NoNetwork: true, Confidence: ConfidenceHigh},
		Filesystem:     Filesystem{Confidence: ConfidenceHigh},
		SyscallProfile: "cli-tool",
	},
	"bash": {
		Network:        Network{NoNetwork: true, Confidence: ConfidenceHigh},
		Filesystem:     Filesystem{ExecutePaths: []string{"/usr/bin/*"}, Confidence: ConfidenceHigh},
		SyscallProfile: "cli-tool",
	},
}

// InferWellKnown performs Tier 1 lookup. ok is false on a table miss,
// signaling the caller to fall through to Tier 2.
func InferWellKnown(name string) (InferredCapabilities, bool) {
	profile, ok := wellKnownProfiles[name]
	if !ok {
		return InferredCapabilities{}, false
	}
	profile.Confidence = ConfidenceHigh
	profile.TierUsed = 1
	profile.Source = SourceWellKnown
	profile.Rationale = "Package name matches a well-known profile"
	return profile, true
}
