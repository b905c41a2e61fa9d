package capability

import (
	"bytes"
	"debug/elf"
	"runtime"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
)

// Socket, privileged, and exec symbol vocabularies, carried over
// verbatim from the reference ELF analyzer's three closed sets.
var (
	socketSymbols = map[string]bool{
		"socket": true, "bind": true, "listen": true, "accept": true, "accept4": true,
		"connect": true, "send": true, "recv": true, "sendto": true, "recvfrom": true,
		"sendmsg": true, "recvmsg": true, "getaddrinfo": true, "gethostbyname": true,
		"gethostbyaddr": true, "getpeername": true, "getsockname": true,
		"setsockopt": true, "getsockopt": true,
	}
	privilegedSymbols = map[string]bool{
		"setuid": true, "setgid": true, "setreuid": true, "setregid": true,
		"seteuid": true, "setegid": true, "setresuid": true, "setresgid": true,
		"cap_set_proc": true, "cap_get_proc": true, "prctl": true, "chroot": true,
		"pivot_root": true, "mount": true, "umount": true, "unshare": true,
		"clone": true, "ioctl": true, "mknod": true,
	}
	execSymbols = map[string]bool{
		"execve": true, "execl": true, "execle": true, "execlp": true, "execv": true,
		"execvp": true, "execvpe": true, "fexecve": true, "posix_spawn": true,
		"posix_spawnp": true, "system": true, "popen": true, "fork": true, "vfork": true,
	}
)

// binaryAnalysis is the per-file result analyzeBinary produces before
// the results of every analyzed file are merged together.
type binaryAnalysis struct {
	libraries      map[string]bool
	symbols        map[string]bool
	usesSockets    bool
	usesPrivileged bool
	usesExec       bool
}

// InferBinary runs Tier 4: ELF analysis of every regular file whose
// content looks like an ELF image, fanned out across a bounded worker
// pool sized by poolSize (callers pass config.Capability.Tier4WorkerPoolSize,
// falling back to runtime.NumCPU() when poolSize <= 0). Unparseable
// binaries and unsupported object formats are skipped, not fatal —
// their errors are collected for the caller to log, not to abort on.
func InferBinary(files []PackageFile, poolSize int) (InferredCapabilities, error) {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	type fileResult struct {
		path string
		res  binaryAnalysis
		err  error
	}

	p := pool.NewWithResults[fileResult]().WithMaxGoroutines(poolSize)
	for _, f := range files {
		f := f
		if f.Content == nil || !looksLikeELF(f.Content) {
			continue
		}
		p.Go(func() fileResult {
			res, err := analyzeBinary(f.Content)
			return fileResult{path: f.Path, res: res, err: err}
		})
	}
	results := p.Wait()

	allLibs := map[string]bool{}
	allSymbols := map[string]bool{}
	var eb evidenceBuilder
	var errs error
	network := Network{NoNetwork: true}
	filesystem := Filesystem{}
	analyzedCount := 0

	for _, r := range results {
		if r.err != nil {
			errs = multierr.Append(errs, r.err)
			continue
		}
		analyzedCount++
		for lib := range r.res.libraries {
			allLibs[lib] = true
		}
		for sym := range r.res.symbols {
			allSymbols[sym] = true
		}
		if r.res.usesSockets {
			network.NoNetwork = false
			eb.addNetwork(r.path, ConfidenceHigh)
		}
	}

	libHints := analyzeLibraries(allLibs)
	var syscallProfile string
	if libHints.hasNetwork {
		network.NoNetwork = false
		eb.addNetwork("Links against network libraries", ConfidenceHigh)
	}
	if libHints.hasSSL {
		network.OutboundPorts = mergeUnique(network.OutboundPorts, "443")
		eb.addNetwork("Links against SSL/TLS libraries", ConfidenceHigh)
	}
	if libHints.hasDatabase {
		eb.addNetwork("Links against database libraries", ConfidenceMedium)
		for lib := range allLibs {
			lower := strings.ToLower(lib)
			if strings.Contains(lower, "pq") {
				network.OutboundPorts = mergeUnique(network.OutboundPorts, "5432")
			}
			if strings.Contains(lower, "mysql") || strings.Contains(lower, "mariadb") {
				network.OutboundPorts = mergeUnique(network.OutboundPorts, "3306")
			}
		}
	}
	if libHints.hasGUI {
		syscallProfile = "gui-app"
		eb.addSyscall("Links against GUI libraries", ConfidenceHigh)
	}

	symbolHints := analyzeSymbols(allSymbols)
	if symbolHints.usesSockets {
		network.NoNetwork = false
		eb.addNetwork("Uses socket system calls", ConfidenceHigh)
	}
	if symbolHints.usesPrivileged {
		if syscallProfile == "" {
			syscallProfile = "system-daemon"
		}
		eb.addSyscall("Uses privileged system calls", ConfidenceHigh)
	}
	if symbolHints.usesExec {
		filesystem.ExecutePaths = mergeUnique(filesystem.ExecutePaths, "/usr/bin/*")
		eb.addFilesystem("Uses exec system calls", ConfidenceMedium)
	}

	if network.NoNetwork {
		network.Confidence = ConfidenceMedium // guessing from absence
	} else {
		network.Confidence = ConfidenceHigh // positive evidence
	}
	if len(filesystem.ReadPaths) == 0 && len(filesystem.WritePaths) == 0 {
		filesystem.Confidence = ConfidenceLow
	} else {
		filesystem.Confidence = ConfidenceHigh
	}

	confidence, evidence := eb.build()

	result := InferredCapabilities{
		Network:        network,
		Filesystem:     filesystem,
		SyscallProfile: syscallProfile,
		Confidence:     confidence,
		TierUsed:       4,
		Rationale:      elfRationale(analyzedCount, len(allLibs), len(allSymbols)),
		Evidence:       evidence,
		Source:         SourceBinary,
	}
	return result, errs
}

func looksLikeELF(content []byte) bool {
	return bytes.HasPrefix(content, []byte{0x7f, 'E', 'L', 'F'})
}

func analyzeBinary(content []byte) (binaryAnalysis, error) {
	analysis := binaryAnalysis{libraries: map[string]bool{}, symbols: map[string]bool{}}

	f, err := elf.NewFile(bytes.NewReader(content))
	if err != nil {
		return analysis, err
	}
	defer func() { _ = f.Close() }()

	libs, err := f.ImportedLibraries()
	if err == nil {
		for _, lib := range libs {
			analysis.libraries[lib] = true
		}
	}

	syms, _ := f.DynamicSymbols()
	for _, sym := range syms {
		if sym.Name == "" || sym.Section != elf.SHN_UNDEF {
			continue
		}
		analysis.symbols[sym.Name] = true
		switch {
		case socketSymbols[sym.Name]:
			analysis.usesSockets = true
		case privilegedSymbols[sym.Name]:
			analysis.usesPrivileged = true
		case execSymbols[sym.Name]:
			analysis.usesExec = true
		}
	}

	return analysis, nil
}

type libraryHints struct {
	hasNetwork  bool
	hasSSL      bool
	hasDatabase bool
	hasGUI      bool
}

func analyzeLibraries(libs map[string]bool) libraryHints {
	var hints libraryHints
	for lib := range libs {
		lower := strings.ToLower(lib)
		if strings.Contains(lower, "curl") || strings.Contains(lower, "http") ||
			strings.Contains(lower, "socket") || strings.Contains(lower, "nghttp") {
			hints.hasNetwork = true
		}
		if strings.Contains(lower, "ssl") || strings.Contains(lower, "tls") || strings.Contains(lower, "crypto") {
			hints.hasSSL = true
			hints.hasNetwork = true
		}
		if strings.Contains(lower, "pq") || strings.Contains(lower, "mysql") ||
			strings.Contains(lower, "sqlite") || strings.Contains(lower, "mariadb") ||
			strings.Contains(lower, "odbc") {
			hints.hasDatabase = true
		}
		if strings.Contains(lower, "gtk") || strings.Contains(lower, "qt") ||
			strings.HasPrefix(lower, "libx") || strings.Contains(lower, "wayland") ||
			strings.Contains(lower, "xcb") {
			hints.hasGUI = true
		}
	}
	return hints
}

type symbolHints struct {
	usesSockets    bool
	usesPrivileged bool
	usesExec       bool
}

func analyzeSymbols(symbols map[string]bool) symbolHints {
	var hints symbolHints
	for sym := range symbols {
		if socketSymbols[sym] {
			hints.usesSockets = true
		}
		if privilegedSymbols[sym] {
			hints.usesPrivileged = true
		}
		if execSymbols[sym] {
			hints.usesExec = true
		}
	}
	return hints
}

func elfRationale(fileCount, libCount, symbolCount int) string {
	return "Binary analysis of " + itoa(fileCount) + " file(s): " +
		itoa(libCount) + " libraries, " + itoa(symbolCount) + " symbols analyzed"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
