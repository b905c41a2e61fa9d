package rpm

// Metadata is the format-neutral description read from an RPM header.
type Metadata struct {
	Name         string
	Version      string
	Release      string
	Architecture string
	Summary      string
	Requires     []Requirement
	Provides     []string
}

// Requirement is one RPM dependency, name plus optional version string
// (RPM encodes the comparison operator in RequireFlags, which this reader
// does not decode — the raw version string is kept as-is).
type Requirement struct {
	Name    string
	Version string
}

// ParseMetadata extracts name/version/architecture/summary/dependency
// metadata from a parsed header.
func ParseMetadata(h *Header) Metadata {
	name, _ := h.String(tagName)
	version, _ := h.String(tagVersion)
	release, _ := h.String(tagRelease)
	arch, _ := h.String(tagArch)
	summary, _ := h.String(tagSummary)

	names := h.StringArray(tagRequireName)
	versions := h.StringArray(tagRequireVer)
	requires := make([]Requirement, 0, len(names))
	for i, n := range names {
		v := ""
		if i < len(versions) {
			v = versions[i]
		}
		requires = append(requires, Requirement{Name: n, Version: v})
	}

	return Metadata{
		Name:         name,
		Version:      version,
		Release:      release,
		Architecture: arch,
		Summary:      summary,
		Requires:     requires,
		Provides:     h.StringArray(tagProvideName),
	}
}

// Scriptlet is one lifecycle hook embedded in the RPM header.
type Scriptlet struct {
	Phase       string
	Interpreter string
	Script      string
}

// ParseScriptlets extracts the four RPM lifecycle scripts, skipping any
// phase the package does not define.
func ParseScriptlets(h *Header) []Scriptlet {
	phases := []struct {
		phase       string
		scriptTagID int32
		progTagID   int32
	}{
		{"pre-install", tagPreIn, tagPreInProg},
		{"post-install", tagPostIn, tagPostInProg},
		{"pre-remove", tagPreUn, tagPreUnProg},
		{"post-remove", tagPostUn, tagPostUnProg},
	}

	var out []Scriptlet
	for _, p := range phases {
		script, ok := h.String(p.scriptTagID)
		if !ok {
			continue
		}
		interp, _ := h.String(p.progTagID)
		if interp == "" {
			interp = "/bin/sh"
		}
		out = append(out, Scriptlet{Phase: p.phase, Interpreter: interp, Script: script})
	}
	return out
}

// FileInfo is one file record assembled from the header's parallel file
// arrays (basenames/dirnames/dirindexes/modes/linktos).
type FileInfo struct {
	Path          string
	Mode          uint32
	LinkTarget    string
	Owner         string
	Group         string
}

// ParseFiles reconstructs each file's full path and mode/ownership from
// the header's parallel arrays.
func ParseFiles(h *Header) []FileInfo {
	baseNames := h.StringArray(tagBaseNames)
	dirNames := h.StringArray(tagDirNames)
	dirIndexes := h.Int32Array(tagDirIndexes)
	modes := h.Int32Array(tagFileModes)
	linkTos := h.StringArray(tagFileLinkTos)
	owners := h.StringArray(tagFileUserName)
	groups := h.StringArray(tagFileGroupName)

	out := make([]FileInfo, 0, len(baseNames))
	for i, base := range baseNames {
		dir := ""
		if i < len(dirIndexes) {
			idx := dirIndexes[i]
			if int(idx) < len(dirNames) {
				dir = dirNames[idx]
			}
		}
		fi := FileInfo{Path: dir + base}
		if i < len(modes) {
			fi.Mode = uint32(modes[i]) & 0o7777
		}
		if i < len(linkTos) {
			fi.LinkTarget = linkTos[i]
		}
		if i < len(owners) {
			fi.Owner = owners[i]
		}
		if i < len(groups) {
			fi.Group = groups[i]
		}
		out = append(out, fi)
	}
	return out
}
