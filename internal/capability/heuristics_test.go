package capability

import "testing"

func TestAnalyzePackageName(t *testing.T) {
	if h := analyzePackageName("nginx-server"); !h.isServer || h.isClient {
		t.Fatalf("got %+v", h)
	}
	if h := analyzePackageName("postgresql-client"); h.isServer || !h.isClient {
		t.Fatalf("got %+v", h)
	}
	if h := analyzePackageName("libssl-dev"); !h.isLib || !h.isDev {
		t.Fatalf("got %+v", h)
	}
	if h := analyzePackageName("sshd"); !h.isServer {
		t.Fatalf("expected sshd to be classified as a server (ends with 'd')")
	}
}

func TestAnalyzeFilePaths(t *testing.T) {
	files := []PackageFile{
		{Path: "/usr/sbin/nginx"},
		{Path: "/etc/nginx/nginx.conf"},
		{Path: "/var/log/nginx/access.log"},
		{Path: "/var/lib/nginx/cache"},
	}
	analysis := analyzeFilePaths(files)
	if !analysis.hasSbinExecutables {
		t.Fatalf("expected sbin executable detection")
	}
	if !contains(analysis.configDirs, "/etc/nginx") {
		t.Fatalf("got config dirs %v", analysis.configDirs)
	}
	if !contains(analysis.logPaths, "/var/log/nginx") {
		t.Fatalf("got log paths %v", analysis.logPaths)
	}
	if !contains(analysis.varLibPaths, "/var/lib/nginx") {
		t.Fatalf("got var/lib paths %v", analysis.varLibPaths)
	}
}

func TestAnalyzeSystemdService(t *testing.T) {
	content := `
[Unit]
Description=The NGINX HTTP and reverse proxy server
After=syslog.target network-online.target remote-fs.target nss-lookup.target

[Service]
Type=forking
ExecStart=/usr/sbin/nginx
ListenStream=80

[Install]
WantedBy=multi-user.target
`
	analysis := analyzeSystemdService(content)
	if !analysis.isDaemon || !analysis.hasNetwork {
		t.Fatalf("got %+v", analysis)
	}
	if !contains(analysis.ports, "80") {
		t.Fatalf("got ports %v", analysis.ports)
	}
}

func TestAnalyzeDependencies(t *testing.T) {
	hints := analyzeDependencies([]string{"libssl3", "libcurl4", "libpq5"})
	if !hints.hasNetworkLibs || !hints.hasSSL || !hints.hasDatabaseLibs || hints.hasGUILibs {
		t.Fatalf("got %+v", hints)
	}
}

func TestInferHeuristicEndToEnd(t *testing.T) {
	files := []PackageFile{
		{Path: "/usr/sbin/myservice"},
		{Path: "/etc/myservice/config.conf"},
		{Path: "/var/log/myservice/service.log"},
	}
	meta := PackageMetadata{Name: "myservice-server", Version: "1.0.0", Dependencies: []string{"libssl3"}}

	result := InferHeuristic(files, meta)
	if result.Source != SourceHeuristic || result.TierUsed != 2 {
		t.Fatalf("got %+v", result)
	}
	if result.Network.NoNetwork {
		t.Fatalf("expected network evidence from server name + ssl dependency")
	}
	if !contains(result.Filesystem.ReadPaths, "/etc/myservice") {
		t.Fatalf("got read paths %v", result.Filesystem.ReadPaths)
	}
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
