package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/internal/chunkserver"
	"github.com/conarylabs/conary/internal/convert"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the federated chunk cache and on-demand conversion server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		convertAddr, _ := cmd.Flags().GetString("convert-addr")
		return runServe(cmd.Context(), a, convertAddr)
	},
}

func init() {
	serveCmd.Flags().String("convert-addr", ":8081", "Listen address for the on-demand conversion HTTP endpoint")
}

func runServe(ctx context.Context, a *app, convertAddr string) error {
	chunkCacheRoot := filepath.Join(a.cfg.Store.DataRoot, "chunk-cache")
	chunkSrv, err := chunkserver.NewServer(a.cfg.ChunkServer, chunkCacheRoot, a.metrics, a.logger.WithComponent("chunkserver"))
	if err != nil {
		return err
	}

	tempDir := filepath.Join(a.cfg.Store.DataRoot, a.cfg.Store.TempSubdir)
	manager := convert.NewManager(a.catalog, a.store, tempDir,
		a.cfg.ChunkServer.ConversionChunkSizeBytes, a.cfg.ChunkServer.ConversionWorkers, a.metrics, a.logger.WithComponent("convert"))

	mux := http.NewServeMux()
	mux.HandleFunc("/packages/", func(w http.ResponseWriter, r *http.Request) {
		handlePackagesRoute(manager, a.cfg.Store.DataRoot, w, r)
	})
	convertSrv := &http.Server{Addr: convertAddr, Handler: mux}

	chunkSrv.StartBackground()
	go func() {
		a.logger.Info("starting conversion server", map[string]interface{}{"addr": convertSrv.Addr})
		if err := convertSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("conversion server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = convertSrv.Shutdown(shutdownCtx)
	return chunkSrv.Shutdown(shutdownCtx)
}

// handlePackagesRoute parses /packages/<distro>/<name>/<version>, or the
// poll URL form /packages/<distro>/<name>?version=<version>, and delegates
// to the conversion manager; the source path a distro's package actually
// lives at is resolved the same way the catalog would resolve it for an
// install, which here is simply the requested path under the data root's
// incoming directory. /packages/<distro>/<name>/progress?job=<id> streams
// that job's progress events.
func handlePackagesRoute(manager *convert.Manager, dataRoot string, w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/packages/"), "/")
	if len(parts) == 3 && parts[2] == "progress" {
		manager.Progress().ServeHTTP(w, r, r.URL.Query().Get("job"))
		return
	}
	if len(parts) == 2 && r.URL.Query().Get("version") != "" {
		parts = append(parts, r.URL.Query().Get("version"))
	}
	if len(parts) != 3 {
		http.Error(w, "expected /packages/<distro>/<name>/<version>", http.StatusBadRequest)
		return
	}
	distro, name, version := parts[0], parts[1], parts[2]
	resolvedSourcePath := filepath.Join(dataRoot, "incoming", distro, name, version)
	manager.HandlePackageRequest(w, r, distro, name, version, resolvedSourcePath)
}
