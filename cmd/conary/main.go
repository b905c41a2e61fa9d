// Command conary is the package manager's CLI: install, remove, rollback
// and list operate on the local catalog and install root; serve runs the
// federated chunk cache and on-demand conversion server; key manages
// manifest signing keys and trust policy.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes, per the CLI's own contract: the core taxonomy in pkg/errors
// only decides rollback behavior and HTTP status, never a process exit
// code, so the mapping lives here.
const (
	exitSuccess         = 0
	exitGenericFailure  = 1
	exitUsageError      = 2
	exitConflict        = 3
	exitDependencyBreak = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "conary: %v\n", err)
		return exitCodeFor(err)
	}
	return exitSuccess
}

func exitCodeFor(err error) int {
	if ce, ok := conaryerrors.As(err); ok {
		switch ce.Kind {
		case conaryerrors.KindConflict:
			return exitConflict
		case conaryerrors.KindDependencyBreak:
			return exitDependencyBreak
		}
	}
	if _, ok := err.(usageError); ok {
		return exitUsageError
	}
	return exitGenericFailure
}

// usageError marks an error as a CLI argument/flag mistake rather than a
// runtime failure, so it maps to exitUsageError instead of
// exitGenericFailure.
type usageError struct{ error }

func newUsageError(format string, args ...interface{}) error {
	return usageError{fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "conary",
	Short: "Conary package manager",
	Long: `Conary is a Linux package manager with atomic transactional
installs, content-addressed storage, and the ability to absorb RPM, DEB,
and Arch packages into a native content-addressed format.`,
	Version:       fmt.Sprintf("%s (commit %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addCommonFlags(installCmd)
	addCommonFlags(removeCmd)
	addCommonFlags(rollbackCmd)
	addCommonFlags(listCmd)
	addCommonFlags(serveCmd)

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keyCmd)
}
