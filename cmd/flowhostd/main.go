// Command flowhostd runs the flowhost network daemon: it loads a schematic
// manifest directory, builds the provider backends each schematic's
// providers: section names, and serves invocations against the validated
// registry until a shutdown signal arrives.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/flowhost/internal/errs"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowhostd",
		Short: "flowhost network daemon",
		Long:  "Run flowhost as a host executing declarative dataflow schematics across native, WASM, gRPC, KV, and SQL providers",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a JSON config file (optional, flags/env override)")

	rootCmd.AddCommand(
		serveCmd(),
		validateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command failure to the host binary's exit codes: 1
// generic, 2 configuration/schematic validation error, 3 provider
// initialisation failure.
func exitCode(err error) int {
	var initErr *errs.InitializationError
	if errors.As(err, &initErr) {
		return 2
	}
	var taxErr *errs.Error
	if errors.As(err, &taxErr) {
		switch taxErr.Kind {
		case errs.KindValidation:
			return 2
		case errs.KindProvider:
			return 3
		}
	}
	if errors.Is(err, errConfig) {
		return 2
	}
	return 1
}
