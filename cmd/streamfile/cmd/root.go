// Package cmd implements streamfile's CLI, built the way the teacher's
// cmd/altmount/cmd package builds its cobra commands (a package-level
// rootCmd, subcommands registering themselves via init(), a shared
// --config persistent flag feeding internal/config.LoadConfig).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "streamfile",
	Short: "streamfile opens seekable, buffered streams over remote HTTP resources",
	Long: `streamfile is a small toolkit around a seekable, asynchronously
buffered byte-stream abstraction over a remote HTTP resource: a local
segment cache fed by range requests against an upstream server,
exposed as an io.ReadSeekCloser and, optionally, as an HTTP proxy with
admin introspection.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
