package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/easscan/pkg/easscan/config"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

var (
	cfgFile string

	// settings is the viper instance for this invocation; appConfig is
	// the decoded and validated view of it.
	settings  *viper.Viper
	appConfig *config.Config
	initErr   error

	rootCmd = &cobra.Command{
		Use:   "easscan [target-file...]",
		Short: "Run a security scan tool across many targets in parallel",
		Long: `easscan runs one scan tool (testssl, httpx, nmap, checkdmarc or a custom
command) against every target of a discovery list, in parallel.

It samples the host to suggest a worker count, asks you to confirm it, and
throttles dispatch while the host is overloaded. Each target gets its own
output directory; a summary and a run history entry are written at the end.

Examples:
  easscan targets.txt                  # Scan with the configured tool
  easscan -w 4 --tool httpx hosts.txt  # Four workers, httpx profile
  cat hosts.txt | easscan -            # Read targets from stdin
  easscan -t example.com -t example.org
  easscan --resume targets.txt         # Skip targets that already succeeded
  easscan -o json targets.txt > run.json
  easscan history                      # List previous runs`,
		Args:          cobra.ArbitraryArgs,
		RunE:          runScan,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	// Set here: initialize refers back to rootCmd.
	rootCmd.PersistentPreRunE = initialize
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/easscan/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output on stderr")

	registerRunFlags(rootCmd)
}

// initConfig builds the viper instance and binds command-line flags.
func initConfig() {
	settings, initErr = config.New(cfgFile)
	if initErr != nil {
		return
	}
	initErr = bindFlags(settings, rootCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// errInterrupted is returned when the operator stops a run.
var errInterrupted = errors.New("interrupted")

// exitCode maps a command error to the process exit status and prints it.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errInterrupted):
		return 130
	case errors.Is(err, types.ErrConfiguration):
		printError("%v", err)
		return 2
	default:
		printError("%v", err)
		return 1
	}
}

func getVerbose() bool {
	return settings != nil && settings.GetBool("verbose")
}

func getQuiet() bool {
	return settings != nil && settings.GetBool("quiet")
}

// printVerbose prints a message to stderr if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message to stderr unless quiet. Stdout carries only
// the run report.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
