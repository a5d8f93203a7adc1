package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/easscan/pkg/easscan/config"
	"github.com/jamesainslie/easscan/pkg/easscan/logging"
)

// initialize is the PersistentPreRunE hook: it decodes the configuration,
// creates the XDG directories and starts logging.
func initialize(cmd *cobra.Command, _ []string) error {
	if initErr != nil {
		return initErr
	}
	cfg, err := config.Decode(settings)
	if err != nil {
		return err
	}
	appConfig = cfg

	if err := ensureDirs(); err != nil {
		return err
	}

	consoleLevel := ""
	if getVerbose() {
		consoleLevel = "debug"
	}
	// The TUI owns the terminal; only the root command can start it.
	tuiMode := useTUI && cmd == rootCmd && interactive()

	lc, err := cfg.LoggingConfig(consoleLevel, tuiMode)
	if err != nil {
		return err
	}
	if err := logging.Init(lc); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	cobra.OnFinalize(func() { _ = logging.Close() })
	return nil
}

// ensureDirs creates the config, data and state directories.
func ensureDirs() error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{configDir, config.DataDir(), config.StateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
