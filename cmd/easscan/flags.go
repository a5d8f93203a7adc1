package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jamesainslie/easscan/pkg/easscan/executor"
)

// Run flags that are not configuration keys.
var (
	explicitTargets []string
	resume          bool
	useTUI          bool
	assumeYes       bool
	noStore         bool
	noManifest      bool
)

// flagKeys maps flag names to the configuration keys they override.
var flagKeys = map[string]string{
	"quiet":         "quiet",
	"verbose":       "verbose",
	"workers":       "workers.count",
	"max-workers":   "workers.ceiling",
	"timeout":       "pool.timeout",
	"recovery":      "pool.recovery",
	"dispatch-rate": "pool.dispatch_rate",
	"cpu-threshold": "thresholds.cpu_pct",
	"mem-threshold": "thresholds.mem_pct",
	"min-free-ram":  "thresholds.min_free_ram_gb",
	"include":       "targets.include",
	"exclude":       "targets.exclude",
	"strip-www":     "targets.strip_www",
	"output":        "output.format",
	"template":      "output.template",
	"output-dir":    "output.dir",
	"on-conflict":   "output.on_conflict",
	"tool":          "tool.name",
	"tool-command":  "tool.command",
	"metrics-addr":  "metrics.addr",
	"log-level":     "logging.level",
	"console-level": "logging.console",
}

func registerRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.IntP("workers", "w", 0, "worker count (0 = prompt, or the suggestion with --yes)")
	f.Int("max-workers", 0, "absolute worker ceiling")
	f.Duration("timeout", 0, "per-target scan timeout (e.g. 10m)")
	f.String("recovery", "", "after overload fallback: auto or hold")
	f.Float64("dispatch-rate", 0, "maximum scans started per second (0 = unlimited)")
	f.Float64("cpu-threshold", 0, "throttle above this CPU usage percent")
	f.Float64("mem-threshold", 0, "throttle above this memory usage percent")
	f.Float64("min-free-ram", 0, "throttle below this much available RAM (GB)")

	f.StringArrayVarP(&explicitTargets, "target", "t", nil, "scan this target (repeatable)")
	f.StringSlice("include", nil, "only scan targets matching these globs")
	f.StringSlice("exclude", nil, "skip targets matching these globs")
	f.Bool("strip-www", true, "treat www.example.com as example.com")

	f.StringP("output", "o", "", "report format (pretty, plain, json, jsonl, yaml, csv, tsv, markdown, template, paths, null)")
	f.String("template", "", "Go template for -o template")
	f.StringP("output-dir", "d", "", "per-target output root")
	f.String("on-conflict", "", "existing output: prompt, skip, overwrite or timestamp")

	f.String("tool", "", "scan tool profile ("+strings.Join(executor.Builtins(), ", ")+")")
	f.String("tool-command", "", "override the tool binary")

	f.String("metrics-addr", "", "serve prometheus metrics on this address during the run")
	f.String("log-level", "", "log file level (debug, info, warn, error)")
	f.String("console-level", "", "also log to stderr at this level")

	f.BoolVar(&resume, "resume", false, "skip targets whose last stored result succeeded")
	f.BoolVar(&useTUI, "tui", false, "show a live progress view instead of status lines")
	f.BoolVarP(&assumeYes, "yes", "y", false, "accept the suggested worker count and skip prompts")
	f.BoolVar(&noStore, "no-store", false, "do not record results in the result store")
	f.BoolVar(&noManifest, "no-manifest", false, "do not write a run history entry")
}

// bindFlags binds every flag in flagKeys found on cmd to its key.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := lookupFlag(cmd, name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.PersistentFlags().Lookup(name)
}

// parseCommaSeparated splits a comma-separated string and trims whitespace.
func parseCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
