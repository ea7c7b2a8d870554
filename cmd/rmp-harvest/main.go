// Command rmp-harvest collects professors and reviews from the
// RateMyProfessors GraphQL service into CSV files.
//
// Usage:
//
//	rmp-harvest professors <start> <end> <out.csv>
//	rmp-harvest reviews <professors.csv> <out.csv>
//
// Settings come from flags, RMP_HARVEST_* environment variables and an
// optional rmp-harvest.yaml, in that order of precedence.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. RMP_HARVEST_DISPATCH_WORKERS.
const EnvPrefix = "RMP_HARVEST"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	setDefaults(v)

	var cfgFile string
	root := &cobra.Command{
		Use:          "rmp-harvest",
		Short:        "Harvest professors and reviews from RateMyProfessors",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./rmp-harvest.yaml or ~/.config/rmp-harvest/rmp-harvest.yaml)")
	flags.Int("workers", 0, "concurrent units per batch")
	flags.Int("batch-size", 0, "items per dispatched batch")
	flags.Int("page-size", 0, "records requested per page")
	flags.Int("pages", 0, "stop each school after this many pages (0 = no limit)")
	flags.Duration("unit-timeout", 0, "deadline for one item's pagination")
	flags.String("failed-out", "", "write the items that failed to this CSV")
	flags.String("run-id", "", "run id; reuse it to share a redis dedup set or resume a sqlite one")
	flags.String("dedup", "", "dedup backend: memory, sqlite or redis")
	flags.String("redis-addr", "", "redis address; shares cool-downs between processes")
	flags.String("sqlite-path", "", "database file of the sqlite dedup backend")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Bool("log-pretty", false, "human-readable logs")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	flags.String("base-url", "", "service base URL")
	flags.Bool("progress", false, "print progress to stderr")

	for flag, key := range map[string]string{
		"workers":      keyWorkers,
		"batch-size":   keyBatchSize,
		"page-size":    keyPageSize,
		"pages":        keyMaxPages,
		"unit-timeout": keyUnitTimeout,
		"failed-out":   keyFailedOut,
		"run-id":       keyRunID,
		"dedup":        keyDedupBackend,
		"redis-addr":   keyRedisAddr,
		"sqlite-path":  keySQLitePath,
		"log-level":    keyLogLevel,
		"log-pretty":   keyLogPretty,
		"metrics-addr": keyMetricsAddr,
		"base-url":     keyBaseURL,
		"progress":     keyProgress,
	} {
		// Unchanged flags fall through to env, file and defaults.
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newProfessorsCmd(v), newReviewsCmd(v))
	return root
}

// initConfig reads the config file and enables environment overrides.
func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("rmp-harvest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "rmp-harvest"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
