package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// cli holds persistent flag state shared by every subcommand.
type cli struct {
	configPath string
	appName    string
	devMode    bool
	backend    string
	quiet      bool
	now        func() time.Time
}

func newRootCmd() *cobra.Command {
	c := &cli{now: time.Now}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("IDEADISPATCH_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	defaultApp := "ideadispatch"
	if envApp := strings.TrimSpace(os.Getenv("IDEADISPATCH_APP_NAME")); envApp != "" {
		defaultApp = envApp
	}

	root := &cobra.Command{
		Use:   "ideadispatch",
		Short: "Dispatch artifact deltas into idea packets and gate autonomous mode",
		Long: "ideadispatch classifies standing-artifact deltas, suppresses loops and duplicates,\n" +
			"enqueues dispatch packets, rolls up cycle telemetry, and decides whether\n" +
			"autonomous (Option C) mode may run.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "path to config TOML (env IDEADISPATCH_CONFIG)")
	pf.StringVar(&c.appName, "app", defaultApp, "application name for config/data path resolution")
	pf.BoolVar(&c.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	pf.StringVar(&c.backend, "ledger", "", "override ledger backend (file or sqlite)")
	pf.BoolVar(&c.quiet, "quiet", false, "suppress console logs")

	root.AddCommand(
		c.pathsCmd(),
		c.hookCmd(),
		c.rollupCmd(),
		c.gateCmd(),
		c.killCmd(),
		c.validateCmd(),
		c.queueCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.reportCmd(),
		c.serveCmd(),
		c.versionCmd(),
	)
	return root
}

// parseBoolEnv reads one boolean env var; ok is false when unset or unparseable.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
