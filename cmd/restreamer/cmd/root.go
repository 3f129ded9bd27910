// Package cmd assembles the restreamer CLI: one root command plus
// serve/export/import/version subcommands, flags mirrored by
// EPHYR_RESTREAMER_* environment variables per §6.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrecords121/ephyr/internal/errors"
)

var configFile string

// Execute runs the root command against os.Args.
func Execute() error {
	return rootCommand().Execute()
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "restreamer",
		Short: "Live-restreaming control plane",
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file overriding the embedded defaults")
	root.PersistentFlags().Int("http-port", 80, "API + callback port")
	root.PersistentFlags().String("callback-host", "", "host SRS uses to reach the HTTP callback (auto-detected if empty)")
	root.PersistentFlags().String("srs-path", "/usr/local/srs", "SRS installation root")
	root.PersistentFlags().String("srs-http-dir", "/var/www/srs", "segment/DVR output root")
	root.PersistentFlags().String("public-host", "", "host advertised to the UI (auto-detected if empty)")
	root.PersistentFlags().String("state", "state.json", "snapshot path")
	root.PersistentFlags().String("log-level", "INFO", "log verbosity")
	root.PersistentFlags().String("password-kdf-cost", "moderate", "argon2id cost preset (light|moderate|paranoid)")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &cliUsageError{msg: err.Error()}
	})

	_ = viper.BindPFlags(root.PersistentFlags())
	viper.SetEnvPrefix("EPHYR_RESTREAMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	root.AddCommand(serveCommand())
	root.AddCommand(exportCommand())
	root.AddCommand(importCommand())
	root.AddCommand(versionCommand())

	return root
}

// ExitCodeFor maps a boot/run error to the process exit code §6 documents:
// 0 for a nil error, 2 on invalid CLI usage (a flag parse error), and 1 for
// any other error, fatal boot failures included.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(*cliUsageError); ok {
		return 2
	}
	if errors.CategoryOf(err) == errors.CategoryFatal {
		return 1
	}
	return 1
}

type cliUsageError struct{ msg string }

func (e *cliUsageError) Error() string { return e.msg }
