package cmd

import (
	"context"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrecords121/ephyr/internal/api"
	"github.com/mrecords121/ephyr/internal/bootstrap"
	"github.com/mrecords121/ephyr/internal/callback"
	"github.com/mrecords121/ephyr/internal/conf"
	"github.com/mrecords121/ephyr/internal/logging"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the restreamer control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	settings, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(settings)

	logging.Init(settings.LogLevel, settings.LogFormat, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.Boot(ctx, settings)
	if err != nil {
		return err
	}

	callbackHandler := callback.New(app.Store, []byte(settings.CallbackSecret))
	apiServer := api.New(app.Store, api.Config{
		PublicHost:     publicHostOrDiscovered(settings, app),
		SRSHTTPAddr:    settings.SRSHTTPAddr,
		CallbackSecret: []byte(settings.CallbackSecret),
		DVRBaseDir:     filepath.Join(settings.SRSHTTPDir, "dvr"),
	}, callbackHandler, app.Metrics)
	app.SetHandler(apiServer.Handler())

	return app.Run(ctx)
}

func publicHostOrDiscovered(settings *conf.Settings, app *bootstrap.App) string {
	if v := viper.GetString("public-host"); v != "" {
		return v
	}
	return app.PublicIP
}

func applyFlagOverrides(settings *conf.Settings) {
	if v := viper.GetInt("http-port"); v != 0 {
		settings.HTTPAddr = viperHostPort(v)
	}
	if v := viper.GetString("state"); v != "" {
		settings.StatePath = v
	}
	if v := viper.GetString("srs-http-dir"); v != "" {
		settings.SRSHTTPDir = v
	}
	if v := viper.GetString("log-level"); v != "" {
		settings.LogLevel = v
	}
}

func viperHostPort(port int) string {
	return ":" + strconv.Itoa(port)
}
