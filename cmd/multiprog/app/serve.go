package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/multiprog/cmd/multiprog/app/options"
	"github.com/autopeer-io/multiprog/pkg/app"
	"github.com/autopeer-io/multiprog/pkg/log"
)

const serveDesc = `Run the station daemon. The queue is driven from the HTTP control API,
from MQTT commands when a broker is configured, and from manifests dropped
into the watched folder.`

func newServeApp() *app.App {
	opts := options.NewServeOptions()
	return app.NewApp(
		"serve",
		"Run the provisioning station daemon",
		app.WithDescription(serveDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(runServe(opts)),
	)
}

func runServe(opts *options.ServeOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		st, err := cfg.NewStation()
		if err != nil {
			return fmt.Errorf("failed to create station: %w", err)
		}

		log.Info("Starting multiprog station", "port", opts.SerialOptions.Port, "http", opts.HttpOptions.Addr)
		return st.Run(ctx)
	}
}
