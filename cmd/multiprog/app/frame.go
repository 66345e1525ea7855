package app

import (
	"fmt"

	"github.com/autopeer-io/multiprog/cmd/multiprog/app/options"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/server"
	"github.com/autopeer-io/multiprog/pkg/app"
)

func newFrameApp() *app.App {
	opts := options.NewFrameOptions()
	return app.NewApp(
		"frame",
		"Send one control frame to the fixture",
		app.WithDescription("Send a raw, bootloader-select, service-select or reset frame, e.g. to recover a socket by hand."),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(runFrame(opts)),
	)
}

func runFrame(opts *options.FrameOptions) app.RunFunc {
	return func() (err error) {
		kind, n, err := opts.Frame()
		if err != nil {
			return err
		}
		f, err := server.BuildFrame(kind, n)
		if err != nil {
			return err
		}

		cfg := link.DefaultConfig(opts.SerialOptions.Port)
		cfg.BaudRate = opts.SerialOptions.BaudRate
		cfg.ReadTimeout = opts.SerialOptions.ReadTimeout

		m := link.NewManager()
		if err := m.Open(cfg); err != nil {
			return err
		}
		defer func() {
			if cerr := m.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()

		if err := m.Send(f); err != nil {
			return err
		}
		fmt.Printf("sent %s frame [%s] on %s\n", kind, f, opts.SerialOptions.Port)
		return nil
	}
}
