package app

import (
	"fmt"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/multiprog/cmd/multiprog/app/options"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/pkg/app"
)

func newPortsApp() *app.App {
	opts := options.NewPortsOptions()
	return app.NewApp(
		"ports",
		"List the serial ports of this host",
		app.WithOptions(opts),
		app.WithNoConfig(),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(runPorts),
	)
}

func runPorts() error {
	ports, err := link.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	table := uitable.New()
	table.AddRow("#", "PORT")
	for i, p := range ports {
		table.AddRow(i+1, p)
	}
	fmt.Println(table)
	return nil
}
