package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/multiprog/cmd/multiprog/app"
)

func main() {
	if err := app.NewMultiprogCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
