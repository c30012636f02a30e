package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/config"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
