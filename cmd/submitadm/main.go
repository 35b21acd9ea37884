package main

import (
	"context"
	"log"
	"os"

	"github.com/avandyk/submitstore/internal/admin"
	"github.com/avandyk/submitstore/internal/config"
	"github.com/avandyk/submitstore/internal/flagx"
)

// globalFlags are consumed by config.LoadConfig; everything else on the
// command line is the subcommand and its arguments.
var globalFlags = []string{"-c", "-config", "-d", "-t", "-g", "-w"}

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	app, err := admin.NewApp(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	os.Exit(app.Run(ctx, flagx.StripArgs(os.Args[1:], globalFlags)))
}
