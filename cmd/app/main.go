package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"SwingPulse/internal/di"
	"SwingPulse/pkg/config"
)

func main() {
	app := &cli.App{
		Name:  "swingpulse",
		Usage: "multi-timeframe regime, expectancy and allocation engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "config file path",
				EnvVars: []string{"SWINGPULSE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the engine, ingestion and HTTP API",
				Action: runAction,
			},
			{
				Name:   "check-config",
				Usage:  "load, validate and print the effective configuration",
				Action: checkConfigAction,
			},
		},
		DefaultCommand: "run",
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.LoadWithEnv(c.String("config"))
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()
	return app.Run(context.Background())
}

func checkConfigAction(c *cli.Context) error {
	cfg, err := config.LoadWithEnv(c.String("config"))
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}
