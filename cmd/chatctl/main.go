package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/lrhodin/chatsync/pkg/chatapi"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyClient
	contextKeyLogger
)

func getConfig(ctx *cli.Context) *Config {
	return ctx.Context.Value(contextKeyConfig).(*Config)
}

func getClient(ctx *cli.Context) *chatapi.Client {
	val := ctx.Context.Value(contextKeyClient)
	if val == nil {
		return nil
	}
	return val.(*chatapi.Client)
}

func getLogger(ctx *cli.Context) zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(zerolog.Logger)
}

func makeLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(lvl)
}

func prepareApp(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel
	if ctx.IsSet("log-level") {
		level = ctx.String("log-level")
	}
	log := makeLogger(level)
	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyLogger, log)
	if cfg.HasCredentials() {
		client := chatapi.NewClient(cfg.ServerURL, cfg.AccessToken, log)
		newCtx = context.WithValue(newCtx, contextKeyClient, client)
	}
	ctx.Context = newCtx
	return nil
}

func requiresAuth(ctx *cli.Context) error {
	if err := prepareApp(ctx); err != nil {
		return err
	}
	if !getConfig(ctx).HasCredentials() {
		return fmt.Errorf("server_url and access_token must be set — run 'chatctl config set' first")
	}
	return nil
}

var configCommand = &cli.Command{
	Name:   "config",
	Usage:  "Show or update the chatctl config",
	Before: prepareApp,
	Action: cmdConfigShow,
	Subcommands: []*cli.Command{
		{
			Name:      "set",
			Usage:     "Set server URL and access token",
			ArgsUsage: "SERVER_URL ACCESS_TOKEN",
			Action:    cmdConfigSet,
		},
	},
}

func cmdConfigShow(ctx *cli.Context) error {
	out, err := yaml.Marshal(getConfig(ctx))
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n%s", getConfig(ctx).Path, out)
	return nil
}

func cmdConfigSet(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("usage: chatctl config set SERVER_URL ACCESS_TOKEN")
	}
	cfg := getConfig(ctx)
	cfg.ServerURL = ctx.Args().Get(0)
	cfg.AccessToken = ctx.Args().Get(1)
	if err := cfg.PostProcess(); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("Config saved to %s\n", cfg.Path)
	return nil
}

func main() {
	app := &cli.App{
		Name:    "chatctl",
		Usage:   "Interact with a chat server from the terminal",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: getConfigPath(),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Commands: []*cli.Command{
			configCommand,
			threadsCommand,
			tailCommand,
			sendCommand,
			sendImageCommand,
			sendVideoCommand,
			deleteCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
