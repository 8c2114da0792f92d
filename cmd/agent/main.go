package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"iotc-agent/internal/app"
	"iotc-agent/internal/command"
	"iotc-agent/internal/config"
	"iotc-agent/internal/realtime"
)

func main() {
	cliApp := &cli.App{
		Name:  "iotc-agent",
		Usage: "report device attributes and run whitelisted commands for the management service",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv file(s) to load before reading the environment",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "device configuration JSON (overrides IOTC_CONFIG)",
			},
		},
		Action: runAgent,
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "validate the configuration and exit",
				Action: checkConfig,
			},
			{
				Name:  "feed-token",
				Usage: "issue a token for the local live feed",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Value: "operator"},
					&cli.StringSliceFlag{Name: "topic", Usage: "allowed topic, repeatable (default: all)"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: issueFeedToken,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		if err := os.Setenv("IOTC_CONFIG", path); err != nil {
			return nil, err
		}
	}
	return config.LoadConfig(c.StringSlice("env-file")...)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build(zap.AddStacktrace(zap.FatalLevel))
}

func runAgent(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	agentApp, err := app.New(ctx, cfg, sugar)
	if err != nil {
		sugar.Errorw("failed to build agent", "error", err)
		return err
	}

	// SIGHUP re-scans the script directory
	go watchHangup(ctx, agentApp, sugar)

	sugar.Infow("agent starting",
		"duid", cfg.Device.DUID,
		"platform", cfg.Device.Platform(),
		"pipe", cfg.PipeEndpoint,
		"interval", cfg.TelemetryInterval,
		"gated", cfg.GateAttributes,
	)
	return agentApp.Run(ctx)
}

func watchHangup(ctx context.Context, a *app.App, logger *zap.SugaredLogger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.RefreshScripts(); err != nil {
				logger.Errorw("failed to refresh scripts", "error", err)
			}
		}
	}
}

func checkConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	fmt.Printf("device %s (%s, %s): %d attribute(s), scripts in %s\n",
		cfg.Device.DUID, cfg.Device.CPID, cfg.Device.Platform(),
		len(cfg.Device.Device.Attributes), cfg.Device.Device.CommandsListPath)
	for _, a := range cfg.Device.Device.Attributes {
		fmt.Printf("  attribute %s <- %s (%s)\n", a.Name, a.PrivateData, a.PrivateDataType)
	}
	wl, err := command.Snapshot(cfg.Device.Device.CommandsListPath)
	if err != nil {
		return err
	}
	fmt.Printf("commands: %s\n", strings.Join(wl.Names(), " "))
	return nil
}

func issueFeedToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.LocalFeedSecret == "" {
		return fmt.Errorf("IOTC_LOCAL_FEED_SECRET is not set")
	}
	token, err := realtime.IssueFeedToken([]byte(cfg.LocalFeedSecret), c.String("subject"), c.StringSlice("topic"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
