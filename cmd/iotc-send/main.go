// Command iotc-send writes one value to the agent's inter-process pipe.
//
//	iotc-send kv door open
//	iotc-send kv temperature 21.5
//	iotc-send json '{"door":"open","temperature":21.5}'
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"iotc-agent/internal/pipe"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	cliApp := &cli.App{
		Name:  "iotc-send",
		Usage: "hand a value to the running agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "FIFO path or tcp://host:port",
				Value:   pipe.DefaultEndpoint,
				EnvVars: []string{"IOTC_PIPE"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "give up when no consumer attaches in time (0 waits forever)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "kv",
				Usage:     "send {KEY: VALUE}; VALUE is parsed as JSON when possible",
				ArgsUsage: "KEY VALUE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("kv needs KEY and VALUE", 2)
					}
					return send(c, map[string]any{c.Args().Get(0): parseValue(c.Args().Get(1))})
				},
			},
			{
				Name:      "json",
				Usage:     "send a JSON document as-is",
				ArgsUsage: "DOCUMENT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("json needs one DOCUMENT", 2)
					}
					var v any
					if err := jsonStd.UnmarshalFromString(c.Args().First(), &v); err != nil {
						return cli.Exit(fmt.Sprintf("invalid JSON: %v", err), 2)
					}
					return send(c, v)
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseValue decodes s as JSON, falling back to the plain string.
func parseValue(s string) any {
	var v any
	if err := jsonStd.UnmarshalFromString(s, &v); err != nil {
		return s
	}
	return v
}

func send(c *cli.Context, v any) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	producer := pipe.NewProducer(c.String("endpoint"), logger.Sugar())
	defer producer.Close()

	err = producer.Send(ctx, v)
	if err != nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return cli.Exit("no consumer attached before timeout", 1)
		}
		return ctx.Err()
	}
	return err
}
