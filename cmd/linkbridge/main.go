// Command linkbridge forwards each HTTP request to a broker as one message.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/drblury/linkbridge"
	_ "github.com/drblury/linkbridge/transport/transports"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "linkbridge:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := linkbridge.ParseFlags("linkbridge", args)
	if err != nil {
		return err
	}

	cfg, err := linkbridge.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}

	if flags.ShowConfig {
		fmt.Println(cfg.String())
		return nil
	}

	logger, err := linkbridge.NewLogger(os.Stdout, linkbridge.LoggerOptions{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		return err
	}

	svc, err := linkbridge.NewService(cfg, logger, linkbridge.ServiceDependencies{
		Registry: linkbridge.DefaultTransportRegistry,
	})
	if err != nil {
		return err
	}

	if err := svc.Serve(context.Background()); err != nil {
		logger.Error("Bridge stopped with error", err, nil)
		return err
	}
	logger.Info("Bridge stopped", nil)
	return nil
}
