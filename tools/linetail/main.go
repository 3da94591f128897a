package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"linemonitor/internal/config"
	"linemonitor/internal/eventing"
	"linemonitor/internal/logging"
	voltage "linemonitor/internal/voltage/domain"
	"linemonitor/internal/voltage/interfaces/console"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (default $"+config.EnvPath+")")
	address := flag.String("address", "", "multicast group to join (overrides the configuration)")
	port := flag.Int("port", 0, "multicast port (overrides the configuration)")
	lineList := flag.String("lines", "", "comma separated lines to display (default: configured lines)")
	maxAge := flag.Duration("max-age", console.DefaultMaxAge, "drop readings older than this")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linetail: %v\n", err)
		os.Exit(1)
	}
	if *address != "" {
		cfg.Multicast.Group = *address
	}
	if *port != 0 {
		cfg.Multicast.Port = *port
	}
	cfg.Log.Format = "console"
	logger := logging.NewWithWriter(cfg.Log, "linetail", os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, displayLines(cfg, *lineList), *maxAge, logger); err != nil {
		logger.Error().Err(err).Msg("linetail failed")
		stop()
		os.Exit(1)
	}
	fmt.Println()
}

func run(ctx context.Context, cfg config.Config, lines []voltage.LineID, maxAge time.Duration, logger zerolog.Logger) error {
	table, err := console.NewTable(os.Stdout, lines, maxAge)
	if err != nil {
		return err
	}
	subscriber, err := eventing.NewSubscriber(cfg.Group(), eventing.WithSubscriberLogger(logger))
	if err != nil {
		return err
	}
	defer subscriber.Close()

	if err := table.Header(); err != nil {
		return err
	}
	for {
		msg, err := subscriber.Receive(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case err == nil:
			if err := table.Handle(msg, time.Now().UTC()); err != nil {
				return err
			}
		case errors.Is(err, eventing.ErrMalformedMessage):
			logger.Debug().Err(err).Msg("skipping message")
		case errors.Is(err, eventing.ErrReceiveTimeout):
			if err := subscriber.Resubscribe(); err != nil {
				logger.Warn().Err(err).Msg("could not re-subscribe")
			}
		default:
			logger.Warn().Err(err).Msg("receive failed")
			time.Sleep(time.Second)
			if err := subscriber.Resubscribe(); err != nil {
				logger.Warn().Err(err).Msg("could not re-subscribe")
			}
		}
	}
}

func displayLines(cfg config.Config, list string) []voltage.LineID {
	var lines []voltage.LineID
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			lines = append(lines, voltage.LineID(part))
		}
	}
	if len(lines) > 0 {
		return lines
	}
	for _, line := range cfg.Monitor.Lines {
		lines = append(lines, voltage.LineID(line.ID))
	}
	return lines
}
