package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	alarmapp "linemonitor/internal/alarms/application"
	"linemonitor/internal/alarms/infrastructure/hostinfo"
	alarmhttp "linemonitor/internal/alarms/interfaces/http"
	"linemonitor/internal/alarms/notify"
	"linemonitor/internal/config"
	"linemonitor/internal/eventing"
	"linemonitor/internal/logging"
	"linemonitor/internal/observability/metrics"
	"linemonitor/internal/statefile"
	"linemonitor/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (default $"+config.EnvPath+")")
	debug := flag.Bool("debug", false, "log debug messages as well")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "power notifier: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	logger, logCloser, err := logging.New(cfg.Log, "power-notifier")
	if err != nil {
		fmt.Fprintf(os.Stderr, "power notifier: log file: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error().Err(err).Msg("power notifier failed")
		_ = logCloser.Close()
		os.Exit(1)
	}
	logger.Info().Msg("power notifier stopped")
	_ = logCloser.Close()
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(reg)

	channel, err := newChannel(cfg.Notifier, logger)
	if err != nil {
		return err
	}
	notifier, err := notify.NewNotifier(channel, cfg.Notifier.BreakerSettings(),
		notify.WithLogger(logger),
		notify.WithSendTimeout(cfg.Notifier.SendTimeout),
		notify.WithDedupeWindow(cfg.Notifier.DedupeWindow),
	)
	if err != nil {
		return err
	}
	location, err := cfg.Notifier.Location()
	if err != nil {
		return err
	}
	tpl, err := notify.NewTemplate(cfg.Site, "", "", location)
	if err != nil {
		return err
	}
	dispatcher, err := notify.NewDispatcher(notifier, tpl,
		notify.WithWorkers(cfg.Notifier.Workers),
		notify.WithQueueSize(cfg.Notifier.QueueSize),
		notify.WithDispatcherLogger(logger),
		notify.WithDispatcherMetrics(mt),
	)
	if err != nil {
		return err
	}
	dispatcher.Start(ctx)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn().Err(err).Msg("notification dispatcher did not drain")
		}
	}()

	store, err := statefile.NewStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	debouncer, err := alarmapp.NewDebouncer(dispatcher, store, hostinfo.Uptime{},
		alarmapp.WithLogger(logger),
		alarmapp.WithMetrics(mt),
		alarmapp.WithFlickerMaxAge(cfg.Notifier.FlickerMaxAge),
		alarmapp.WithFlickerInterval(cfg.Notifier.FlickerInterval),
		alarmapp.WithClearUptime(cfg.Notifier.ClearUptime),
	)
	if err != nil {
		return err
	}
	if debouncer.Snapshot().InFailure {
		logger.Warn().Msg("resuming an open power failure")
	}

	subscriber, err := eventing.NewSubscriber(cfg.Group(),
		eventing.WithReceiveTimeout(cfg.Notifier.ReceiveTimeout),
		eventing.WithSubscriberLogger(logger),
		eventing.WithSubscriberMetrics(mt),
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer subscriber.Close()

	service, err := alarmapp.NewService(subscriber, debouncer, alarmapp.WithServiceLogger(logger))
	if err != nil {
		return err
	}

	tree, err := supervisor.New("power-notifier", logger, supervisor.DefaultConfig())
	if err != nil {
		return err
	}
	tree.AddWorker(service)
	if cfg.Notifier.MetricsAddr != "" {
		httpSvc, err := supervisor.NewHTTPService(cfg.Notifier.MetricsAddr, reg, supervisor.WithAccessLogger(logger))
		if err != nil {
			return err
		}
		status, err := alarmhttp.NewHandler(debouncer)
		if err != nil {
			return err
		}
		httpSvc.Handle(alarmhttp.StatusPath, status)
		tree.AddAPI(httpSvc)
	}

	logger.Info().
		Str("group", cfg.Multicast.Group).
		Int("port", cfg.Multicast.Port).
		Str("breaker", notifier.BreakerState()).
		Msg("power notifier started")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newChannel(cfg config.NotifierConfig, logger zerolog.Logger) (notify.Channel, error) {
	var channels []notify.Channel
	if cfg.Email.Host != "" {
		email, err := notify.NewEmailChannel(cfg.EmailChannelConfig())
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		channels = append(channels, webhook)
	}
	if len(channels) == 0 {
		logger.Warn().Msg("no email or webhook configured, notifications go to the log only")
		channels = append(channels, notify.NewLogChannel(logger))
	}
	return notify.NewMultiChannel(channels...), nil
}
