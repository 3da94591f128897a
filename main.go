package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"linemonitor/internal/config"
	"linemonitor/internal/eventing"
	"linemonitor/internal/logging"
	"linemonitor/internal/observability/metrics"
	"linemonitor/internal/statefile"
	"linemonitor/internal/supervisor"
	"linemonitor/internal/voltage/application"
	voltage "linemonitor/internal/voltage/domain"
	"linemonitor/internal/voltage/infrastructure/lvmb"
	"linemonitor/internal/voltage/infrastructure/markers"
	"linemonitor/internal/voltage/infrastructure/recorder"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (default $"+config.EnvPath+")")
	debug := flag.Bool("debug", false, "log debug messages as well")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "line monitor: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	logger, logCloser, err := logging.New(cfg.Log, "line-monitor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "line monitor: log file: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error().Err(err).Msg("line monitor failed")
		_ = logCloser.Close()
		os.Exit(1)
	}
	logger.Info().Msg("line monitor stopped")
	_ = logCloser.Close()
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(reg)

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn().Err(err).Msg("close failed")
			}
		}
	}()

	meter, err := lvmb.Open(cfg.Monitor.SerialPort, cfg.Monitor.Baud, cfg.Monitor.ReadTimeout, lvmb.Options{
		Columns: cfg.Monitor.Columns(),
		Retries: cfg.Monitor.ReadRetries,
	})
	if err != nil {
		return fmt.Errorf("open meter: %w", err)
	}
	closers = append(closers, meter)
	logger.Info().Str("port", cfg.Monitor.SerialPort).Int("baud", cfg.Monitor.Baud).Msg("meter opened")

	store, err := statefile.NewStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	outageMarkers := markers.NewOutageMarkers(store)

	publisher, err := newPublisher(cfg, logger, mt, &closers)
	if err != nil {
		return err
	}

	classifiers := make([]*application.Classifier, 0, len(cfg.Monitor.Lines))
	for _, line := range cfg.Monitor.Lines {
		c, err := application.NewClassifier(voltage.LineID(line.ID), cfg.Monitor.Thresholds(line), publisher,
			application.WithOutageMarkers(outageMarkers),
			application.WithClassifierLogger(logger),
			application.WithClassifierMetrics(mt),
			application.WithAveragingWindow(cfg.Monitor.AveragingWindow),
		)
		if err != nil {
			return fmt.Errorf("line %s: %w", line.ID, err)
		}
		classifiers = append(classifiers, c)
	}

	monitorOpts := []application.MonitorOption{
		application.WithPollInterval(cfg.Monitor.PollInterval),
		application.WithMonitorLogger(logger),
		application.WithMonitorMetrics(mt),
	}
	if cfg.Monitor.RecordingDir != "" {
		rec, err := recorder.New(cfg.Monitor.RecordingDir)
		if err != nil {
			return fmt.Errorf("recording dir: %w", err)
		}
		closers = append(closers, rec)
		monitorOpts = append(monitorOpts, application.WithRecorder(rec))
	}
	monitor, err := application.NewMonitor(meter, classifiers, monitorOpts...)
	if err != nil {
		return err
	}
	if restored := monitor.Restore(); len(restored) > 0 {
		logger.Warn().Interface("lines", restored).Msg("resuming outages recorded before restart")
	}

	tree, err := supervisor.New("line-monitor", logger, supervisor.DefaultConfig())
	if err != nil {
		return err
	}
	tree.AddWorker(monitor)
	if cfg.Monitor.MetricsAddr != "" {
		httpSvc, err := supervisor.NewHTTPService(cfg.Monitor.MetricsAddr, reg, supervisor.WithAccessLogger(logger))
		if err != nil {
			return err
		}
		tree.AddAPI(httpSvc)
	}

	logger.Info().
		Str("group", cfg.Multicast.Group).
		Int("port", cfg.Multicast.Port).
		Int("lines", len(classifiers)).
		Msg("line monitor started")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newPublisher(cfg config.Config, logger zerolog.Logger, mt *metrics.Metrics, closers *[]io.Closer) (voltage.Publisher, error) {
	opts := []eventing.PublisherOption{eventing.WithLogger(logger), eventing.WithMetrics(mt)}

	mcast, err := eventing.NewMulticastPublisher(cfg.Group(), opts...)
	if err != nil {
		return nil, fmt.Errorf("multicast publisher: %w", err)
	}
	*closers = append(*closers, mcast)
	publishers := []voltage.Publisher{mcast}

	if cfg.Monitor.MQTT.Broker != "" {
		mirror, err := eventing.NewMQTTPublisher(eventing.MQTTConfig{
			Broker:     cfg.Monitor.MQTT.Broker,
			ClientID:   cfg.Monitor.MQTT.ClientID,
			Topic:      cfg.Monitor.MQTT.Topic,
			AlarmTopic: cfg.Monitor.MQTT.AlarmTopic,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		*closers = append(*closers, mirror)
		publishers = append(publishers, mirror)
		logger.Info().Str("broker", cfg.Monitor.MQTT.Broker).Msg("mirroring events to mqtt")
	}
	return eventing.NewMultiPublisher(publishers...), nil
}
