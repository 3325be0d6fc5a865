package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"spendbot/internal/amqp"
	"spendbot/internal/bot"
	appcli "spendbot/internal/cli"
	"spendbot/internal/config"
	"spendbot/internal/firefly"
	ophttp "spendbot/internal/http"
	"spendbot/internal/log"
	"spendbot/internal/matrix"
	"spendbot/internal/metrics"
	"spendbot/internal/parser"
	"spendbot/internal/services"
)

const opsShutdownTimeout = 5 * time.Second

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the bot until interrupted",
		Action: func(c *cli.Context) error {
			if err := appcli.LoadEnvFile(c.String("env-file")); err != nil {
				return err
			}
			path := appcli.ResolveConfigPath(c.String("config"), c.IsSet("config"))
			cfg, err := appcli.LoadAndValidateConfig(path)
			if err != nil {
				return err
			}
			logger, err := appcli.SetupLogger(cfg.Log, os.Stdout)
			if err != nil {
				return err
			}
			logger.Info("Starting spendbot",
				"version", version,
				"intake", cfg.Bot.Intake,
				"config_file", path)
			logger.WithComponent(log.ComponentConfig).Debug("Effective configuration",
				"config", cfg.Redacted())

			ctx, cancel := appcli.GracefulShutdown(c.Context, logger)
			defer cancel()

			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	var readiness []ophttp.Option

	// Journal
	journal, err := appcli.InitJournal(logger, cfg.Journal.SQLitePath)
	if err != nil {
		return err
	}
	var journalWriter services.JournalWriter
	if journal != nil {
		defer journal.Close()
		journalWriter = journal
		readiness = append(readiness,
			ophttp.WithCheck("journal", journal.Ping),
			ophttp.WithJournal(journal))
	}

	// Broker
	var broker *amqp.Client
	var publisher services.OutcomePublisher
	if cfg.AMQP.URL != "" {
		amqpCfg := amqp.Config{
			URL:         cfg.AMQP.URL,
			Exchange:    cfg.AMQP.Exchange,
			ReactionKey: cfg.AMQP.ReactionKey,
			OutcomeKey:  cfg.AMQP.OutcomeKey,
		}
		if cfg.Bot.Intake == config.IntakeAMQP {
			amqpCfg.CommandQueue = cfg.AMQP.CommandQueue
			amqpCfg.Prefetch = cfg.Bot.Workers + cfg.Bot.QueueSize
		}
		broker, err = amqp.NewClient(ctx, amqpCfg, logger)
		if err != nil {
			return fmt.Errorf("connect to AMQP: %w", err)
		}
		defer broker.Close()
		if cfg.AMQP.OutcomeKey != "" {
			publisher = broker
		}
		readiness = append(readiness, ophttp.WithCheck("amqp", func(context.Context) error {
			if !broker.Healthy() {
				return errors.New("broker connection unavailable")
			}
			return nil
		}))
	}

	// Command pipeline
	scope, err := parser.ParseNoteScope(cfg.Bot.NoteScope)
	if err != nil {
		return err
	}
	p := parser.New(
		parser.WithNoteScope(scope),
		parser.WithSourceName(cfg.Bot.SourceName),
		parser.WithTag(cfg.Bot.Tag),
	)
	ledger := firefly.NewClient(
		cfg.Firefly.BaseURL,
		cfg.Firefly.Token,
		&http.Client{Timeout: cfg.Firefly.Timeout.Duration},
		logger,
		firefly.WithObserver(m),
	)

	var (
		reactor   bot.Reactor
		botUserID string
		mx        *matrix.Client
	)
	switch cfg.Bot.Intake {
	case config.IntakeMatrix:
		mx, err = matrix.NewClient(matrix.Config{
			Homeserver: cfg.Matrix.Homeserver,
			UserID:     cfg.Matrix.UserID,
			Password:   cfg.Matrix.Password,
		}, logger)
		if err != nil {
			return err
		}
		if err := mx.Login(ctx); err != nil {
			return err
		}
		reactor = mx
		botUserID = mx.UserID()
		readiness = append(readiness, ophttp.WithCheck("matrix", mx.Ready))
	case config.IntakeAMQP:
		reactor = broker
	}

	recorder := services.NewOutcomeRecorder(journalWriter, publisher, m, logger)
	handler := bot.NewHandler(bot.HandlerConfig{
		Prefix:       cfg.Bot.Prefix,
		Command:      cfg.Bot.Command,
		BotUserID:    botUserID,
		ReactTimeout: cfg.Bot.ReactTimeout.Duration,
	}, p, ledger, reactor, logger, bot.WithRecorder(recorder), bot.WithObserver(m))

	dispatcher := bot.NewDispatcher(handler, bot.DispatcherConfig{
		Workers:        cfg.Bot.Workers,
		QueueSize:      cfg.Bot.QueueSize,
		HandlerTimeout: cfg.Bot.HandlerTimeout.Duration,
	}, m, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		var err error
		switch cfg.Bot.Intake {
		case config.IntakeMatrix:
			err = mx.Run(gctx, dispatcher)
		case config.IntakeAMQP:
			err = broker.ConsumeCommands(gctx, dispatcher.Dispatch)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.HTTP.Addr != "" {
		ops := ophttp.NewServer(cfg.HTTP.Addr, registry, m, logger, readiness...)
		g.Go(func() error {
			return ops.Run(gctx, opsShutdownTimeout)
		})
	}

	err = g.Wait()
	logger.Info("spendbot stopped", log.FieldOperation, log.OpShutdown)
	return err
}
