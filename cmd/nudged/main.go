package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/channels"
	"github.com/basket/nudge/internal/config"
	"github.com/basket/nudge/internal/host"
	otelPkg "github.com/basket/nudge/internal/otel"
	"github.com/basket/nudge/internal/reminder"
	"github.com/basket/nudge/internal/sweep"
	"github.com/basket/nudge/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                          Start the reminder daemon
  %s -version                 Print the version and exit

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  NUDGE_HOME              Data directory (default: ~/.nudge)
  NUDGE_HOST_URL          Agent host base URL (default: http://127.0.0.1:4096)
  NUDGE_HOST_TOKEN        Bearer token for the agent host
  NUDGE_DISABLED          Set to 1 to start with reminders disabled
  TELEGRAM_TOKEN          Token for the Telegram notification channel
`)
}

func main() {
	loadDotEnv(".env")

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println("nudged", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	if cfg.LoadWarning != "" {
		logger.Warn("config.yaml problem, running on defaults", "warning", cfg.LoadWarning)
	}
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "enabled", cfg.Enabled)

	// OpenTelemetry is a no-op when disabled.
	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	eventBus := bus.New()

	hostClient := host.NewClient(host.Config{
		BaseURL: cfg.HostURL,
		Token:   cfg.HostToken,
		Bus:     eventBus,
		Logger:  logger,
		Metrics: metrics,
	})
	go hostClient.Run(ctx)

	engine := reminder.NewEngine(reminder.Options{
		Config: reminder.Config{
			Enabled:             cfg.Enabled,
			TriggerStatuses:     cfg.TriggerStatuses,
			MaxPerTodo:          cfg.MaxPerTodo,
			IdleDelay:           cfg.IdleDelay(),
			Cooldown:            cfg.Cooldown(),
			MessageTemplate:     cfg.MessageTemplate,
			ShowNotifications:   cfg.ShowNotifications,
			Synthetic:           cfg.Synthetic,
			CancelOnAnyActivity: cfg.CancelOnAnyActivity,
		},
		Todos:   hostClient,
		Prompts: hostClient,
		Notices: hostClient,
		Bus:     eventBus,
		Logger:  logger,
		Metrics: metrics,
	})
	engine.Start(ctx)
	defer engine.Stop()

	if cfg.SweepCron != "" {
		sweeper, err := sweep.NewScheduler(sweep.Config{
			Expr:   cfg.SweepCron,
			Engine: engine,
			Logger: logger,
		})
		if err != nil {
			logger.Warn("sweep disabled: bad cron expression", "error", err)
		} else {
			sweeper.Start(ctx)
			defer sweeper.Stop()
		}
	}

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	} else {
		go func() {
			for ev := range confWatcher.Events() {
				// Reminder policy is wired into the running engine at startup;
				// a changed file takes effect on the next restart.
				logger.Warn("config.yaml changed on disk, restart nudged to apply",
					"path", ev.Path, "op", ev.Op.String())
			}
		}()
	}

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			logger.Warn("telegram channel enabled but token is missing")
		} else {
			tg := channels.NewTelegramChannel(
				cfg.Channels.Telegram.Token,
				cfg.Channels.Telegram.ChatIDs,
				cfg.Channels.Telegram.NotifyOnSend,
				eventBus,
				logger,
			)
			go func() {
				if err := tg.Start(ctx); err != nil {
					logger.Error("telegram channel failed", "error", err)
				}
			}()
		}
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("nudged %s watching %s (Ctrl-C to stop)\n", Version, cfg.HostURL)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"nudged","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
