// Gray Logic Supervisor - keeps one worker process alive.
//
// glsupervisor launches the configured worker, restarts it after abnormal
// exits within a fixed retry budget, and relays SIGINT/SIGTERM so that the
// worker and the supervisor shut down together.
//
// Exit status: 0 when the worker exited cleanly or a shutdown signal was
// received, 1 when the restart budget ran out or startup failed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-supervisor/internal/api"
	"github.com/nerrad567/gray-logic-supervisor/internal/history"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-supervisor/internal/metrics"
	"github.com/nerrad567/gray-logic-supervisor/internal/reporting"
	"github.com/nerrad567/gray-logic-supervisor/internal/supervisor"
	"github.com/nerrad567/gray-logic-supervisor/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path, used only when it exists.
const defaultConfigPath = "configs/supervisor.yaml"

const (
	startupTimeout = 10 * time.Second
	drainTimeout   = 5 * time.Second
)

func main() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	err := run(context.Background(), signals, func() { signal.Stop(signals) })

	if err != nil && !errors.Is(err, supervisor.ErrRestartBudgetExhausted) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(supervisor.ExitCode(err))
}

// run wires the infrastructure around one supervisor and blocks until it
// reaches a terminal state.
//
// Parameters:
//   - ctx: Cancelling it is treated as a shutdown request
//   - signals: Every signal received becomes a shutdown request
//   - releaseSignals: Called once the supervisor has stopped, before
//     teardown, so a further signal gets the default hard-exit behaviour;
//     may be nil
//
// Returns:
//   - error: nil on a clean worker exit or shutdown, an error wrapping
//     supervisor.ErrRestartBudgetExhausted when the worker kept failing, or
//     a startup error (before a worker is spawned)
func run(ctx context.Context, signals <-chan os.Signal, releaseSignals func()) error {
	log := logging.Default()
	log.Info("starting Gray Logic Supervisor",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"name", cfg.Supervisor.Name,
		"binary", cfg.Worker.Binary,
		"max_restarts", cfg.Supervisor.MaxRestarts,
		"restart_delay", cfg.Supervisor.RestartDelay.String(),
	)

	sup := supervisor.New(supervisor.Config{
		Name:         cfg.Supervisor.Name,
		MaxRestarts:  cfg.Supervisor.MaxRestarts,
		RestartDelay: cfg.Supervisor.RestartDelay,
	}, &supervisor.ExecSpawner{
		Binary:  cfg.Worker.Binary,
		Args:    cfg.Worker.Args,
		WorkDir: cfg.Worker.WorkDir,
		PortEnv: cfg.Worker.PortEnv,
		Port:    cfg.Worker.Port,
	})
	sup.SetLogger(log.With("component", "supervisor"))
	log = log.With("run_id", sup.RunID())

	dispatcher := reporting.NewDispatcher(cfg.Reporting.QueueSize)
	dispatcher.SetSinkTimeout(cfg.Reporting.GetSinkTimeout())
	dispatcher.SetLogger(log.With("component", "reporting"))

	// Enabled components report through GET /api/v1/health.
	var apiDeps api.Deps

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	defer cancelStart()

	// History
	if cfg.Database.Enabled {
		db, repo, dbErr := openHistory(startCtx, cfg, log, sup.RunID())
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		dispatcher.AddSink("history", repo)
		apiDeps.History = repo
		apiDeps.Database = db
	}

	// MQTT
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, cfg.Supervisor.Name)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))

		if cmdErr := mqttClient.OnCommand(commandHandler(sup, log)); cmdErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", cmdErr)
		}
		dispatcher.AddSink("mqtt", reporting.NewMQTTSink(mqttClient, sup.Stats))
		apiDeps.MQTT = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"status_topic", mqtt.Topics{}.Status(cfg.Supervisor.Name),
		)
	}

	// InfluxDB
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, cfg.Supervisor.Name)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLogger(log.With("component", "influxdb"))
		dispatcher.AddSink("influxdb", reporting.NewInfluxSink(influxClient))
		apiDeps.InfluxDB = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Metrics and status API
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Supervisor.Name, cfg.Supervisor.MaxRestarts, sup.UptimeSeconds)
		sup.AddObserver(collector)
		apiDeps.Metrics = collector.Handler()
		apiDeps.MetricsPath = cfg.Metrics.Path
	}
	if cfg.API.Enabled {
		apiDeps.Config = cfg.API
		apiDeps.Logger = log.With("component", "api")
		apiDeps.Supervisor = sup
		apiDeps.Version = version
		apiServer, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server listening",
			"addr", apiServer.Addr(),
			"metrics", cfg.Metrics.Enabled,
		)
	}

	sup.AddObserver(dispatcher)
	dispatcher.Start()
	// Registered last so it drains before the sinks above are closed.
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if closeErr := dispatcher.Close(drainCtx); closeErr != nil {
			log.Warn("reporting did not drain", "error", closeErr)
		}
		if dropped := dispatcher.Dropped(); dropped > 0 {
			log.Warn("transitions dropped by reporting", "count", dropped)
		}
	}()

	done := make(chan struct{})
	go forwardSignals(signals, done, sup, log)

	err = sup.Run(ctx)

	close(done)
	if releaseSignals != nil {
		releaseSignals()
	}

	stats := sup.Stats()
	switch {
	case err == nil:
		log.Info("supervisor stopped",
			"state", string(stats.State),
			"spawns", stats.Spawns,
			"restarts", stats.RestartCount,
			"uptime_seconds", stats.UptimeSeconds,
		)
	case errors.Is(err, supervisor.ErrRestartBudgetExhausted):
		log.Error("supervisor gave up",
			"state", string(stats.State),
			"spawns", stats.Spawns,
			"restarts", stats.RestartCount,
			"last_error", stats.LastError,
		)
	default:
		log.Error("supervisor failed", "error", err)
	}
	return err
}

// openHistory opens and migrates the database, logs how the previous run
// ended and applies the retention policy.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger, runID string) (*database.DB, *history.Repository, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	if applied > 0 {
		log.Info("history schema migrated", "applied", applied)
	}

	repo := history.NewRepository(db.DB)

	last, err := repo.LastRun(ctx, runID)
	switch {
	case err == nil:
		log.Info("previous run",
			"run_id", last.RunID,
			"state", string(last.To),
			"restarts", last.RestartCount,
			"at", last.At,
		)
	case errors.Is(err, history.ErrNoHistory):
		log.Debug("no previous run recorded")
	default:
		log.Warn("reading previous run failed", "error", err)
	}

	if retention := cfg.Retention(); retention > 0 {
		pruned, err := repo.Prune(ctx, retention)
		if err != nil {
			log.Warn("pruning history failed", "error", err)
		} else if pruned > 0 {
			log.Info("history pruned", "rows", pruned, "older_than", retention.String())
		}
	}

	log.Info("history database ready", "path", db.Path())
	return db, repo, nil
}

// commandHandler turns MQTT shutdown commands into shutdown requests.
// The client only delivers commands that passed mqtt.ParseCommand.
func commandHandler(sup *supervisor.Supervisor, log *logging.Logger) func(mqtt.Command) {
	return func(c mqtt.Command) {
		log.Info("shutdown requested over MQTT", "reason", c.Reason)
		sup.RequestShutdown(syscall.SIGTERM)
	}
}

// forwardSignals turns every received signal into a shutdown request until
// done is closed.
func forwardSignals(signals <-chan os.Signal, done <-chan struct{}, sup *supervisor.Supervisor, log *logging.Logger) {
	for {
		select {
		case sig := <-signals:
			log.Info("signal received", "signal", sig.String())
			sup.RequestShutdown(sig)
		case <-done:
			return
		}
	}
}

// getConfigPath returns GLSUPERVISOR_CONFIG if set, otherwise the default
// path when that file exists, otherwise "" (defaults plus env).
func getConfigPath() string {
	if path := os.Getenv("GLSUPERVISOR_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
