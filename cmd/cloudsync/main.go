// CloudSync Core - cloud device synchronization engine
//
// CloudSync keeps a local registry of cloud-managed smart devices in sync
// with their vendor cloud: it polls device state on a rate-limited budget,
// dispatches commands with optimistic local updates, and republishes every
// change to local consumers over MQTT, InfluxDB, and a diagnostics API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/cloudsync-core/migrations"

	"github.com/nerrad567/cloudsync-core/internal/api"
	"github.com/nerrad567/cloudsync-core/internal/cloud"
	"github.com/nerrad567/cloudsync-core/internal/command"
	"github.com/nerrad567/cloudsync-core/internal/device"
	"github.com/nerrad567/cloudsync-core/internal/engine"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/config"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/database"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/cloudsync-core/internal/poller"
	"github.com/nerrad567/cloudsync-core/internal/resilience"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting CloudSync Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open attribute history database (optional)
	var historyRepo device.HistoryRepository
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		historyRepo = device.NewSQLiteHistoryRepository(db.DB)
	} else {
		log.Info("attribute history disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Cloud access: transport, credential session, rate-limited client,
	// typed API adapter.
	transport := cloud.NewHTTPTransport(cfg.Cloud.BaseURL, cfg.PerCallTimeout())
	store := cloud.NewLoginStore(transport, cfg.Credentials.Username, cfg.Credentials.Password)
	session := cloud.NewSession(store, cfg.TokenSafetyMargin())
	client := cloud.NewClient(transport, session, cloud.ClientConfig{
		Capacity:        cfg.Cloud.RateLimit.Capacity,
		RefillPerSecond: cfg.Cloud.RateLimit.RefillPerSecond,
		CommandReserve:  cfg.Cloud.RateLimit.CommandReserve,
		PerCallTimeout:  cfg.PerCallTimeout(),
	})
	client.SetLogger(log)
	cloudAPI := cloud.NewAPI(client)
	cloudAPI.SetLogger(log)

	// Sync core: registry, failure coordinator, poll scheduler, dispatcher.
	registry := device.NewRegistry()
	registry.SetLogger(log)

	coord := resilience.NewCoordinator(resilience.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Base:        cfg.BackoffBase(),
		Cap:         cfg.BackoffCap(),
		Jitter:      0.25,
	})

	scheduler := poller.NewScheduler(cloudAPI, registry, coord, poller.Config{
		Interval:       cfg.PollInterval(),
		CycleDeadline:  cfg.CycleDeadline(),
		Batched:        cfg.Poll.Batched,
		EnergyInterval: cfg.EnergyInterval(),
	})
	scheduler.SetLogger(log)

	dispatcher := command.NewDispatcher(cloudAPI, scheduler, registry, coord)
	dispatcher.SetLogger(log)

	eng := engine.New(engine.Deps{
		Logger:     log,
		Registry:   registry,
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		MQTT:       mqttClient,
		Influx:     influxClient,
		History:    historyRepo,
	})
	_ = eng // host listeners attach via engine.AddListener when embedded

	// Diagnostics API (optional)
	if cfg.API.Enabled {
		server, serverErr := api.New(api.Deps{
			Config:    cfg.API,
			Full:      cfg,
			Logger:    log,
			Registry:  registry,
			Scheduler: scheduler,
			History:   historyRepo,
			Version:   version,
		})
		if serverErr != nil {
			return fmt.Errorf("creating diagnostics server: %w", serverErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting diagnostics server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing diagnostics server", "error", closeErr)
			}
		}()
	} else {
		log.Info("diagnostics API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, polling started",
		"interval", cfg.PollInterval(),
		"batched", cfg.Poll.Batched,
	)

	// Blocks until shutdown; in-flight poll cycles complete before return.
	eng.Run(ctx)

	log.Info("shutdown signal received, cleaning up")
	log.Info("CloudSync Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CLOUDSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CLOUDSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all enabled infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection (may be nil if disabled)
//   - mqttClient: MQTT client (may be nil if disabled)
//   - influxClient: InfluxDB client (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
