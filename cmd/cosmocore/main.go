// Cosmo Core - Smart Home Automation Core
//
// Cosmo Core is the hub process of the Cosmo platform: it holds the
// canonical state of every entity, evaluates automation rules against
// state transitions, and dispatches the resulting commands to
// integration adapters over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/cosmo-home/cosmocore/migrations"

	"github.com/cosmo-home/cosmocore/internal/api"
	"github.com/cosmo-home/cosmocore/internal/bridges/mqttbridge"
	"github.com/cosmo-home/cosmocore/internal/bus"
	"github.com/cosmo-home/cosmocore/internal/dispatch"
	"github.com/cosmo-home/cosmocore/internal/engine"
	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/history"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/config"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/database"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/influxdb"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/logging"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/mqtt"
	"github.com/cosmo-home/cosmocore/internal/rule"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main so exits are
// handled in one place.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Cosmo Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	location, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %q: %w", cfg.Site.Timezone, err)
	}

	// Database and migrations.
	db, err := database.Open(ctx, database.Config{
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

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Event bus, entity registry, crash-recovery snapshots.
	eventBus := bus.New(cfg.Bus.SubscriberBuffer, log.With("component", "bus"))
	entities := entity.NewRegistry(eventBus, log.With("component", "registry"))
	snapshots := entity.NewSnapshotStore(db)

	restored, err := snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading entity snapshots: %w", err)
	}
	if len(restored) > 0 {
		if err := entities.LoadState(restored); err != nil {
			return fmt.Errorf("restoring entity state: %w", err)
		}
		log.Info("entity state restored", "entities", len(restored))
	}

	// Rule registry: persisted rules plus the optional seed file.
	rules := rule.NewRegistry(rule.NewRepository(db), log.With("component", "rules"))
	if err := rules.Load(ctx); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	if cfg.Rules.File != "" {
		if err := rule.Seed(ctx, rules, cfg.Rules.File); err != nil {
			return fmt.Errorf("seeding rules from %s: %w", cfg.Rules.File, err)
		}
	}
	log.Info("rules loaded", "count", rules.Count())

	// Command dispatcher.
	dispatcher := dispatch.New(dispatch.Config{
		DefaultTimeout: cfg.DispatchTimeout(),
		RetryCount:     cfg.Dispatcher.RetryCount,
		RetryBackoff:   cfg.DispatchBackoff(),
		QueueDepth:     cfg.Dispatcher.QueueDepth,
	}, entities, log.With("component", "dispatch"))
	defer dispatcher.Close()

	// Automation engine.
	eng := engine.New(engine.Config{
		MaxFiringTime: time.Duration(cfg.Engine.MaxFiringTime) * time.Second,
		Latitude:      cfg.Site.Location.Latitude,
		Longitude:     cfg.Site.Location.Longitude,
		Location:      location,
	}, eventBus, entities, dispatcher, rules, log.With("component", "engine"))
	eng.Start(ctx)
	defer eng.Stop()
	log.Info("automation engine started")

	// MQTT: adapter bridge plus the external event mirror.
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
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge := mqttbridge.New(mqttClient, entities, log.With("component", "bridge"))
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		dispatcher.SetDefaultAdapter(bridge)

		mirror := mqttbridge.NewMirror(mqttClient, eventBus, log.With("component", "mirror"))
		go mirror.Run(ctx)
	} else {
		log.Info("MQTT disabled; no adapters will connect")
	}

	// State history recorder (optional).
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		recorder := history.New(influxClient, eventBus, log.With("component", "history"))
		go recorder.Run(ctx)
		log.Info("state history recorder started", "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled; state history not recorded")
	}

	// HTTP API and WebSocket stream (optional).
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.With("component", "api"),
			Entities:   entities,
			Rules:      rules,
			Engine:     eng,
			Dispatcher: dispatcher,
			Events:     eventBus,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Dump entity state for crash recovery before the deferred teardown.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := snapshots.Save(saveCtx, entities.DumpState()); err != nil {
		log.Error("error saving entity snapshots", "error", err)
	} else {
		log.Info("entity state saved", "entities", entities.Count())
	}

	log.Info("Cosmo Core stopped")
	return nil
}

// loadConfig reads COSMO_CONFIG or the default path. A missing default
// file falls back to built-in defaults so a bare binary still starts.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("COSMO_CONFIG"); path != "" {
		return config.Load(path)
	}

	if _, err := os.Stat(defaultConfigPath); os.IsNotExist(err) {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(defaultConfigPath)
}

// healthCheck verifies the infrastructure connections that are up.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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
