// NCP Monitor - IS-12 telemetry bridge
//
// This is the main entry point for the NCP monitor. It connects to the
// control endpoint of every configured (or registry-discovered) NMOS device,
// subscribes to its BCP-008 receiver and sender monitors, and streams each
// property change as an InfluxDB line protocol record to Telegraf and the
// other enabled sinks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/ncp-monitor/internal/api"
	"github.com/nerrad567/ncp-monitor/internal/audit"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/database"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/influxdb"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/logging"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/telegraf"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/tsdb"
	"github.com/nerrad567/ncp-monitor/internal/inventory"
	"github.com/nerrad567/ncp-monitor/internal/mapping"
	"github.com/nerrad567/ncp-monitor/internal/monitor"
	"github.com/nerrad567/ncp-monitor/internal/ncp"
	"github.com/nerrad567/ncp-monitor/internal/registry"
	"github.com/nerrad567/ncp-monitor/migrations"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting NCP monitor",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	catalog, err := loadCatalog(cfg.Mapping)
	if err != nil {
		return fmt.Errorf("loading mapping catalog: %w", err)
	}
	log.Info("mapping catalog loaded", "categories", catalog.Categories())

	// Components checked by GET /api/v1/health
	checks := map[string]api.HealthChecker{}

	// Device inventory and journal (optional)
	var db *database.DB
	var recorder *inventory.Recorder
	var journal *audit.SQLiteRepository
	if cfg.Database.Enabled {
		db, recorder, err = openInventory(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			recorder.Stop()
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		checks["database"] = db
		journal = audit.NewSQLiteRepository(db.DB)
	} else {
		log.Info("device inventory disabled")
	}

	// Prometheus collectors
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := monitor.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// Sinks
	var sinks []monitor.Sink
	var points []monitor.PointWriter

	if cfg.Telegraf.Enabled {
		writer := telegraf.New(cfg.Telegraf)
		writer.SetLogger(log.Component("telegraf"))
		if connErr := writer.Connect(ctx); connErr != nil {
			// The writer keeps redialling; lines are dropped until it is up.
			log.Warn("telegraf not reachable yet", "address", cfg.Telegraf.Address(), "error", connErr)
		}
		defer func() {
			log.Info("closing telegraf stream", "stats", writer.Stats())
			if closeErr := writer.Close(); closeErr != nil {
				log.Error("error closing telegraf stream", "error", closeErr)
			}
		}()
		sinks = append(sinks, writer)
		checks["telegraf"] = writer
	} else {
		log.Info("telegraf disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		sinks = append(sinks, influxClient)
		points = append(points, influxClient)
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.TSDB.Enabled {
		tsdbClient, connErr := tsdb.Connect(ctx, cfg.TSDB)
		if connErr != nil {
			return fmt.Errorf("connecting to TSDB: %w", connErr)
		}
		defer func() {
			log.Info("closing TSDB connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing TSDB", "error", closeErr)
			}
		}()
		tsdbClient.SetOnError(func(err error) {
			log.Error("TSDB write error", "error", err)
		})
		log.Info("TSDB connected", "url", cfg.TSDB.URL)
		sinks = append(sinks, tsdbClient)
		points = append(points, tsdbClient)
		checks["tsdb"] = tsdbClient
	} else {
		log.Info("TSDB disabled")
	}

	// MQTT: health, commands and optionally line publishing
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqtt.SetLibraryLogger(log.Component("paho"))
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
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		if cfg.MQTT.PublishMetrics {
			sinks = append(sinks, mqttClient)
		}
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	sink := monitor.NewFanout(metrics, sinks...)
	log.Info("metrics sinks ready", "sinks", sink.Names())

	// Device resolution
	var registryClient *registry.Client
	if cfg.Registry.URL != "" {
		registryClient, err = registry.New(cfg.Registry)
		if err != nil {
			return fmt.Errorf("creating registry client: %w", err)
		}
		log.Info("registry configured", "url", cfg.Registry.URL, "version", cfg.Registry.Version)
	}
	resolver := monitor.NewRegistryResolver(registryClient, log.Component("registry"))

	deps := monitor.Deps{
		Encoder: mapping.NewEncoder(catalog),
		Sink:    sink,
		Metrics: metrics,
		Logger:  log.Component("monitor"),
	}
	if recorder != nil {
		deps.Inventory = recorder
		deps.Journal = journal
	}

	supervisor := monitor.NewSupervisor(supervisorConfig(cfg, log), resolver, deps)
	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("starting monitors: %w", err)
	}
	defer func() {
		log.Info("stopping monitors")
		supervisor.Stop()
	}()
	log.Info("monitors started", "devices", len(cfg.Devices), "discover", cfg.Registry.Discover)

	// Health reporting and operator commands over MQTT
	var topics mqtt.Topics
	var publisher monitor.Publisher
	if mqttClient != nil {
		topics = mqttClient.Topics()
		publisher = mqttClient

		var target monitor.Rediscoverer = supervisor
		if journal != nil {
			target = audit.JournalRediscover(supervisor, journal, audit.SourceMQTT, log)
		}
		handler := monitor.CommandHandler(topics, target, log.Component("commands"))
		if subErr := mqttClient.Subscribe(topics.AllCommands(), byte(cfg.MQTT.QoS), handler); subErr != nil {
			return fmt.Errorf("subscribing to commands: %w", subErr)
		}
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	healthDone := make(chan struct{})
	reporter := monitor.NewHealthReporter(monitor.HealthConfig{
		SiteID:   cfg.Site.ID,
		Version:  version,
		Interval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
		Topics:   topics,
	}, supervisor, publisher, log.Component("health"), points...)
	go func() {
		defer close(healthDone)
		reporter.Run(healthCtx)
	}()
	// Runs before the sink closes so the stopping report still goes out.
	defer func() {
		stopHealth()
		<-healthDone
	}()

	// Status API (optional)
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Monitors: supervisor,
			Checks:   checks,
			Gatherer: reg,
			Version:  version,
		}
		if recorder != nil {
			apiDeps.Inventory = recorder
			apiDeps.Audit = journal
			apiDeps.DB = db.DB
		}
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
	} else {
		log.Info("status API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, health reporter, monitors, MQTT, TSDB, InfluxDB, Telegraf, database.

	log.Info("NCP monitor stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NCPMONITOR_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NCPMONITOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadCatalog reads the configured mapping file, or returns the built-in
// catalog.
func loadCatalog(cfg config.MappingConfig) (mapping.Catalog, error) {
	if cfg.File == "" {
		return mapping.Default(), nil
	}
	return mapping.Load(cfg.File)
}

// openInventory opens the database, applies migrations and starts the
// inventory recorder.
func openInventory(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, *inventory.Recorder, error) {
	db, err := database.Open(ctx, database.FromConfig(cfg, migrations.FS))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Path)

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	recorder := inventory.NewRecorder(db.DB)
	recorder.SetLogger(log.Component("inventory"))
	if err := recorder.Start(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("starting inventory recorder: %w", err)
	}
	return db, recorder, nil
}

// supervisorConfig maps the ncp and registry sections onto the supervisor.
func supervisorConfig(cfg *config.Config, log *logging.Logger) monitor.SupervisorConfig {
	return monitor.SupervisorConfig{
		Devices:          cfg.Devices,
		Discover:         cfg.Registry.Discover,
		DiscoverInterval: cfg.DiscoverIntervalDuration(),
		InitialDelay:     time.Duration(cfg.NCP.Reconnect.InitialDelay) * time.Second,
		MaxDelay:         time.Duration(cfg.NCP.Reconnect.MaxDelay) * time.Second,
		Options: monitor.Options{
			Session: ncp.SessionConfig{
				ConnectTimeout:        time.Duration(cfg.NCP.ConnectTimeout) * time.Second,
				CommandTimeout:        cfg.NCP.CommandTimeoutDuration(),
				PingInterval:          time.Duration(cfg.NCP.PingInterval) * time.Second,
				PongTimeout:           time.Duration(cfg.NCP.PongTimeout) * time.Second,
				NotificationQueueSize: cfg.NCP.NotificationQueueSize,
				Logger:                log.Component("ncp"),
			},
			Snapshot:        cfg.NCP.Snapshot,
			WalkDeviceModel: cfg.NCP.WalkDeviceModel,
			MaxWalkDepth:    cfg.NCP.MaxWalkDepth,
		},
	}
}
