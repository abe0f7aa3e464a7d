// PowerView Bridge - Hunter Douglas PowerView hub integration
//
// pvbridge discovers the shades and scenes on a PowerView hub, registers
// them with a home-automation host and keeps their state in sync from the
// hub's event stream (Gen-3) or by polling (Gen-2). It reconciles scene
// active state from shade positions and accepts commands over MQTT and a
// REST API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/nerrad567/powerview-bridge/internal/api"
	"github.com/nerrad567/powerview-bridge/internal/audit"
	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/events"
	"github.com/nerrad567/powerview-bridge/internal/host"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/config"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/database"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
	"github.com/nerrad567/powerview-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// probeTimeout bounds hub generation detection at startup.
const probeTimeout = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring: each component is optional or mode-dependent
	appVersion := buildVersion()
	log := logging.Default()
	log.Info("starting PowerView bridge",
		"version", appVersion,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, appVersion)
	log.Info("configuration loaded",
		"path", configPath,
		"host_mode", cfg.Host.Mode,
		"level", cfg.Logging.Level,
	)

	// Hub client
	gw := powerview.NewClient(cfg.Hub.Address, powerview.Generation(cfg.Hub.Generation),
		cfg.GetHubRequestTimeout(), powerview.WithLogger(log.Component("powerview")))
	probeCtx, cancelProbe := context.WithTimeout(ctx, probeTimeout)
	gen, err := gw.DetectGeneration(probeCtx)
	cancelProbe()
	if err != nil {
		return fmt.Errorf("detecting hub generation at %s: %w", cfg.Hub.Address, err)
	}
	log.Info("PowerView hub ready", "address", gw.BaseURL(), "generation", gen.String())

	gate := engine.NewGate()
	if cfg.Host.Mode == config.HostModeMQTT {
		gate = engine.NewGate(host.MQTTStartupDeliveries...)
	}
	waiter := engine.NewCreationWaiter()
	var reporters []engine.StatusReporter
	var registrar engine.Registrar
	var mqttClient *mqtt.Client
	var link *host.MQTTLink

	// Database: the local host's node table and the command log
	var db *database.DB
	var commandLog audit.Repository
	if cfg.Host.Mode == config.HostModeLocal || cfg.Database.CommandLog {
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
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database ready", "path", cfg.Database.Path, "command_log", cfg.Database.CommandLog)

		if cfg.Database.CommandLog {
			commandLog = audit.NewSQLiteRepository(db.DB)
		}
	}

	switch cfg.Host.Mode {
	case config.HostModeMQTT:
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Host.TopicPrefix})
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		link = host.NewMQTTLink(mqttClient,
			host.WithLinkAcks(waiter),
			host.WithLinkGate(gate),
			host.WithLinkLogger(log.Component("host")),
			host.WithQoS(byte(cfg.MQTT.QoS)), // #nosec G115 -- validated 0..2
		)
		registrar = link
		reporters = append(reporters, link)

	default:
		store := host.NewNodeStore(db,
			host.WithAcks(waiter),
			host.WithGate(gate),
			host.WithStoreLogger(log.Component("host")),
		)
		if err := deliverLocalSettings(ctx, store, cfg, gen); err != nil {
			return err
		}
		registrar = store
	}

	// Telemetry (optional)
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
		reporters = append(reporters, influxClient)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var wsHub *api.Hub
	if cfg.API.Enabled {
		wsHub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		reporters = append(reporters, wsHub)
	}

	opts := []engine.Option{
		engine.WithLogger(log.Component("engine")),
		engine.WithGate(gate),
		engine.WithCreationWaiter(waiter),
	}
	for _, r := range reporters {
		opts = append(opts, engine.WithReporter(r))
	}
	eng := engine.New(gw, registrar, engineConfig(cfg), opts...)

	if link != nil {
		var handler host.CommandHandler = eng
		if commandLog != nil {
			handler = audit.NewRecorder(eng, commandLog, audit.SourceMQTT, log.Component("audit"))
		}
		link.SetCommandHandler(handler)
		if err := link.Start(); err != nil {
			return fmt.Errorf("starting host link: %w", err)
		}
		log.Info("host link started", "prefix", mqttClient.Topics().Prefix)
	}

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Engine:   eng,
			Hub:      wsHub,
			Audit:    commandLog,
			Version:  appVersion,
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
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete")

	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	log.Info("PowerView bridge stopped")
	return nil
}

// buildVersion prefers the ldflags version and falls back to the module
// and VCS details embedded by the Go toolchain.
func buildVersion() string {
	if version != "dev" {
		return version
	}
	return versioninfo.Short()
}

// getConfigPath returns the configuration file path.
// Uses PVBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PVBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// engineConfig converts the file configuration into engine timings.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Stream: events.ListenerConfig{
			Backoff: events.Backoff{
				Base: time.Duration(cfg.Stream.BackoffBase) * time.Second,
				Max:  time.Duration(cfg.Stream.BackoffMax) * time.Second,
			},
			MaxRetries:  cfg.Stream.MaxRetries,
			IdleTimeout: time.Duration(cfg.Stream.IdleTimeout) * time.Second,
		},
		StartupTimeout:   cfg.GetStartupTimeout(),
		EventMaxAge:      cfg.GetEventMaxAge(),
		RecheckInterval:  cfg.GetRecheckInterval(),
		CreationTimeout:  cfg.GetCreationTimeout(),
		ShortPoll:        cfg.GetShortPoll(),
		LongPoll:         cfg.GetLongPoll(),
		RemoveStaleNodes: cfg.Hub.RemoveStaleNodes,
	}
}

// deliverLocalSettings records the four startup deliveries from the
// configuration file. In local mode the bridge is its own host, so the
// gate opens here before the engine starts.
func deliverLocalSettings(ctx context.Context, store *host.NodeStore, cfg *config.Config, gen powerview.Generation) error {
	deliveries := []struct {
		name    string
		payload any
	}{
		{engine.DeliveryParams, map[string]any{"hub_address": cfg.Hub.Address}},
		{engine.DeliveryData, map[string]any{}},
		{engine.DeliveryTypedParams, map[string]any{
			"generation":         gen.String(),
			"short_poll":         cfg.Hub.ShortPoll,
			"long_poll":          cfg.Hub.LongPoll,
			"remove_stale_nodes": cfg.Hub.RemoveStaleNodes,
		}},
		{engine.DeliveryTypedData, map[string]any{}},
	}
	for _, d := range deliveries {
		if err := store.Deliver(ctx, d.name, d.payload); err != nil {
			return fmt.Errorf("recording %s: %w", d.name, err)
		}
	}
	return nil
}

// healthCheck verifies the infrastructure connections that are in use.
// Nil components are skipped.
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
