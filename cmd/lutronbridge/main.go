// Gray Logic Lutron Bridge
//
// This is the main entry point for the Lutron protocol bridge. It
// connects to a Lutron controller (RadioRA 2, HomeWorks QS, Caséta Pro)
// over the Telnet-based integration protocol and translates between
// controller feedback and the Gray Logic MQTT message bus:
//   - Commands arriving on graylogic/command/lutron/{id} become
//     integration protocol commands
//   - Controller feedback becomes retained state on
//     graylogic/state/lutron/{id}
//   - Health and discovery are published for the Core
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-lutron/migrations"

	"github.com/nerrad567/gray-logic-lutron/internal/bridges/lutron"
	"github.com/nerrad567/gray-logic-lutron/internal/device"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lutron/internal/lip"
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

// prunePeriod is how often old state history is removed.
const prunePeriod = 12 * time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Lutron bridge",
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

	// Open database and run migrations
	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// State history (optional)
	var history *device.History
	if cfg.History.Enabled {
		history = device.NewHistory(db)
		go pruneLoop(ctx, history, cfg.HistoryRetention(), log)
		log.Info("state history enabled", "retention_days", cfg.History.RetentionDays)
	} else {
		log.Info("state history disabled")
	}

	// Connect to MQTT broker with the bridge's LWT registered
	will, err := buildLWT()
	if err != nil {
		return fmt.Errorf("building LWT: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to the Lutron controller
	lipClient := lip.NewClient(lip.SessionConfig{
		Host:                 cfg.Lutron.Host,
		Port:                 cfg.Lutron.Port,
		Username:             cfg.Lutron.Username,
		Password:             cfg.Lutron.Password,
		Prompt:               cfg.Lutron.Prompt,
		ConnectTimeout:       cfg.ConnectTimeout(),
		ReadTimeout:          cfg.ReadTimeout(),
		ReconnectInterval:    cfg.ReconnectInterval(),
		MaxReconnectInterval: cfg.MaxReconnectInterval(),
		PingInterval:         cfg.PingInterval(),
	})
	lipClient.SetLogger(log)

	if err := lipClient.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to controller: %w", err)
	}
	defer func() {
		log.Info("disconnecting from controller")
		if closeErr := lipClient.Close(); closeErr != nil {
			log.Error("error closing controller session", "error", closeErr)
		}
	}()
	log.Info("controller connected",
		"host", cfg.Lutron.Host,
		"port", cfg.Lutron.Port,
	)

	// Load the integration report for discovery, if configured
	if cfg.Lutron.ReportFile != "" {
		if loadErr := loadReport(lipClient, cfg.Lutron.ReportFile, log); loadErr != nil {
			return fmt.Errorf("loading integration report: %w", loadErr)
		}
	} else {
		log.Info("no integration report configured, discovery disabled")
	}

	// Start the bridge
	bridgeOpts := lutron.BridgeOptions{
		Version:           version,
		ControllerAddress: fmt.Sprintf("%s:%d", cfg.Lutron.Host, cfg.Lutron.Port),
		MQTTClient:        &mqttBridgeAdapter{client: mqttClient},
		LIPClient:         lipClient,
		Logger:            log,
	}
	if history != nil {
		bridgeOpts.History = history
	}
	if influxClient != nil {
		bridgeOpts.Metrics = influxClient
	}

	bridge, err := lutron.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildLWT constructs the Last Will message the broker publishes if the
// bridge dies without a clean disconnect.
func buildLWT() (*mqtt.LWT, error) {
	payload, err := json.Marshal(lutron.NewLWTMessage(lutron.ProtocolID))
	if err != nil {
		return nil, err
	}
	return &mqtt.LWT{
		Topic:    lutron.HealthTopic(),
		Payload:  payload,
		QoS:      1,
		Retained: true,
	}, nil
}

// loadReport reads an integration report export and builds the device model.
func loadReport(client *lip.Client, path string, log *logging.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	model, err := client.LoadIntegrationReport(data)
	if err != nil {
		return err
	}

	for _, warning := range model.Warnings {
		log.Warn("integration report warning", "detail", warning)
	}
	log.Info("integration report loaded",
		"path", path,
		"devices", model.NodeCount(),
		"scenes", len(model.Scenes),
	)
	return nil
}

// pruneLoop removes expired state history on a fixed period.
func pruneLoop(ctx context.Context, history *device.History, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(prunePeriod)
	defer ticker.Stop()

	for {
		removed, err := history.Prune(ctx, retention)
		if err != nil {
			log.Error("pruning state history", "error", err)
		} else if removed > 0 {
			log.Info("pruned state history", "rows", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	// Controller health is verified during Connect() - the session
	// completes the login handshake before returning successfully.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the
// bridge's MQTTClient interface. The primary difference is the
// Subscribe handler signature:
//   - Infrastructure mqtt: func(topic string, payload []byte) error
//   - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements lutron.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements lutron.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements lutron.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements lutron.MQTTClient.
// The MQTT client lifecycle is managed by run's defer chain, so this
// is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {
}
