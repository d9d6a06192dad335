// FS20 Gateway - CUL serial bridge for FS20 home automation devices.
//
// The gateway talks to a CUL adapter over a serial port, decodes inbound
// FS20 radio frames and sends switching commands. Frames and command
// results are published on MQTT, stored in SQLite, and optionally written
// to InfluxDB and NATS. A small REST/WebSocket API exposes the same
// operations.
//
// Usage:
//
//	fs20gateway [-config path]
//	fs20gateway -issue-token <subject>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/katanapod/COC-FS20/internal/api"
	"github.com/katanapod/COC-FS20/internal/bridges/fs20"
	"github.com/katanapod/COC-FS20/internal/device"
	"github.com/katanapod/COC-FS20/internal/infrastructure/config"
	"github.com/katanapod/COC-FS20/internal/infrastructure/database"
	"github.com/katanapod/COC-FS20/internal/infrastructure/influxdb"
	"github.com/katanapod/COC-FS20/internal/infrastructure/logging"
	"github.com/katanapod/COC-FS20/internal/infrastructure/mqtt"
	"github.com/katanapod/COC-FS20/internal/infrastructure/natsbus"
	"github.com/katanapod/COC-FS20/migrations"
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

// pruneInterval is how often old frame history is deleted.
const pruneInterval = time.Hour

func main() {
	configFlag := flag.String("config", "", "path to config file (default $FS20GW_CONFIG or "+defaultConfigPath+")")
	issueToken := flag.String("issue-token", "", "print a signed API token for `subject` and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	configPath := getConfigPath(*configFlag)

	var err error
	if *issueToken != "" {
		err = printToken(os.Stdout, configPath, *issueToken)
	} else {
		err = run(ctx, configPath)
	}
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting FS20 gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := database.Open(cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := device.NewSQLiteRepository(db.DB)
	devices, lastCommands, err := loadDevices(ctx, repo, cfg.Devices)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	log.Info("device store initialised", "devices", len(devices))

	lwt, err := json.Marshal(fs20.NewLWTMessage(cfg.Gateway.ID))
	if err != nil {
		return fmt.Errorf("encoding LWT: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Will{Topic: fs20.HealthTopic(), Payload: lwt})
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
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	var natsPub *natsbus.Publisher
	if cfg.NATS.Enabled {
		natsPub, err = natsbus.Connect(cfg.NATS)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer func() {
			log.Info("draining NATS connection")
			if closeErr := natsPub.Close(); closeErr != nil {
				log.Error("error closing NATS", "error", closeErr)
			}
		}()
		log.Info("NATS connected", "url", cfg.NATS.URL, "subject_prefix", cfg.NATS.SubjectPrefix)
	} else {
		log.Info("NATS disabled")
	}

	gateway, err := fs20.NewGateway(fs20.GatewayConfig{
		Transport: fs20.NewSerialTransport(fs20.SerialConfig{
			Port:     cfg.Serial.Port,
			BaudRate: cfg.Serial.BaudRate,
		}),
		Handshake: cfg.HandshakeCommand(),
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer func() {
		log.Info("closing CUL gateway")
		if closeErr := gateway.Close(); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}()
	gateway.RegisterDevices(devices)
	for name, last := range lastCommands {
		gateway.Registry().RecordLastCommand(name, last)
	}

	bridge, err := startBridge(ctx, cfg, gateway, mqttClient, repo, influxClient, natsPub, log)
	if err != nil {
		return fmt.Errorf("starting FS20 bridge: %w", err)
	}
	defer func() {
		log.Info("stopping FS20 bridge")
		bridge.Stop()
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Gateway:  gateway,
			Commands: bridge,
			Devices:  repo,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	var background sync.WaitGroup
	defer background.Wait()
	defer stopBackground()

	background.Add(1)
	go func() {
		defer background.Done()
		if openErr := gateway.Open(bgCtx); openErr != nil {
			log.Error("CUL gateway unavailable", "error", openErr, "port", cfg.Serial.Port)
		}
	}()

	if retention := cfg.GetEventRetention(); retention > 0 {
		background.Add(1)
		go func() {
			defer background.Done()
			pruneLoop(bgCtx, repo, retention, pruneInterval, log)
		}()
	}
	if influxClient != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			statsLoop(bgCtx, gateway, influxClient, cfg.GetHealthInterval())
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, natsPub, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: background loops, API,
	// bridge, gateway, NATS, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the flag value, then FS20GW_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("FS20GW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// printToken writes a signed API token for subject to w.
func printToken(w io.Writer, configPath, subject string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, cfg.GetAccessTokenTTL())
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// loadDevices merges stored devices with the configured ones. Configured
// entries win on name clashes and are persisted. The returned last
// commands only cover devices that have been switched before.
func loadDevices(ctx context.Context, repo device.Repository, configured map[string]string) (map[string]string, map[string]string, error) {
	stored, err := repo.ListDevices(ctx)
	if err != nil {
		return nil, nil, err
	}

	devices := make(map[string]string, len(stored)+len(configured))
	lastCommands := make(map[string]string)
	for _, d := range stored {
		devices[d.Name] = d.Address
		if d.LastCommand != "" && d.LastCommand != device.UnknownLastCommand {
			lastCommands[d.Name] = d.LastCommand
		}
	}

	for name, address := range configured {
		if err := repo.UpsertDevice(ctx, &device.Device{Name: name, Address: address}); err != nil {
			return nil, nil, fmt.Errorf("persisting %q: %w", name, err)
		}
		if devices[name] != address {
			delete(lastCommands, name)
		}
		devices[name] = address
	}

	return devices, lastCommands, nil
}

// startBridge wires the optional sinks and starts the bridge.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	gateway *fs20.Gateway,
	mqttClient *mqtt.Client,
	repo device.Repository,
	influxClient *influxdb.Client,
	natsPub *natsbus.Publisher,
	log *logging.Logger,
) (*fs20.Bridge, error) {
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0-2 by config.Validate
	opts := fs20.BridgeOptions{
		Gateway:        gateway,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		BridgeID:       cfg.Gateway.ID,
		Version:        version,
		Port:           cfg.Serial.Port,
		HealthInterval: cfg.GetHealthInterval(),
		QoS:            &qos,
		QueueSize:      cfg.Gateway.EventQueueSize,
		Store:          &eventStore{repo: repo, registry: gateway.Registry()},
		Logger:         log,
	}
	if influxClient != nil {
		opts.Telemetry = &telemetryWriter{client: influxClient, registry: gateway.Registry()}
	}
	if natsPub != nil {
		opts.Forwarder = &natsForwarder{publisher: natsPub, registry: gateway.Registry()}
	}

	bridge, err := fs20.NewBridge(opts)
	if err != nil {
		return nil, err
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, err
	}
	log.Info("FS20 bridge started", "devices", gateway.Registry().Len())
	return bridge, nil
}

// pruneLoop deletes frame history older than retention until ctx ends.
func pruneLoop(ctx context.Context, repo device.Repository, retention, every time.Duration, log *logging.Logger) {
	prune := func() {
		n, err := repo.PruneEvents(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("event pruning failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("pruned old events", "deleted", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// gatewayStatsSource is the part of *fs20.Gateway statsLoop needs.
type gatewayStatsSource interface {
	Stats() fs20.Stats
}

// statsWriter is the part of *influxdb.Client statsLoop needs.
type statsWriter interface {
	WriteGatewayStats(s influxdb.GatewayStats)
}

// statsLoop writes gateway counters every interval until ctx ends.
func statsLoop(ctx context.Context, gateway gatewayStatsSource, w statsWriter, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WriteGatewayStats(toGatewayStats(gateway.Stats()))
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional components may be nil. The CUL link is reported through the
// bridge health topic instead, since the serial open may still be running.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, natsPub *natsbus.Publisher, apiServer *api.Server) error {
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
	if natsPub != nil && !natsPub.IsConnected() {
		return fmt.Errorf("nats: %w", natsbus.ErrNotConnected)
	}
	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}
