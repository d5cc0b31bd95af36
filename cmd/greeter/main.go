// Greeter Core - smart-room hub synchronisation and command routing
//
// This is the main entry point for the Greeter Core service. It mirrors the
// tracked entities of a device hub into SQLite, fans every confirmed change
// out to the connected room clients, and routes their commands (device
// control, natural-language text, spoken audio) back to the hub.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/greeter-core/internal/api"
	"github.com/nerrad567/greeter-core/internal/assistant"
	"github.com/nerrad567/greeter-core/internal/bridge"
	"github.com/nerrad567/greeter-core/internal/hub"
	"github.com/nerrad567/greeter-core/internal/infrastructure/config"
	"github.com/nerrad567/greeter-core/internal/infrastructure/database"
	"github.com/nerrad567/greeter-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/greeter-core/internal/infrastructure/logging"
	"github.com/nerrad567/greeter-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/greeter-core/internal/ingest"
	"github.com/nerrad567/greeter-core/internal/mirror"
	"github.com/nerrad567/greeter-core/internal/speech"
	"github.com/nerrad567/greeter-core/migrations"
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
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
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
	log.Info("starting Greeter Core",
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

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := mirror.NewSQLiteStore(db.DB)

	// Hub REST client and event stream dialer
	hubClient, err := hub.NewClient(hub.ClientConfig{
		BaseURL: cfg.Hub.RESTURL,
		Token:   cfg.Hub.Token,
		Timeout: cfg.GetHubRequestTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating hub client: %w", err)
	}
	dialer := newHubDialer(cfg)

	nlp, err := newAssistant(cfg.Assistant, log)
	if err != nil {
		return err
	}

	// Speech-to-text (optional)
	var pool *speech.Pool
	if cfg.Speech.Command != "" {
		engine, engineErr := speech.NewCommandEngine(speech.CommandConfig{
			Command: cfg.Speech.Command,
			Args:    cfg.Speech.Args,
			Timeout: cfg.GetSpeechTimeout(),
		})
		if engineErr != nil {
			return fmt.Errorf("creating speech engine: %w", engineErr)
		}
		engine.SetLogger(log.With("component", "speech"))
		pool = speech.NewPool(engine, cfg.Speech.Workers, cfg.Speech.QueueSize)
		log.Info("speech-to-text enabled",
			"command", cfg.Speech.Command,
			"workers", cfg.Speech.Workers,
		)
	} else {
		log.Info("speech-to-text disabled")
	}

	// State relays (optional)
	var sinks []ingest.Sink

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
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		sinks = append(sinks, ingest.MQTTSink{Client: mqttClient})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT relay disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		sinks = append(sinks, ingest.InfluxSink{Writer: influxClient})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if err := hubClient.HealthCheck(ctx); err != nil {
		// The ingestion loop keeps retrying; commands fail until the hub answers.
		log.Warn("hub not reachable at startup", "error", err)
	}

	// Synchronisation core
	connections := bridge.NewRegistry()
	connections.SetLogger(log.With("component", "connections"))

	loop := ingest.New(ingest.Config{
		Store:        store,
		Source:       ingest.HubSource{Dialer: dialer},
		Broadcaster:  connections,
		Sinks:        sinks,
		Logger:       log.With("component", "ingest"),
		InitialDelay: seconds(cfg.Hub.Reconnect.InitialDelay),
		MaxDelay:     seconds(cfg.Hub.Reconnect.MaxDelay),
		MaxAttempts:  cfg.Hub.Reconnect.MaxAttempts,
		StableAfter:  seconds(cfg.Hub.Reconnect.StableAfter),
	})

	handlerCfg := bridge.Config{
		Registry:         connections,
		Hub:              hubClient,
		Status:           loop,
		Logger:           log.With("component", "handlers"),
		HubTimeout:       cfg.GetHubRequestTimeout(),
		AssistantTimeout: cfg.GetAssistantTimeout(),
		SpeechTimeout:    cfg.GetSpeechTimeout(),
	}
	if nlp != nil {
		handlerCfg.Assistant = nlp
	}
	if pool != nil {
		handlerCfg.Speech = pool
	}
	handlers := bridge.NewHandlers(handlerCfg)
	router := bridge.NewRouter(handlers, log.With("component", "router"))

	apiDeps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		HubTimeout:  cfg.GetHubRequestTimeout(),
		Logger:      log.With("component", "api"),
		Connections: connections,
		Router:      router,
		DB:          db,
		Hub:         hubClient,
		Ingest:      loop,
		Version:     version,
	}
	// Optional components stay nil interfaces when disabled.
	if pool != nil {
		apiDeps.Speech = pool
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if influxClient != nil {
		apiDeps.InfluxDB = influxClient
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := server.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server listening", "address", server.Addr())

	if pool != nil {
		g.Go(func() error { return pool.Run(gctx) })
	}
	g.Go(func() error {
		if err := loop.Run(gctx); err != nil {
			return fmt.Errorf("ingestion loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	runErr := g.Wait()

	log.Info("shutdown signal received, cleaning up")
	handlers.Wait()
	connections.CloseAll()

	// Deferred Close() calls run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. MQTT (if enabled)
	// 3. Database

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info("Greeter Core stopped")
	return nil
}

// newAssistant returns nil when no API key is configured.
func newAssistant(cfg config.AssistantConfig, log *logging.Logger) (*assistant.Client, error) {
	if cfg.APIKey == "" {
		log.Info("assistant disabled: no API key configured")
		return nil, nil
	}
	persona, err := assistant.LoadContext(cfg.ContextFile)
	if err != nil {
		return nil, err
	}
	client, err := assistant.NewClient(assistant.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Context: persona,
		Timeout: seconds(cfg.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("creating assistant client: %w", err)
	}
	log.Info("assistant enabled", "model", cfg.Model)
	return client, nil
}

// getConfigPath returns the configuration file path.
// Uses GREETER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GREETER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
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

// newHubDialer builds the event stream dialer. The stream is pinged so a hub
// that vanishes without closing the socket is noticed.
func newHubDialer(cfg *config.Config) *hub.Dialer {
	return &hub.Dialer{
		URL:              cfg.Hub.WebSocketURL,
		Token:            cfg.Hub.Token,
		HandshakeTimeout: cfg.GetHubHandshakeTimeout(),
		PingInterval:     cfg.GetHubPingInterval(),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
