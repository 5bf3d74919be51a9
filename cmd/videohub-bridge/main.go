// Videohub Bridge
//
// Keeps an automation backend's view of a Blackmagic Videohub router in sync
// with the device: one TCP session to the router on port 9990, one MQTT
// connection to the backend, and every route, label, lock and take-mode
// change announced as an emitter pulse.
//
// Configuration comes from configs/config.yaml (or VIDEOHUB_BRIDGE_CONFIG),
// overridden by VIDEOHUB_ADDRESS, VIDEOHUB_PORT, BACKEND_ADDRESS and
// BACKEND_PORT.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nerrad567/videohub-bridge/internal/api"
	"github.com/nerrad567/videohub-bridge/internal/audit"
	"github.com/nerrad567/videohub-bridge/internal/backend"
	"github.com/nerrad567/videohub-bridge/internal/bridges/videohub"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/config"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/database"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/videohub-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// journalPruneInterval is how often expired journal entries are deleted.
const journalPruneInterval = time.Hour

// startupCheckTimeout bounds the health check run once everything started.
const startupCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge together and blocks until ctx is cancelled.
// Deferred cleanups run in reverse start order.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting videohub bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"videohub", fmt.Sprintf("%s:%d", cfg.Videohub.Host, cfg.Videohub.Port),
		"service_id", cfg.Bridge.ServiceID,
	)

	// Command journal (optional)
	var (
		db       *database.DB
		repo     *audit.SQLiteRepository
		recorder *audit.Recorder
	)
	if cfg.Database.Enabled {
		db, repo, recorder, err = openJournal(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing command journal")
			recorder.Close()
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if cfg.Database.RetentionDays > 0 {
			retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
			go audit.Prune(ctx, repo, retention, journalPruneInterval, log.Component("audit"))
		}
	} else {
		log.Info("command journal disabled")
	}

	// MQTT connection to the backend. The will marks the bridge offline on
	// the retained health topic; the online message restores it on every
	// reconnect once the bridge is running.
	var running atomic.Pointer[videohub.Bridge]
	will, err := healthWill(cfg, func() []byte {
		if b := running.Load(); b != nil {
			return b.HealthPayload()
		}
		return nil
	})
	if err != nil {
		return err
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
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	// InfluxDB (optional)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	backendClient, err := backend.New(backend.Options{
		Transport:   mqttTransport{client: mqttClient},
		TopicPrefix: cfg.Backend.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
		Logger:      log.Component("backend"),
	})
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	session, err := videohub.NewSession(videohub.SessionConfig{
		Host:           cfg.Videohub.Host,
		Port:           cfg.Videohub.Port,
		ConnectTimeout: cfg.Videohub.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating videohub session: %w", err)
	}

	// Event observers: WebSocket hub and InfluxDB event points.
	var observers fanOut
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		go hub.Run(ctx)
		observers = append(observers, hub)
	}
	if influxClient != nil {
		observers = append(observers, influxdb.EventSink{
			Client: influxClient,
			Tags:   map[string]string{"service_id": cfg.Bridge.ServiceID},
		})
	}

	opts := videohub.BridgeOptions{
		Config:  bridgeConfig(cfg),
		Session: session,
		Backend: backendClient,
		Logger:  log.Component("videohub"),
	}
	if recorder != nil {
		opts.Journal = recorder
	}
	if len(observers) > 0 {
		opts.Observer = observers
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := videohub.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating videohub bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting videohub bridge: %w", err)
	}
	running.Store(bridge)
	defer func() {
		log.Info("stopping videohub bridge")
		bridge.Stop()
	}()

	checks := []dependencyCheck{{"mqtt", mqttClient}}
	if db != nil {
		checks = append(checks, dependencyCheck{"database", db})
	}
	if influxClient != nil {
		checks = append(checks, dependencyCheck{"influxdb", influxClient})
	}

	// HTTP status API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Bridge:  bridge,
			MQTT:    mqttClient,
			Hub:     hub,
			Version: version,
		}
		if repo != nil {
			deps.Journal = repo
			deps.Stats = recorder
			deps.DB = db
		}
		server, err := api.New(deps)
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
		checks = append(checks, dependencyCheck{"api", server})
	}

	checkCtx, cancelCheck := context.WithTimeout(ctx, startupCheckTimeout)
	err = healthCheck(checkCtx, checks)
	cancelCheck()
	if err != nil {
		return fmt.Errorf("startup health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// openJournal opens the SQLite database, applies the embedded migrations and
// starts the asynchronous recorder.
func openJournal(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, *audit.SQLiteRepository, *audit.Recorder, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	if len(applied) > 0 {
		log.Info("journal migrations applied", "versions", applied)
	}

	repo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(audit.RecorderConfig{
		Repository: repo,
		Buffer:     cfg.JournalBuffer,
		Logger:     log.Component("audit"),
	})
	log.Info("command journal ready", "path", cfg.Path)
	return db, repo, recorder, nil
}

// healthChecker is implemented by the database, MQTT, InfluxDB and API
// server.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type dependencyCheck struct {
	name    string
	checker healthChecker
}

// healthCheck verifies every started dependency and returns the first
// failure, prefixed with its name. The videohub link is not checked: the
// bridge reconnects on its own.
func healthCheck(ctx context.Context, checks []dependencyCheck) error {
	for _, c := range checks {
		if err := c.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// healthWill builds the MQTT will on the bridge's retained health topic.
func healthWill(cfg *config.Config, online func() []byte) (mqtt.Will, error) {
	topics := backend.Topics{Prefix: cfg.Backend.TopicPrefix}
	if topics.Prefix == "" {
		topics.Prefix = backend.DefaultTopicPrefix
	}

	payload, err := json.Marshal(videohub.NewLWTMessage(cfg.Bridge.ServiceID))
	if err != nil {
		return mqtt.Will{}, fmt.Errorf("encoding last will: %w", err)
	}
	return mqtt.Will{
		Topic:   topics.Health(cfg.Bridge.ServiceID),
		Payload: payload,
		Online:  online,
	}, nil
}

// bridgeConfig maps the loaded configuration onto the bridge settings.
func bridgeConfig(cfg *config.Config) *videohub.Config {
	return &videohub.Config{
		Instance: backend.InstanceArgs{
			Name:      cfg.Bridge.Name,
			ShortID:   cfg.Bridge.ShortID,
			Code:      cfg.Bridge.Code,
			ServiceID: cfg.Bridge.ServiceID,
			ClusterID: cfg.Bridge.ClusterID,
			Color:     cfg.Bridge.Color,
			MachineID: cfg.Bridge.MachineID,
			Message:   cfg.Bridge.Message,
		},
		Reconnect: videohub.BackoffConfig{
			Initial: cfg.Videohub.ReconnectDelay,
			Max:     cfg.Videohub.ReconnectMaxDelay,
			Jitter:  cfg.Videohub.ReconnectJitter,
		},
		ReceiveErrorDelay: cfg.Videohub.ReceiveErrorDelay,
		MonitorInterval:   cfg.Backend.MonitorInterval,
		ProbeTimeout:      cfg.Backend.ProbeTimeout,
		CommandQueueSize:  cfg.Backend.CommandQueue,
		EventQueueSize:    cfg.Backend.EventQueue,
		HealthInterval:    cfg.Bridge.HealthInterval,
		Version:           version,
	}
}

// mqttPublisher is the part of *mqtt.Client the backend transport needs.
type mqttPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// mqttTransport adapts the infrastructure MQTT client to backend.Transport.
// The difference is the Subscribe handler signature: backend handlers do
// not return errors.
type mqttTransport struct {
	client mqttPublisher
}

func (t mqttTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return t.client.Publish(topic, payload, qos, retained)
}

func (t mqttTransport) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return t.client.Subscribe(topic, qos, func(topic string, payload []byte) error {
		handler(topic, payload)
		return nil
	})
}

func (t mqttTransport) IsConnected() bool {
	return t.client.IsConnected()
}

// fanOut forwards every bridge event to each observer in turn.
type fanOut []videohub.EventObserver

func (f fanOut) Broadcast(channel string, payload any) {
	for _, o := range f {
		o.Broadcast(channel, payload)
	}
}
