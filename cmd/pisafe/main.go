package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pisafe/pisafe/internal/alerter"
	"github.com/pisafe/pisafe/internal/api"
	"github.com/pisafe/pisafe/internal/audit"
	"github.com/pisafe/pisafe/internal/cipher"
	"github.com/pisafe/pisafe/internal/collector"
	"github.com/pisafe/pisafe/internal/config"
	"github.com/pisafe/pisafe/internal/decoder"
	"github.com/pisafe/pisafe/internal/evaluator"
	"github.com/pisafe/pisafe/internal/gpio"
	"github.com/pisafe/pisafe/internal/health"
	"github.com/pisafe/pisafe/internal/kafka"
	"github.com/pisafe/pisafe/internal/monitor"
	"github.com/pisafe/pisafe/internal/notifier"
	"github.com/pisafe/pisafe/internal/version"
	"github.com/pisafe/pisafe/internal/websocket"
	"github.com/pisafe/pisafe/internal/webui"
)

func main() {
	configPath := flag.String("config", "/etc/pisafe/sensors.yaml", "Path to any file in the configuration directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	// Create log buffer for /api/logs (captures last 1000 log entries)
	logBuffer := webui.NewLogBuffer(1000)

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(io.MultiWriter(os.Stdout, logBuffer)).With().
		Timestamp().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Logger()

	logger.Info().Msg("Starting PiSAFE")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}
	logger.Info().
		Int("sensor_count", len(cfg.Sensors.Sensors)).
		Int("recipient_count", len(cfg.Alerts.Recipients)).
		Msg("Configuration loaded")

	// The controller refuses to start without key material
	aead, err := newCipher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("key_env", cfg.Alerts.Encryption.KeyEnv).Msg("Failed to initialise alert encryption")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver := gpio.NewSysfs()

	router, err := collector.FromConfig(cfg, driver, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build sensor readers")
	}

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	// Notification channels
	directory := notifier.NewDirectory(cfg.Alerts.Recipients)
	var channels []notifier.Channel
	if cfg.Alerts.Channels.SMS.Enabled {
		channels = append(channels, notifier.NewSMSChannel(notifier.NewSMSGateway(cfg.Alerts.Channels.SMS, logger), logger))
	}

	var producer *kafka.Producer
	if cfg.Alerts.Channels.Push.Enabled {
		var publishers []notifier.Publisher
		for _, t := range cfg.Alerts.Channels.Push.Transports {
			switch t {
			case "websocket":
				publishers = append(publishers, hub)
			case "kafka":
				producer, err = kafka.NewProducer(cfg.Transports.Kafka, logger)
				if err != nil {
					logger.Fatal().Err(err).Msg("Failed to create Kafka producer")
				}
				publishers = append(publishers, producer)
			}
		}
		channels = append(channels, notifier.NewPushChannel(logger, publishers...))
	}

	var sirens *notifier.SirenController
	if cfg.Alerts.Channels.Siren.Enabled {
		relays := make(map[string]notifier.Relay, len(cfg.Alerts.Sirens))
		for area, s := range cfg.Alerts.Sirens {
			if s.Driver == "gpio" {
				relays[area] = notifier.NewGPIORelay(driver, s.Pin)
			} else {
				relays[area] = notifier.NewLogRelay(logger, area)
			}
		}
		sirens = notifier.NewSirenController(logger, relays, cfg.Alerts.Channels.Siren.RelayHold)
		channels = append(channels, notifier.NewSirenChannel(sirens))
	}

	fanout := notifier.NewFanout(directory, cfg.Alerts.Channels.Timeout, logger, channels...)

	// Audit sinks: memory ring backs the audit trail, DynamoDB is optional
	memory := audit.NewMemorySink(cfg.Transports.Audit.MemorySize)
	sinks := []audit.Sink{memory, audit.NewLogSink(logger)}
	if table := cfg.Transports.Audit.DynamoDBTable; table != "" {
		dynamo, err := audit.NewDynamoSink(ctx, table, cfg.Transports.Audit.Region)
		if err != nil {
			logger.Fatal().Err(err).Str("table", table).Msg("Failed to create DynamoDB audit sink")
		}
		sinks = append(sinks, dynamo)
	}

	pipeline := alerter.NewPipeline(
		decoder.New(),
		alerter.NewValidator(cfg.Alerts.AlertBehavior, logger),
		aead,
		fanout,
		audit.NewMulti(logger, sinks...),
		memory,
		logger,
	)

	mon := monitor.New(cfg, router, evaluator.FromConfig(cfg), pipeline, logger)
	probe := health.NewProbe(cfg.Sensors.Global, mon, logger)

	hub.OnConnect(func() interface{} {
		return map[string]interface{}{
			"health":  probe.Snapshot(),
			"sensors": mon.Snapshot(),
		}
	})

	if err := mon.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start sensor monitor")
	}
	go broadcastSensors(ctx, hub, mon, cfg.Sensors.Global.CheckInterval, logger)

	server := api.NewServer(pipeline, mon, probe, logger, cfg.Transports.API.Listen)
	server.SetLogBuffer(logBuffer)
	server.SetWebsocket(http.HandlerFunc(hub.ServeWS))

	logger.Info().
		Strs("channels", fanout.Channels()).
		Str("listen", cfg.Transports.API.Listen).
		Msg("PiSAFE started")

	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("API server stopped")
		cancel()
	}

	logger.Info().Msg("Shutting down")
	mon.Stop()
	if sirens != nil {
		sirens.Stop()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close Kafka producer")
		}
	}
	if err := router.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close sensor readers")
	}
	logger.Info().Msg("PiSAFE stopped")
}

// newCipher loads the primary key and any previous keys kept for decryption
func newCipher(cfg *config.Config) (*cipher.Cipher, error) {
	encoded, err := cfg.EncryptionKeys()
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, len(encoded))
	for i, s := range encoded {
		key, err := cipher.ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return cipher.New(keys...)
}

// broadcastSensors pushes the sensor snapshot to websocket clients once per check interval
func broadcastSensors(ctx context.Context, hub *websocket.Hub, mon *monitor.Monitor, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.Clients() == 0 {
				continue
			}
			if err := hub.Broadcast(ctx, "sensors", mon.Snapshot()); err != nil && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("Sensor broadcast failed")
			}
		}
	}
}
