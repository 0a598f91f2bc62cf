// hubbridge connects to a LEGO hub and forwards its readings to MQTT and
// InfluxDB.
//
// The transport, sinks and subscribed port modes come from a YAML file
// (see pkg/config). GOHUB_* environment variables override file values.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mlsorensen/gohub"
	"github.com/mlsorensen/gohub/pkg/config"
	"github.com/mlsorensen/gohub/pkg/logging"
	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/messenger"
	"github.com/mlsorensen/gohub/pkg/telemetry"
	"github.com/mlsorensen/gohub/pkg/transport"
	"github.com/mlsorensen/gohub/pkg/transport/ble"
	"github.com/mlsorensen/gohub/pkg/transport/mock"
	"github.com/mlsorensen/gohub/pkg/transport/serial"
)

// Version information, set at build time via ldflags.
var version = "dev"

const statsInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("GOHUB_CONFIG"), "path to the YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	log := logging.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("starting hub bridge", "version", version, "transport", cfg.Hub.Transport)

	t, err := dial(ctx, cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("opening %s transport: %w", cfg.Hub.Transport, err)
	}

	counter := &messenger.FrameCounter{}
	opts := []gohub.Option{
		gohub.WithLogger(log.Logger),
		gohub.WithMiddleware(counter),
	}
	if cfg.Logging.Frames {
		opts = append(opts, gohub.WithMiddleware(messenger.FrameLogger(log.With("component", "frames").Logger)))
	}
	if cfg.Hub.OutputPipelining {
		opts = append(opts, gohub.WithOutputPipelining())
	}

	h, err := gohub.Connect(ctx, t, opts...)
	if err != nil {
		return fmt.Errorf("connecting to hub: %w", err)
	}
	log.Info("hub connected", "name", cfg.Hub.Name, "firmware", h.Firmware().String())

	sink, err := openSinks(ctx, cfg, log)
	if err != nil {
		_ = h.Disconnect()
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error("closing telemetry sinks", "error", err)
		}
	}()

	bridge := telemetry.NewBridge(h, cfg.Hub.Name, sink, cfg.Telemetry, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(gctx)
	})
	g.Go(func() error {
		reportStats(gctx, counter, log.Logger)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-h.Done():
		}
		log.Info("disconnecting from hub")
		if err := h.Disconnect(); err != nil {
			log.Warn("closing transport", "error", err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, gohub.ErrConnectionLost) && ctx.Err() != nil {
		err = nil
	}
	log.Info("hub bridge stopped")
	return err
}

// dial opens the transport named in the hub config section.
func dial(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Hub.Transport {
	case config.TransportBLE:
		dctx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout())
		defer cancel()
		return ble.Dial(dctx, cfg.Hub.BLE.Address, logger)
	case config.TransportSerial:
		return serial.Open(cfg.Hub.Serial.Port, cfg.Hub.Serial.BaudRate, logger)
	case config.TransportMock:
		return mock.New(cfg.Hub.Name,
			mock.WithDevice(0x00, lwp.IOTypeTechnicLargeMotor),
			mock.WithLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Hub.Transport)
	}
}

// openSinks connects every enabled telemetry sink. With none enabled,
// readings are logged.
func openSinks(ctx context.Context, cfg *config.Config, log *logging.Logger) (telemetry.Sink, error) {
	var sinks telemetry.Multi

	if cfg.MQTT.Enabled {
		p, err := telemetry.ConnectMQTT(cfg.MQTT, cfg.Hub.Name, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		sinks = append(sinks, p)
	}

	if cfg.InfluxDB.Enabled {
		w, err := telemetry.ConnectInflux(ctx, cfg.InfluxDB, log.Logger)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		sinks = append(sinks, w)
	}

	if len(sinks) == 0 {
		log.Warn("no telemetry sink enabled, logging readings")
		return logSink{log.Logger}, nil
	}
	return sinks, nil
}

func reportStats(ctx context.Context, c *messenger.FrameCounter, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Stats()
			logger.Info("link traffic",
				"frames_tx", s.FramesTx,
				"frames_rx", s.FramesRx,
				"bytes_tx", s.BytesTx,
				"bytes_rx", s.BytesRx,
				"last_activity", s.LastActivity,
			)
		}
	}
}
