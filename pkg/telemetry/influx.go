package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/config"
	"github.com/mlsorensen/gohub/pkg/logging"
)

const (
	defaultPingTimeout = 5 * time.Second

	millisecondsPerSecond = 1000
)

// pointWriter is the part of api.WriteAPI the writer uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxWriter records telemetry as InfluxDB points. Writes are batched and
// sent in the background; failures are logged.
type InfluxWriter struct {
	client influxdb2.Client
	api    pointWriter
}

// ConnectInflux pings the server in cfg and prepares the batched write API.
func ConnectInflux(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*InfluxWriter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 1
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond))

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	logger = logging.OrDiscard(logger).With("component", "influxdb")
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("influxdb write failed", "error", err)
		}
	}()

	return &InfluxWriter{client: client, api: writeAPI}, nil
}

// Value writes a "port_value" point.
func (w *InfluxWriter) Value(s Sample) error {
	w.api.WritePoint(valuePoint(s))
	return nil
}

// Attach writes an "attached_io" point.
func (w *InfluxWriter) Attach(e AttachEvent) error {
	w.api.WritePoint(attachPoint(e))
	return nil
}

// Battery writes a "battery" point.
func (w *InfluxWriter) Battery(b BatteryReading) error {
	w.api.WritePoint(batteryPoint(b))
	return nil
}

// Close flushes pending points and closes the client.
func (w *InfluxWriter) Close() error {
	w.api.Flush()
	if w.client != nil {
		w.client.Close()
	}
	return nil
}

func valuePoint(s Sample) *write.Point {
	return write.NewPoint(
		"port_value",
		map[string]string{
			"hub":     s.Hub,
			"port":    portSegment(s.PortID),
			"io_type": s.IOType.String(),
			"mode":    s.Mode,
		},
		map[string]interface{}{
			"value": s.Value,
		},
		s.Time,
	)
}

func attachPoint(e AttachEvent) *write.Point {
	attached := e.Kind == attachedio.Attached
	fields := map[string]interface{}{
		"attached": attached,
	}
	if attached {
		fields["type_id"] = int64(e.Entry.IOType)
	}
	return write.NewPoint(
		"attached_io",
		map[string]string{
			"hub":  e.Hub,
			"port": portSegment(e.Entry.PortID),
		},
		fields,
		e.Time,
	)
}

func batteryPoint(b BatteryReading) *write.Point {
	return write.NewPoint(
		"battery",
		map[string]string{"hub": b.Hub},
		map[string]interface{}{"level": int64(b.Level)},
		b.Time,
	)
}
