package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mlsorensen/gohub"
	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/config"
	"github.com/mlsorensen/gohub/pkg/logging"
	"github.com/mlsorensen/gohub/pkg/lwp"
)

// Bridge streams the readings of a connected hub into a Sink.
type Bridge struct {
	hub     *gohub.Hub
	name    string
	sink    Sink
	subs    []config.SubscriptionConfig
	battery time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	streams map[byte]context.CancelFunc
	wg      sync.WaitGroup
}

// NewBridge prepares a bridge for h. name identifies the hub in topics and tags.
func NewBridge(h *gohub.Hub, name string, sink Sink, cfg config.TelemetryConfig, logger *slog.Logger) *Bridge {
	return &Bridge{
		hub:     h,
		name:    name,
		sink:    sink,
		subs:    cfg.Subscriptions,
		battery: time.Duration(cfg.BatteryPolling) * time.Second,
		logger:  logging.OrDiscard(logger).With("component", "telemetry"),
		streams: make(map[byte]context.CancelFunc),
	}
}

// Run forwards attach events, subscribed values and battery levels until
// ctx ends or the hub connection closes. It returns nil when ctx ends and
// the hub's close cause otherwise.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		b.wg.Wait()
	}()

	attach := b.hub.OnIOAttach()
	defer attach.Cancel()
	detach := b.hub.OnIODetach()
	defer detach.Cancel()

	if b.battery > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.pollBattery(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.hub.Done():
			return b.closed()
		case ev, ok := <-attach.C():
			if !ok {
				return b.closed()
			}
			b.report(ev)
			b.startStream(ctx, ev.Entry)
		case ev, ok := <-detach.C():
			if !ok {
				return b.closed()
			}
			b.report(ev)
			b.stopStream(ev.Entry.PortID)
		}
	}
}

// closed waits for the hub to finish closing and returns its cause.
func (b *Bridge) closed() error {
	<-b.hub.Done()
	return b.hub.Err()
}

func (b *Bridge) report(ev attachedio.Event) {
	err := b.sink.Attach(AttachEvent{Hub: b.name, Kind: ev.Kind, Entry: ev.Entry, Time: time.Now()})
	if err != nil {
		b.logger.Warn("forwarding attach event", "port", ev.Entry.PortID, "error", err)
	}
}

// subscriptionFor returns the first subscription naming the entry's IO type.
// A port reports one mode at a time, so later matches are ignored.
func (b *Bridge) subscriptionFor(t lwp.IOType) (config.SubscriptionConfig, bool) {
	for _, s := range b.subs {
		if matchesIOType(s.IOType, t) {
			return s, true
		}
	}
	return config.SubscriptionConfig{}, false
}

// matchesIOType accepts a device name such as "Technic Large Motor" or a
// numeric id such as "0x2e".
func matchesIOType(want string, t lwp.IOType) bool {
	want = strings.TrimSpace(want)
	if strings.EqualFold(want, t.String()) {
		return true
	}
	n, err := strconv.ParseUint(want, 0, 16)
	return err == nil && lwp.IOType(n) == t
}

func (b *Bridge) startStream(ctx context.Context, e attachedio.Entry) {
	sub, ok := b.subscriptionFor(e.IOType)
	if !ok {
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	if prev, found := b.streams[e.PortID]; found {
		prev()
	}
	b.streams[e.PortID] = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		if err := b.stream(sctx, e, sub); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("port stream ended", "port", e.PortID, "mode", sub.Mode, "error", err)
		}
	}()
}

func (b *Bridge) stopStream(port byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.streams[port]; ok {
		cancel()
		delete(b.streams, port)
	}
}

func (b *Bridge) stream(ctx context.Context, e attachedio.Entry, sub config.SubscriptionConfig) error {
	info, err := b.hub.Ports().Mode(ctx, e.PortID, sub.Mode)
	if err != nil {
		return err
	}
	values, err := b.hub.PortValueChanges(ctx, info, sub.Threshold)
	if err != nil {
		return err
	}
	b.logger.Info("streaming port values", "port", e.PortID, "io_type", e.IOType.String(), "mode", info.Name)

	for v := range values {
		err := b.sink.Value(Sample{
			Hub:    b.name,
			PortID: v.PortID,
			IOType: e.IOType,
			ModeID: v.ModeID,
			Mode:   info.Name,
			Value:  v.Value,
			Time:   time.Now(),
		})
		if err != nil {
			b.logger.Warn("forwarding port value", "port", v.PortID, "error", err)
		}
	}
	return ctx.Err()
}

func (b *Bridge) pollBattery(ctx context.Context) {
	ticker := time.NewTicker(b.battery)
	defer ticker.Stop()

	for {
		level, err := b.hub.Properties().BatteryLevel(ctx)
		switch {
		case err == nil:
			if err := b.sink.Battery(BatteryReading{Hub: b.name, Level: level, Time: time.Now()}); err != nil {
				b.logger.Warn("forwarding battery level", "error", err)
			}
		case ctx.Err() != nil:
			return
		default:
			b.logger.Warn("reading battery level", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-b.hub.Done():
			return
		case <-ticker.C:
		}
	}
}
