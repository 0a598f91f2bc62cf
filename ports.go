package gohub

import (
	"context"
	"fmt"

	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/lwp/transform"
)

// PortModeInfo selects one input mode of a port and how to read its values.
type PortModeInfo struct {
	PortID      byte
	ModeID      byte
	Name        string
	Transformer transform.Transformer
}

// DecodedValue is one sensor reading.
type DecodedValue struct {
	PortID byte
	ModeID byte
	Value  float64
	Raw    []byte
}

// ModeInformation is what a hub reports about one mode of a port.
type ModeInformation struct {
	PortID byte
	ModeID byte
	Name   string
	Symbol string
	Raw    [2]float32
	Pct    [2]float32
	SI     [2]float32
	Format lwp.ValueFormat
}

// Ports gives access to the input side of attached devices.
type Ports struct {
	h *Hub
}

// Ports returns the port API of the hub.
func (h *Hub) Ports() *Ports { return &Ports{h: h} }

// Device returns the device attached to a port.
func (p *Ports) Device(port byte) (attachedio.Entry, bool) { return p.h.cache.Get(port) }

// PortValueChanges arms value notifications for info's mode and returns a
// stream of decoded values. A new value is reported whenever it moved by at
// least threshold. The stream ends when ctx ends or the connection closes.
// Ending it does not disarm notifications on the hub; use DisableNotifications.
//
// Only values that arrive while the port is in info's mode are delivered.
func (h *Hub) PortValueChanges(ctx context.Context, info PortModeInfo, threshold float64) (<-chan DecodedValue, error) {
	if info.Transformer == nil {
		return nil, fmt.Errorf("port 0x%02X mode %d: no transformer", info.PortID, info.ModeID)
	}

	sub := h.values.SubscribeWhere(func(v portValue) bool {
		return v.portID == info.PortID && v.modeID == info.ModeID
	}, nil)

	delta := transform.DeltaInterval(info.Transformer.ToValueThreshold(threshold))
	if err := h.setInputFormat(ctx, info.PortID, info.ModeID, delta, true); err != nil {
		sub.Cancel()
		return nil, err
	}

	logger := h.logger.With("port", info.PortID, "mode", info.ModeID)
	out := make(chan DecodedValue)
	go func() {
		defer close(out)
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-sub.C():
				if !ok {
					return
				}
				value, err := info.Transformer.FromRawValue(v.raw)
				if err != nil {
					logger.Warn("dropping port value", "error", err)
					continue
				}
				select {
				case out <- DecodedValue{PortID: v.portID, ModeID: v.modeID, Value: value, Raw: v.raw}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ValueChanges is Hub.PortValueChanges.
func (p *Ports) ValueChanges(ctx context.Context, info PortModeInfo, threshold float64) (<-chan DecodedValue, error) {
	return p.h.PortValueChanges(ctx, info, threshold)
}

// DisableNotifications switches a port to mode without value notifications.
func (p *Ports) DisableNotifications(ctx context.Context, port, mode byte) error {
	return p.h.setInputFormat(ctx, port, mode, 1, false)
}

func (h *Hub) setInputFormat(ctx context.Context, port, mode byte, delta uint32, notify bool) error {
	_, err := h.request(ctx, lwp.BuildInputFormatCommand(port, mode, delta, notify), func(m lwp.Message) bool {
		ack, ok := m.(lwp.PortInputFormatSingleMessage)
		return ok && ack.PortID == port
	})
	return err
}

// ReadValue asks the hub for the current value of info's port. The port must
// already be in info's mode.
func (p *Ports) ReadValue(ctx context.Context, info PortModeInfo) (DecodedValue, error) {
	if info.Transformer == nil {
		return DecodedValue{}, fmt.Errorf("port 0x%02X mode %d: no transformer", info.PortID, info.ModeID)
	}
	if mode, ok := p.h.currentMode(info.PortID); ok && mode != info.ModeID {
		return DecodedValue{}, fmt.Errorf("port 0x%02X is in mode %d, not %d", info.PortID, mode, info.ModeID)
	}
	msg, err := p.h.request(ctx, lwp.BuildPortValueRequestCommand(info.PortID), func(m lwp.Message) bool {
		v, ok := m.(lwp.PortValueSingleMessage)
		return ok && v.PortID == info.PortID
	})
	if err != nil {
		return DecodedValue{}, err
	}
	raw := msg.(lwp.PortValueSingleMessage).Raw
	value, err := info.Transformer.FromRawValue(raw)
	if err != nil {
		return DecodedValue{}, err
	}
	return DecodedValue{PortID: info.PortID, ModeID: info.ModeID, Value: value, Raw: raw}, nil
}

// Information asks the hub which modes a port supports.
func (p *Ports) Information(ctx context.Context, port byte) (lwp.PortInformationMessage, error) {
	msg, err := p.h.request(ctx, lwp.Encode(lwp.PortInformationRequestMessage{PortID: port, InfoType: lwp.PortInfoModeInfo}), func(m lwp.Message) bool {
		info, ok := m.(lwp.PortInformationMessage)
		return ok && info.PortID == port
	})
	if err != nil {
		return lwp.PortInformationMessage{}, err
	}
	return msg.(lwp.PortInformationMessage), nil
}

// ModeInformation reads name, symbol, ranges and value format of one mode.
func (p *Ports) ModeInformation(ctx context.Context, port, mode byte) (ModeInformation, error) {
	info := ModeInformation{PortID: port, ModeID: mode}
	for _, it := range []lwp.ModeInfoType{
		lwp.ModeInfoName,
		lwp.ModeInfoRaw,
		lwp.ModeInfoPct,
		lwp.ModeInfoSI,
		lwp.ModeInfoSymbol,
		lwp.ModeInfoValueFormat,
	} {
		m, err := p.modeInfo(ctx, port, mode, it)
		if err != nil {
			return ModeInformation{}, fmt.Errorf("port 0x%02X mode %d %s: %w", port, mode, it, err)
		}
		switch it {
		case lwp.ModeInfoName:
			info.Name = m.Name
		case lwp.ModeInfoRaw:
			info.Raw = [2]float32{m.Min, m.Max}
		case lwp.ModeInfoPct:
			info.Pct = [2]float32{m.Min, m.Max}
		case lwp.ModeInfoSI:
			info.SI = [2]float32{m.Min, m.Max}
		case lwp.ModeInfoSymbol:
			info.Symbol = m.Symbol
		case lwp.ModeInfoValueFormat:
			info.Format = m.ValueFormat
		}
	}
	return info, nil
}

func (p *Ports) modeInfo(ctx context.Context, port, mode byte, it lwp.ModeInfoType) (lwp.PortModeInformationMessage, error) {
	msg, err := p.h.request(ctx, lwp.BuildModeInformationRequestCommand(port, mode, it), func(m lwp.Message) bool {
		mi, ok := m.(lwp.PortModeInformationMessage)
		return ok && mi.PortID == port && mi.ModeID == mode && mi.InfoType == it
	})
	if err != nil {
		return lwp.PortModeInformationMessage{}, err
	}
	return msg.(lwp.PortModeInformationMessage), nil
}

// Mode resolves a mode by name for the device attached to port, using the
// device registry. A voltage transformer is calibrated from the hub's mode
// information.
func (p *Ports) Mode(ctx context.Context, port byte, name string) (PortModeInfo, error) {
	entry, ok := p.h.cache.Get(port)
	if !ok {
		return PortModeInfo{}, fmt.Errorf("%w: port 0x%02X is empty", ErrNoDevice, port)
	}
	info, err := ModeInfoFor(entry, name)
	if err != nil {
		return PortModeInfo{}, err
	}

	if v, ok := info.Transformer.(transform.Voltage); ok && v.Divisor == 0 {
		raw, err := p.modeInfo(ctx, port, info.ModeID, lwp.ModeInfoRaw)
		if err != nil {
			return PortModeInfo{}, err
		}
		si, err := p.modeInfo(ctx, port, info.ModeID, lwp.ModeInfoSI)
		if err != nil {
			return PortModeInfo{}, err
		}
		info.Transformer = transform.VoltageFromModeInfo(raw.Max, si.Max)
	}
	return info, nil
}
