package gohub

import (
	"context"
	"fmt"

	"github.com/mlsorensen/gohub/pkg/lwp"
)

// Properties reads hub properties such as battery level and firmware version.
type Properties struct {
	h *Hub
}

// Properties returns the property API of the hub.
func (h *Hub) Properties() *Properties { return &Properties{h: h} }

func isPropertyUpdate(prop lwp.HubProperty) func(lwp.Message) bool {
	return func(m lwp.Message) bool {
		p, ok := m.(lwp.HubPropertiesMessage)
		return ok && p.Property == prop && p.Operation == lwp.OperationUpdate
	}
}

func (p *Properties) read(ctx context.Context, prop lwp.HubProperty) (lwp.HubPropertiesMessage, error) {
	msg, err := p.h.request(ctx, lwp.BuildPropertyRequestCommand(prop), isPropertyUpdate(prop))
	if err != nil {
		return lwp.HubPropertiesMessage{}, err
	}
	return msg.(lwp.HubPropertiesMessage), nil
}

// Name returns the advertised name of the hub.
func (p *Properties) Name(ctx context.Context) (string, error) {
	m, err := p.read(ctx, lwp.PropertyAdvertisingName)
	if err != nil {
		return "", err
	}
	return string(m.Payload), nil
}

// BatteryLevel returns the battery charge in percent.
func (p *Properties) BatteryLevel(ctx context.Context) (uint8, error) {
	m, err := p.read(ctx, lwp.PropertyBatteryVoltage)
	if err != nil {
		return 0, err
	}
	level, ok := m.BatteryLevel()
	if !ok {
		return 0, fmt.Errorf("%w: empty battery update", lwp.ErrMalformedMessage)
	}
	return level, nil
}

// RSSI returns the signal strength the hub sees, in dBm.
func (p *Properties) RSSI(ctx context.Context) (int8, error) {
	m, err := p.read(ctx, lwp.PropertyRSSI)
	if err != nil {
		return 0, err
	}
	rssi, ok := m.RSSI()
	if !ok {
		return 0, fmt.Errorf("%w: empty RSSI update", lwp.ErrMalformedMessage)
	}
	return rssi, nil
}

// FirmwareVersion returns the hub's firmware version.
func (p *Properties) FirmwareVersion(ctx context.Context) (lwp.Version, error) {
	return p.version(ctx, lwp.PropertyFirmwareVersion)
}

// HardwareVersion returns the hub's hardware version.
func (p *Properties) HardwareVersion(ctx context.Context) (lwp.Version, error) {
	return p.version(ctx, lwp.PropertyHardwareVersion)
}

func (p *Properties) version(ctx context.Context, prop lwp.HubProperty) (lwp.Version, error) {
	m, err := p.read(ctx, prop)
	if err != nil {
		return 0, err
	}
	v, ok := m.Version()
	if !ok {
		return 0, fmt.Errorf("%w: short %s update", lwp.ErrMalformedMessage, prop)
	}
	return v, nil
}

// BatteryUpdates enables periodic battery reports and streams each level.
// The stream ends when ctx ends or the connection closes.
func (p *Properties) BatteryUpdates(ctx context.Context) (<-chan uint8, error) {
	sub := p.h.messages.SubscribeWhere(isPropertyUpdate(lwp.PropertyBatteryVoltage), nil)
	if err := p.h.send(ctx, lwp.BuildPropertyUpdatesCommand(lwp.PropertyBatteryVoltage, true)); err != nil {
		sub.Cancel()
		return nil, err
	}

	out := make(chan uint8)
	go func() {
		defer close(out)
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				level, ok := msg.(lwp.HubPropertiesMessage).BatteryLevel()
				if !ok {
					continue
				}
				select {
				case out <- level:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Actions asks the hub to switch off or drop the link.
type Actions struct {
	h *Hub
}

// Actions returns the hub action API.
func (h *Hub) Actions() *Actions { return &Actions{h: h} }

// SwitchOff powers the hub down. It returns once the hub has announced it;
// the connection then ends.
func (a *Actions) SwitchOff(ctx context.Context) error {
	return a.act(ctx, lwp.ActionSwitchOff, lwp.ActionWillSwitchOff)
}

// Disconnect asks the hub to drop the link while staying powered.
func (a *Actions) Disconnect(ctx context.Context) error {
	return a.act(ctx, lwp.ActionDisconnect, lwp.ActionWillDisconnect)
}

func (a *Actions) act(ctx context.Context, action, announce lwp.HubAction) error {
	_, err := a.h.request(ctx, lwp.BuildHubActionCommand(action), func(m lwp.Message) bool {
		am, ok := m.(lwp.HubActionsMessage)
		return ok && am.Action == announce
	})
	return err
}
