package gohub

import (
	"context"
	"fmt"

	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/taskqueue"
)

// Color is one of the predefined colours of the hub LED.
type Color byte

const (
	ColorBlack Color = iota
	ColorPink
	ColorPurple
	ColorBlue
	ColorLightBlue
	ColorCyan
	ColorGreen
	ColorYellow
	ColorOrange
	ColorRed
	ColorWhite
)

func (c Color) String() string {
	switch c {
	case ColorBlack:
		return "Black"
	case ColorPink:
		return "Pink"
	case ColorPurple:
		return "Purple"
	case ColorBlue:
		return "Blue"
	case ColorLightBlue:
		return "Light Blue"
	case ColorCyan:
		return "Cyan"
	case ColorGreen:
		return "Green"
	case ColorYellow:
		return "Yellow"
	case ColorOrange:
		return "Orange"
	case ColorRed:
		return "Red"
	case ColorWhite:
		return "White"
	default:
		return fmt.Sprintf("Color(%d)", byte(c))
	}
}

// Light controls the hub's built-in RGB LED.
type Light struct {
	h *Hub
}

// Light returns the LED API of the hub.
func (h *Hub) Light() *Light { return &Light{h: h} }

// port finds the RGB light among the attached devices.
func (l *Light) port() (byte, error) {
	for _, e := range l.h.cache.Snapshot() {
		if e.IOType == lwp.IOTypeRGBLight {
			return e.PortID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoDevice, lwp.IOTypeRGBLight)
}

// SetColorIndex switches the LED to a predefined colour.
func (l *Light) SetColorIndex(ctx context.Context, c Color) (taskqueue.State, error) {
	port, err := l.port()
	if err != nil {
		return taskqueue.StateErrored, err
	}
	if err := l.h.setInputFormat(ctx, port, lwp.ModeLightColor, 1, false); err != nil {
		return taskqueue.StateErrored, err
	}
	return l.h.output(ctx, port, lwp.SetColorIndex(byte(c)))
}

// SetRGBColor switches the LED to an arbitrary colour.
func (l *Light) SetRGBColor(ctx context.Context, r, g, b byte) (taskqueue.State, error) {
	port, err := l.port()
	if err != nil {
		return taskqueue.StateErrored, err
	}
	if err := l.h.setInputFormat(ctx, port, lwp.ModeLightRGBColor, 1, false); err != nil {
		return taskqueue.StateErrored, err
	}
	return l.h.output(ctx, port, lwp.SetRGBColor(r, g, b))
}
